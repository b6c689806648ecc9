// Package service implements the URL shortening business logic: unique
// short code resolution, redirect resolution with expiration and routing
// extensions, and extension configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"time"

	"github.com/vadimbarashkov/shortlink/internal/dispatch"
	"github.com/vadimbarashkov/shortlink/internal/models"
	"github.com/vadimbarashkov/shortlink/internal/shortcode"
	"github.com/vadimbarashkov/shortlink/internal/storage"
)

var (
	// ErrCodeSpaceExhausted is returned when every generated candidate code
	// collided within the configured retry bound.
	ErrCodeSpaceExhausted = errors.New("exhausted retries generating a unique short code")
	// ErrLinkExpired is returned when the record's expiration instant has
	// passed; callers surface it distinctly from not-found.
	ErrLinkExpired = errors.New("link expired")
	// ErrInvalidOriginalURL is returned when the destination is not an
	// absolute http(s) URL.
	ErrInvalidOriginalURL = errors.New("invalid original url")
	// ErrInvalidVariantConfig is returned when a variant set fails
	// configuration-time validation.
	ErrInvalidVariantConfig = errors.New("invalid variant configuration")
	// ErrInvalidGeoConfig is returned when a geo rule set fails
	// configuration-time validation.
	ErrInvalidGeoConfig = errors.New("invalid geo rule configuration")
)

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	regionPattern  = regexp.MustCompile(`^[A-Z]{2}-[A-Z0-9]{1,3}$`)
)

const statsWriteTimeout = 5 * time.Second

// codeGenerator derives short code candidates from a URL and an attempt
// counter.
type codeGenerator interface {
	Generate(originalURL string, attempt int) (string, error)
}

// URLService provides the URL shortening operations on top of a record
// store. Each request is handled as an independent unit of work; the only
// shared state is the store itself.
type URLService struct {
	store      storage.RecordStore
	gen        codeGenerator
	logger     *slog.Logger
	maxRetries int
	now        func() time.Time
	rnd        func() float64
}

// Option configures a URLService.
type Option func(*URLService)

// WithClock overrides the service's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *URLService) {
		s.now = now
	}
}

// WithRandFunc overrides the uniform [0,1) source used for weighted variant
// selection, for deterministic tests.
func WithRandFunc(rnd func() float64) Option {
	return func(s *URLService) {
		s.rnd = rnd
	}
}

// NewURLService creates a URLService. maxRetries bounds the collision
// probing loop during code generation.
func NewURLService(store storage.RecordStore, gen codeGenerator, logger *slog.Logger, maxRetries int, opts ...Option) *URLService {
	s := &URLService{
		store:      store,
		gen:        gen,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
		rnd:        rand.Float64,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ShortenOptions carries the optional parameters of a shorten request.
type ShortenOptions struct {
	// CustomCode, when non-empty, bypasses code generation. It must pass
	// shortcode.ValidateCustomCode and must not already be taken.
	CustomCode string
	// TTL, when non-zero, sets the record's expiration to now+TTL. Negative
	// values produce an already-expired record.
	TTL time.Duration
}

// ShortenURL maps the original URL to a short code and stores the record.
// Generated codes are probed against the store and retried with an
// incremented attempt counter up to the configured bound; the first
// non-colliding candidate wins. A custom code that is already taken fails
// with storage.ErrCodeExists and is not retried.
func (s *URLService) ShortenURL(ctx context.Context, originalURL string, opts ShortenOptions) (*models.URL, error) {
	const op = "service.URLService.ShortenURL"

	if err := validateDestination(originalURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var expiresAt *time.Time
	if opts.TTL != 0 {
		t := s.now().Add(opts.TTL)
		expiresAt = &t
	}

	if opts.CustomCode != "" {
		if err := shortcode.ValidateCustomCode(opts.CustomCode); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		exists, err := s.store.Exists(ctx, opts.CustomCode)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to check custom code: %w", op, err)
		}
		if exists {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrCodeExists)
		}

		return s.saveRecord(ctx, op, opts.CustomCode, originalURL, true, expiresAt)
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		code, err := s.gen.Generate(originalURL, attempt)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}

		exists, err := s.store.Exists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to check short code: %w", op, err)
		}
		if exists {
			continue
		}

		return s.saveRecord(ctx, op, code, originalURL, false, expiresAt)
	}

	return nil, fmt.Errorf("%s: %w", op, ErrCodeSpaceExhausted)
}

func (s *URLService) saveRecord(ctx context.Context, op, code, originalURL string, custom bool, expiresAt *time.Time) (*models.URL, error) {
	url, err := s.store.Save(ctx, &models.URL{
		ShortCode:    code,
		OriginalURL:  originalURL,
		IsCustomCode: custom,
		CreatedAt:    s.now(),
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to save url record: %w", op, err)
	}

	return url, nil
}

// Redirect resolves a short code into the destination for this access.
// The resolution is linear: lookup, liveness check, dispatch, accounting.
// An expired record triggers a best-effort delete and resolves to
// ErrLinkExpired. The accounting write runs detached from the request and
// never changes the redirect outcome.
func (s *URLService) Redirect(ctx context.Context, code string, geo models.GeoAttributes) (string, error) {
	const op = "service.URLService.Redirect"

	rec, err := s.store.Get(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	if rec.IsExpired(s.now()) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
			defer cancel()

			if err := s.store.Delete(ctx, code); err != nil {
				s.logger.Warn("failed to delete expired record",
					slog.String("short_code", code), slog.Any("err", err))
			}
		}()

		return "", fmt.Errorf("%s: %w", op, ErrLinkExpired)
	}

	destination := rec.OriginalURL
	visit := models.NewVisit()
	visit.Country = geo.Country
	visit.Continent = geo.Continent

	switch ext := rec.Extension.(type) {
	case *models.VariantSet:
		if ext.Enabled && len(ext.Variants) > 0 {
			i := dispatch.PickVariant(s.rnd, ext.Variants)
			destination = ext.Variants[i].Destination
			visit.Variant = i
		}
	case *models.GeoRuleSet:
		if ext.Enabled && len(ext.Rules) > 0 {
			if i, ok := dispatch.MatchGeoRule(ext.Rules, geo); ok {
				destination = ext.Rules[i].Destination
				visit.Rule = i
			} else {
				destination = ext.DefaultDestination
				visit.GeoDefault = true
			}
		}
	}

	s.recordVisit(code, visit)

	return destination, nil
}

// recordVisit applies the accounting update for a resolved access. The
// write is fire-and-forget: it runs on a background context after the
// redirect decision is made, and failures are logged and swallowed.
func (s *URLService) recordVisit(code string, visit models.Visit) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
		defer cancel()

		if err := s.store.IncrementStats(ctx, code, visit); err != nil {
			s.logger.Error("failed to record visit",
				slog.String("short_code", code), slog.Any("err", err))
		}
	}()
}

// GetURLStats retrieves the record with its visit counters without
// recording an access.
func (s *URLService) GetURLStats(ctx context.Context, code string) (*models.URL, error) {
	const op = "service.URLService.GetURLStats"

	url, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get url stats: %w", op, err)
	}

	return url, nil
}

// ModifyURL updates the destination of an existing record.
func (s *URLService) ModifyURL(ctx context.Context, code, originalURL string) (*models.URL, error) {
	const op = "service.URLService.ModifyURL"

	if err := validateDestination(originalURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to modify url: %w", op, err)
	}

	rec.OriginalURL = originalURL

	url, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to modify url: %w", op, err)
	}

	return url, nil
}

// DeactivateURL removes the record for a short code.
func (s *URLService) DeactivateURL(ctx context.Context, code string) error {
	const op = "service.URLService.DeactivateURL"

	if err := s.store.Delete(ctx, code); err != nil {
		return fmt.Errorf("%s: failed to deactivate url: %w", op, err)
	}

	return nil
}

// ConfigureVariants validates and attaches a variant set to the record,
// replacing any existing extension. Visit counters of the incoming set are
// reset; configuration is not an access.
func (s *URLService) ConfigureVariants(ctx context.Context, code string, set models.VariantSet) (*models.URL, error) {
	const op = "service.URLService.ConfigureVariants"

	if err := validateVariantSet(set); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to configure variants: %w", op, err)
	}

	set.TotalVisits = 0
	for i := range set.Variants {
		set.Variants[i].Visits = 0
	}
	rec.Extension = &set

	url, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to configure variants: %w", op, err)
	}

	return url, nil
}

// ConfigureGeoRules validates and attaches a geo rule set to the record,
// replacing any existing extension.
func (s *URLService) ConfigureGeoRules(ctx context.Context, code string, set models.GeoRuleSet) (*models.URL, error) {
	const op = "service.URLService.ConfigureGeoRules"

	if err := validateGeoRuleSet(set); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to configure geo rules: %w", op, err)
	}

	set.TotalVisits = 0
	set.VisitsByCountry = nil
	set.VisitsByContinent = nil
	for i := range set.Rules {
		set.Rules[i].Visits = 0
	}
	rec.Extension = &set

	url, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to configure geo rules: %w", op, err)
	}

	return url, nil
}

// RemoveExtension detaches any routing extension from the record.
func (s *URLService) RemoveExtension(ctx context.Context, code string) (*models.URL, error) {
	const op = "service.URLService.RemoveExtension"

	rec, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to remove extension: %w", op, err)
	}

	rec.Extension = nil

	url, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to remove extension: %w", op, err)
	}

	return url, nil
}

func validateDestination(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidOriginalURL
	}

	return nil
}

func validateVariantSet(set models.VariantSet) error {
	if len(set.Variants) == 0 {
		return fmt.Errorf("%w: at least one variant is required", ErrInvalidVariantConfig)
	}

	total := 0
	for _, v := range set.Variants {
		if v.Weight < 0 || v.Weight > 100 {
			return fmt.Errorf("%w: weight must be between 0 and 100", ErrInvalidVariantConfig)
		}
		if err := validateDestination(v.Destination); err != nil {
			return fmt.Errorf("%w: variant destination %q is not a valid url", ErrInvalidVariantConfig, v.Destination)
		}
		total += v.Weight
	}

	if total != 100 {
		return fmt.Errorf("%w: weights must sum to 100, got %d", ErrInvalidVariantConfig, total)
	}

	return nil
}

func validateGeoRuleSet(set models.GeoRuleSet) error {
	if len(set.Rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidGeoConfig)
	}

	if err := validateDestination(set.DefaultDestination); err != nil {
		return fmt.Errorf("%w: default destination is not a valid url", ErrInvalidGeoConfig)
	}

	for _, rule := range set.Rules {
		if err := validateDestination(rule.Destination); err != nil {
			return fmt.Errorf("%w: rule destination %q is not a valid url", ErrInvalidGeoConfig, rule.Destination)
		}

		switch rule.MatchType {
		case models.GeoMatchCountry:
			if !countryPattern.MatchString(rule.MatchValue) {
				return fmt.Errorf("%w: country code %q must match two uppercase letters", ErrInvalidGeoConfig, rule.MatchValue)
			}
		case models.GeoMatchContinent:
			if _, ok := models.Continents[rule.MatchValue]; !ok {
				return fmt.Errorf("%w: unknown continent code %q", ErrInvalidGeoConfig, rule.MatchValue)
			}
		case models.GeoMatchRegion:
			if !regionPattern.MatchString(rule.MatchValue) {
				return fmt.Errorf("%w: region code %q must look like US-CA", ErrInvalidGeoConfig, rule.MatchValue)
			}
		default:
			return fmt.Errorf("%w: unknown match type %q", ErrInvalidGeoConfig, rule.MatchType)
		}
	}

	return nil
}

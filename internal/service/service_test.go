package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadimbarashkov/shortlink/internal/models"
	"github.com/vadimbarashkov/shortlink/internal/shortcode"
	"github.com/vadimbarashkov/shortlink/internal/storage"
)

var errUnknown = errors.New("unknown error")

type MockRecordStore struct {
	mock.Mock
}

func (s *MockRecordStore) Save(ctx context.Context, url *models.URL) (*models.URL, error) {
	args := s.Called(ctx, url)
	rec, _ := args.Get(0).(*models.URL)
	return rec, args.Error(1)
}

func (s *MockRecordStore) Get(ctx context.Context, shortCode string) (*models.URL, error) {
	args := s.Called(ctx, shortCode)
	rec, _ := args.Get(0).(*models.URL)
	return rec, args.Error(1)
}

func (s *MockRecordStore) Exists(ctx context.Context, shortCode string) (bool, error) {
	args := s.Called(ctx, shortCode)
	return args.Bool(0), args.Error(1)
}

func (s *MockRecordStore) Delete(ctx context.Context, shortCode string) error {
	args := s.Called(ctx, shortCode)
	return args.Error(0)
}

func (s *MockRecordStore) IncrementStats(ctx context.Context, shortCode string, visit models.Visit) error {
	args := s.Called(ctx, shortCode, visit)
	return args.Error(0)
}

type stubGenerator struct {
	codes []string
	err   error
}

func (g *stubGenerator) Generate(_ string, attempt int) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if attempt < len(g.codes) {
		return g.codes[attempt], nil
	}
	return g.codes[len(g.codes)-1], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestURLService_ShortenURL(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid original url", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ShortenURL(ctx, "not a url", ShortenOptions{})

		assert.ErrorIs(t, err, ErrInvalidOriginalURL)
		assert.Nil(t, url)
		store.AssertExpectations(t)
	})

	t.Run("first candidate wins", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Exists", ctx, "abc123").Once().Return(false, nil)
		store.On("Save", ctx, mock.Anything).Once().Return(&models.URL{ID: 1, ShortCode: "abc123"}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{})

		require.NoError(t, err)
		assert.Equal(t, "abc123", url.ShortCode)
		store.AssertExpectations(t)
	})

	t.Run("collision retries with next candidate", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Exists", ctx, "taken1").Once().Return(true, nil)
		store.On("Exists", ctx, "free22").Once().Return(false, nil)
		store.On("Save", ctx, mock.MatchedBy(func(u *models.URL) bool {
			return u.ShortCode == "free22" && !u.IsCustomCode
		})).Once().Return(&models.URL{ID: 1, ShortCode: "free22"}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"taken1", "free22"}}, testLogger(), 5)

		url, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{})

		require.NoError(t, err)
		assert.Equal(t, "free22", url.ShortCode)
		store.AssertExpectations(t)
	})

	t.Run("code space exhausted", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Exists", ctx, mock.Anything).Times(3).Return(true, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"a00000", "b00000", "c00000"}}, testLogger(), 3)

		url, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{})

		assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
		assert.Nil(t, url)
		store.AssertExpectations(t)
	})

	t.Run("ttl sets expiration", func(t *testing.T) {
		now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

		store := new(MockRecordStore)
		store.On("Exists", ctx, "abc123").Once().Return(false, nil)
		store.On("Save", ctx, mock.MatchedBy(func(u *models.URL) bool {
			return u.ExpiresAt != nil && u.ExpiresAt.Equal(now.Add(time.Hour))
		})).Once().Return(&models.URL{ID: 1, ShortCode: "abc123"}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5,
			WithClock(func() time.Time { return now }))

		_, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{TTL: time.Hour})

		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("invalid custom code", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{CustomCode: "a!"})

		assert.ErrorIs(t, err, shortcode.ErrInvalidCustomCode)
		assert.Nil(t, url)
		store.AssertExpectations(t)
	})

	t.Run("custom code conflict is not retried", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Exists", ctx, "my-code").Once().Return(true, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{CustomCode: "my-code"})

		assert.ErrorIs(t, err, storage.ErrCodeExists)
		assert.Nil(t, url)
		store.AssertNumberOfCalls(t, "Exists", 1)
		store.AssertExpectations(t)
	})

	t.Run("custom code success", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Exists", ctx, "my-code").Once().Return(false, nil)
		store.On("Save", ctx, mock.MatchedBy(func(u *models.URL) bool {
			return u.ShortCode == "my-code" && u.IsCustomCode
		})).Once().Return(&models.URL{ID: 1, ShortCode: "my-code", IsCustomCode: true}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ShortenURL(ctx, "https://example.com/a", ShortenOptions{CustomCode: "my-code"})

		require.NoError(t, err)
		assert.True(t, url.IsCustomCode)
		store.AssertExpectations(t)
	})
}

func TestURLService_Redirect(t *testing.T) {
	ctx := context.Background()

	t.Run("record not found", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "missing").Once().Return(nil, storage.ErrRecordNotFound)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "missing", models.GeoAttributes{})

		assert.ErrorIs(t, err, storage.ErrRecordNotFound)
		assert.Empty(t, dest)
		store.AssertExpectations(t)
	})

	t.Run("expired record resolves to gone and is deleted", func(t *testing.T) {
		expiresAt := time.Now().Add(-time.Hour)

		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
			ExpiresAt:   &expiresAt,
		}, nil)
		store.On("Delete", mock.Anything, "abc123").Return(nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{})

		assert.ErrorIs(t, err, ErrLinkExpired)
		assert.Empty(t, dest)

		require.Eventually(t, func() bool {
			return len(store.Calls) >= 2
		}, time.Second, 10*time.Millisecond)
		store.AssertCalled(t, "Delete", mock.Anything, "abc123")
	})

	t.Run("plain destination", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com/a",
		}, nil)
		store.On("IncrementStats", mock.Anything, "abc123", models.NewVisit()).Return(nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{})

		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", dest)

		require.Eventually(t, func() bool {
			return len(store.Calls) >= 2
		}, time.Second, 10*time.Millisecond)
		store.AssertCalled(t, "IncrementStats", mock.Anything, "abc123", models.NewVisit())
	})

	t.Run("accounting failure does not change the outcome", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com/a",
		}, nil)
		store.On("IncrementStats", mock.Anything, "abc123", mock.Anything).Return(errUnknown)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{})

		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", dest)

		require.Eventually(t, func() bool {
			return len(store.Calls) >= 2
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("enabled variant set picks a variant", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
			Extension: &models.VariantSet{
				Enabled: true,
				Variants: []models.Variant{
					{Destination: "https://a.example.com", Weight: 70},
					{Destination: "https://b.example.com", Weight: 30},
				},
			},
		}, nil)

		wantVisit := models.NewVisit()
		wantVisit.Variant = 1
		store.On("IncrementStats", mock.Anything, "abc123", wantVisit).Return(nil)

		// 0.9 * 100 = 90, past the first variant's cumulative weight of 70.
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5,
			WithRandFunc(func() float64 { return 0.9 }))

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{})

		require.NoError(t, err)
		assert.Equal(t, "https://b.example.com", dest)

		require.Eventually(t, func() bool {
			return len(store.Calls) >= 2
		}, time.Second, 10*time.Millisecond)
		store.AssertCalled(t, "IncrementStats", mock.Anything, "abc123", wantVisit)
	})

	t.Run("disabled variant set falls through to destination", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com/a",
			Extension: &models.VariantSet{
				Enabled:  false,
				Variants: []models.Variant{{Destination: "https://a.example.com", Weight: 100}},
			},
		}, nil)
		store.On("IncrementStats", mock.Anything, "abc123", mock.Anything).Return(nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{})

		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", dest)
	})

	t.Run("geo rule match", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
			Extension: &models.GeoRuleSet{
				Enabled:            true,
				DefaultDestination: "https://default.example.com",
				Rules: []models.GeoRule{
					{MatchType: models.GeoMatchCountry, MatchValue: "US", Destination: "https://us.example.com"},
					{MatchType: models.GeoMatchContinent, MatchValue: "NA", Destination: "https://na.example.com"},
				},
			},
		}, nil)

		wantVisit := models.NewVisit()
		wantVisit.Rule = 0
		wantVisit.Country = "US"
		wantVisit.Continent = "NA"
		store.On("IncrementStats", mock.Anything, "abc123", wantVisit).Return(nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{Country: "US", Continent: "NA"})

		require.NoError(t, err)
		assert.Equal(t, "https://us.example.com", dest)

		require.Eventually(t, func() bool {
			return len(store.Calls) >= 2
		}, time.Second, 10*time.Millisecond)
		store.AssertCalled(t, "IncrementStats", mock.Anything, "abc123", wantVisit)
	})

	t.Run("geo default when nothing matches", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
			Extension: &models.GeoRuleSet{
				Enabled:            true,
				DefaultDestination: "https://default.example.com",
				Rules: []models.GeoRule{
					{MatchType: models.GeoMatchCountry, MatchValue: "US", Destination: "https://us.example.com"},
				},
			},
		}, nil)
		store.On("IncrementStats", mock.Anything, "abc123", mock.Anything).Return(nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		dest, err := svc.Redirect(ctx, "abc123", models.GeoAttributes{Country: "FR", Continent: "EU"})

		require.NoError(t, err)
		assert.Equal(t, "https://default.example.com", dest)
	})
}

func TestURLService_ConfigureVariants(t *testing.T) {
	ctx := context.Background()

	validSet := models.VariantSet{
		Enabled: true,
		Variants: []models.Variant{
			{Destination: "https://a.example.com", Weight: 70},
			{Destination: "https://b.example.com", Weight: 30},
		},
	}

	t.Run("weights must sum to 100", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		set := models.VariantSet{
			Enabled: true,
			Variants: []models.Variant{
				{Destination: "https://a.example.com", Weight: 70},
				{Destination: "https://b.example.com", Weight: 20},
			},
		}

		url, err := svc.ConfigureVariants(ctx, "abc123", set)

		assert.ErrorIs(t, err, ErrInvalidVariantConfig)
		assert.Nil(t, url)
		store.AssertExpectations(t)
	})

	t.Run("empty variant list rejected", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ConfigureVariants(ctx, "abc123", models.VariantSet{Enabled: true})

		assert.ErrorIs(t, err, ErrInvalidVariantConfig)
		assert.Nil(t, url)
		store.AssertExpectations(t)
	})

	t.Run("record not found", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "missing").Once().Return(nil, storage.ErrRecordNotFound)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.ConfigureVariants(ctx, "missing", validSet)

		assert.ErrorIs(t, err, storage.ErrRecordNotFound)
		assert.Nil(t, url)
		store.AssertExpectations(t)
	})

	t.Run("success resets counters", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
		}, nil)
		store.On("Save", ctx, mock.MatchedBy(func(u *models.URL) bool {
			vs, ok := u.Extension.(*models.VariantSet)
			return ok && vs.Enabled && vs.TotalVisits == 0 && len(vs.Variants) == 2
		})).Once().Return(&models.URL{ID: 1, ShortCode: "abc123"}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		set := validSet
		set.TotalVisits = 99
		url, err := svc.ConfigureVariants(ctx, "abc123", set)

		require.NoError(t, err)
		require.NotNil(t, url)
		store.AssertExpectations(t)
	})
}

func TestURLService_ConfigureGeoRules(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid country code", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		set := models.GeoRuleSet{
			Enabled:            true,
			DefaultDestination: "https://example.com",
			Rules: []models.GeoRule{
				{MatchType: models.GeoMatchCountry, MatchValue: "usa", Destination: "https://us.example.com"},
			},
		}

		url, err := svc.ConfigureGeoRules(ctx, "abc123", set)

		assert.ErrorIs(t, err, ErrInvalidGeoConfig)
		assert.Nil(t, url)
	})

	t.Run("invalid continent code", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		set := models.GeoRuleSet{
			Enabled:            true,
			DefaultDestination: "https://example.com",
			Rules: []models.GeoRule{
				{MatchType: models.GeoMatchContinent, MatchValue: "XX", Destination: "https://x.example.com"},
			},
		}

		url, err := svc.ConfigureGeoRules(ctx, "abc123", set)

		assert.ErrorIs(t, err, ErrInvalidGeoConfig)
		assert.Nil(t, url)
	})

	t.Run("missing default destination", func(t *testing.T) {
		store := new(MockRecordStore)
		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		set := models.GeoRuleSet{
			Enabled: true,
			Rules: []models.GeoRule{
				{MatchType: models.GeoMatchCountry, MatchValue: "US", Destination: "https://us.example.com"},
			},
		}

		url, err := svc.ConfigureGeoRules(ctx, "abc123", set)

		assert.ErrorIs(t, err, ErrInvalidGeoConfig)
		assert.Nil(t, url)
	})

	t.Run("success", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
		}, nil)
		store.On("Save", ctx, mock.MatchedBy(func(u *models.URL) bool {
			gs, ok := u.Extension.(*models.GeoRuleSet)
			return ok && gs.Enabled && len(gs.Rules) == 2
		})).Once().Return(&models.URL{ID: 1, ShortCode: "abc123"}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		set := models.GeoRuleSet{
			Enabled:            true,
			DefaultDestination: "https://example.com",
			Rules: []models.GeoRule{
				{MatchType: models.GeoMatchRegion, MatchValue: "US-CA", Destination: "https://ca.example.com"},
				{MatchType: models.GeoMatchContinent, MatchValue: "EU", Destination: "https://eu.example.com"},
			},
		}

		url, err := svc.ConfigureGeoRules(ctx, "abc123", set)

		require.NoError(t, err)
		require.NotNil(t, url)
		store.AssertExpectations(t)
	})
}

func TestURLService_RemoveExtension(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := new(MockRecordStore)
		store.On("Get", ctx, "abc123").Once().Return(&models.URL{
			ShortCode:   "abc123",
			OriginalURL: "https://example.com",
			Extension:   &models.VariantSet{Enabled: true},
		}, nil)
		store.On("Save", ctx, mock.MatchedBy(func(u *models.URL) bool {
			return u.Extension == nil
		})).Once().Return(&models.URL{ID: 1, ShortCode: "abc123"}, nil)

		svc := NewURLService(store, &stubGenerator{codes: []string{"abc123"}}, testLogger(), 5)

		url, err := svc.RemoveExtension(ctx, "abc123")

		require.NoError(t, err)
		require.NotNil(t, url)
		store.AssertExpectations(t)
	})
}

// Package shortcode derives short code candidates from destination URLs
// and validates caller-supplied custom codes.
package shortcode

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"time"

	"github.com/vadimbarashkov/shortlink/pkg/base62"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrInvalidCustomCode is returned when a caller-supplied code is not
	// 3-20 characters of letters, digits, hyphen or underscore.
	ErrInvalidCustomCode = errors.New("custom code must be 3-20 characters of letters, digits, hyphen or underscore")
	// ErrReservedCode is returned when a caller-supplied code collides with
	// a path segment used by the HTTP API.
	ErrReservedCode = errors.New("custom code is reserved")
)

var customCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// reservedCodes covers the literal path segments served by other endpoints,
// which a custom code must never shadow.
var reservedCodes = map[string]struct{}{
	"api":      {},
	"shorten":  {},
	"stats":    {},
	"variants": {},
	"geo":      {},
	"ping":     {},
	"health":   {},
	"metrics":  {},
	"docs":     {},
	"swagger":  {},
}

// ValidateCustomCode checks a caller-supplied short code against the code
// grammar and the reserved-keyword denylist.
func ValidateCustomCode(code string) error {
	if !customCodePattern.MatchString(code) {
		return ErrInvalidCustomCode
	}

	if _, ok := reservedCodes[code]; ok {
		return ErrReservedCode
	}

	return nil
}

// Generator derives short code candidates of a fixed length from a
// destination URL and an attempt counter. Candidates are deterministic for
// a given URL, attempt and generation second, but globally uniqueness is
// left to the caller's collision probing.
type Generator struct {
	length int
	now    func() time.Time
	pad    func(n int) (string, error)
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the generation timestamp source, for deterministic tests.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// WithPadFunc overrides the source of random padding symbols, for
// deterministic tests.
func WithPadFunc(pad func(n int) (string, error)) GeneratorOption {
	return func(g *Generator) {
		g.pad = pad
	}
}

// NewGenerator creates a Generator producing codes of the given length.
func NewGenerator(length int, opts ...GeneratorOption) *Generator {
	g := &Generator{
		length: length,
		now:    time.Now,
		pad: func(n int) (string, error) {
			return gonanoid.Generate(base62.Alphabet, n)
		},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Generate produces a short code candidate for the given URL and attempt
// counter. The candidate is the base62 encoding of an FNV-1a hash over the
// URL, the current unix timestamp and the counter, truncated or padded with
// random alphabet symbols to the configured length.
func (g *Generator) Generate(originalURL string, attempt int) (string, error) {
	const op = "shortcode.Generator.Generate"

	seed := fmt.Sprintf("%s%d%d", originalURL, g.now().Unix(), attempt)

	h := fnv.New32a()
	h.Write([]byte(seed))

	code := base62.Encode(uint64(h.Sum32()))

	switch {
	case len(code) > g.length:
		code = code[:g.length]
	case len(code) < g.length:
		pad, err := g.pad(g.length - len(code))
		if err != nil {
			return "", fmt.Errorf("%s: failed to generate padding: %w", op, err)
		}

		code += pad
	}

	return code, nil
}

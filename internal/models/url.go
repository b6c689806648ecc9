// Package models defines the domain entities shared by the service,
// storage and delivery layers.
package models

import (
	"maps"
	"time"
)

// URL represents a shortened URL and its associated metadata.
type URL struct {
	// ID is the unique identifier for the shortened URL record.
	ID int64
	// ShortCode is the short code associated with the original URL.
	ShortCode string
	// OriginalURL is the original, full-length URL that the short code points to.
	OriginalURL string
	// IsCustomCode reports whether the short code was supplied by the caller
	// rather than generated.
	IsCustomCode bool
	// VisitCount tracks the number of times the shortened URL has been accessed.
	// Counter updates are read-modify-write against the record store and may
	// undercount under concurrent access to the same code.
	VisitCount int64
	// Extension holds the optional routing extension attached to the record:
	// nil, a *VariantSet or a *GeoRuleSet.
	Extension Extension
	// CreatedAt is the timestamp indicating when the shortened URL was created.
	CreatedAt time.Time
	// UpdatedAt is the timestamp indicating when the shortened URL was last updated.
	UpdatedAt time.Time
	// ExpiresAt is the instant after which the record is considered gone.
	// A nil value means the record never expires.
	ExpiresAt *time.Time
}

// IsExpired reports whether the record's expiration instant has passed at now.
func (u *URL) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && now.After(*u.ExpiresAt)
}

// Extension is the routing extension attached to a URL record. Exactly one
// of *VariantSet or *GeoRuleSet implements it; a record with no extension
// carries nil.
type Extension interface {
	// Kind returns the discriminator used by storage codecs.
	Kind() ExtensionKind
}

// CloneExtension returns a deep copy of ext, or nil when there is none.
// Stores hand out clones so callers never alias internally held state.
func CloneExtension(ext Extension) Extension {
	switch e := ext.(type) {
	case *VariantSet:
		return e.Clone()
	case *GeoRuleSet:
		return e.Clone()
	}
	return nil
}

// ExtensionKind discriminates the concrete extension types.
type ExtensionKind string

const (
	ExtensionVariants ExtensionKind = "variants"
	ExtensionGeoRules ExtensionKind = "geo_rules"
)

// VariantSet is a weighted A/B split across destination variants.
type VariantSet struct {
	Enabled     bool      `json:"enabled"`
	Variants    []Variant `json:"variants"`
	TotalVisits int64     `json:"total_visits"`
}

func (*VariantSet) Kind() ExtensionKind { return ExtensionVariants }

// Clone returns a deep copy of the set.
func (s *VariantSet) Clone() *VariantSet {
	if s == nil {
		return nil
	}

	out := *s
	out.Variants = append([]Variant(nil), s.Variants...)
	return &out
}

// Variant is one weighted destination option. Weights of a configured set
// are expected to sum to 100; this is validated at configuration time and
// not re-checked at selection time.
type Variant struct {
	Destination string `json:"destination"`
	Weight      int    `json:"weight"`
	Label       string `json:"label,omitempty"`
	Visits      int64  `json:"visits"`
}

// GeoRuleSet routes accesses by the geographic attributes of the request.
type GeoRuleSet struct {
	Enabled            bool             `json:"enabled"`
	Rules              []GeoRule        `json:"rules"`
	DefaultDestination string           `json:"default_destination"`
	TotalVisits        int64            `json:"total_visits"`
	VisitsByCountry    map[string]int64 `json:"visits_by_country,omitempty"`
	VisitsByContinent  map[string]int64 `json:"visits_by_continent,omitempty"`
}

func (*GeoRuleSet) Kind() ExtensionKind { return ExtensionGeoRules }

// Clone returns a deep copy of the set.
func (g *GeoRuleSet) Clone() *GeoRuleSet {
	if g == nil {
		return nil
	}

	out := *g
	out.Rules = append([]GeoRule(nil), g.Rules...)
	out.VisitsByCountry = maps.Clone(g.VisitsByCountry)
	out.VisitsByContinent = maps.Clone(g.VisitsByContinent)
	return &out
}

// GeoMatchType is the kind of geographic attribute a rule matches on.
type GeoMatchType string

const (
	GeoMatchCountry   GeoMatchType = "country"
	GeoMatchContinent GeoMatchType = "continent"
	GeoMatchRegion    GeoMatchType = "region"
)

// Continents enumerates the seven valid continent codes.
var Continents = map[string]struct{}{
	"AF": {}, "AN": {}, "AS": {}, "EU": {}, "NA": {}, "OC": {}, "SA": {},
}

// GeoRule maps a geographic match condition to a destination. Region rules
// carry an ISO 3166-2 style value ("US-CA") and match country and region
// together.
type GeoRule struct {
	MatchType   GeoMatchType `json:"match_type"`
	MatchValue  string       `json:"match_value"`
	Destination string       `json:"destination"`
	Visits      int64        `json:"visits"`
}

// GeoAttributes are the request-derived geographic attributes used for
// rule matching. Any field may be empty when the edge did not supply it.
type GeoAttributes struct {
	Country   string
	Continent string
	Region    string
}

// Visit describes a single resolved access for stats accounting. Variant
// and Rule are indexes into the record's extension, -1 when the access did
// not take that branch. GeoDefault is set when geo dispatch fell through
// to the default destination.
type Visit struct {
	Variant    int
	Rule       int
	GeoDefault bool
	Country    string
	Continent  string
}

// NewVisit returns a Visit with no branch taken.
func NewVisit() Visit {
	return Visit{Variant: -1, Rule: -1}
}

// ApplyVisit folds a single access into the record's counters: the record's
// own visit count plus, when the access was dispatched through an extension,
// the selected variant's or rule's counter and the extension totals.
func (u *URL) ApplyVisit(v Visit) {
	u.VisitCount++

	switch ext := u.Extension.(type) {
	case *VariantSet:
		if v.Variant >= 0 && v.Variant < len(ext.Variants) {
			ext.Variants[v.Variant].Visits++
			ext.TotalVisits++
		}
	case *GeoRuleSet:
		if v.Rule < 0 && !v.GeoDefault {
			return
		}

		if v.Rule >= 0 && v.Rule < len(ext.Rules) {
			ext.Rules[v.Rule].Visits++
		}
		ext.TotalVisits++

		if v.Country != "" {
			if ext.VisitsByCountry == nil {
				ext.VisitsByCountry = make(map[string]int64)
			}
			ext.VisitsByCountry[v.Country]++
		}
		if v.Continent != "" {
			if ext.VisitsByContinent == nil {
				ext.VisitsByContinent = make(map[string]int64)
			}
			ext.VisitsByContinent[v.Continent]++
		}
	}
}

// Package dispatch decides the destination of a resolved access when the
// record carries a routing extension: a weighted pick among variants or an
// ordered match against geographic rules.
package dispatch

import (
	"strings"

	"github.com/vadimbarashkov/shortlink/internal/models"
)

// PickVariant selects a variant index by cumulative-weight walk. rnd must
// return a value uniform in [0, 1); the draw is scaled to the weight total.
// When every weight is zero the first variant is returned deterministically.
// The caller guarantees variants is non-empty.
func PickVariant(rnd func() float64, variants []models.Variant) int {
	total := 0
	for _, v := range variants {
		total += v.Weight
	}

	if total == 0 {
		return 0
	}

	r := rnd() * float64(total)

	cum := 0.0
	for i, v := range variants {
		cum += float64(v.Weight)
		if r < cum {
			return i
		}
	}

	return len(variants) - 1
}

// MatchGeoRule evaluates rules against the request's geographic attributes
// and returns the index of the winning rule. Precedence is most specific
// first: region (country and region together), then country, then continent;
// within a tier the first matching rule in configured order wins. The second
// return is false when no rule matches and the caller should fall back to
// the rule set's default destination.
func MatchGeoRule(rules []models.GeoRule, attrs models.GeoAttributes) (int, bool) {
	country := strings.ToUpper(attrs.Country)
	continent := strings.ToUpper(attrs.Continent)
	region := ""
	if country != "" && attrs.Region != "" {
		region = country + "-" + strings.ToUpper(attrs.Region)
	}

	for _, tier := range []models.GeoMatchType{models.GeoMatchRegion, models.GeoMatchCountry, models.GeoMatchContinent} {
		for i, rule := range rules {
			if rule.MatchType != tier {
				continue
			}

			value := strings.ToUpper(rule.MatchValue)

			switch tier {
			case models.GeoMatchRegion:
				if region != "" && value == region {
					return i, true
				}
			case models.GeoMatchCountry:
				if country != "" && value == country {
					return i, true
				}
			case models.GeoMatchContinent:
				if continent != "" && value == continent {
					return i, true
				}
			}
		}
	}

	return 0, false
}

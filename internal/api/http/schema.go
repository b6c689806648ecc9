package http

import (
	"time"

	"github.com/vadimbarashkov/shortlink/internal/models"
)

// shortenRequest represents the request payload for creating a shortened URL.
type shortenRequest struct {
	URL        string `json:"url" validate:"required,url"`
	CustomCode string `json:"custom_code,omitempty" validate:"omitempty,min=3,max=20"`
	// ExpiresIn is the record lifetime in seconds. Zero means unbounded.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// modifyRequest represents the request payload for updating a URL's destination.
type modifyRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// urlResponse represents the response payload for a shortened URL operation.
type urlResponse struct {
	ID           int64      `json:"id"`
	ShortCode    string     `json:"short_code"`
	ShortURL     string     `json:"short_url,omitempty"`
	URL          string     `json:"url"`
	IsCustomCode bool       `json:"is_custom_code"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func toURLResponse(url *models.URL, baseURL string) urlResponse {
	resp := urlResponse{
		ID:           url.ID,
		ShortCode:    url.ShortCode,
		URL:          url.OriginalURL,
		IsCustomCode: url.IsCustomCode,
		CreatedAt:    url.CreatedAt,
		UpdatedAt:    url.UpdatedAt,
		ExpiresAt:    url.ExpiresAt,
	}

	if baseURL != "" {
		resp.ShortURL = baseURL + "/" + url.ShortCode
	}

	return resp
}

// urlStatsResponse extends urlResponse with visit counters and the record's
// routing extension, if any.
type urlStatsResponse struct {
	urlResponse
	VisitCount int64              `json:"visit_count"`
	Variants   *models.VariantSet `json:"variants,omitempty"`
	GeoRules   *models.GeoRuleSet `json:"geo_rules,omitempty"`
}

func toURLStatsResponse(url *models.URL, baseURL string) urlStatsResponse {
	resp := urlStatsResponse{
		urlResponse: toURLResponse(url, baseURL),
		VisitCount:  url.VisitCount,
	}

	switch ext := url.Extension.(type) {
	case *models.VariantSet:
		resp.Variants = ext
	case *models.GeoRuleSet:
		resp.GeoRules = ext
	}

	return resp
}

// variantsRequest represents the request payload for configuring a weighted
// variant split.
type variantsRequest struct {
	Enabled  bool             `json:"enabled"`
	Variants []variantPayload `json:"variants" validate:"required,min=1,dive"`
}

type variantPayload struct {
	Destination string `json:"destination" validate:"required,url"`
	Weight      int    `json:"weight" validate:"min=0,max=100"`
	Label       string `json:"label,omitempty"`
}

func (r *variantsRequest) toVariantSet() models.VariantSet {
	set := models.VariantSet{Enabled: r.Enabled}
	for _, v := range r.Variants {
		set.Variants = append(set.Variants, models.Variant{
			Destination: v.Destination,
			Weight:      v.Weight,
			Label:       v.Label,
		})
	}
	return set
}

// geoRulesRequest represents the request payload for configuring geographic
// routing rules.
type geoRulesRequest struct {
	Enabled            bool             `json:"enabled"`
	DefaultDestination string           `json:"default_destination" validate:"required,url"`
	Rules              []geoRulePayload `json:"rules" validate:"required,min=1,dive"`
}

type geoRulePayload struct {
	MatchType   string `json:"match_type" validate:"required,oneof=country continent region"`
	MatchValue  string `json:"match_value" validate:"required"`
	Destination string `json:"destination" validate:"required,url"`
}

func (r *geoRulesRequest) toGeoRuleSet() models.GeoRuleSet {
	set := models.GeoRuleSet{
		Enabled:            r.Enabled,
		DefaultDestination: r.DefaultDestination,
	}
	for _, rule := range r.Rules {
		set.Rules = append(set.Rules, models.GeoRule{
			MatchType:   models.GeoMatchType(rule.MatchType),
			MatchValue:  rule.MatchValue,
			Destination: rule.Destination,
		})
	}
	return set
}

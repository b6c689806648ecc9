package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/shortlink/internal/models"
	"github.com/vadimbarashkov/shortlink/internal/service"

	httpSwagger "github.com/swaggo/http-swagger"
)

// URLService defines the interface for the core URL shortening business logic.
type URLService interface {
	// ShortenURL creates a shortened version of the provided original URL.
	ShortenURL(ctx context.Context, originalURL string, opts service.ShortenOptions) (*models.URL, error)

	// Redirect resolves a short code into the destination for this access,
	// applying expiration policy and any routing extension.
	Redirect(ctx context.Context, code string, geo models.GeoAttributes) (string, error)

	// GetURLStats retrieves the record with its visit counters without
	// recording an access.
	GetURLStats(ctx context.Context, code string) (*models.URL, error)

	// ModifyURL updates the destination linked to the provided short code.
	ModifyURL(ctx context.Context, code, originalURL string) (*models.URL, error)

	// DeactivateURL removes the URL, making it no longer functional.
	DeactivateURL(ctx context.Context, code string) error

	// ConfigureVariants attaches a weighted variant split to the record.
	ConfigureVariants(ctx context.Context, code string, set models.VariantSet) (*models.URL, error)

	// ConfigureGeoRules attaches geographic routing rules to the record.
	ConfigureGeoRules(ctx context.Context, code string, set models.GeoRuleSet) (*models.URL, error)

	// RemoveExtension detaches any routing extension from the record.
	RemoveExtension(ctx context.Context, code string) (*models.URL, error)
}

// getValidate initializes a validator instance for incoming request payloads,
// reporting field names from their JSON tags.
func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// NewRouter initializes and returns a new HTTP router with all routes and
// middleware configured. baseURL is the public prefix used to build short
// URLs in responses.
func NewRouter(logger *httplog.Logger, urlSvc URLService, baseURL string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))
	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger.yml")
	})

	r.Route("/api/v1", func(r chi.Router) {
		validate := getValidate()

		r.Get("/ping", handlePing)

		r.Route("/shorten", func(r chi.Router) {
			r.Post("/", handleShortenURL(urlSvc, validate, baseURL))

			r.Route("/{shortCode}", func(r chi.Router) {
				r.Get("/stats", handleGetURLStats(urlSvc, baseURL))
				r.Put("/", handleModifyURL(urlSvc, validate, baseURL))
				r.Delete("/", handleDeactivateURL(urlSvc))

				r.Put("/variants", handleConfigureVariants(urlSvc, validate, baseURL))
				r.Delete("/variants", handleRemoveExtension(urlSvc, baseURL))
				r.Put("/geo", handleConfigureGeoRules(urlSvc, validate, baseURL))
				r.Delete("/geo", handleRemoveExtension(urlSvc, baseURL))
			})
		})
	})

	r.Get("/{shortCode}", handleRedirect(urlSvc))

	return r
}

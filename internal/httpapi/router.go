// Package httpapi implements the HTTP surface (spec.md §6): beer ingest
// and listing, admin dead-letter-queue operations, the manual enrichment
// trigger, and a health check. Every handler shares one JSON envelope and
// maps internal errors through apperror.Kind.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/taplist-enrich/internal/admin"
	"github.com/sells-group/taplist-enrich/internal/admission"
	"github.com/sells-group/taplist-enrich/internal/dlq"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/taplist"
)

// AuthConfig holds the bearer secrets gating the two auth tiers.
type AuthConfig struct {
	APIKey        string
	AdminSecret   string
	AllowedOrigin string
	RateLimitRPM  int
}

// Deps are the collaborators every handler is built from.
type Deps struct {
	Store          store.Store
	Admission      *admission.Limiter
	CleanupQ       queue.Producer
	DLQ            *dlq.Subsystem
	Admin          *admin.Orchestrator
	Taplist        taplist.Client
	StoreAllowList *StoreAllowList
	Auth           AuthConfig
}

// NewRouter builds the chi router for the full HTTP surface.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{d.Auth.AllowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	h := &handlers{deps: d}

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Use(h.rateLimited)
		r.Get("/beers", h.listBeers)
		r.Post("/beers/batch", h.batchEnrichments)
		r.Post("/beers/ingest", h.ingestBeers)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdminSecret)
		r.Get("/dlq", h.listDLQ)
		r.Get("/dlq/stats", h.dlqStats)
		r.Post("/dlq/replay", h.replayDLQ)
		r.Post("/dlq/acknowledge", h.acknowledgeDLQ)
		r.Post("/enrich/trigger", h.triggerEnrich)
	})

	return r
}

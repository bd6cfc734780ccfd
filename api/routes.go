package api

import (
	"net/http"

	"github.com/b0r1v0j3/workers-united/internal/config"
	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/verify"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Deps are the collaborators the HTTP surface is built from. Verifier,
// Metrics and Gatherer may be nil.
type Deps struct {
	Config    *config.Config
	Version   string
	BuildTime string
	DB        Pinger
	Store     repository.Store
	Engine    *matching.Engine
	Sweeper   Sweeper
	Verifier  *verify.Verifier
	Metrics   *metrics.Collector
	Gatherer  prometheus.Gatherer
}

// SetupRoutes builds the HTTP surface. CORS wraps the router so preflight
// requests are answered for every path, not only matched routes.
func SetupRoutes(d Deps) (http.Handler, error) {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	systemHandler := &SystemHandler{DB: d.DB}
	candidatesHandler := NewCandidatesHandler(d.Engine, d.Store, d.Verifier)
	adminHandler := NewAdminHandler(d.Engine, d.Store, d.Sweeper)
	webhookHandler, err := NewWebhookHandler(d.Engine, d.Config.WebhookSecret, d.Metrics)
	if err != nil {
		return nil, err
	}

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(d.Version, d.BuildTime)).Methods(http.MethodGet)
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods(http.MethodGet)
	if d.Config.Metrics.Enabled {
		r.Handle("/metrics", metrics.Handler(d.Gatherer)).Methods(http.MethodGet)
	}

	hooks := r.PathPrefix("/v1/webhooks").Subrouter()
	hooks.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(d.Config.RateLimit.RPS), d.Config.RateLimit.Burst)))
	hooks.HandleFunc("/payments", webhookHandler.PaymentWebhook).Methods(http.MethodPost)

	// API v1 protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(d.Config.JWTSecret))

	apiV1.HandleFunc("/candidates/{id:[0-9]+}", candidatesHandler.GetCandidate).Methods(http.MethodGet)
	apiV1.HandleFunc("/candidates/{id:[0-9]+}/offers", candidatesHandler.ListOffers).Methods(http.MethodGet)
	apiV1.HandleFunc("/candidates/{id:[0-9]+}/documents/verify", candidatesHandler.VerifyDocuments).Methods(http.MethodPost)
	apiV1.HandleFunc("/offers/{id:[0-9]+}/decline", candidatesHandler.DeclineOffer).Methods(http.MethodPost)

	admin := apiV1.PathPrefix("/admin").Subrouter()
	admin.Use(RequireRole(RoleAdmin))
	admin.HandleFunc("/candidates", adminHandler.CreateCandidate).Methods(http.MethodPost)
	admin.HandleFunc("/candidates/{id:[0-9]+}/refund", adminHandler.ResolveRefund).Methods(http.MethodPost)
	admin.HandleFunc("/candidates/{id:[0-9]+}/visa", adminHandler.StartVisa).Methods(http.MethodPost)
	admin.HandleFunc("/jobs", adminHandler.CreateJob).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id:[0-9]+}", adminHandler.GetJob).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{id:[0-9]+}/auto-match", adminHandler.AutoMatch).Methods(http.MethodPost)
	admin.HandleFunc("/matches", adminHandler.ManualMatch).Methods(http.MethodPost)
	admin.HandleFunc("/sweep", adminHandler.Sweep).Methods(http.MethodPost)
	admin.HandleFunc("/queue", adminHandler.ListQueue).Methods(http.MethodGet)

	return CORSMiddleware(r), nil
}

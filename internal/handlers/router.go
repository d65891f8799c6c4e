package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/auth"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/metrics"
	"github.com/ukydev/fleet-workorders/internal/middleware"
	"github.com/ukydev/fleet-workorders/internal/models"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	WorkOrders WorkOrderService
	Store      db.Collections
	Auth       *auth.Service
	Logger     *log.Logger

	// Metrics and Gatherer are optional; /metrics is only mounted when
	// Gatherer is set.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Ping reports storage health for /health. Optional.
	Ping func(ctx context.Context) error

	RateLimitRequests      int
	RateLimitWindowSeconds int

	// TrustProxyHeaders keys the rate limiter on X-Forwarded-For. Only set
	// it behind a proxy that overwrites the header.
	TrustProxyHeaders bool
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	authMW := middleware.NewAuthMiddleware(cfg.Auth)
	workOrders := NewWorkOrderHandler(cfg.WorkOrders, cfg.Logger)
	catalog := NewCatalogHandler(cfg.Store, cfg.Logger)
	authHandler := NewAuthHandler(cfg.Auth, cfg.Store.Users(), cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.MetricsMiddleware)
	}
	if cfg.RateLimitRequests > 0 && cfg.RateLimitWindowSeconds > 0 {
		r.Use(middleware.NewRateLimitMiddleware(cfg.TrustProxyHeaders).RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindowSeconds))
	}

	r.Get("/health", health(cfg.Ping))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMW.Authenticate)

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Get("/auth/profile", authHandler.GetProfile)

		r.Route("/work-orders", func(r chi.Router) {
			r.With(authMW.RequirePermission(models.PermViewWorkOrders)).Get("/", workOrders.List)
			r.With(authMW.RequirePermission(models.PermCreateWorkOrder)).Post("/", workOrders.Create)
			r.With(authMW.RequirePermission(models.PermViewWorkOrders)).Get("/{id}", workOrders.Get)
			r.With(authMW.RequirePermission(models.PermUpdateWorkOrder)).Put("/{id}", workOrders.Update)
			r.With(authMW.RequirePermission(models.PermExecuteWorkOrder)).Patch("/{id}/start", workOrders.Start)
			r.With(authMW.RequirePermission(models.PermExecuteWorkOrder)).Patch("/{id}/complete", workOrders.Complete)
			r.With(authMW.RequirePermission(models.PermCancelWorkOrder)).Patch("/{id}/cancel", workOrders.Cancel)
			r.With(authMW.RequirePermission(models.PermExecuteWorkOrder)).Post("/{id}/consume-part", workOrders.ConsumePart)
		})

		r.Route("/assets", func(r chi.Router) {
			r.With(authMW.RequirePermission(models.PermViewAssets)).Get("/", catalog.ListAssets)
			r.With(authMW.RequirePermission(models.PermManageCatalog)).Post("/", catalog.CreateAsset)
			r.With(authMW.RequirePermission(models.PermViewAssets)).Get("/{id}", catalog.GetAsset)
			r.With(authMW.RequirePermission(models.PermViewAssets)).Get("/{id}/history", catalog.AssetHistory)
		})

		r.Route("/spare-parts", func(r chi.Router) {
			r.With(authMW.RequirePermission(models.PermViewAssets)).Get("/", catalog.ListSpareParts)
			r.With(authMW.RequirePermission(models.PermManageCatalog)).Post("/", catalog.CreateSparePart)
			r.With(authMW.RequirePermission(models.PermViewAssets)).Get("/{id}", catalog.GetSparePart)
			r.With(authMW.RequirePermission(models.PermManageCatalog)).Patch("/{id}", catalog.UpdateSparePart)
		})

		r.Route("/maintenance-schedules", func(r chi.Router) {
			r.With(authMW.RequirePermission(models.PermManageCatalog)).Post("/", catalog.CreateSchedule)
			r.With(authMW.RequirePermission(models.PermViewAssets)).Get("/{id}", catalog.GetSchedule)
		})
	})

	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

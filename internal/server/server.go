// Package server implements the SovGate HTTP server: the admin surface, the
// S3 data plane, health, docs, and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sovgate/sovgate/internal/admin"
	"github.com/sovgate/sovgate/internal/backends"
	"github.com/sovgate/sovgate/internal/config"
	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/proxy"
	"github.com/sovgate/sovgate/internal/sigv4"
)

// Server routes incoming requests to the admin API or the S3 data plane.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      metadata.Store
	registry   *backends.Registry
	verifier   *sigv4.Verifier
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a Server and wires all routes onto the Chi router with the
// Huma API.
func New(cfg *config.Config, store metadata.Store, registry *backends.Registry) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("SovGate Proxy API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		store:    store,
		registry: registry,
		verifier: sigv4.NewVerifier(store),
	}
	s.registerRoutes()
	return s
}

// registerRoutes configures all routes. Huma routes (/health, /docs,
// /openapi.json) and the admin surface are registered first; the S3 data
// plane is a pattern route, so Chi matches the fixed paths before it.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the SovGate server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		if err := s.store.Ping(ctx); err != nil {
			return nil, huma.Error500InternalServerError("Metadata store unreachable", err)
		}
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	admin.Register(s.api, &admin.API{
		Store:    s.store,
		AdminKey: s.cfg.Admin.APIKey,
	})

	dataPlane := &proxy.Handler{
		Verifier:       s.verifier,
		Store:          s.store,
		Registry:       s.registry,
		BackendTimeout: time.Duration(s.cfg.Server.BackendTimeout) * time.Second,
	}
	s.router.Handle("/s3/{logical}/*", dataPlane)
}

// Handler returns the full middleware-wrapped handler chain. Exposed for
// httptest use as well as ListenAndServe.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

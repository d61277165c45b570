package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"jenkinsrun/internal/api/handlers"
	"jenkinsrun/internal/api/middleware"
	"jenkinsrun/internal/config"
	"jenkinsrun/internal/host"
	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage"
)

// Router represents the API router
type Router struct {
	mux            chi.Router
	allowedOrigins []string
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, runner *host.Runner) *Router {
	r := &Router{
		mux:            chi.NewRouter(),
		allowedOrigins: cfg.Server.AllowedOrigins,
	}

	buildHandler := handlers.NewBuildHandler(runner)
	invocationHandler := handlers.NewInvocationHandler()
	valuesHandler := handlers.NewValuesHandler()
	authMiddleware := middleware.NewAuthMiddleware(cfg.API)

	// RequestID -> Recoverer -> BodySizeLimit -> CORS -> routes
	r.mux.Use(middleware.RequestIDMiddleware)
	r.mux.Use(chimw.Recoverer)
	r.mux.Use(middleware.LimitBodySize(cfg.Server.MaxBodySize))
	r.mux.Use(r.corsMiddleware)

	r.mux.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "jenkinsrun API",
			"version": "1.0.0",
			"endpoints": []string{
				"GET /health - Health check",
				"POST /api/v1/builds - Run a Jenkins build to completion",
				"POST /api/v1/builds/data - Report the last completed build",
				"GET /api/v1/invocations - List invocations",
				"GET /api/v1/values?job=<job> - Output values of a job",
			},
		}); err != nil {
			logger.Error("Failed to encode response", "error", err)
		}
	})
	r.mux.Get("/health", healthHandler)

	r.mux.Route("/api/v1", func(api chi.Router) {
		api.Use(authMiddleware.Middleware)
		api.Post("/builds", buildHandler.RunBuild)
		api.Post("/builds/data", buildHandler.RunBuildData)
		api.Get("/invocations", invocationHandler.ListInvocations)
		api.Get("/values", valuesHandler.ListValues)
	})

	return r
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := storage.Ping(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		if encodeErr := json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "unhealthy",
			"error":  "database connection failed",
		}); encodeErr != nil {
			logger.Error("Failed to encode health check error", "error", encodeErr)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
	}); err != nil {
		logger.Error("Failed to encode health check response", "error", err)
	}
}

// corsMiddleware handles CORS headers and preflight requests
func (r *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")

		if len(r.allowedOrigins) == 0 {
			// Empty allowed origins means allow all
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			switch {
			case !isValidOrigin(origin):
				logger.Warn("Invalid origin format", "origin", origin, "request_id", middleware.GetRequestID(req))
			case r.isOriginAllowed(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			default:
				logger.Warn("Origin not allowed", "origin", origin, "request_id", middleware.GetRequestID(req))
			}
		}
		// Same-origin requests carry no Origin header and get no CORS headers

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// isValidOrigin validates the origin format (must be http:// or https://)
func isValidOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://")
}

// isOriginAllowed checks if the given origin is in the allowed list
func (r *Router) isOriginAllowed(origin string) bool {
	for _, allowed := range r.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

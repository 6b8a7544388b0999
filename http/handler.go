package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sentra-id/sentra/core"
	"github.com/sentra-id/sentra/logger"
)

// HandlerProperties contains configuration for the HTTP handler.
type HandlerProperties struct {
	Core   *core.Core
	Logger logger.Logger
}

// Handler returns the main HTTP handler.
func Handler(props *HandlerProperties) http.Handler {
	c := props.Core
	log := props.Logger.WithSubsystem("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/issue", handleIssue(c, log))
			r.Post("/rotate", handleRotate(c, log))
			r.Post("/revoke", handleRevoke(c, log))
			r.Get("/verify", handleVerify(c, log))
		})
		r.Post("/authz/evaluate", handleEvaluate(c, log))

		r.Route("/admin", func(r chi.Router) {
			r.Put("/roles", handleSetRole(c, log))
			r.Delete("/roles/{tenant}/{id}", handleDeleteRole(c, log))
			r.Put("/policies", handleSetPolicy(c, log))
			r.Delete("/policies/{tenant}/{id}", handleDeletePolicy(c, log))
			r.Put("/bindings", handleSetBinding(c, log))
			r.Post("/keys/rotate", handleRotateKey(c, log))
		})

		r.Get("/sys/health", handleHealth(c))
		r.Get("/sys/metrics", handleMetrics(c))
	})

	return r
}

func handleHealth(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondOk(w, map[string]string{"status": "ok"})
	}
}

func handleMetrics(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondOk(w, c.Metrics())
	}
}

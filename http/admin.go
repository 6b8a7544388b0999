package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sentra-id/sentra/core"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/policy"
)

func handleSetRole(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var role policy.Role
		if err := decodeBody(r, &role); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := c.Policies().SetRole(r.Context(), &role); err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, &role)
	}
}

func handleDeleteRole(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		id := chi.URLParam(r, "id")
		if err := c.Policies().DeleteRole(r.Context(), tenant, id); err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, map[string]string{"status": "deleted"})
	}
}

func handleSetPolicy(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pol policy.Policy
		if err := decodeBody(r, &pol); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := c.Policies().SetPolicy(r.Context(), &pol); err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, &pol)
	}
}

func handleDeletePolicy(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		id := chi.URLParam(r, "id")
		if err := c.Policies().DeletePolicy(r.Context(), tenant, id); err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, map[string]string{"status": "deleted"})
	}
}

func handleSetBinding(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var binding policy.Binding
		if err := decodeBody(r, &binding); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := c.Policies().Bind(r.Context(), &binding); err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, &binding)
	}
}

// RotateKeyRequest triggers a signing key rotation for a tenant.
type RotateKeyRequest struct {
	TenantID string `json:"tenant_id"`
}

func handleRotateKey(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RotateKeyRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TenantID == "" {
			respondError(w, http.StatusBadRequest, "tenant_id is required")
			return
		}
		key, err := c.RotateTenantKey(r.Context(), req.TenantID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, map[string]string{
			"key_id":    key.ID,
			"tenant_id": req.TenantID,
		})
	}
}

package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/sentra-id/sentra/core"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/policy"
	"github.com/sentra-id/sentra/storage"
)

// IssueRequest opens a session for a principal whose credentials were
// already checked by the upstream authentication flow.
type IssueRequest struct {
	TenantID    string `json:"tenant_id"`
	PrincipalID string `json:"principal_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// TokenPairResponse carries an access/refresh pair.
type TokenPairResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func handleIssue(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IssueRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TenantID == "" || req.PrincipalID == "" {
			respondError(w, http.StatusBadRequest, "tenant_id and principal_id are required")
			return
		}
		pair, err := c.Issue(r.Context(), req.TenantID, req.PrincipalID, req.Fingerprint)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, &TokenPairResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt,
		})
	}
}

// RotateRequest exchanges a refresh token for a fresh pair.
type RotateRequest struct {
	RefreshToken string `json:"refresh_token"`
	Fingerprint  string `json:"fingerprint,omitempty"`
}

func handleRotate(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RotateRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		pair, err := c.Rotate(r.Context(), req.RefreshToken, req.Fingerprint)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, &TokenPairResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt,
		})
	}
}

// RevokeRequest terminates a session.
type RevokeRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func handleRevoke(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RevokeRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SessionID == "" {
			respondError(w, http.StatusBadRequest, "session_id is required")
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "revoked via api"
		}
		if err := c.Revoke(r.Context(), req.SessionID, reason); err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, map[string]string{"status": "revoked"})
	}
}

// PrincipalResponse is the verified identity of an access token.
type PrincipalResponse struct {
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id"`
	SessionID   string `json:"session_id"`
}

func handleVerify(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		principal, err := c.Verify(r.Context(), raw)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondOk(w, &PrincipalResponse{
			PrincipalID: principal.PrincipalID,
			TenantID:    principal.TenantID,
			SessionID:   principal.SessionID,
		})
	}
}

// EvaluateRequest asks whether a principal may perform an action.
type EvaluateRequest struct {
	TenantID     string            `json:"tenant_id"`
	PrincipalID  string            `json:"principal_id"`
	Resource     string            `json:"resource"`
	Action       string            `json:"action"`
	MFASatisfied bool              `json:"mfa_satisfied,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// DecisionResponse is the evaluation outcome.
type DecisionResponse struct {
	Effect    string `json:"effect"`
	MatchedID string `json:"matched_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func handleEvaluate(c *core.Core, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TenantID == "" || req.PrincipalID == "" || req.Resource == "" || req.Action == "" {
			respondError(w, http.StatusBadRequest, "tenant_id, principal_id, resource, and action are required")
			return
		}
		dec, err := c.Evaluate(r.Context(), req.TenantID, req.PrincipalID, req.Resource, req.Action, &policy.EvalContext{
			ClientIP:     extractClientIP(r),
			Now:          time.Now().UTC(),
			MFASatisfied: req.MFASatisfied,
			Attributes:   req.Attributes,
		})
		if err != nil && (dec == nil || errors.Is(err, storage.ErrUnavailable) || errors.Is(err, core.ErrShutdown)) {
			// A store outage denies internally but surfaces as 503 so
			// callers can tell a retryable failure from a policy deny.
			respondFailure(w, err)
			return
		}
		// Denials, including fail-closed ones, are valid outcomes and
		// return 200 with effect=deny.
		respondOk(w, &DecisionResponse{
			Effect:    string(dec.Effect),
			MatchedID: dec.MatchedID,
			Reason:    dec.Reason,
		})
	}
}

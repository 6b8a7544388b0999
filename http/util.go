package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sentra-id/sentra/core"
	"github.com/sentra-id/sentra/policy"
	"github.com/sentra-id/sentra/session"
	"github.com/sentra-id/sentra/storage"
	"github.com/sentra-id/sentra/token"
)

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

// respondError writes an error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&ErrorResponse{Errors: []string{message}})
}

// respondOk writes a successful JSON response with status 200.
func respondOk(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondFailure maps a core error onto an HTTP status.
func respondFailure(w http.ResponseWriter, err error) {
	respondError(w, errorToStatusCode(err), err.Error())
}

func errorToStatusCode(err error) int {
	switch {
	case errors.Is(err, token.ErrSessionRevoked),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrUnknownKey),
		errors.Is(err, token.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, policy.ErrUnknownPrincipal),
		errors.Is(err, policy.ErrSystemRole):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, policy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrMalformedCondition):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, core.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into out.
func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// bearerToken extracts the access token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// extractClientIP returns the caller address, honoring reverse proxy
// headers before falling back to the connection address.
func extractClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

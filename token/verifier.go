package token

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sentra-id/sentra/keyring"
	"github.com/sentra-id/sentra/logger"
)

// Principal is the identity resolved from a verified access token.
type Principal struct {
	PrincipalID string
	TenantID    string
	SessionID   string
}

// Metrics tracks verifier counters.
type Metrics struct {
	Verified     atomic.Int64
	Expired      atomic.Int64
	BadSignature atomic.Int64
	UnknownKeys  atomic.Int64
	RevokedHits  atomic.Int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"tokens_verified":      m.Verified.Load(),
		"tokens_expired":       m.Expired.Load(),
		"invalid_signatures":   m.BadSignature.Load(),
		"unknown_keys":         m.UnknownKeys.Load(),
		"revoked_session_hits": m.RevokedHits.Load(),
	}
}

// Verifier validates access tokens. This is the hottest path in the system:
// it performs no writes and touches only the immutable key set and the
// denylist cache.
type Verifier struct {
	keys     *keyring.Registry
	denylist Denylist
	leeway   time.Duration
	logger   logger.Logger
	metrics  Metrics
}

// NewVerifier constructs a Verifier.
func NewVerifier(keys *keyring.Registry, denylist Denylist, log logger.Logger) *Verifier {
	return &Verifier{
		keys:     keys,
		denylist: denylist,
		leeway:   30 * time.Second,
		logger:   log,
	}
}

// Verify checks signature, expiry, and revocation status, and returns the
// token's principal.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, v.mapParseError(err)
	}

	revoked, err := v.denylist.Contains(ctx, claims.SessionID)
	if err != nil {
		// Fail closed when revocation state cannot be determined.
		return nil, err
	}
	if revoked {
		v.metrics.RevokedHits.Add(1)
		return nil, ErrSessionRevoked
	}

	v.metrics.Verified.Add(1)
	return &Principal{
		PrincipalID: claims.Subject,
		TenantID:    claims.TenantID,
		SessionID:   claims.SessionID,
	}, nil
}

// MetricsSnapshot exposes verifier counters.
func (v *Verifier) MetricsSnapshot() map[string]int64 {
	return v.metrics.Snapshot()
}

func (v *Verifier) keyFunc(tok *jwt.Token) (interface{}, error) {
	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || claims.TenantID == "" {
		return nil, ErrInvalidToken
	}
	kid, ok := tok.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKey)
	}
	pub, err := v.keys.VerificationKey(claims.TenantID, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return pub, nil
}

func (v *Verifier) mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey), errors.Is(err, keyring.ErrUnknownKey):
		v.metrics.UnknownKeys.Add(1)
		return ErrUnknownKey
	case errors.Is(err, jwt.ErrTokenExpired):
		v.metrics.Expired.Add(1)
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrInvalidToken
	case errors.Is(err, ErrInvalidToken):
		return ErrInvalidToken
	default:
		v.metrics.BadSignature.Add(1)
		return ErrInvalidSignature
	}
}

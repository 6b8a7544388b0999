package core

import (
	"context"
	"errors"
	"strconv"

	"github.com/sentra-id/sentra/audit"
	"github.com/sentra-id/sentra/keyring"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/policy"
	"github.com/sentra-id/sentra/session"
	"github.com/sentra-id/sentra/token"
)

// Issue opens a new session for an authenticated principal and returns its
// first token pair. The caller has already verified the principal's
// credentials or federated assertion.
func (c *Core) Issue(ctx context.Context, tenantID, principalID, fingerprint string) (*token.Pair, error) {
	if c.stopped.Load() {
		return nil, ErrShutdown
	}

	secret, hash, err := token.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	sess, err := c.sessions.Create(ctx, tenantID, principalID, fingerprint, hash)
	if err != nil {
		return nil, err
	}
	access, expiresAt, err := c.issuer.MintAccess(ctx, tenantID, principalID, sess.ID)
	if err != nil {
		return nil, err
	}

	c.auditor.Emit(&audit.Event{
		Type:        audit.EventTokenIssued,
		TenantID:    tenantID,
		PrincipalID: principalID,
		SessionID:   sess.ID,
	})
	return &token.Pair{
		AccessToken:  access,
		RefreshToken: token.EncodeRefresh(sess.ID, secret),
		ExpiresAt:    expiresAt,
	}, nil
}

// Verify validates an access token and returns its principal.
func (c *Core) Verify(ctx context.Context, accessToken string) (*token.Principal, error) {
	if c.stopped.Load() {
		return nil, ErrShutdown
	}
	return c.verifier.Verify(ctx, accessToken)
}

// Rotate exchanges a refresh token for a new token pair. A replayed token
// revokes the whole session and surfaces as ErrSessionRevoked so clients
// force a full re-authentication.
func (c *Core) Rotate(ctx context.Context, refreshToken, fingerprint string) (*token.Pair, error) {
	if c.stopped.Load() {
		return nil, ErrShutdown
	}

	sessionID, secret, err := token.DecodeRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	nextSecret, nextHash, err := token.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	sess, err := c.sessions.Rotate(ctx, sessionID, token.HashRefreshSecret(secret), nextHash, fingerprint)
	if err != nil {
		return nil, c.mapRotateFailure(ctx, sessionID, err)
	}

	access, expiresAt, err := c.issuer.MintAccess(ctx, sess.TenantID, sess.PrincipalID, sess.ID)
	if err != nil {
		return nil, err
	}

	c.auditor.Emit(&audit.Event{
		Type:        audit.EventTokenRotated,
		TenantID:    sess.TenantID,
		PrincipalID: sess.PrincipalID,
		SessionID:   sess.ID,
		Metadata:    map[string]string{"generation": strconv.FormatUint(sess.Generation, 10)},
	})
	return &token.Pair{
		AccessToken:  access,
		RefreshToken: token.EncodeRefresh(sess.ID, nextSecret),
		ExpiresAt:    expiresAt,
	}, nil
}

func (c *Core) mapRotateFailure(ctx context.Context, sessionID string, err error) error {
	switch {
	case errors.Is(err, session.ErrReplayDetected), errors.Is(err, session.ErrFingerprintMismatch):
		reason := "refresh replay"
		if errors.Is(err, session.ErrFingerprintMismatch) {
			reason = "fingerprint mismatch"
		}
		c.quarantine(ctx, sessionID, reason)
		c.auditor.Emit(&audit.Event{
			Type:      audit.EventReplayDetected,
			SessionID: sessionID,
			Reason:    reason,
		})
		return token.ErrSessionRevoked
	case errors.Is(err, session.ErrRevoked):
		return token.ErrSessionRevoked
	case errors.Is(err, session.ErrInvalidRefresh):
		return token.ErrInvalidToken
	default:
		return err
	}
}

// Revoke terminates a session. Verification rejects its access tokens from
// here on through the denylist; refresh is dead through the session store.
func (c *Core) Revoke(ctx context.Context, sessionID, reason string) error {
	if c.stopped.Load() {
		return ErrShutdown
	}

	sess, err := c.sessions.Revoke(ctx, sessionID, reason)
	if err != nil {
		return err
	}
	c.quarantine(ctx, sessionID, reason)
	c.auditor.Emit(&audit.Event{
		Type:        audit.EventSessionRevoked,
		TenantID:    sess.TenantID,
		PrincipalID: sess.PrincipalID,
		SessionID:   sessionID,
		Reason:      reason,
	})
	return nil
}

// quarantine puts the session on the verifier denylist. Failures are logged
// and not propagated: the session store is already authoritative and the
// denylist only narrows the access-token window.
func (c *Core) quarantine(ctx context.Context, sessionID, reason string) {
	if err := c.denylist.Add(ctx, sessionID, c.denylistTTL); err != nil {
		c.logger.Error("failed to denylist session",
			logger.String("session_id", sessionID),
			logger.String("reason", reason),
			logger.Err(err))
	}
}

// Evaluate answers an authorization question for an already verified
// principal.
func (c *Core) Evaluate(ctx context.Context, tenantID, principalID, resource, action string, ectx *policy.EvalContext) (*policy.Decision, error) {
	if c.stopped.Load() {
		return &policy.Decision{Effect: policy.Deny, Reason: "shutting down"}, ErrShutdown
	}
	return c.evaluator.Evaluate(ctx, tenantID, principalID, resource, action, ectx)
}

// RotateTenantKey provisions a fresh signing key for a tenant. Tokens signed
// by the previous key stay verifiable until they expire.
func (c *Core) RotateTenantKey(ctx context.Context, tenantID string) (*keyring.SigningKey, error) {
	if c.stopped.Load() {
		return nil, ErrShutdown
	}
	key, err := c.keys.Rotate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.auditor.Emit(&audit.Event{
		Type:     audit.EventKeyRotated,
		TenantID: tenantID,
		Metadata: map[string]string{"key_id": key.ID},
	})
	return key, nil
}

package session

import (
	"errors"
	"time"
)

var (
	// ErrInvalidRefresh covers unknown, expired, or structurally wrong
	// refresh material. Callers get no detail about which it was.
	ErrInvalidRefresh = errors.New("invalid refresh token")

	// ErrRevoked means the session is revoked and the client must fully
	// re-authenticate.
	ErrRevoked = errors.New("session revoked")

	// ErrReplayDetected means an already-consumed refresh token was
	// presented again. The session has been revoked as a consequence.
	ErrReplayDetected = errors.New("refresh token replay detected")

	// ErrFingerprintMismatch means the rotation came from a device other
	// than the one the session was bound to.
	ErrFingerprintMismatch = errors.New("device fingerprint mismatch")

	// ErrNotFound means no session exists with the given id.
	ErrNotFound = errors.New("session not found")
)

// Session is one login. Its generation increments on every successful
// refresh rotation; at most one refresh record per session is valid
// (non-consumed) at any time.
type Session struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	PrincipalID  string     `json:"principal_id"`
	Generation   uint64     `json:"generation"`
	Revoked      bool       `json:"revoked"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	Fingerprint  string     `json:"fingerprint,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// RefreshRecord is the server-side half of an opaque refresh token. Only
// the hash of the client secret is stored. Consumed records are retained
// for the forensic window so replays of old tokens stay detectable.
type RefreshRecord struct {
	SecretHash string     `json:"secret_hash"`
	SessionID  string     `json:"session_id"`
	Generation uint64     `json:"generation"`
	Consumed   bool       `json:"consumed"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

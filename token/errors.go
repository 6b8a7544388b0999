package token

import "errors"

var (
	// ErrExpired means the access token's expiry has passed.
	ErrExpired = errors.New("token has expired")

	// ErrInvalidSignature means the signature does not verify against any
	// known key for the tenant.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrUnknownKey means the token references a signing key that is not in
	// the registry (never existed, or already swept).
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrSessionRevoked means the token's session has been revoked.
	ErrSessionRevoked = errors.New("session has been revoked")

	// ErrInvalidToken means the token is structurally invalid.
	ErrInvalidToken = errors.New("invalid token")
)

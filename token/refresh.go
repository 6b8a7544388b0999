package token

import (
	"encoding/base64"
	"strings"

	"github.com/sentra-id/sentra/helper"
)

// Refresh tokens are opaque: base64url over "sessionID.secret". Storage
// keeps only a one-way hash of the secret; possession of the raw token is
// the sole proof.

const refreshSecretLength = 43

// EncodeRefresh packs a session id and secret into an opaque refresh token.
func EncodeRefresh(sessionID, secret string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sessionID + "." + secret))
}

// HashRefreshSecret maps a client-presented secret to its stored form.
func HashRefreshSecret(secret string) string {
	return helper.HashSecret(secret)
}

// DecodeRefresh unpacks an opaque refresh token. Structural failures return
// ErrInvalidToken without revealing which part was malformed.
func DecodeRefresh(raw string) (sessionID, secret string, err error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	idx := strings.LastIndexByte(string(decoded), '.')
	if idx <= 0 || idx == len(decoded)-1 {
		return "", "", ErrInvalidToken
	}
	return string(decoded[:idx]), string(decoded[idx+1:]), nil
}

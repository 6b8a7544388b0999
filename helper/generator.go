package helper

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/hashicorp/go-secure-stdlib/base62"
	"github.com/oklog/ulid"
)

// GenerateSecret returns a cryptographically secure base62 string of the
// given length. Used for opaque refresh-token secrets.
func GenerateSecret(length int) (string, error) {
	return base62.Random(length)
}

// HashSecret derives the one-way lookup value stored for an opaque secret.
// The raw secret never touches durable storage.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateSessionID returns a new session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}

// GenerateKeyID returns a new signing key identifier.
func GenerateKeyID() string {
	return "k-" + uuid.NewString()
}

// GenerateEventID returns a lexically sortable event identifier.
func GenerateEventID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	wrapping "github.com/openbao/go-kms-wrapping/v2"
	aead "github.com/openbao/go-kms-wrapping/wrappers/aead/v2"
	"github.com/sentra-id/sentra/keyring"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) *keyring.Registry {
	t.Helper()
	rootKey := make([]byte, 32)
	_, err := rand.Read(rootKey)
	require.NoError(t, err)

	wrapper := aead.NewWrapper()
	_, err = wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(map[string]string{
		"key":    base64.StdEncoding.EncodeToString(rootKey),
		"key_id": "root",
	}))
	require.NoError(t, err)

	keys, err := keyring.NewRegistry(context.Background(),
		inmem.NewInmemBackend(logger.NewNop()), wrapper, time.Hour, logger.NewNop())
	require.NoError(t, err)
	return keys
}

func testVerifier(t *testing.T, keys *keyring.Registry) (*Verifier, *InmemDenylist) {
	t.Helper()
	denylist, err := NewInmemDenylist()
	require.NoError(t, err)
	t.Cleanup(func() { denylist.Close() })
	return NewVerifier(keys, denylist, logger.NewNop()), denylist
}

func TestRefreshCodecRoundtrip(t *testing.T) {
	secret, hash, err := NewRefreshSecret()
	require.NoError(t, err)
	assert.Len(t, secret, refreshSecretLength)
	assert.NotEqual(t, secret, hash)

	encoded := EncodeRefresh("session-1", secret)
	sessionID, decoded, err := DecodeRefresh(encoded)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sessionID)
	assert.Equal(t, secret, decoded)
}

func TestDecodeRefreshRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"%%%not-base64%%%",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte(".leading")),
		base64.RawURLEncoding.EncodeToString([]byte("trailing.")),
	} {
		_, _, err := DecodeRefresh(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", raw)
	}
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	keys := testKeys(t)
	issuer := NewIssuer(keys, "sentra", 10*time.Minute)
	verifier, _ := testVerifier(t, keys)
	ctx := context.Background()

	access, expiresAt, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), expiresAt, time.Minute)

	principal, err := verifier.Verify(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.PrincipalID)
	assert.Equal(t, "t1", principal.TenantID)
	assert.Equal(t, "s1", principal.SessionID)
}

func TestVerifyExpired(t *testing.T) {
	keys := testKeys(t)
	issuer := NewIssuer(keys, "sentra", -2*time.Minute)
	verifier, _ := testVerifier(t, keys)
	ctx := context.Background()

	access, _, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, access)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongTenantKey(t *testing.T) {
	keys := testKeys(t)
	issuer := NewIssuer(keys, "sentra", 10*time.Minute)
	verifier, _ := testVerifier(t, keys)
	ctx := context.Background()

	// A token signed by another registry's key is unknown here.
	otherKeys := testKeys(t)
	otherIssuer := NewIssuer(otherKeys, "sentra", 10*time.Minute)
	access, _, err := otherIssuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, access)
	assert.ErrorIs(t, err, ErrUnknownKey)

	// Prime the tenant so the kid lookup, not the tenant lookup, fails.
	_, _, err = issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)
	_, err = verifier.Verify(ctx, access)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerifyTamperedSignature(t *testing.T) {
	keys := testKeys(t)
	issuer := NewIssuer(keys, "sentra", 10*time.Minute)
	verifier, _ := testVerifier(t, keys)
	ctx := context.Background()

	access, _, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	tampered := access[:len(access)-4] + "AAAA"
	_, err = verifier.Verify(ctx, tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyMalformed(t *testing.T) {
	keys := testKeys(t)
	verifier, _ := testVerifier(t, keys)

	_, err := verifier.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	keys := testKeys(t)
	verifier, _ := testVerifier(t, keys)
	ctx := context.Background()

	// Prime tenant key.
	issuer := NewIssuer(keys, "sentra", 10*time.Minute)
	_, _, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	claims := &AccessClaims{
		TenantID:  "t1",
		SessionID: "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, raw)
	require.Error(t, err)
}

func TestVerifyDenylistedSession(t *testing.T) {
	keys := testKeys(t)
	issuer := NewIssuer(keys, "sentra", 10*time.Minute)
	verifier, denylist := testVerifier(t, keys)
	ctx := context.Background()

	access, _, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	require.NoError(t, denylist.Add(ctx, "s1", time.Hour))

	_, err = verifier.Verify(ctx, access)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestKeyRotationKeepsOldTokensValid(t *testing.T) {
	keys := testKeys(t)
	issuer := NewIssuer(keys, "sentra", 10*time.Minute)
	verifier, _ := testVerifier(t, keys)
	ctx := context.Background()

	before, _, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	_, err = keys.Rotate(ctx, "t1")
	require.NoError(t, err)

	after, _, err := issuer.MintAccess(ctx, "t1", "alice", "s1")
	require.NoError(t, err)

	// Both the pre-rotation and post-rotation tokens verify.
	_, err = verifier.Verify(ctx, before)
	require.NoError(t, err)
	_, err = verifier.Verify(ctx, after)
	require.NoError(t, err)
}

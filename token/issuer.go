package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sentra-id/sentra/helper"
	"github.com/sentra-id/sentra/keyring"
)

// AccessClaims is the claim set carried by access tokens. The token is
// stateless: its existence is implicit in the signature and nothing is
// persisted at mint time.
type AccessClaims struct {
	TenantID  string `json:"tid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Pair is the result of issuance and rotation.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Issuer mints access tokens signed with the tenant's current key and
// opaque refresh secrets.
type Issuer struct {
	keys      *keyring.Registry
	issuer    string
	accessTTL time.Duration
}

// NewIssuer constructs an Issuer.
func NewIssuer(keys *keyring.Registry, issuerName string, accessTTL time.Duration) *Issuer {
	return &Issuer{keys: keys, issuer: issuerName, accessTTL: accessTTL}
}

// AccessTTL reports the configured access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// MintAccess signs a short-lived access token for the given identity.
func (i *Issuer) MintAccess(ctx context.Context, tenantID, principalID, sessionID string) (string, time.Time, error) {
	key, err := i.keys.CurrentKey(ctx, tenantID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to resolve signing key: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(i.accessTTL)
	claims := &AccessClaims{
		TenantID:  tenantID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = key.ID

	signed, err := tok.SignedString(key.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// NewRefreshSecret generates the opaque secret for one refresh record.
func NewRefreshSecret() (secret, hash string, err error) {
	secret, err = helper.GenerateSecret(refreshSecretLength)
	if err != nil {
		return "", "", err
	}
	return secret, helper.HashSecret(secret), nil
}

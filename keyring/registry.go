package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	wrapping "github.com/openbao/go-kms-wrapping/v2"
	"github.com/sentra-id/sentra/helper"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

const keyPrefix = "core/keys/"

var (
	ErrUnknownKey    = errors.New("unknown signing key")
	ErrNoSealWrapper = errors.New("no seal wrapper configured")
)

// SigningKey is one per-tenant Ed25519 signing key. A zero RetireAt means
// the key is current for issuance; a retired key stays in the set for
// verification until its RetireAt passes.
type SigningKey struct {
	ID        string
	TenantID  string
	Public    ed25519.PublicKey
	Private   ed25519.PrivateKey
	CreatedAt time.Time
	RetireAt  time.Time
}

// keyEntry is the persisted form. Private key material is stored only
// envelope-encrypted under the seal wrapper; the wrapper key never signs
// tokens and the signing key never encrypts anything.
type keyEntry struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	Public          []byte             `json:"public"`
	PrivateEnvelope *wrapping.BlobInfo `json:"private_envelope"`
	CreatedAt       time.Time          `json:"created_at"`
	RetireAt        time.Time          `json:"retire_at,omitempty"`
	Current         bool               `json:"current"`
}

type tenantKeySet struct {
	current *SigningKey
	keys    map[string]*SigningKey
}

func (s *tenantKeySet) clone() *tenantKeySet {
	keys := make(map[string]*SigningKey, len(s.keys))
	for id, key := range s.keys {
		keys[id] = key
	}
	return &tenantKeySet{current: s.current, keys: keys}
}

// Registry holds the signing keys of every tenant. The full key map is
// immutable and swapped atomically on rotation so that verification reads
// are lock-free.
type Registry struct {
	backend         storage.Backend
	wrapper         wrapping.Wrapper
	log             logger.Logger
	retirementGrace time.Duration

	mu   sync.Mutex // serializes writes
	sets atomic.Pointer[map[string]*tenantKeySet]
}

// NewRegistry loads all persisted keys and returns a ready registry.
// retirementGrace must be at least the access-token TTL so rotation never
// invalidates a token before its natural expiry.
func NewRegistry(ctx context.Context, backend storage.Backend, wrapper wrapping.Wrapper, retirementGrace time.Duration, log logger.Logger) (*Registry, error) {
	if wrapper == nil {
		return nil, ErrNoSealWrapper
	}
	r := &Registry{
		backend:         backend,
		wrapper:         wrapper,
		log:             log,
		retirementGrace: retirementGrace,
	}
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(ctx context.Context) error {
	sets := make(map[string]*tenantKeySet)

	tenants, err := r.backend.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list key tenants: %w", err)
	}
	for _, tenantDir := range tenants {
		tenant := strings.TrimSuffix(tenantDir, "/")
		keyIDs, err := r.backend.List(ctx, keyPrefix+tenant+"/")
		if err != nil {
			return fmt.Errorf("failed to list keys for tenant %q: %w", tenant, err)
		}
		set := &tenantKeySet{keys: make(map[string]*SigningKey)}
		for _, keyID := range keyIDs {
			entry, err := r.backend.Get(ctx, keyPrefix+tenant+"/"+keyID)
			if err != nil {
				return err
			}
			if entry == nil {
				continue
			}
			var persisted keyEntry
			if err := json.Unmarshal(entry.Value, &persisted); err != nil {
				return fmt.Errorf("corrupt key entry %q: %w", keyID, err)
			}
			key, err := r.decryptKey(ctx, &persisted)
			if err != nil {
				return err
			}
			set.keys[key.ID] = key
			if persisted.Current {
				set.current = key
			}
		}
		if len(set.keys) > 0 {
			sets[tenant] = set
		}
	}

	r.sets.Store(&sets)
	r.log.Info("key registry loaded", logger.Int("tenants", len(sets)))
	return nil
}

// CurrentKey returns the tenant's issuance key, provisioning the first key
// for a tenant that has none.
func (r *Registry) CurrentKey(ctx context.Context, tenant string) (*SigningKey, error) {
	if set, ok := (*r.sets.Load())[tenant]; ok && set.current != nil {
		return set.current, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock.
	if set, ok := (*r.sets.Load())[tenant]; ok && set.current != nil {
		return set.current, nil
	}
	return r.rotateLocked(ctx, tenant)
}

// VerificationKey returns the public key for (tenant, keyID), accepting both
// the current key and any not-yet-swept retired key.
func (r *Registry) VerificationKey(tenant, keyID string) (ed25519.PublicKey, error) {
	set, ok := (*r.sets.Load())[tenant]
	if !ok {
		return nil, ErrUnknownKey
	}
	key, ok := set.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key.Public, nil
}

// Rotate generates a new current key for the tenant. The previous key is
// scheduled for retirement no earlier than the longest-lived access token
// that could still reference it.
func (r *Registry) Rotate(ctx context.Context, tenant string) (*SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(ctx, tenant)
}

func (r *Registry) rotateLocked(ctx context.Context, tenant string) (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	now := time.Now().UTC()
	key := &SigningKey{
		ID:        helper.GenerateKeyID(),
		TenantID:  tenant,
		Public:    pub,
		Private:   priv,
		CreatedAt: now,
	}

	current := *r.sets.Load()
	var set *tenantKeySet
	if existing, ok := current[tenant]; ok {
		set = existing.clone()
	} else {
		set = &tenantKeySet{keys: make(map[string]*SigningKey)}
	}

	// Schedule retirement of the key being replaced.
	if set.current != nil {
		retired := *set.current
		retired.RetireAt = now.Add(r.retirementGrace)
		if err := r.persistKey(ctx, &retired, false); err != nil {
			return nil, err
		}
		set.keys[retired.ID] = &retired
	}

	if err := r.persistKey(ctx, key, true); err != nil {
		return nil, err
	}
	set.keys[key.ID] = key
	set.current = key

	next := make(map[string]*tenantKeySet, len(current)+1)
	for t, s := range current {
		next[t] = s
	}
	next[tenant] = set
	r.sets.Store(&next)

	r.log.Info("signing key rotated",
		logger.String("tenant_id", tenant),
		logger.String("key_id", key.ID),
	)
	return key, nil
}

// SweepRetired removes keys whose retirement time has passed. Safe to run
// as a periodic idempotent task.
func (r *Registry) SweepRetired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	current := *r.sets.Load()
	next := make(map[string]*tenantKeySet, len(current))
	removed := 0

	for tenant, set := range current {
		cloned := set.clone()
		for id, key := range cloned.keys {
			if key.RetireAt.IsZero() || now.Before(key.RetireAt) {
				continue
			}
			if err := r.backend.Delete(ctx, keyPrefix+tenant+"/"+id); err != nil {
				return removed, err
			}
			delete(cloned.keys, id)
			removed++
		}
		next[tenant] = cloned
	}

	if removed > 0 {
		r.sets.Store(&next)
		r.log.Debug("retired signing keys swept", logger.Int("removed", removed))
	}
	return removed, nil
}

func (r *Registry) persistKey(ctx context.Context, key *SigningKey, current bool) error {
	envelope, err := r.wrapper.Encrypt(ctx, key.Private, wrapping.WithAad([]byte(key.TenantID)))
	if err != nil {
		return fmt.Errorf("failed to seal signing key: %w", err)
	}

	value, err := json.Marshal(&keyEntry{
		ID:              key.ID,
		TenantID:        key.TenantID,
		Public:          key.Public,
		PrivateEnvelope: envelope,
		CreatedAt:       key.CreatedAt,
		RetireAt:        key.RetireAt,
		Current:         current,
	})
	if err != nil {
		return err
	}
	return r.backend.Put(ctx, &storage.Entry{
		Key:   keyPrefix + key.TenantID + "/" + key.ID,
		Value: value,
	})
}

func (r *Registry) decryptKey(ctx context.Context, persisted *keyEntry) (*SigningKey, error) {
	private, err := r.wrapper.Decrypt(ctx, persisted.PrivateEnvelope, wrapping.WithAad([]byte(persisted.TenantID)))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal signing key %q: %w", persisted.ID, err)
	}
	return &SigningKey{
		ID:        persisted.ID,
		TenantID:  persisted.TenantID,
		Public:    ed25519.PublicKey(persisted.Public),
		Private:   ed25519.PrivateKey(private),
		CreatedAt: persisted.CreatedAt,
		RetireAt:  persisted.RetireAt,
	}, nil
}

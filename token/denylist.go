package token

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

// Denylist tracks revoked session ids so the verifier can reject their
// access tokens without a session-store lookup. Entries carry a TTL at
// least as long as the maximum access-token lifetime; after that any token
// for the session has expired on its own.
type Denylist interface {
	Add(ctx context.Context, sessionID string, ttl time.Duration) error
	Contains(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

// InmemDenylist is a single-process denylist on a ristretto cache.
type InmemDenylist struct {
	cache *ristretto.Cache[string, time.Time]
}

var _ Denylist = (*InmemDenylist)(nil)

// NewInmemDenylist builds the in-process denylist.
func NewInmemDenylist() (*InmemDenylist, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, time.Time]{
		NumCounters: 1e6,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize denylist cache: %w", err)
	}
	return &InmemDenylist{cache: cache}, nil
}

func (d *InmemDenylist) Add(_ context.Context, sessionID string, ttl time.Duration) error {
	d.cache.SetWithTTL(sessionID, time.Now().UTC(), 1, ttl)
	// Wait so a revocation is observable by the next verification.
	d.cache.Wait()
	return nil
}

func (d *InmemDenylist) Contains(_ context.Context, sessionID string) (bool, error) {
	_, found := d.cache.Get(sessionID)
	return found, nil
}

func (d *InmemDenylist) Close() error {
	d.cache.Close()
	return nil
}

const redisDenylistPrefix = "sentra:denylist:"

// RedisDenylist shares revocations across verifier replicas. Lookup errors
// surface as storage unavailability so the verifier fails closed.
type RedisDenylist struct {
	client *redis.Client
	log    logger.Logger
}

var _ Denylist = (*RedisDenylist)(nil)

// NewRedisDenylist connects to the given Redis address.
func NewRedisDenylist(addr, password string, log logger.Logger) *RedisDenylist {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &RedisDenylist{client: client, log: log}
}

func (d *RedisDenylist) Add(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := d.client.SetEx(ctx, redisDenylistPrefix+sessionID, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (d *RedisDenylist) Contains(ctx context.Context, sessionID string) (bool, error) {
	n, err := d.client.Exists(ctx, redisDenylistPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return n > 0, nil
}

func (d *RedisDenylist) Close() error {
	return d.client.Close()
}

package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sentra-id/sentra/logger"
)

// DefaultStaleness bounds how long a cached tenant snapshot may serve reads
// before its generation is re-checked against the store.
const DefaultStaleness = 3 * time.Second

// CompiledSet is one tenant's policy state compiled for evaluation: roles by
// id, bindings by principal, and conditional policies pre-sorted by priority
// descending with deny ahead of allow at equal priority. Everything except
// the staleness stamp is immutable after compilation.
type CompiledSet struct {
	TenantID   string
	Generation uint64
	Roles      map[string]*Role
	Bindings   map[string][]string
	Policies   []*Policy

	fetchedAt atomic.Int64
}

// Cache holds compiled per-tenant snapshots. Entries are invalidated
// synchronously on store writes and additionally re-validated against the
// store generation once their staleness window elapses, so replicas that
// miss the direct invalidation still converge.
type Cache struct {
	store     *Store
	entries   *lru.TwoQueueCache[string, *CompiledSet]
	staleness time.Duration
	logger    logger.Logger

	// Serializes compilation per process. Redundant compiles under
	// concurrent misses are acceptable; this only bounds the stampede.
	mu sync.Mutex
}

// NewCache builds the cache and registers it as the store's invalidator.
func NewCache(store *Store, size int, staleness time.Duration, log logger.Logger) (*Cache, error) {
	if size < 1 {
		size = 1024
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	entries, err := lru.New2Q[string, *CompiledSet](size)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy cache: %w", err)
	}
	c := &Cache{
		store:     store,
		entries:   entries,
		staleness: staleness,
		logger:    log.WithSubsystem("policy.cache"),
	}
	store.SetInvalidator(c.Invalidate)
	return c, nil
}

// Get returns the compiled snapshot for a tenant, recompiling when the
// entry is missing or its generation is behind the store.
func (c *Cache) Get(ctx context.Context, tenantID string) (*CompiledSet, error) {
	if set, ok := c.entries.Get(tenantID); ok {
		if time.Since(time.Unix(0, set.fetchedAt.Load())) < c.staleness {
			return set, nil
		}
		gen, err := c.store.Generation(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if gen == set.Generation {
			set.fetchedAt.Store(time.Now().UnixNano())
			return set, nil
		}
	}
	return c.compile(ctx, tenantID)
}

// Invalidate drops a tenant's snapshot. Called by the store on every write.
func (c *Cache) Invalidate(tenantID string) {
	c.entries.Remove(tenantID)
}

// SweepStale drops entries whose generation is behind the store. Intended
// as a periodic task so long-idle tenants do not pin dead snapshots.
func (c *Cache) SweepStale(ctx context.Context) int {
	dropped := 0
	for _, tenantID := range c.entries.Keys() {
		set, ok := c.entries.Get(tenantID)
		if !ok {
			continue
		}
		gen, err := c.store.Generation(ctx, tenantID)
		if err != nil {
			continue
		}
		if gen != set.Generation {
			c.entries.Remove(tenantID)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Debug("dropped stale policy snapshots", logger.Int("count", dropped))
	}
	return dropped
}

func (c *Cache) compile(ctx context.Context, tenantID string) (*CompiledSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Read the generation before the data. A write racing the reads below
	// leaves the snapshot stamped with the older generation, which the
	// next staleness check detects and recompiles.
	gen, err := c.store.Generation(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	roles, err := c.store.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	policies, err := c.store.ListPolicies(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	bindings, err := c.store.ListBindings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	set := &CompiledSet{
		TenantID:   tenantID,
		Generation: gen,
		Roles:      make(map[string]*Role, len(roles)),
		Bindings:   make(map[string][]string, len(bindings)),
		Policies:   policies,
	}
	set.fetchedAt.Store(time.Now().UnixNano())
	for _, role := range roles {
		set.Roles[role.ID] = role
	}
	for _, binding := range bindings {
		set.Bindings[binding.PrincipalID] = binding.Roles
	}
	sort.SliceStable(set.Policies, func(i, j int) bool {
		if set.Policies[i].Priority != set.Policies[j].Priority {
			return set.Policies[i].Priority > set.Policies[j].Priority
		}
		return set.Policies[i].Effect == Deny && set.Policies[j].Effect == Allow
	})

	c.entries.Add(tenantID, set)
	c.logger.Debug("compiled policy snapshot",
		logger.String("tenant_id", tenantID),
		logger.Uint64("generation", gen),
		logger.Int("roles", len(roles)),
		logger.Int("policies", len(policies)))
	return set, nil
}

package inmem

import (
	"context"
	"strings"
	"sync"

	"github.com/armon/go-radix"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

var _ storage.Backend = (*InmemBackend)(nil)

// InmemBackend is an in-memory Backend backed by a radix tree. It is used
// for tests and development; the data is not durable.
type InmemBackend struct {
	sync.RWMutex
	root       *radix.Tree
	permitPool *storage.PermitPool
	logger     logger.Logger
}

// NewInmemBackend constructs an empty in-memory backend.
func NewInmemBackend(log logger.Logger) *InmemBackend {
	return &InmemBackend{
		root:       radix.New(),
		permitPool: storage.NewPermitPool(64),
		logger:     log,
	}
}

func (i *InmemBackend) Put(ctx context.Context, entry *Entry) error {
	if err := i.permitPool.Acquire(ctx); err != nil {
		return err
	}
	defer i.permitPool.Release()

	i.Lock()
	defer i.Unlock()

	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	i.root.Insert(entry.Key, value)
	return nil
}

func (i *InmemBackend) Get(ctx context.Context, key string) (*Entry, error) {
	if err := i.permitPool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer i.permitPool.Release()

	i.RLock()
	defer i.RUnlock()

	raw, found := i.root.Get(key)
	if !found {
		return nil, nil
	}
	stored := raw.([]byte)
	value := make([]byte, len(stored))
	copy(value, stored)
	return &Entry{Key: key, Value: value}, nil
}

func (i *InmemBackend) Delete(ctx context.Context, key string) error {
	if err := i.permitPool.Acquire(ctx); err != nil {
		return err
	}
	defer i.permitPool.Release()

	i.Lock()
	defer i.Unlock()

	i.root.Delete(key)
	return nil
}

// List returns the direct children under prefix. Nested keys are folded into
// a single "folder/" result.
func (i *InmemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := i.permitPool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer i.permitPool.Release()

	i.RLock()
	defer i.RUnlock()

	var out []string
	seen := make(map[string]struct{})
	i.root.WalkPrefix(prefix, func(key string, _ interface{}) bool {
		trimmed := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(trimmed, "/"); idx >= 0 {
			trimmed = trimmed[:idx+1]
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			out = append(out, trimmed)
		}
		return false
	})
	return out, nil
}

// Entry aliases the storage entry type for brevity inside this package.
type Entry = storage.Entry

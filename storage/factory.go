package storage

import (
	"context"
	"fmt"

	"github.com/sentra-id/sentra/logger"
)

// Factory creates a Backend from a storage config map.
type Factory func(ctx context.Context, conf map[string]string, log logger.Logger) (Backend, error)

var factories = map[string]Factory{}

// RegisterFactory registers a backend constructor under a storage type name.
// Backend packages register themselves from init to avoid import cycles.
func RegisterFactory(storageType string, factory Factory) {
	factories[storageType] = factory
}

// NewBackend constructs the backend named by conf["type"].
func NewBackend(ctx context.Context, conf map[string]string, log logger.Logger) (Backend, error) {
	storageType := conf["type"]
	factory, ok := factories[storageType]
	if !ok {
		return nil, fmt.Errorf("unknown storage type %q", storageType)
	}
	return factory(ctx, conf, log)
}

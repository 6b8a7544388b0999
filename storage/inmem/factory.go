package inmem

import (
	"context"

	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

func init() {
	storage.RegisterFactory("inmem", func(_ context.Context, _ map[string]string, log logger.Logger) (storage.Backend, error) {
		return NewInmemBackend(log), nil
	})
}

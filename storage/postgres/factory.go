package postgres

import (
	"context"

	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

func init() {
	storage.RegisterFactory("postgres", func(ctx context.Context, conf map[string]string, log logger.Logger) (storage.Backend, error) {
		return NewPostgresBackend(ctx, conf, log)
	})
}

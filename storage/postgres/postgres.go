package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

var _ storage.Backend = (*PostgresBackend)(nil)

const defaultTable = "sentra_kv"

// PostgresBackend stores entries in a single PostgreSQL table, one row per
// key, split into (path, key) columns so that prefix listing stays indexed.
type PostgresBackend struct {
	pool       *pgxpool.Pool
	table      string
	permitPool *storage.PermitPool
	logger     logger.Logger

	putQuery    string
	getQuery    string
	deleteQuery string
	listQuery   string
}

// NewPostgresBackend connects to PostgreSQL using the given config map
// (connection_url, table, max_parallel, skip_create_table).
func NewPostgresBackend(ctx context.Context, conf map[string]string, log logger.Logger) (*PostgresBackend, error) {
	connURL, ok := conf["connection_url"]
	if !ok || connURL == "" {
		return nil, errors.New("missing connection_url")
	}

	table := conf["table"]
	if table == "" {
		table = defaultTable
	}
	quoted := QuoteIdentifier(table)

	maxParallel := 128
	if raw, ok := conf["max_parallel"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid max_parallel: %w", err)
		}
		maxParallel = parsed
	}

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	b := &PostgresBackend{
		pool:       pool,
		table:      quoted,
		permitPool: storage.NewPermitPool(maxParallel),
		logger:     log,

		putQuery: `INSERT INTO ` + quoted + ` VALUES($1, $2, $3)` +
			` ON CONFLICT (path, key) DO UPDATE SET value = $3`,
		getQuery:    `SELECT value FROM ` + quoted + ` WHERE path = $1 AND key = $2`,
		deleteQuery: `DELETE FROM ` + quoted + ` WHERE path = $1 AND key = $2`,
		listQuery: `SELECT key FROM ` + quoted + ` WHERE path = $1` +
			` UNION ALL SELECT DISTINCT substring(substr(path, length($1)+1) from '^.*?/') FROM ` + quoted +
			` WHERE path LIKE $1 || '_%' ORDER BY key`,
	}

	if conf["skip_create_table"] != "true" {
		createStmt := `CREATE TABLE IF NOT EXISTS ` + quoted +
			` (path TEXT, key TEXT, value BYTEA, PRIMARY KEY (path, key))`
		if _, err := pool.Exec(ctx, createStmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	return b, nil
}

func (b *PostgresBackend) Put(ctx context.Context, entry *storage.Entry) error {
	if err := b.permitPool.Acquire(ctx); err != nil {
		return err
	}
	defer b.permitPool.Release()

	path, leaf := storage.SplitKey(entry.Key)
	if _, err := b.pool.Exec(ctx, b.putQuery, path, leaf, entry.Value); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (*storage.Entry, error) {
	if err := b.permitPool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer b.permitPool.Release()

	path, leaf := storage.SplitKey(key)

	var value []byte
	err := b.pool.QueryRow(ctx, b.getQuery, path, leaf).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &storage.Entry{Key: key, Value: value}, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	if err := b.permitPool.Acquire(ctx); err != nil {
		return err
	}
	defer b.permitPool.Release()

	path, leaf := storage.SplitKey(key)
	if _, err := b.pool.Exec(ctx, b.deleteQuery, path, leaf); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (b *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.permitPool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer b.permitPool.Release()

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	rows, err := b.pool.Query(ctx, b.listQuery, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		if key != "" {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return keys, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// QuoteIdentifier quotes a SQL identifier, stripping any embedded NUL.
func QuoteIdentifier(name string) string {
	if end := strings.IndexRune(name, 0); end > -1 {
		name = name[:end]
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

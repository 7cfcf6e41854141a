package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool is the subset of pgxpool.Pool used by PostgresStore.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps items in one table keyed by (prefix, key), where prefix
// is the dot-joined namespace.
type PostgresStore struct {
	pool      DBPool
	tableName string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore uses an existing pool; tableName defaults to "store".
func NewPostgresStore(pool DBPool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "store"
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

// InitSchema creates the table if it doesn't exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			prefix TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (prefix, key)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_prefix ON %s (prefix, updated_at DESC);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create memory schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, namespace []string, key string, value map[string]any) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	if key == "" {
		return errors.New("key must not be empty")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal memory value: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (prefix, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (prefix, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query, joinNamespace(namespace), key, data); err != nil {
		return fmt.Errorf("failed to put memory item: %w", err)
	}
	return nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var (
		prefix string
		data   []byte
		it     Item
	)
	if err := row.Scan(&prefix, &it.Key, &data, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.Namespace = strings.Split(prefix, ".")
	if err := json.Unmarshal(data, &it.Value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory value: %w", err)
	}
	return &it, nil
}

func (s *PostgresStore) Get(ctx context.Context, namespace []string, key string) (*Item, error) {
	query := fmt.Sprintf("SELECT prefix, key, value, created_at, updated_at FROM %s WHERE prefix = $1 AND key = $2", s.tableName)

	it, err := scanItem(s.pool.QueryRow(ctx, query, joinNamespace(namespace), key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, joinNamespace(namespace), key)
		}
		return nil, fmt.Errorf("failed to get memory item: %w", err)
	}
	return it, nil
}

func (s *PostgresStore) Search(ctx context.Context, namespace []string, opts SearchOptions) ([]*Item, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	query := fmt.Sprintf("SELECT prefix, key, value, created_at, updated_at FROM %s"+
		" WHERE prefix = $1 AND ($2 = '' OR value::text ILIKE '%%' || $2 || '%%')"+
		" ORDER BY updated_at DESC, key LIMIT $3 OFFSET $4", s.tableName)

	rows, err := s.pool.Query(ctx, query, joinNamespace(namespace), opts.Query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Delete(ctx context.Context, namespace []string, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE prefix = $1 AND key = $2", s.tableName)
	if _, err := s.pool.Exec(ctx, query, joinNamespace(namespace), key); err != nil {
		return fmt.Errorf("failed to delete memory item: %w", err)
	}
	return nil
}

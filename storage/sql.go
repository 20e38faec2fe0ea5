package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// kvRow is one persisted key.
type kvRow struct {
	bun.BaseModel `bun:"table:kv_store,alias:kv"`

	Key       string    `bun:"item_key,pk"`
	Value     string    `bun:"item_value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLStore persists keys in a single bun-managed table.
type SQLStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (or creates) a SQLite database at dsn and prepares the table.
// Use "file::memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// a single connection keeps in-memory databases shared and serializes writers
	sqldb.SetMaxOpenConns(1)

	store := NewSQLStore(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := store.Migrate(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing bun database. Call Migrate before use.
func NewSQLStore(db *bun.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Migrate creates the key-value table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*kvRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("storage: create table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row kvRow
	err := s.db.NewSelect().Model(&row).Where("item_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	return s.MultiSet(ctx, map[string]string{key: value})
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *SQLStore) MultiGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var rows []kvRow
	if err := s.db.NewSelect().Model(&rows).Where("item_key IN (?)", bun.In(keys)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("storage: multi get: %w", err)
	}
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *SQLStore) MultiSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([]kvRow, 0, len(pairs))
	for k, v := range pairs {
		rows = append(rows, kvRow{Key: k, Value: v, UpdatedAt: now})
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (item_key) DO UPDATE").
		Set("item_value = EXCLUDED.item_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: multi set: %w", err)
	}
	return nil
}

func (s *SQLStore) MultiRemove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.NewDelete().Model((*kvRow)(nil)).Where("item_key IN (?)", bun.In(keys)).Exec(ctx); err != nil {
		return fmt.Errorf("storage: multi remove: %w", err)
	}
	return nil
}

// Package schema provides a catalog-backed partition.KeyStrategy: rather
// than hardcode the partition-key column order, CatalogStrategy queries a
// real SQL catalog (Postgres via pgx, or MySQL via go-sql-driver/mysql)
// for the table's primary key column order and caches the result.
//
// Adapted from the DSN-detection and *sql.DB-wrapping shape of the
// teacher's explain package, repurposed from running EXPLAIN queries to
// reading catalog metadata.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	obkv "github.com/oceanbase/obkv-table-client-go"
)

// DetectDriver infers the database/sql driver name registered for dsn.
//
//   - "postgres://" or "postgresql://" prefix -> "pgx"
//   - contains "@" (MySQL-style user:pass@tcp(...)/db) -> "mysql"
//   - contains "=" but not "@" (Postgres key=value style) -> "pgx"
//   - otherwise -> error
func DetectDriver(dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("schema: empty catalog DSN")
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", nil
	case strings.Contains(dsn, "@"):
		return "mysql", nil
	case strings.Contains(dsn, "="):
		return "pgx", nil
	}
	return "", fmt.Errorf("schema: cannot detect driver from DSN: %s", dsn)
}

// columnLister is the catalog-specific query each driver needs to list a
// table's primary key columns in key order.
type columnLister interface {
	primaryKeyColumns(ctx context.Context, db *sql.DB, table string) ([]string, error)
}

type pgCatalog struct{}

func (pgCatalog) primaryKeyColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	const q = `
SELECT a.attname
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::regclass AND i.indisprimary
ORDER BY array_position(i.indkey, a.attnum)`
	rows, err := db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("schema: query pg primary key: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanColumnNames(rows)
}

type mysqlCatalog struct{}

func (mysqlCatalog) primaryKeyColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	const q = `
SELECT column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = 'PRIMARY'
ORDER BY ordinal_position`
	rows, err := db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("schema: query mysql primary key: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanColumnNames(rows)
}

func scanColumnNames(rows *sql.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("schema: scan column name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: rows: %w", err)
	}
	return names, nil
}

// CatalogStrategy implements partition.KeyStrategy by resolving each
// table's primary-key column order from a live SQL catalog, on first use,
// and caching the result for the life of the strategy.
type CatalogStrategy struct {
	db      *sql.DB
	catalog columnLister

	mu      sync.RWMutex
	columns map[string][]string // table -> ordered primary key column names
}

// NewCatalogStrategy wraps an existing *sql.DB. driver must be "pgx" or
// "mysql" (see DetectDriver).
func NewCatalogStrategy(db *sql.DB, driver string) (*CatalogStrategy, error) {
	var cat columnLister
	switch driver {
	case "pgx", "postgres":
		cat = pgCatalog{}
	case "mysql":
		cat = mysqlCatalog{}
	default:
		return nil, fmt.Errorf("schema: unsupported catalog driver %q", driver)
	}
	return &CatalogStrategy{
		db:      db,
		catalog: cat,
		columns: make(map[string][]string),
	}, nil
}

// PartitionKey implements partition.KeyStrategy. It resolves and caches
// table's primary key column count from the catalog and validates rowKey
// carries exactly that many components; Operation.RowKey has no column
// names attached, so the catalog lookup here only confirms arity rather
// than reordering anything — a table whose partition key is a strict
// prefix of its primary key needs partition.PrefixStrategy instead.
func (s *CatalogStrategy) PartitionKey(ctx context.Context, table string, rowKey []obkv.Value) ([]obkv.Value, error) {
	cols, err := s.columnsFor(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) != 0 && len(cols) != len(rowKey) {
		return nil, fmt.Errorf("schema: table %s: primary key has %d columns, row key has %d", table, len(cols), len(rowKey))
	}
	return rowKey, nil
}

func (s *CatalogStrategy) columnsFor(ctx context.Context, table string) ([]string, error) {
	s.mu.RLock()
	cols, ok := s.columns[table]
	s.mu.RUnlock()
	if ok {
		return cols, nil
	}

	cols, err := s.catalog.primaryKeyColumns(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.columns[table] = cols
	s.mu.Unlock()
	return cols, nil
}

// Close closes the underlying *sql.DB.
func (s *CatalogStrategy) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("schema: close catalog db: %w", err)
	}
	return nil
}

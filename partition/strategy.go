// Package partition defines the pluggable partition-key extraction
// strategy resolved as an Open Question in spec §9: rather than hardcode
// one hashing scheme, the Dispatcher (C7) depends on this small interface
// and callers supply (or the schema package derives) a concrete strategy.
package partition

import (
	"context"

	obkv "github.com/oceanbase/obkv-table-client-go"
)

// KeyStrategy extracts the ordered partition-key values from an
// operation's row key for a given table. Most tables partition on a
// prefix of the primary key; StaticFunc covers that case directly, while
// schema.CatalogStrategy derives it from a live catalog (hence ctx: a
// catalog-backed strategy may need to query on a cache miss).
type KeyStrategy interface {
	// PartitionKey returns the subset (and order) of rowKey that
	// determines which partition the row belongs to.
	PartitionKey(ctx context.Context, table string, rowKey []obkv.Value) ([]obkv.Value, error)
}

// StaticFuncStrategy implements KeyStrategy by calling a fixed function,
// for callers who already know their partition-key extraction rule (e.g.
// "first N columns of the primary key") and don't need catalog lookups.
type StaticFuncStrategy struct {
	fn func(table string, rowKey []obkv.Value) ([]obkv.Value, error)
}

// StaticFunc wraps fn as a KeyStrategy.
func StaticFunc(fn func(table string, rowKey []obkv.Value) ([]obkv.Value, error)) *StaticFuncStrategy {
	return &StaticFuncStrategy{fn: fn}
}

// PartitionKey implements KeyStrategy. ctx is accepted to satisfy the
// interface but unused: a static function never blocks.
func (s *StaticFuncStrategy) PartitionKey(_ context.Context, table string, rowKey []obkv.Value) ([]obkv.Value, error) {
	return s.fn(table, rowKey)
}

// PrefixStrategy is the common-case StaticFuncStrategy: the partition key
// is the first N columns of the row key, the same order the table was
// defined with.
func PrefixStrategy(n int) *StaticFuncStrategy {
	return StaticFunc(func(_ string, rowKey []obkv.Value) ([]obkv.Value, error) {
		if n > len(rowKey) {
			return nil, &ErrShortRowKey{Want: n, Got: len(rowKey)}
		}
		return rowKey[:n], nil
	})
}

// ErrShortRowKey is returned when a row key has fewer columns than the
// configured partition-key prefix length.
type ErrShortRowKey struct {
	Want, Got int
}

func (e *ErrShortRowKey) Error() string {
	return "partition: row key shorter than partition-key prefix"
}

package obkv

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// Table is the Table Handle (C6): a thin, table-scoped view over a
// Client, translating single-operation and batch calls into routed RPCs
// and their results back into Go values.
type Table struct {
	name   string
	client *Client
}

// Table returns a handle scoped to the named table. The client is not
// consulted at construction time — the table need not yet exist for the
// handle to be created, only for operations against it to succeed.
func (c *Client) Table(name string) *Table {
	return &Table{name: name, client: c}
}

func (t *Table) execute(ctx context.Context, op Operation) (OperationResult, error) {
	op.Table = t.name
	if err := op.Validate(); err != nil {
		return OperationResult{}, err
	}

	reqPayload := &operationPayload{table: t.name, op: op}
	resPayload := &operationResultPayload{kind: op.Kind}
	channel := reqPayload.ChannelID()

	if err := t.client.executeWithRetry(ctx, t.name, op.RowKey, t.client.cfg.TenantID, 0, channel, reqPayload, resPayload); err != nil {
		return OperationResult{}, err
	}
	return resPayload.result, nil
}

// Get retrieves the columns named (or all columns if empty) for rowKey.
func (t *Table) Get(ctx context.Context, rowKey []Value, columns ...string) (*Row, error) {
	res, err := t.execute(ctx, Operation{Kind: OpGet, RowKey: rowKey, ColumnNames: columns})
	if err != nil {
		return nil, err
	}
	return res.Row(), nil
}

// Insert inserts a new row, failing if rowKey already exists
// (ServerCodePrimaryKeyDuplicate).
func (t *Table) Insert(ctx context.Context, rowKey []Value, columnNames []string, columnValues []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpInsert, RowKey: rowKey, ColumnNames: columnNames, ColumnValues: columnValues})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// Update updates the named columns of an existing row. Affects zero rows
// if rowKey does not exist.
func (t *Table) Update(ctx context.Context, rowKey []Value, columnNames []string, columnValues []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpUpdate, RowKey: rowKey, ColumnNames: columnNames, ColumnValues: columnValues})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// Replace inserts rowKey if absent, or overwrites every named column if
// present (upsert).
func (t *Table) Replace(ctx context.Context, rowKey []Value, columnNames []string, columnValues []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpReplace, RowKey: rowKey, ColumnNames: columnNames, ColumnValues: columnValues})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// InsertOrUpdate inserts rowKey if absent, or updates the named columns
// if present.
func (t *Table) InsertOrUpdate(ctx context.Context, rowKey []Value, columnNames []string, columnValues []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpInsertOrUpdate, RowKey: rowKey, ColumnNames: columnNames, ColumnValues: columnValues})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// Append appends columnValues to the named columns' existing string/bytes
// values.
func (t *Table) Append(ctx context.Context, rowKey []Value, columnNames []string, columnValues []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpAppend, RowKey: rowKey, ColumnNames: columnNames, ColumnValues: columnValues})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// Increment adds columnValues to the named columns' existing numeric
// values.
func (t *Table) Increment(ctx context.Context, rowKey []Value, columnNames []string, columnValues []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpIncrement, RowKey: rowKey, ColumnNames: columnNames, ColumnValues: columnValues})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// Delete removes rowKey. Affects zero rows if it does not exist.
func (t *Table) Delete(ctx context.Context, rowKey []Value) (uint64, error) {
	res, err := t.execute(ctx, Operation{Kind: OpDelete, RowKey: rowKey})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows(), nil
}

// Batch submits an ordered BatchOperation. A non-atomic batch whose
// operations resolve to more than one partition is split and fanned out
// concurrently, preserving result order; an atomic batch spanning more
// than one partition fails with ErrCrossPartitionAtomic (spec §4.6).
func (t *Table) Batch(ctx context.Context, batch *BatchOperation) ([]OperationResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	groups, err := t.groupByPartition(ctx, batch.Operations)
	if err != nil {
		return nil, err
	}
	if batch.Atomic && len(groups) > 1 {
		return nil, ErrCrossPartitionAtomic
	}

	results := make([]OperationResult, len(batch.Operations))
	g, gctx := errgroup.WithContext(ctx)
	for partKey, idxs := range groups {
		idxs := idxs
		partKey := partKey
		g.Go(func() error {
			subOps := make([]Operation, len(idxs))
			for i, idx := range idxs {
				subOps[i] = batch.Operations[idx]
			}
			subBatch := BatchOperation{Operations: subOps, Atomic: batch.Atomic, SamePropertiesNames: batch.SamePropertiesNames}
			subResults, err := t.sendBatch(gctx, partKey, subBatch)
			if err != nil {
				return err
			}
			for i, idx := range idxs {
				results[idx] = subResults[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// groupByPartition resolves each operation's partition key and groups
// operation indices by it.
func (t *Table) groupByPartition(ctx context.Context, ops []Operation) (map[string][]int, error) {
	groups := make(map[string][]int)
	for i, op := range ops {
		pk, err := t.client.cfg.PartitionStrategy.PartitionKey(ctx, t.name, op.RowKey)
		if err != nil {
			return nil, err
		}
		key := string(joinBytes(partitionKeyBytes(pk)))
		groups[key] = append(groups[key], i)
	}
	return groups, nil
}

func joinBytes(bs [][]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
		out = append(out, 0)
	}
	return out
}

// sendBatch sends one partition-local sub-batch as a single RPC, with the
// same retry/invalidate behavior as a single operation.
func (t *Table) sendBatch(ctx context.Context, _ string, sub BatchOperation) ([]OperationResult, error) {
	kinds := make([]OperationKind, len(sub.Operations))
	for i, op := range sub.Operations {
		kinds[i] = op.Kind
	}
	reqPayload := &batchPayload{batch: sub}
	resPayload := &batchResultPayload{kinds: kinds}

	rowKey := sub.Operations[0].RowKey
	if err := t.client.executeWithRetry(ctx, t.name, rowKey, t.client.cfg.TenantID, 0, wire.ChannelBatch, reqPayload, resPayload); err != nil {
		return nil, err
	}
	return resPayload.results, nil
}

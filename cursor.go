package obkv

import (
	"context"
	"errors"

	"github.com/oceanbase/obkv-table-client-go/metrics"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// Cursor is the Stream Cursor (C8): iterates a Query's result rows in
// server-side batches, fetching up to the Query's BatchSize rows per RPC
// and exposing them one at a time via Next.
//
// A session expiring mid-iteration surfaces as ErrSessionExpired rather
// than silently re-fetching (resolved open question, see SPEC_FULL.md
// §4.8): a fresh fetch after the server may have repartitioned the range
// could violate the monotonic-scan-order guarantee Next promises.
type Cursor struct {
	table *Table
	query Query

	sessionID uint32
	buf       []*Row
	bufIdx    int
	hasMore   bool
	started   bool
	closed    bool
}

// Query opens a Cursor for q against table.
func (t *Table) Query(q Query) *Cursor {
	return &Cursor{table: t, query: q}
}

// CacheSize reports the number of rows currently buffered locally —
// zero until the first fetch has returned, then shrinking as Next drains
// it, not the configured per-fetch batch size.
func (cur *Cursor) CacheSize() int { return len(cur.buf) - cur.bufIdx }

// Next advances the cursor and returns the next row, or (nil, false, nil)
// when the scan is exhausted. It fetches a new batch from the server
// whenever the local buffer is drained and the server reported more rows
// remain.
func (cur *Cursor) Next(ctx context.Context) (*Row, bool, error) {
	if cur.closed {
		return nil, false, ErrAlreadyClosed
	}

	for cur.bufIdx >= len(cur.buf) {
		if cur.started && !cur.hasMore {
			return nil, false, nil
		}
		if err := cur.fetch(ctx); err != nil {
			return nil, false, err
		}
	}

	row := cur.buf[cur.bufIdx]
	cur.bufIdx++
	return row, true, nil
}

func (cur *Cursor) fetch(ctx context.Context) error {
	reqPayload := &queryRequestPayload{query: cur.query, sessionID: cur.sessionID}
	resPayload := &queryResponsePayload{}
	channel := reqPayload.ChannelID()

	rowKey := cur.firstRangeBound()
	if err := cur.table.client.executeWithRetry(ctx, cur.table.name, rowKey, cur.table.client.cfg.TenantID, cur.sessionID, channel, reqPayload, resPayload); err != nil {
		var svrErr *ServerException
		if errors.As(err, &svrErr) && svrErr.ServerCode == ServerCodeSessionExpired {
			return ErrSessionExpired
		}
		return err
	}

	cur.buf = resPayload.rows
	cur.bufIdx = 0
	cur.hasMore = resPayload.hasMore
	cur.sessionID = resPayload.sessionID
	if !cur.started {
		metrics.Global().IncCursorsOpen()
	}
	cur.started = true
	return nil
}

// firstRangeBound gives the Dispatcher a row key to resolve a partition
// from: the first scan range's start bound, if any, else the table name.
// Every fetch of a query goes to that one partition's owner; ranges
// spanning other partitions are not routed separately.
func (cur *Cursor) firstRangeBound() []Value {
	if len(cur.query.Ranges) == 0 || len(cur.query.Ranges[0].Start) == 0 {
		return []Value{NewString(cur.query.Table)}
	}
	return cur.query.Ranges[0].Start
}

// Close releases the server-side session, if one was opened. Best-effort:
// a failure to notify the server does not surface to the caller, since
// the session will eventually expire server-side regardless.
func (cur *Cursor) Close(ctx context.Context) error {
	if cur.closed {
		return nil
	}
	cur.closed = true
	if cur.started {
		metrics.Global().DecCursorsOpen()
	}
	if cur.sessionID == 0 {
		return nil
	}
	reqPayload := &queryClosePayload{sessionID: cur.sessionID}
	resPayload := &queryCloseResultPayload{}
	_ = cur.table.client.executeWithRetry(ctx, cur.table.name, cur.firstRangeBound(), cur.table.client.cfg.TenantID, cur.sessionID, wire.ChannelQueryClose, reqPayload, resPayload)
	return nil
}

package obkv

import (
	"bytes"
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oceanbase/obkv-table-client-go/obkvtest"
	"github.com/oceanbase/obkv-table-client-go/transport"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// These helpers live in package obkv (not obkv_test) so they can construct
// and decode the unexported wire payload types directly; obkvtest.Server
// supplies only the generic frame-level transport underneath.

// identityStrategy is the PartitionKeyStrategy every root-package test
// client uses: the row key is the partition key, since the fake server is a
// single fixed node and never needs to split traffic across partitions.
type identityStrategy struct{}

func (identityStrategy) PartitionKey(_ context.Context, _ string, rowKey []Value) ([]Value, error) {
	return rowKey, nil
}

type fakeRowEntry struct {
	key []Value
	row *Row
}

type fakeScanSession struct {
	id     uint32
	keys   []string
	offset int
}

// fakeTable is an in-memory row store the test server's operation, batch,
// and query handlers read and mutate. It exists to exercise the Dispatcher
// (C7), Table Handle (C6), and Stream Cursor (C8) against real wire frames
// end to end, without a real OBKV cluster.
type fakeTable struct {
	mu          sync.Mutex
	rows        map[string]*fakeRowEntry
	sessions    map[uint32]*fakeScanSession
	nextSession uint32
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		rows:     make(map[string]*fakeRowEntry),
		sessions: make(map[uint32]*fakeScanSession),
	}
}

func rowKeyString(key []Value) string {
	return string(joinBytes(partitionKeyBytes(key)))
}

func (ft *fakeTable) applyOperationLocked(op Operation) (OperationResult, *ServerException) {
	key := rowKeyString(op.RowKey)
	switch op.Kind {
	case OpGet:
		entry, ok := ft.rows[key]
		if !ok {
			return NewRowResult(NewRow()), nil
		}
		if len(op.ColumnNames) == 0 {
			return NewRowResult(entry.row.Clone()), nil
		}
		selected := NewRow()
		for _, c := range op.ColumnNames {
			if v, ok := entry.row.Get(c); ok {
				selected.Set(c, v)
			}
		}
		return NewRowResult(selected), nil

	case OpInsert:
		if _, exists := ft.rows[key]; exists {
			return OperationResult{}, &ServerException{ServerCode: ServerCodePrimaryKeyDuplicate, Message: "primary key duplicate"}
		}
		row := NewRow()
		for i, c := range op.ColumnNames {
			row.Set(c, op.ColumnValues[i])
		}
		ft.rows[key] = &fakeRowEntry{key: op.RowKey, row: row}
		return NewAffectedRowsResult(1), nil

	case OpUpdate:
		entry, ok := ft.rows[key]
		if !ok {
			return NewAffectedRowsResult(0), nil
		}
		for i, c := range op.ColumnNames {
			entry.row.Set(c, op.ColumnValues[i])
		}
		return NewAffectedRowsResult(1), nil

	case OpReplace, OpInsertOrUpdate:
		entry, ok := ft.rows[key]
		if !ok {
			entry = &fakeRowEntry{key: op.RowKey, row: NewRow()}
			ft.rows[key] = entry
		}
		for i, c := range op.ColumnNames {
			entry.row.Set(c, op.ColumnValues[i])
		}
		return NewAffectedRowsResult(1), nil

	case OpAppend:
		entry, ok := ft.rows[key]
		if !ok {
			entry = &fakeRowEntry{key: op.RowKey, row: NewRow()}
			ft.rows[key] = entry
		}
		for i, c := range op.ColumnNames {
			existing, has := entry.row.Get(c)
			next := op.ColumnValues[i]
			switch {
			case !has:
				entry.row.Set(c, next)
			case existing.IsString() && next.IsString():
				es, _ := existing.String()
				ns, _ := next.String()
				entry.row.Set(c, NewString(es+ns))
			case existing.IsBytes() && next.IsBytes():
				eb, _ := existing.Bytes()
				nb, _ := next.Bytes()
				entry.row.Set(c, NewBytes(append(eb, nb...)))
			default:
				entry.row.Set(c, next)
			}
		}
		return NewAffectedRowsResult(1), nil

	case OpIncrement:
		entry, ok := ft.rows[key]
		if !ok {
			entry = &fakeRowEntry{key: op.RowKey, row: NewRow()}
			ft.rows[key] = entry
		}
		for i, c := range op.ColumnNames {
			existing, has := entry.row.Get(c)
			delta := op.ColumnValues[i]
			if !has {
				entry.row.Set(c, delta)
				continue
			}
			en, _ := existing.Int64()
			dn, _ := delta.Int64()
			entry.row.Set(c, NewInt64(en+dn))
		}
		return NewAffectedRowsResult(1), nil

	case OpDelete:
		if _, ok := ft.rows[key]; ok {
			delete(ft.rows, key)
			return NewAffectedRowsResult(1), nil
		}
		return NewAffectedRowsResult(0), nil
	}
	return OperationResult{}, &ServerException{ServerCode: ServerCodeUnknown, Message: "unknown operation kind"}
}

func encodeOperationResult(kind OperationKind, result OperationResult) ([]byte, error) {
	resp := &operationResultPayload{kind: kind, result: result}
	var buf bytes.Buffer
	if err := resp.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (ft *fakeTable) handleOperation(reqBody []byte) ([]byte, wire.ResponseFooter) {
	req := &operationPayload{}
	if err := req.Decode(bytes.NewReader(reqBody)); err != nil {
		return nil, wire.ResponseFooter{ErrorCode: int32(ErrCodeProtocol), ErrorMessage: err.Error()}
	}

	ft.mu.Lock()
	result, svrErr := ft.applyOperationLocked(req.op)
	ft.mu.Unlock()

	if svrErr != nil {
		return nil, wire.ResponseFooter{ErrorCode: int32(svrErr.ServerCode), ErrorMessage: svrErr.Message, ServerTraceID: svrErr.TraceID}
	}
	body, err := encodeOperationResult(req.op.Kind, result)
	if err != nil {
		return nil, wire.ResponseFooter{ErrorCode: -1, ErrorMessage: err.Error()}
	}
	return body, wire.ResponseFooter{ErrorCode: 0}
}

func (ft *fakeTable) handleBatch(reqBody []byte) ([]byte, wire.ResponseFooter) {
	req := &batchPayload{}
	if err := req.Decode(bytes.NewReader(reqBody)); err != nil {
		return nil, wire.ResponseFooter{ErrorCode: int32(ErrCodeProtocol), ErrorMessage: err.Error()}
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	kinds := make([]OperationKind, len(req.batch.Operations))
	results := make([]OperationResult, len(req.batch.Operations))
	for i, op := range req.batch.Operations {
		kinds[i] = op.Kind
		res, svrErr := ft.applyOperationLocked(op)
		if svrErr != nil {
			return nil, wire.ResponseFooter{ErrorCode: int32(svrErr.ServerCode), ErrorMessage: svrErr.Message}
		}
		results[i] = res
	}

	resp := &batchResultPayload{kinds: kinds, results: results}
	var buf bytes.Buffer
	if err := resp.Encode(&buf); err != nil {
		return nil, wire.ResponseFooter{ErrorCode: -1, ErrorMessage: err.Error()}
	}
	return buf.Bytes(), wire.ResponseFooter{ErrorCode: 0}
}

func compareValues(a, b Value) int {
	switch a.Type() {
	case TypeInt64:
		ai, _ := a.Int64()
		bi, _ := b.Int64()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case TypeString:
		as, _ := a.String()
		bs, _ := b.String()
		return strings.Compare(as, bs)
	}
	return 0
}

func keyInRange(key []Value, rg ScanRange) bool {
	if len(rg.Start) > 0 {
		if c := compareValues(key[0], rg.Start[0]); c < 0 || (c == 0 && !rg.StartInclusive) {
			return false
		}
	}
	if len(rg.End) > 0 {
		if c := compareValues(key[0], rg.End[0]); c > 0 || (c == 0 && !rg.EndInclusive) {
			return false
		}
	}
	return true
}

func keyMatchesRanges(key []Value, ranges []ScanRange) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, rg := range ranges {
		if keyInRange(key, rg) {
			return true
		}
	}
	return false
}

func (ft *fakeTable) matchingKeysLocked(q Query) []string {
	var keys []string
	for k, entry := range ft.rows {
		if keyMatchesRanges(entry.key, q.Ranges) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		c := compareValues(ft.rows[keys[i]].key[0], ft.rows[keys[j]].key[0])
		if q.Ascending {
			return c < 0
		}
		return c > 0
	})
	return keys
}

func (ft *fakeTable) handleQuery(reqBody []byte) ([]byte, wire.ResponseFooter) {
	req := &queryRequestPayload{}
	if err := req.Decode(bytes.NewReader(reqBody)); err != nil {
		return nil, wire.ResponseFooter{ErrorCode: int32(ErrCodeProtocol), ErrorMessage: err.Error()}
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	var sess *fakeScanSession
	if req.sessionID == 0 {
		ft.nextSession++
		sess = &fakeScanSession{id: ft.nextSession, keys: ft.matchingKeysLocked(req.query)}
		ft.sessions[sess.id] = sess
	} else {
		var ok bool
		sess, ok = ft.sessions[req.sessionID]
		if !ok {
			return nil, wire.ResponseFooter{ErrorCode: int32(ServerCodeSessionExpired), ErrorMessage: "session expired"}
		}
	}

	end := sess.offset + req.query.BatchSize
	if end > len(sess.keys) {
		end = len(sess.keys)
	}
	batchKeys := sess.keys[sess.offset:end]
	sess.offset = end
	hasMore := sess.offset < len(sess.keys)

	rows := make([]*Row, 0, len(batchKeys))
	for _, k := range batchKeys {
		row := ft.rows[k].row
		if len(req.query.Columns) > 0 {
			selected := NewRow()
			for _, c := range req.query.Columns {
				if v, ok := row.Get(c); ok {
					selected.Set(c, v)
				}
			}
			row = selected
		}
		rows = append(rows, row)
	}

	sessionID := sess.id
	if !hasMore {
		delete(ft.sessions, sess.id)
		sessionID = 0
	}

	resp := &queryResponsePayload{rows: rows, hasMore: hasMore, sessionID: sessionID}
	var buf bytes.Buffer
	if err := resp.Encode(&buf); err != nil {
		return nil, wire.ResponseFooter{ErrorCode: -1, ErrorMessage: err.Error()}
	}
	return buf.Bytes(), wire.ResponseFooter{ErrorCode: 0}
}

func (ft *fakeTable) handleQueryClose(reqBody []byte) ([]byte, wire.ResponseFooter) {
	req := &queryClosePayload{}
	_ = req.Decode(bytes.NewReader(reqBody))

	ft.mu.Lock()
	delete(ft.sessions, req.sessionID)
	ft.mu.Unlock()

	resp := &queryCloseResultPayload{}
	var buf bytes.Buffer
	_ = resp.Encode(&buf)
	return buf.Bytes(), wire.ResponseFooter{ErrorCode: 0}
}

// newFakeServer starts an obkvtest.Server wired to a fresh fakeTable,
// including the resolve_partition metadata RPC routing every lookup back to
// the server's own address (a single-node test topology).
func newFakeServer(t *testing.T) (*obkvtest.Server, *fakeTable) {
	t.Helper()
	srv, err := obkvtest.New()
	if err != nil {
		t.Fatalf("obkvtest.New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	ft := newFakeTable()

	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	srv.Handle(wire.ChannelResolvePartition, func(reqBody []byte) ([]byte, wire.ResponseFooter) {
		req := &resolvePartitionPayload{}
		if err := req.Decode(bytes.NewReader(reqBody)); err != nil {
			return nil, wire.ResponseFooter{ErrorCode: -1, ErrorMessage: err.Error()}
		}
		resp := &resolvePartitionResultPayload{host: host, port: port, version: 1, ttlMs: 60000}
		var buf bytes.Buffer
		_ = resp.Encode(&buf)
		return buf.Bytes(), wire.ResponseFooter{ErrorCode: 0}
	})

	for _, ch := range []wire.ChannelID{
		wire.ChannelGet, wire.ChannelInsert, wire.ChannelUpdate, wire.ChannelReplace,
		wire.ChannelInsertOrUpdate, wire.ChannelAppend, wire.ChannelIncrement, wire.ChannelDelete,
	} {
		srv.Handle(ch, ft.handleOperation)
	}
	srv.Handle(wire.ChannelBatch, ft.handleBatch)
	srv.Handle(wire.ChannelQuery, ft.handleQuery)
	srv.Handle(wire.ChannelQueryNext, ft.handleQuery)
	srv.Handle(wire.ChannelQueryClose, ft.handleQueryClose)

	return srv, ft
}

// newTestClient builds a Client dialed at srv with sane defaults for tests
// that don't care about retry/timeout tuning.
func newTestClient(t *testing.T, srv *obkvtest.Server) *Client {
	t.Helper()
	c, err := NewClient(t.Context(), ClientConfig{
		BootstrapAddresses: []string{srv.Addr()},
		Credentials:        transport.Credentials{Tenant: "test", Database: "test", User: "root", Password: ""},
		PartitionStrategy:  identityStrategy{},
		OperationTimeout:   2 * time.Second,
		RuntimeRetryTimes:  2,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

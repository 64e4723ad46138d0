package obkv

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// ScanRange is one inclusive/exclusive [start, end] bound in a Query's
// union of ranges. A range whose start sorts after end (by the table's key
// order) yields zero rows; an empty union of ranges yields zero rows.
type ScanRange struct {
	Start          []Value
	StartInclusive bool
	End            []Value
	EndInclusive   bool
}

// Query describes a ranged scan: select columns, a union of scan ranges,
// batch size, scan order, and index name.
type Query struct {
	Table            string
	Columns          []string
	Ranges           []ScanRange
	IndexName        string
	BatchSize        int
	Ascending        bool
	OperationTimeout time.Duration
}

// QueryBuilder builds an immutable Query, mirroring the public API surface
// named in spec §6: .select(cols).primary_index().index(name)
// .batch_size(n).scan_order(asc).operation_timeout(d)
// .add_scan_range(start, start_incl, end, end_incl).
type QueryBuilder struct {
	q Query
}

// NewQueryBuilder returns a builder for a query against table.
func NewQueryBuilder(table string) *QueryBuilder {
	return &QueryBuilder{q: Query{
		Table:     table,
		IndexName: "PRIMARY",
		BatchSize: 1000,
		Ascending: true,
	}}
}

// Select sets the columns to retrieve. An empty call selects all columns.
func (b *QueryBuilder) Select(columns ...string) *QueryBuilder {
	b.q.Columns = columns
	return b
}

// PrimaryIndex scans the table's primary key index (the default).
func (b *QueryBuilder) PrimaryIndex() *QueryBuilder {
	b.q.IndexName = "PRIMARY"
	return b
}

// Index scans a named secondary index.
func (b *QueryBuilder) Index(name string) *QueryBuilder {
	b.q.IndexName = name
	return b
}

// BatchSize bounds rows fetched per RPC.
func (b *QueryBuilder) BatchSize(n int) *QueryBuilder {
	b.q.BatchSize = n
	return b
}

// ScanOrder selects ascending (true) or descending (false) order by
// primary key.
func (b *QueryBuilder) ScanOrder(ascending bool) *QueryBuilder {
	b.q.Ascending = ascending
	return b
}

// OperationTimeout bounds each individual fetch RPC.
func (b *QueryBuilder) OperationTimeout(d time.Duration) *QueryBuilder {
	b.q.OperationTimeout = d
	return b
}

// AddScanRange appends one [start, end] range to the query's union.
func (b *QueryBuilder) AddScanRange(start []Value, startInclusive bool, end []Value, endInclusive bool) *QueryBuilder {
	b.q.Ranges = append(b.q.Ranges, ScanRange{
		Start: start, StartInclusive: startInclusive,
		End: end, EndInclusive: endInclusive,
	})
	return b
}

// Build validates and returns the immutable Query.
func (b *QueryBuilder) Build() (Query, error) {
	if b.q.Table == "" {
		return Query{}, NewClientUsageError("query: table name is required")
	}
	if b.q.BatchSize <= 0 {
		return Query{}, NewClientUsageError("query: batch_size must be positive")
	}
	return b.q, nil
}

// --- query request/response wire payloads ----------------------------------

type queryRequestPayload struct {
	query     Query
	sessionID uint32
}

func (p *queryRequestPayload) ChannelID() wire.ChannelID {
	if p.sessionID == 0 {
		return wire.ChannelQuery
	}
	return wire.ChannelQueryNext
}

func (p *queryRequestPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(p.query.Table))
	writeLenPrefixed(&buf, []byte(p.query.IndexName))
	encodeStrings(&buf, p.query.Columns)
	if p.query.Ascending {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var bsBuf [4]byte
	binary.BigEndian.PutUint32(bsBuf[:], uint32(p.query.BatchSize)) //nolint:gosec // batch sizes are small
	buf.Write(bsBuf[:])
	var rangesBuf [4]byte
	binary.BigEndian.PutUint32(rangesBuf[:], uint32(len(p.query.Ranges))) //nolint:gosec // range counts are small
	buf.Write(rangesBuf[:])
	for _, rg := range p.query.Ranges {
		encodeValues(&buf, rg.Start)
		encodeValues(&buf, rg.End)
		flags := byte(0)
		if rg.StartInclusive {
			flags |= 1
		}
		if rg.EndInclusive {
			flags |= 2
		}
		buf.WriteByte(flags)
	}
	var sessBuf [4]byte
	binary.BigEndian.PutUint32(sessBuf[:], p.sessionID)
	buf.Write(sessBuf[:])
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *queryRequestPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	table, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	idx, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	cols, err := decodeStrings(br)
	if err != nil {
		return err
	}
	ascByte, err := br.ReadByte()
	if err != nil {
		return err
	}
	var bsBuf [4]byte
	if _, err := io.ReadFull(br, bsBuf[:]); err != nil {
		return err
	}
	var rangesBuf [4]byte
	if _, err := io.ReadFull(br, rangesBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(rangesBuf[:])
	ranges := make([]ScanRange, n)
	for i := range ranges {
		start, err := decodeValues(br)
		if err != nil {
			return err
		}
		end, err := decodeValues(br)
		if err != nil {
			return err
		}
		flags, err := br.ReadByte()
		if err != nil {
			return err
		}
		ranges[i] = ScanRange{
			Start: start, StartInclusive: flags&1 != 0,
			End: end, EndInclusive: flags&2 != 0,
		}
	}
	var sessBuf [4]byte
	if _, err := io.ReadFull(br, sessBuf[:]); err != nil {
		return err
	}
	p.query = Query{
		Table:     string(table),
		IndexName: string(idx),
		Columns:   cols,
		Ascending: ascByte == 1,
		BatchSize: int(binary.BigEndian.Uint32(bsBuf[:])),
		Ranges:    ranges,
	}
	p.sessionID = binary.BigEndian.Uint32(sessBuf[:])
	return nil
}

// queryResponsePayload is the server's {rows, has_more, session_id} batch
// protocol response (spec §4.8).
type queryResponsePayload struct {
	rows      []*Row
	hasMore   bool
	sessionID uint32
}

func (p *queryResponsePayload) ChannelID() wire.ChannelID { return 0 }

func (p *queryResponsePayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	var nBuf [4]byte
	binary.BigEndian.PutUint32(nBuf[:], uint32(len(p.rows))) //nolint:gosec // batch-bounded
	buf.Write(nBuf[:])
	for _, row := range p.rows {
		cols := row.Columns()
		encodeStrings(&buf, cols)
		vals := make([]Value, len(cols))
		for i, c := range cols {
			v, _ := row.Get(c)
			vals[i] = v
		}
		encodeValues(&buf, vals)
	}
	if p.hasMore {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var sessBuf [4]byte
	binary.BigEndian.PutUint32(sessBuf[:], p.sessionID)
	buf.Write(sessBuf[:])
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *queryResponsePayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	var nBuf [4]byte
	if _, err := io.ReadFull(br, nBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(nBuf[:])
	rows := make([]*Row, n)
	for i := range rows {
		cols, err := decodeStrings(br)
		if err != nil {
			return err
		}
		vals, err := decodeValues(br)
		if err != nil {
			return err
		}
		row := NewRow()
		for j, c := range cols {
			row.Set(c, vals[j])
		}
		rows[i] = row
	}
	hasMoreByte, err := br.ReadByte()
	if err != nil {
		return err
	}
	var sessBuf [4]byte
	if _, err := io.ReadFull(br, sessBuf[:]); err != nil {
		return err
	}
	p.rows = rows
	p.hasMore = hasMoreByte == 1
	p.sessionID = binary.BigEndian.Uint32(sessBuf[:])
	return nil
}

// queryClosePayload closes a server-side stream session. Best-effort: the
// caller never blocks long on its response.
type queryClosePayload struct {
	sessionID uint32
}

func (p *queryClosePayload) ChannelID() wire.ChannelID { return wire.ChannelQueryClose }

func (p *queryClosePayload) Encode(w io.Writer) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], p.sessionID)
	_, err := w.Write(b[:])
	return err
}

func (p *queryClosePayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(raw) < 4 {
		return nil
	}
	p.sessionID = binary.BigEndian.Uint32(raw[:4])
	return nil
}

type queryCloseResultPayload struct{}

func (p *queryCloseResultPayload) ChannelID() wire.ChannelID { return 0 }
func (p *queryCloseResultPayload) Encode(w io.Writer) error  { return nil }
func (p *queryCloseResultPayload) Decode(r io.Reader) error  { _, err := io.ReadAll(r); return err }

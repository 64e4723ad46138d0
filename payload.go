package obkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// This file implements the concrete wire.Payload types the Dispatcher (C7)
// and Table Handle (C6) build and send. Spec §1 treats the wire codec of
// individual payload *types* as an opaque external contract; these are
// the client's own concrete implementations of that contract, needed for
// the client to actually interoperate over the frame format defined in
// wire/frame.go.

// --- value encoding -------------------------------------------------------

func encodeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Type()))
	switch v.Type() {
	case TypeNull:
	case TypeInt64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.i)) //nolint:gosec // symmetric round trip
		buf.Write(b[:])
	case TypeFloat64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.f))
		buf.Write(b[:])
	case TypeString:
		writeLenPrefixed(buf, []byte(v.s))
	case TypeBytes:
		writeLenPrefixed(buf, v.b)
	case TypeTimestamp:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.ts.UnixNano())) //nolint:gosec // symmetric round trip
		buf.Write(b[:])
	}
}

func decodeValue(r *bytes.Reader) (Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("obkv: decode value tag: %w", err)
	}
	switch ValueType(tagByte) {
	case TypeNull:
		return NewNull(), nil
	case TypeInt64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, fmt.Errorf("obkv: decode int64: %w", err)
		}
		return NewInt64(int64(binary.BigEndian.Uint64(b[:]))), nil
	case TypeFloat64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, fmt.Errorf("obkv: decode float64: %w", err)
		}
		return NewFloat64(math.Float64frombits(binary.BigEndian.Uint64(b[:]))), nil
	case TypeString:
		s, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, fmt.Errorf("obkv: decode string: %w", err)
		}
		return NewString(string(s)), nil
	case TypeBytes:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, fmt.Errorf("obkv: decode bytes: %w", err)
		}
		return NewBytes(b), nil
	case TypeTimestamp:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, fmt.Errorf("obkv: decode timestamp: %w", err)
		}
		nanos := int64(binary.BigEndian.Uint64(b[:]))
		return NewTimestamp(time.Unix(0, nanos).UTC()), nil
	}
	return Value{}, NewProtocolError(fmt.Sprintf("unknown value tag %d", tagByte))
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b))) //nolint:gosec // well under 4GiB in practice
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func encodeValues(buf *bytes.Buffer, vs []Value) {
	var nBuf [4]byte
	binary.BigEndian.PutUint32(nBuf[:], uint32(len(vs))) //nolint:gosec // row arity is small
	buf.Write(nBuf[:])
	for _, v := range vs {
		encodeValue(buf, v)
	}
}

func decodeValues(r *bytes.Reader) ([]Value, error) {
	var nBuf [4]byte
	if _, err := io.ReadFull(r, nBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(nBuf[:])
	vs := make([]Value, n)
	for i := range vs {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

func encodeStrings(buf *bytes.Buffer, ss []string) {
	var nBuf [4]byte
	binary.BigEndian.PutUint32(nBuf[:], uint32(len(ss))) //nolint:gosec // column counts are small
	buf.Write(nBuf[:])
	for _, s := range ss {
		writeLenPrefixed(buf, []byte(s))
	}
}

func decodeStrings(r *bytes.Reader) ([]string, error) {
	var nBuf [4]byte
	if _, err := io.ReadFull(r, nBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(nBuf[:])
	ss := make([]string, n)
	for i := range ss {
		b, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		ss[i] = string(b)
	}
	return ss, nil
}

// --- operation request/response -------------------------------------------

type operationPayload struct {
	table string
	op    Operation
}

func (p *operationPayload) ChannelID() wire.ChannelID {
	switch p.op.Kind {
	case OpGet:
		return wire.ChannelGet
	case OpInsert:
		return wire.ChannelInsert
	case OpUpdate:
		return wire.ChannelUpdate
	case OpReplace:
		return wire.ChannelReplace
	case OpInsertOrUpdate:
		return wire.ChannelInsertOrUpdate
	case OpAppend:
		return wire.ChannelAppend
	case OpIncrement:
		return wire.ChannelIncrement
	case OpDelete:
		return wire.ChannelDelete
	}
	return 0
}

func (p *operationPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(p.op.Table))
	buf.WriteByte(byte(p.op.Kind))
	encodeValues(&buf, p.op.RowKey)
	encodeStrings(&buf, p.op.ColumnNames)
	encodeValues(&buf, p.op.ColumnValues)
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *operationPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	table, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	kindByte, err := br.ReadByte()
	if err != nil {
		return err
	}
	rowKey, err := decodeValues(br)
	if err != nil {
		return err
	}
	colNames, err := decodeStrings(br)
	if err != nil {
		return err
	}
	colValues, err := decodeValues(br)
	if err != nil {
		return err
	}
	p.op = Operation{
		Table:        string(table),
		Kind:         OperationKind(kindByte),
		RowKey:       rowKey,
		ColumnNames:  colNames,
		ColumnValues: colValues,
	}
	p.table = p.op.Table
	return nil
}

// operationResultPayload wraps an OperationResult for wire transport. Kind
// tells the decoder whether to expect a row or an affected-rows count,
// mirroring the request's operation kind (the server always knows which
// shape to send back for a given request).
type operationResultPayload struct {
	kind   OperationKind
	result OperationResult
}

func (p *operationResultPayload) ChannelID() wire.ChannelID { return 0 }

func (p *operationResultPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	if p.kind == OpGet {
		row := p.result.Row()
		cols := row.Columns()
		encodeStrings(&buf, cols)
		vals := make([]Value, len(cols))
		for i, c := range cols {
			v, _ := row.Get(c)
			vals[i] = v
		}
		encodeValues(&buf, vals)
	} else {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], p.result.AffectedRows())
		buf.Write(b[:])
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *operationResultPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	if p.kind == OpGet {
		cols, err := decodeStrings(br)
		if err != nil {
			return err
		}
		vals, err := decodeValues(br)
		if err != nil {
			return err
		}
		row := NewRow()
		for i, c := range cols {
			row.Set(c, vals[i])
		}
		p.result = NewRowResult(row)
		return nil
	}
	var b [8]byte
	if _, err := io.ReadFull(br, b[:]); err != nil {
		return err
	}
	p.result = NewAffectedRowsResult(binary.BigEndian.Uint64(b[:]))
	return nil
}

// --- batch request/response -----------------------------------------------

type batchPayload struct {
	batch BatchOperation
}

func (p *batchPayload) ChannelID() wire.ChannelID { return wire.ChannelBatch }

func (p *batchPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	if p.batch.Atomic {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if p.batch.SamePropertiesNames {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var nBuf [4]byte
	binary.BigEndian.PutUint32(nBuf[:], uint32(len(p.batch.Operations))) //nolint:gosec // batch sizes are small
	buf.Write(nBuf[:])
	for _, op := range p.batch.Operations {
		sub := &operationPayload{op: op}
		if err := sub.Encode(&buf); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *batchPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	atomicByte, err := br.ReadByte()
	if err != nil {
		return err
	}
	sameByte, err := br.ReadByte()
	if err != nil {
		return err
	}
	var nBuf [4]byte
	if _, err := io.ReadFull(br, nBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(nBuf[:])
	ops := make([]Operation, n)
	for i := range ops {
		// Each sub-operation is length-delimited implicitly by its own
		// fixed decode sequence; decodeOperationFrom consumes exactly its
		// fields from the shared reader (operationPayload.Decode would
		// read to EOF).
		sub := &operationPayload{}
		if err := decodeOperationFrom(br, sub); err != nil {
			return err
		}
		ops[i] = sub.op
	}
	p.batch = BatchOperation{
		Operations:          ops,
		Atomic:              atomicByte == 1,
		SamePropertiesNames: sameByte == 1,
	}
	return nil
}

// decodeOperationFrom decodes one operationPayload directly from a shared
// byte reader (as opposed to operationPayload.Decode, which reads a whole
// io.Reader to completion — used when several operations share one
// buffer, as in a batch).
func decodeOperationFrom(br *bytes.Reader, p *operationPayload) error {
	table, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	kindByte, err := br.ReadByte()
	if err != nil {
		return err
	}
	rowKey, err := decodeValues(br)
	if err != nil {
		return err
	}
	colNames, err := decodeStrings(br)
	if err != nil {
		return err
	}
	colValues, err := decodeValues(br)
	if err != nil {
		return err
	}
	p.op = Operation{
		Table:        string(table),
		Kind:         OperationKind(kindByte),
		RowKey:       rowKey,
		ColumnNames:  colNames,
		ColumnValues: colValues,
	}
	return nil
}

// batchResultPayload wraps the ordered sequence of OperationResults
// returned for a batch. kinds must align 1:1 with the original batch's
// operation kinds so the decoder knows each sub-result's shape.
type batchResultPayload struct {
	kinds   []OperationKind
	results []OperationResult
}

func (p *batchResultPayload) ChannelID() wire.ChannelID { return 0 }

func (p *batchResultPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	for i, res := range p.results {
		sub := &operationResultPayload{kind: p.kinds[i], result: res}
		if err := sub.Encode(&buf); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *batchResultPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	results := make([]OperationResult, len(p.kinds))
	for i, kind := range p.kinds {
		if kind == OpGet {
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
			results[i] = NewRowResult(row)
			continue
		}
		var b [8]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return err
		}
		results[i] = NewAffectedRowsResult(binary.BigEndian.Uint64(b[:]))
	}
	p.results = results
	return nil
}

// The login handshake payloads (wire.ChannelLogin) live in package
// transport, not here: login is a connection-establishment concern owned
// by the Endpoint Proxy (C4), not a table operation issued by the
// Dispatcher (C7). Keeping them there avoids a dependency from transport
// back into obkv for a type table operations never touch.

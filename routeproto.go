package obkv

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// resolvePartitionPayload / resolvePartitionResultPayload are the request
// and response of the metadata RPC the Route Cache (C5) sends to a
// bootstrap endpoint when a lookup misses or expires (spec §4.5). Per
// SPEC_FULL.md §4.5 this travels over the same Connection/EndpointProxy
// machinery as table operations — it is just another channel_id — rather
// than a separate protocol.
type resolvePartitionPayload struct {
	table        string
	partitionKey []Value
}

func (p *resolvePartitionPayload) ChannelID() wire.ChannelID { return wire.ChannelResolvePartition }

func (p *resolvePartitionPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(p.table))
	encodeValues(&buf, p.partitionKey)
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *resolvePartitionPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	table, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	key, err := decodeValues(br)
	if err != nil {
		return err
	}
	p.table = string(table)
	p.partitionKey = key
	return nil
}

type resolvePartitionResultPayload struct {
	host    string
	port    int
	version uint64
	ttlMs   uint32
}

func (p *resolvePartitionResultPayload) ChannelID() wire.ChannelID { return 0 }

func (p *resolvePartitionResultPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(p.host))
	var b [16]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(p.port)) //nolint:gosec // port fits uint16 in practice
	binary.BigEndian.PutUint64(b[4:12], p.version)
	binary.BigEndian.PutUint32(b[12:16], p.ttlMs)
	buf.Write(b[:])
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *resolvePartitionResultPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	host, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	var b [16]byte
	if _, err := io.ReadFull(br, b[:]); err != nil {
		return err
	}
	p.host = string(host)
	p.port = int(binary.BigEndian.Uint32(b[0:4]))
	p.version = binary.BigEndian.Uint64(b[4:12])
	p.ttlMs = binary.BigEndian.Uint32(b[12:16])
	return nil
}

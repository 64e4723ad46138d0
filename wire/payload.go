// Package wire defines the codec contract every RPC payload type
// implements. The concrete bytes of individual payload types are treated
// as opaque beyond this contract (the real OBKV wire encodings are
// external collaborators per spec §1); what lives here is the frame
// shape that carries them, which is part of the core.
package wire

import "io"

// ChannelID identifies the RPC operation a payload carries.
type ChannelID uint16

const (
	ChannelLogin            ChannelID = 0x0001
	ChannelGet              ChannelID = 0x0101
	ChannelInsert           ChannelID = 0x0102
	ChannelUpdate           ChannelID = 0x0103
	ChannelReplace          ChannelID = 0x0104
	ChannelInsertOrUpdate   ChannelID = 0x0105
	ChannelAppend           ChannelID = 0x0106
	ChannelIncrement        ChannelID = 0x0107
	ChannelDelete           ChannelID = 0x0108
	ChannelBatch            ChannelID = 0x0109
	ChannelQuery            ChannelID = 0x010A
	ChannelQueryNext        ChannelID = 0x010B
	ChannelQueryClose       ChannelID = 0x010C
	ChannelResolvePartition ChannelID = 0x0201

	// ChannelObservabilityEvent carries a DispatchEvent over the optional
	// gRPC/SSE exporter (spec §13). It never appears on the hot-path
	// Connection/EndpointProxy RPCs, only on the observability.Broker's
	// custom obkvgrpc codec.
	ChannelObservabilityEvent ChannelID = 0x0301
)

// String names the operation a channel id carries, for log lines and
// error messages.
func (c ChannelID) String() string {
	switch c {
	case ChannelLogin:
		return "login"
	case ChannelGet:
		return "get"
	case ChannelInsert:
		return "insert"
	case ChannelUpdate:
		return "update"
	case ChannelReplace:
		return "replace"
	case ChannelInsertOrUpdate:
		return "insert_or_update"
	case ChannelAppend:
		return "append"
	case ChannelIncrement:
		return "increment"
	case ChannelDelete:
		return "delete"
	case ChannelBatch:
		return "batch"
	case ChannelQuery:
		return "query"
	case ChannelQueryNext:
		return "query_next"
	case ChannelQueryClose:
		return "query_close"
	case ChannelResolvePartition:
		return "resolve_partition"
	case ChannelObservabilityEvent:
		return "observability_event"
	}
	return "unknown"
}

// Payload is implemented by every request and response body. encode/decode
// operate on an opaque byte stream; the core never interprets payload
// contents beyond this contract (spec §4.2).
type Payload interface {
	ChannelID() ChannelID
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

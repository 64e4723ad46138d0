// Package obkvgrpc provides a custom gRPC encoding.Codec, "obkvframe",
// that marshals messages through the C2 wire.Payload contract instead of
// protobuf. Generating real protoc-compiled message types is not possible
// in this transformation (no protoc/buf invocation available); gRPC is
// used here purely as a multiplexed-stream transport for the optional
// observability exporter (spec §13), not as a protobuf-schema boundary.
package obkvgrpc

import (
	"bytes"
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// Name is the content-subtype this codec registers under. A client opts
// in with grpc.CallContentSubtype(obkvgrpc.Name).
const Name = "obkvframe"

func init() {
	encoding.RegisterCodec(&Codec{})
}

// Codec adapts wire.Payload's Encode/Decode to gRPC's encoding.Codec
// interface. Any message type exchanged over an obkvgrpc-coded RPC must
// implement wire.Payload.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string { return Name }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	p, ok := v.(wire.Payload)
	if !ok {
		return nil, fmt.Errorf("obkvgrpc: %T does not implement wire.Payload", v)
	}
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, fmt.Errorf("obkvgrpc: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	p, ok := v.(wire.Payload)
	if !ok {
		return fmt.Errorf("obkvgrpc: %T does not implement wire.Payload", v)
	}
	if err := p.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("obkvgrpc: decode: %w", err)
	}
	return nil
}

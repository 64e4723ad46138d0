package observability

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// ChannelID satisfies wire.Payload, letting DispatchEvent travel over the
// same frame/codec contract (C2) as table operations, just through the
// obkvgrpc custom codec instead of a Connection.
func (e *DispatchEvent) ChannelID() wire.ChannelID { return wire.ChannelObservabilityEvent }

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(b))) //nolint:gosec // bounded by realistic event sizes
	buf.Write(lb[:])
	buf.Write(b)
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lb[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode writes e to w.
func (e *DispatchEvent) Encode(w io.Writer) error {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(e.ID))
	writeLenPrefixed(&buf, []byte(e.Table))

	var fixed [2 + 8 + 8 + 4 + 1 + 4]byte
	binary.BigEndian.PutUint16(fixed[0:2], uint16(e.Channel))
	binary.BigEndian.PutUint64(fixed[2:10], uint64(e.StartTime.UnixNano())) //nolint:gosec // symmetric round trip
	binary.BigEndian.PutUint64(fixed[10:18], uint64(e.Duration))           //nolint:gosec // symmetric round trip
	binary.BigEndian.PutUint32(fixed[18:22], uint32(e.Attempt))            //nolint:gosec // bounded by runtime_retry_times
	if e.Retried {
		fixed[22] = 1
	}
	binary.BigEndian.PutUint32(fixed[23:27], uint32(e.ServerCode)) //nolint:gosec // symmetric round trip
	buf.Write(fixed[:])

	writeLenPrefixed(&buf, []byte(e.Error))

	_, err := w.Write(buf.Bytes())
	return err
}

// Decode reads e from r.
func (e *DispatchEvent) Decode(r io.Reader) error {
	id, err := readLenPrefixed(r)
	if err != nil {
		return fmt.Errorf("observability: decode id: %w", err)
	}
	table, err := readLenPrefixed(r)
	if err != nil {
		return fmt.Errorf("observability: decode table: %w", err)
	}

	var fixed [2 + 8 + 8 + 4 + 1 + 4]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return fmt.Errorf("observability: decode fixed fields: %w", err)
	}

	errMsg, err := readLenPrefixed(r)
	if err != nil {
		return fmt.Errorf("observability: decode error message: %w", err)
	}

	e.ID = string(id)
	e.Table = string(table)
	e.Channel = wire.ChannelID(binary.BigEndian.Uint16(fixed[0:2]))
	e.StartTime = time.Unix(0, int64(binary.BigEndian.Uint64(fixed[2:10]))) //nolint:gosec // symmetric round trip
	e.Duration = time.Duration(binary.BigEndian.Uint64(fixed[10:18]))      //nolint:gosec // symmetric round trip
	e.Attempt = int(binary.BigEndian.Uint32(fixed[18:22]))
	e.Retried = fixed[22] == 1
	e.ServerCode = int32(binary.BigEndian.Uint32(fixed[23:27])) //nolint:gosec // symmetric round trip
	e.Error = string(errMsg)
	return nil
}

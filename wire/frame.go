package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RequestHeader is the fixed header prefixing every request frame,
// grounded on the teacher's length-prefixed packet layout
// (proxy/mysql/conn.go's readPacket/writePacket), generalized from a
// 4-byte MySQL packet header to the fields an OBKV-style multiplexed RPC
// needs for request/response correlation and per-request deadlines.
type RequestHeader struct {
	Channel   ChannelID
	RequestID uint64
	Flags     uint8
	TimeoutMs uint32
	TenantID  uint32
	SessionID uint32
}

const requestHeaderSize = 2 + 8 + 1 + 4 + 4 + 4 // 23 bytes

// ResponseFooter is placed ahead of the payload in every response frame
// (see EncodeResponseFooter). The core reads it generically without
// interpreting the payload that follows it.
type ResponseFooter struct {
	ErrorCode     int32
	ErrorMessage  string
	ServerTraceID string
}

// maxFrameLen bounds a single frame to guard against a corrupt length
// prefix turning a parse error into an out-of-memory allocation.
const maxFrameLen = 64 << 20

// WriteFrame writes total_len(u32) | header | payload to w in one frame.
func WriteFrame(w io.Writer, h RequestHeader, payload []byte) error {
	body := make([]byte, requestHeaderSize+len(payload))
	putRequestHeader(body, h)
	copy(body[requestHeaderSize:], payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body))) //nolint:gosec // bounded by maxFrameLen on the read side
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and splits it into its
// header and remaining payload bytes.
func ReadFrame(r io.Reader) (RequestHeader, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return RequestHeader{}, nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen || int(n) < requestHeaderSize {
		return RequestHeader{}, nil, fmt.Errorf("wire: invalid frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return RequestHeader{}, nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	h := getRequestHeader(body)
	return h, body[requestHeaderSize:], nil
}

func putRequestHeader(dst []byte, h RequestHeader) {
	binary.BigEndian.PutUint16(dst[0:2], uint16(h.Channel))
	binary.BigEndian.PutUint64(dst[2:10], h.RequestID)
	dst[10] = h.Flags
	binary.BigEndian.PutUint32(dst[11:15], h.TimeoutMs)
	binary.BigEndian.PutUint32(dst[15:19], h.TenantID)
	binary.BigEndian.PutUint32(dst[19:23], h.SessionID)
}

func getRequestHeader(src []byte) RequestHeader {
	return RequestHeader{
		Channel:   ChannelID(binary.BigEndian.Uint16(src[0:2])),
		RequestID: binary.BigEndian.Uint64(src[2:10]),
		Flags:     src[10],
		TimeoutMs: binary.BigEndian.Uint32(src[11:15]),
		TenantID:  binary.BigEndian.Uint32(src[15:19]),
		SessionID: binary.BigEndian.Uint32(src[19:23]),
	}
}

// EncodeResponseFooter prepends a response footer to dst (an opaque,
// already-encoded payload) and returns the combined frame payload. The
// footer goes first, since its fields are all length-bounded and can be
// parsed forward without knowing where the opaque payload ends; whatever
// remains after parsing the footer back out is handed to the payload's
// own Decode untouched.
func EncodeResponseFooter(dst []byte, f ResponseFooter) []byte {
	out := make([]byte, 0, 4+2+len(f.ErrorMessage)+2+len(f.ServerTraceID)+len(dst))
	var codeBuf [4]byte
	binary.BigEndian.PutUint32(codeBuf[:], uint32(f.ErrorCode)) //nolint:gosec // round-trips via int32 on decode
	out = append(out, codeBuf[:]...)
	out = appendLenPrefixedString(out, f.ErrorMessage)
	out = appendLenPrefixedString(out, f.ServerTraceID)
	out = append(out, dst...)
	return out
}

// DecodeResponseFooter reads a response footer from the front of a
// response frame's payload, returning the footer and the opaque payload
// bytes that follow it.
func DecodeResponseFooter(src []byte) (ResponseFooter, []byte, error) {
	if len(src) < 4 {
		return ResponseFooter{}, nil, fmt.Errorf("wire: response footer truncated")
	}
	errCode := int32(binary.BigEndian.Uint32(src[:4])) //nolint:gosec // symmetric with EncodeResponseFooter
	rest := src[4:]
	msg, rest, err := readLenPrefixedString(rest)
	if err != nil {
		return ResponseFooter{}, nil, err
	}
	trace, rest, err := readLenPrefixedString(rest)
	if err != nil {
		return ResponseFooter{}, nil, err
	}
	return ResponseFooter{ErrorCode: errCode, ErrorMessage: msg, ServerTraceID: trace}, rest, nil
}

func appendLenPrefixedString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s))) //nolint:gosec // wire strings are bounded well under 64KiB
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

func readLenPrefixedString(src []byte) (string, []byte, error) {
	if len(src) < 2 {
		return "", nil, fmt.Errorf("wire: truncated string length")
	}
	n := binary.BigEndian.Uint16(src[:2])
	src = src[2:]
	if len(src) < int(n) {
		return "", nil, fmt.Errorf("wire: truncated string body")
	}
	return string(src[:n]), src[n:], nil
}

package wire_test

import (
	"bytes"
	"testing"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	h := wire.RequestHeader{
		Channel:   wire.ChannelGet,
		RequestID: 42,
		Flags:     0x01,
		TimeoutMs: 5000,
		TenantID:  7,
		SessionID: 0,
	}
	payload := []byte("hello payload")

	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, h, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	gotHeader, gotPayload, err := wire.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if gotHeader != h {
		t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, h)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", gotPayload, payload)
	}
}

func TestResponseFooterRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		footer wire.ResponseFooter
		body   []byte
	}{
		{"success", wire.ResponseFooter{ErrorCode: 0}, []byte("row-bytes")},
		{"error", wire.ResponseFooter{ErrorCode: -5024, ErrorMessage: "duplicate key", ServerTraceID: "trace-1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			framed := wire.EncodeResponseFooter(tt.body, tt.footer)
			gotFooter, gotBody, err := wire.DecodeResponseFooter(framed)
			if err != nil {
				t.Fatalf("DecodeResponseFooter: %v", err)
			}
			if gotFooter != tt.footer {
				t.Fatalf("footer mismatch: got %+v, want %+v", gotFooter, tt.footer)
			}
			if !bytes.Equal(gotBody, tt.body) {
				t.Fatalf("body mismatch: got %q, want %q", gotBody, tt.body)
			}
		})
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, _, err := wire.ReadFrame(&buf); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}

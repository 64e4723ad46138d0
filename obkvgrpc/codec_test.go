package obkvgrpc_test

import (
	"testing"
	"time"

	"github.com/oceanbase/obkv-table-client-go/obkvgrpc"
	"github.com/oceanbase/obkv-table-client-go/observability"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

func TestCodecRoundTripsDispatchEvent(t *testing.T) {
	t.Parallel()
	c := obkvgrpc.Codec{}

	want := &observability.DispatchEvent{
		ID:         "req-1",
		Table:      "users",
		Channel:    wire.ChannelGet,
		StartTime:  time.Unix(1_700_000_000, 0),
		Duration:   250 * time.Millisecond,
		Attempt:    2,
		Retried:    true,
		ServerCode: 0,
		Error:      "",
	}

	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got := &observability.DispatchEvent{}
	if err := c.Unmarshal(data, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != want.ID || got.Table != want.Table || got.Channel != want.Channel ||
		got.Attempt != want.Attempt || got.Retried != want.Retried || got.ServerCode != want.ServerCode {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.StartTime.Equal(want.StartTime) {
		t.Errorf("StartTime mismatch: got %v, want %v", got.StartTime, want.StartTime)
	}
	if got.Duration != want.Duration {
		t.Errorf("Duration mismatch: got %v, want %v", got.Duration, want.Duration)
	}
}

func TestCodecRejectsNonPayload(t *testing.T) {
	t.Parallel()
	c := obkvgrpc.Codec{}
	if _, err := c.Marshal("not a payload"); err == nil {
		t.Fatal("expected error marshaling a non-wire.Payload value")
	}
}

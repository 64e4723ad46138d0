package obkv

import (
	"bytes"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oceanbase/obkv-table-client-go/transport"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

func TestNewClientRequiresBootstrapAddresses(t *testing.T) {
	t.Parallel()
	_, err := NewClient(t.Context(), ClientConfig{PartitionStrategy: identityStrategy{}})
	if err == nil {
		t.Fatal("expected error for missing bootstrap addresses")
	}
}

func TestNewClientRequiresPartitionStrategy(t *testing.T) {
	t.Parallel()
	_, err := NewClient(t.Context(), ClientConfig{BootstrapAddresses: []string{"127.0.0.1:1"}})
	if err == nil {
		t.Fatal("expected error for missing partition strategy")
	}
}

func TestClientRouteCacheAvoidsRepeatedResolve(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)

	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	var resolveCount atomic.Int64
	srv.Handle(wire.ChannelResolvePartition, func(reqBody []byte) ([]byte, wire.ResponseFooter) {
		resolveCount.Add(1)
		req := &resolvePartitionPayload{}
		_ = req.Decode(bytes.NewReader(reqBody))
		resp := &resolvePartitionResultPayload{host: host, port: port, version: 1, ttlMs: 60000}
		var buf bytes.Buffer
		_ = resp.Encode(&buf)
		return buf.Bytes(), wire.ResponseFooter{ErrorCode: 0}
	})

	c := newTestClient(t, srv)
	tbl := c.Table("users")
	key := []Value{NewInt64(1)}

	for i := 0; i < 5; i++ {
		if _, err := tbl.Insert(t.Context(), key, []string{"v"}, []Value{NewInt64(int64(i))}); err != nil && i == 0 {
			t.Fatalf("insert: %v", err)
		}
		// Inserts after the first fail with a duplicate key, which is fine:
		// we only care that the route stays cached across calls.
	}

	if got := resolveCount.Load(); got != 1 {
		t.Errorf("resolve_partition called %d times, want 1 (cached after first)", got)
	}
}

func TestClientRetryBoundExhausted(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)

	var attempts atomic.Int64
	srv.Handle(wire.ChannelGet, func(reqBody []byte) ([]byte, wire.ResponseFooter) {
		attempts.Add(1)
		return nil, wire.ResponseFooter{ErrorCode: int32(ServerCodeNotMaster), ErrorMessage: "not master"}
	})

	c, err := NewClient(t.Context(), ClientConfig{
		BootstrapAddresses: []string{srv.Addr()},
		Credentials:        transport.Credentials{Tenant: "t", Database: "d", User: "u"},
		PartitionStrategy:  identityStrategy{},
		OperationTimeout:   2 * time.Second,
		RuntimeRetryTimes:  2,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Table("users").Get(t.Context(), []Value{NewInt64(1)})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	// RuntimeRetryTimes=2 means attempts 0, 1, 2: three total sends.
	if got := attempts.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
}

package observability_test

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oceanbase/obkv-table-client-go/observability"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

func TestSSEServerStreamsPublishedEvents(t *testing.T) {
	t.Parallel()
	b := observability.New(4)
	srv := observability.NewSSEServer(b)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", resp.Header.Get("Content-Type"))
	}

	// Give the handler a moment to subscribe before publishing.
	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	b.Publish(observability.DispatchEvent{ID: "evt-1", Table: "users", Channel: wire.ChannelGet})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, "evt-1") {
				t.Fatalf("unexpected SSE payload: %s", line)
			}
			return
		}
	}
	t.Fatal("stream closed before an event was received")
}

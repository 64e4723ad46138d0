package metrics_test

import (
	"testing"

	"github.com/oceanbase/obkv-table-client-go/metrics"
)

func TestRegistrySnapshotReflectsCounters(t *testing.T) {
	t.Parallel()
	var r metrics.Registry

	r.IncRequestsSent()
	r.IncRequestsSent()
	r.IncRetries()
	r.IncRouteCacheHit()
	r.IncRouteCacheMiss()
	r.IncSingleflightHit()
	r.IncActiveConns()
	r.IncActiveConns()
	r.DecActiveConns()
	r.IncCursorsOpen()

	snap := r.Snapshot()
	if snap.RequestsSent != 2 {
		t.Errorf("RequestsSent = %d, want 2", snap.RequestsSent)
	}
	if snap.Retries != 1 {
		t.Errorf("Retries = %d, want 1", snap.Retries)
	}
	if snap.RouteCacheHits != 1 {
		t.Errorf("RouteCacheHits = %d, want 1", snap.RouteCacheHits)
	}
	if snap.RouteCacheMisses != 1 {
		t.Errorf("RouteCacheMisses = %d, want 1", snap.RouteCacheMisses)
	}
	if snap.SingleflightHits != 1 {
		t.Errorf("SingleflightHits = %d, want 1", snap.SingleflightHits)
	}
	if snap.ActiveConns != 1 {
		t.Errorf("ActiveConns = %d, want 1", snap.ActiveConns)
	}
	if snap.CursorsOpen != 1 {
		t.Errorf("CursorsOpen = %d, want 1", snap.CursorsOpen)
	}
}

func TestGlobalReturnsSingleSharedInstance(t *testing.T) {
	before := metrics.Global().Snapshot().RequestsSent
	metrics.Global().IncRequestsSent()
	after := metrics.Global().Snapshot().RequestsSent
	if after != before+1 {
		t.Errorf("Global() did not return a shared registry: before=%d after=%d", before, after)
	}
}

// Package metrics is the process-wide counters/gauges registry (spec
// §11, Design Note 3: "confine global state to a single process-wide
// registry initialized on first use"). It is the only observer the test
// suite needs: Snapshot() gives a point-in-time view without requiring a
// host to wire up an observability.Broker (§13).
package metrics

import "sync/atomic"

var global Registry

// Registry holds monotonic atomic counters and simple gauges. The zero
// value is ready to use; Global returns the process-wide instance.
type Registry struct {
	requestsSent     atomic.Uint64
	retries          atomic.Uint64
	routeCacheHits   atomic.Uint64
	routeCacheMisses atomic.Uint64
	singleflightHits atomic.Uint64
	activeConns      atomic.Int64
	cursorsOpen      atomic.Int64
}

// Global returns the process-wide Registry.
func Global() *Registry { return &global }

func (r *Registry) IncRequestsSent()    { r.requestsSent.Add(1) }
func (r *Registry) IncRetries()         { r.retries.Add(1) }
func (r *Registry) IncRouteCacheHit()   { r.routeCacheHits.Add(1) }
func (r *Registry) IncRouteCacheMiss()  { r.routeCacheMisses.Add(1) }
func (r *Registry) IncSingleflightHit() { r.singleflightHits.Add(1) }
func (r *Registry) IncActiveConns()     { r.activeConns.Add(1) }
func (r *Registry) DecActiveConns()     { r.activeConns.Add(-1) }
func (r *Registry) IncCursorsOpen()     { r.cursorsOpen.Add(1) }
func (r *Registry) DecCursorsOpen()     { r.cursorsOpen.Add(-1) }

// Snapshot is a point-in-time copy of every counter/gauge, for tests and
// the dump-on-exit log line cmd/obkv-cli prints on shutdown.
type Snapshot struct {
	RequestsSent     uint64
	Retries          uint64
	RouteCacheHits   uint64
	RouteCacheMisses uint64
	SingleflightHits uint64
	ActiveConns      int64
	CursorsOpen      int64
}

// Snapshot reads every counter/gauge without resetting them.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		RequestsSent:     r.requestsSent.Load(),
		Retries:          r.retries.Load(),
		RouteCacheHits:   r.routeCacheHits.Load(),
		RouteCacheMisses: r.routeCacheMisses.Load(),
		SingleflightHits: r.singleflightHits.Load(),
		ActiveConns:      r.activeConns.Load(),
		CursorsOpen:      r.cursorsOpen.Load(),
	}
}

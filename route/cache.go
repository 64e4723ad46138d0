// Package route implements the Route Cache (C5): a TTL-bounded map from
// (table, partition key) to resolved endpoint location, refreshed via a
// singleflight-coalesced metadata RPC and invalidated whenever a server
// response reports a retriable location-changed code.
package route

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oceanbase/obkv-table-client-go/detect"
	"github.com/oceanbase/obkv-table-client-go/metrics"
	"github.com/oceanbase/obkv-table-client-go/obkvlog"
)

// Location is a resolved partition location: the server endpoint owning
// the partition, plus the schema version the resolution was valid for.
type Location struct {
	Host    string
	Port    int
	Version uint64
}

// Resolver performs the metadata RPC that resolves (table, partitionKey)
// to a Location. The Route Cache calls it at most once per key per TTL
// expiry, deduplicated by singleflight across concurrent misses.
type Resolver interface {
	ResolvePartition(ctx context.Context, table string, partitionKey [][]byte) (Location, time.Duration, error)
}

type entry struct {
	loc     Location
	expires time.Time
}

// Cache is the Route Cache (C5). Safe for concurrent use.
type Cache struct {
	resolver Resolver
	ttl      time.Duration // used when a refresh doesn't report its own TTL

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
	storm *detect.Detector
}

// Config bounds Cache behavior.
type Config struct {
	// DefaultTTL is used when Resolver.ResolvePartition returns a zero
	// duration.
	DefaultTTL time.Duration

	// StormThreshold/StormWindow/StormCooldown configure the retry-storm
	// detector that watches forced invalidations per partition key (spec
	// §12). StormThreshold <= 0 disables storm detection.
	StormThreshold int
	StormWindow    time.Duration
	StormCooldown  time.Duration
}

// New returns an empty Route Cache backed by resolver.
func New(resolver Resolver, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	c := &Cache{
		resolver: resolver,
		ttl:      cfg.DefaultTTL,
		entries:  make(map[string]entry),
	}
	if cfg.StormThreshold > 0 {
		window := cfg.StormWindow
		if window <= 0 {
			window = time.Second
		}
		cooldown := cfg.StormCooldown
		if cooldown <= 0 {
			cooldown = 10 * time.Second
		}
		c.storm = detect.New(cfg.StormThreshold, window, cooldown)
	}
	return c
}

func cacheKey(table string, partitionKey [][]byte) string {
	var b []byte
	b = append(b, []byte(table)...)
	b = append(b, 0)
	for _, k := range partitionKey {
		b = append(b, []byte(hex.EncodeToString(k))...)
		b = append(b, ',')
	}
	return string(b)
}

// Resolve returns the cached Location for (table, partitionKey), lazily
// refreshing on a miss or TTL expiry. Concurrent misses on the same key
// are coalesced into a single metadata RPC (spec §4.5).
func (c *Cache) Resolve(ctx context.Context, table string, partitionKey [][]byte) (Location, error) {
	key := cacheKey(table, partitionKey)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		metrics.Global().IncRouteCacheHit()
		return e.loc, nil
	}
	metrics.Global().IncRouteCacheMiss()

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another goroutine may have refreshed while we waited
		// to enter the singleflight group (lock-free TOCTOU window is
		// acceptable here — a redundant RPC is not a correctness issue,
		// only a missed-dedup opportunity).
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && time.Now().Before(e.expires) {
			return e.loc, nil
		}

		loc, ttl, err := c.resolver.ResolvePartition(ctx, table, partitionKey)
		if err != nil {
			return Location{}, err
		}
		if ttl <= 0 {
			ttl = c.ttl
		}
		c.mu.Lock()
		c.entries[key] = entry{loc: loc, expires: time.Now().Add(ttl)}
		c.mu.Unlock()
		return loc, nil
	})
	if shared {
		metrics.Global().IncSingleflightHit()
	}
	if err != nil {
		return Location{}, err
	}
	return v.(Location), nil
}

// Invalidate drops the cached entry for (table, partitionKey), forcing the
// next Resolve to refresh. Called by the Dispatcher (C7) when a response
// reports a ServerCode.Retriable() location-changed error (spec §4.7).
func (c *Cache) Invalidate(table string, partitionKey [][]byte) {
	key := cacheKey(table, partitionKey)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.recordInvalidation(key)
}

func (c *Cache) recordInvalidation(key string) {
	if c.storm == nil {
		return
	}
	if res := c.storm.Record(key, time.Now()); res.Alert != nil {
		obkvlog.WithFields(map[string]interface{}{"partition_key": res.Alert.PartitionKey, "count": res.Alert.Count}).
			Warn("route: sustained retry storm on partition key")
	}
}

// InvalidateTable drops every cached entry for table, for callers that
// need the table's whole partition map re-resolved. The Dispatcher's retry
// path does not call it; it invalidates one key at a time.
func (c *Cache) InvalidateTable(table string) {
	prefix := table + "\x00"
	c.mu.Lock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	c.recordInvalidation(prefix)
}

// Len reports the number of cached entries, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats is a point-in-time snapshot exposed to the metrics package.
type Stats struct {
	Entries int
}

// Snapshot returns the current cache size.
func (c *Cache) Snapshot() Stats {
	return Stats{Entries: c.Len()}
}

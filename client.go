package obkv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oceanbase/obkv-table-client-go/observability"
	"github.com/oceanbase/obkv-table-client-go/route"
	"github.com/oceanbase/obkv-table-client-go/transport"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// PartitionKeyStrategy extracts the ordered partition-key values from a
// row key. Declared here (rather than imported from package partition) so
// that package partition can depend on obkv for Value without obkv
// depending back on partition — any type implementing this method set,
// including partition.StaticFuncStrategy and schema.CatalogStrategy,
// satisfies it structurally.
type PartitionKeyStrategy interface {
	PartitionKey(ctx context.Context, table string, rowKey []Value) ([]Value, error)
}

// sender is the common Send signature shared by *transport.Connection and
// *transport.EndpointProxy, letting the Dispatcher depend on whichever
// granularity a given call site needs without importing transport types
// into every method signature.
type sender interface {
	Send(ctx context.Context, channel wire.ChannelID, tenantID, sessionID uint32, payload wire.Payload, result wire.Payload) (wire.ResponseFooter, error)
}

// ClientConfig configures a Dispatcher (C7), the public client entry
// point.
type ClientConfig struct {
	// BootstrapAddresses are server endpoints used for metadata RPCs
	// (partition resolution) and, until better located, for ordinary
	// table operations too.
	BootstrapAddresses []string
	Credentials        transport.Credentials
	TenantID           uint32

	PartitionStrategy PartitionKeyStrategy

	PoolSizePerEndpoint int
	OperationTimeout    time.Duration
	RouteCacheTTL       time.Duration
	RuntimeRetryTimes   int

	// RetryStormThreshold/Window/Cooldown configure the route cache's
	// retry-storm detector (spec §12). Zero threshold disables it.
	RetryStormThreshold int
	RetryStormWindow    time.Duration
	RetryStormCooldown  time.Duration

	// Observability, if non-nil, receives one DispatchEvent per completed
	// or retried operation (spec §13). Always off by default; publishing
	// is best-effort and never blocks dispatch.
	Observability *observability.Broker

	Logger *logrus.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.PoolSizePerEndpoint <= 0 {
		c.PoolSizePerEndpoint = 4
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
	if c.RouteCacheTTL <= 0 {
		c.RouteCacheTTL = 30 * time.Second
	}
	if c.RuntimeRetryTimes <= 0 {
		c.RuntimeRetryTimes = 3
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Client is the Dispatcher (C7): the public entry point translating
// get/insert/update/replace/insert_or_update/append/increment/delete/
// batch/query calls into routed, retried wire RPCs.
type Client struct {
	cfg ClientConfig

	mu        sync.Mutex
	bootstrap []*transport.EndpointProxy
	nextBoot  int
	endpoints map[string]*transport.EndpointProxy

	cache *route.Cache
}

// NewClient constructs a Client and starts its bootstrap connections.
// Ctx bounds the startup handshakes and also the bootstrap connections'
// reconnect supervisors: once ctx is done, a dropped bootstrap connection
// is not re-established.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	if len(cfg.BootstrapAddresses) == 0 {
		return nil, NewClientUsageError("client: at least one bootstrap address is required")
	}
	if cfg.PartitionStrategy == nil {
		return nil, NewClientUsageError("client: a partition key strategy is required")
	}

	c := &Client{
		cfg:       cfg,
		endpoints: make(map[string]*transport.EndpointProxy),
	}

	for _, addr := range cfg.BootstrapAddresses {
		ep := transport.NewEndpointProxy(transport.EndpointConfig{
			Address:          addr,
			Creds:            cfg.Credentials,
			PoolSize:         cfg.PoolSizePerEndpoint,
			OperationTimeout: cfg.OperationTimeout,
		})
		if err := ep.Start(ctx); err != nil {
			return nil, NewTransportError("bootstrap "+addr, err)
		}
		c.bootstrap = append(c.bootstrap, ep)
		c.endpoints[addr] = ep
	}

	c.cache = route.New(&resolverAdapter{client: c}, route.Config{
		DefaultTTL:     cfg.RouteCacheTTL,
		StormThreshold: cfg.RetryStormThreshold,
		StormWindow:    cfg.RetryStormWindow,
		StormCooldown:  cfg.RetryStormCooldown,
	})
	return c, nil
}

// Close tears down every endpoint connection pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, ep := range c.endpoints {
		if err := ep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) nextBootstrap() *transport.EndpointProxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := c.bootstrap[c.nextBoot%len(c.bootstrap)]
	c.nextBoot++
	return ep
}

func (c *Client) endpointFor(loc route.Location) *transport.EndpointProxy {
	addr := fmt.Sprintf("%s:%d", loc.Host, loc.Port)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.endpoints[addr]; ok {
		return ep
	}
	ep := transport.NewEndpointProxy(transport.EndpointConfig{
		Address:          addr,
		Creds:            c.cfg.Credentials,
		PoolSize:         c.cfg.PoolSizePerEndpoint,
		OperationTimeout: c.cfg.OperationTimeout,
	})
	c.endpoints[addr] = ep
	return ep
}

// resolverAdapter implements route.Resolver by sending the
// resolvePartitionPayload metadata RPC over one of the Client's bootstrap
// endpoints.
type resolverAdapter struct {
	client *Client
}

func (a *resolverAdapter) ResolvePartition(ctx context.Context, table string, partitionKey [][]byte) (route.Location, time.Duration, error) {
	key := make([]Value, len(partitionKey))
	for i, b := range partitionKey {
		key[i] = NewBytes(b)
	}
	ep := a.client.nextBootstrap()
	var result resolvePartitionResultPayload
	_, err := ep.Send(ctx, wire.ChannelResolvePartition, a.client.cfg.TenantID, 0, &resolvePartitionPayload{table: table, partitionKey: key}, &result)
	if err != nil {
		return route.Location{}, 0, NewTransportError("resolve_partition", err)
	}
	return route.Location{Host: result.host, Port: result.port, Version: result.version}, time.Duration(result.ttlMs) * time.Millisecond, nil
}

// valueBytes gives a stable byte representation of v for use as route
// cache key material; it carries no wire-format stability guarantee.
func valueBytes(v Value) []byte {
	var buf [24]byte
	switch v.Type() {
	case TypeInt64:
		n, _ := v.Int64()
		return append(buf[:0], byte(n), byte(n>>8), byte(n>>16), byte(n>>24), byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
	case TypeString:
		s, _ := v.String()
		return []byte(s)
	case TypeBytes:
		b, _ := v.Bytes()
		return b
	default:
		return []byte(v.GoString())
	}
}

func partitionKeyBytes(key []Value) [][]byte {
	out := make([][]byte, len(key))
	for i, v := range key {
		out[i] = valueBytes(v)
	}
	return out
}

// resolve returns the EndpointProxy owning op's partition, using
// cfg.PartitionStrategy + the Route Cache.
func (c *Client) resolve(ctx context.Context, table string, rowKey []Value) (*transport.EndpointProxy, []Value, error) {
	pk, err := c.cfg.PartitionStrategy.PartitionKey(ctx, table, rowKey)
	if err != nil {
		return nil, nil, err
	}
	loc, err := c.cache.Resolve(ctx, table, partitionKeyBytes(pk))
	if err != nil {
		return nil, nil, err
	}
	return c.endpointFor(loc), pk, nil
}

func (c *Client) invalidateRoute(table string, partitionKey []Value) {
	c.cache.Invalidate(table, partitionKeyBytes(partitionKey))
}

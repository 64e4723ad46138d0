package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/oceanbase/obkv-table-client-go/obkvlog"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// ErrLoginFailed signals a fatal, non-retriable login handshake rejection
// (spec §4.4: a login failure is never retried, unlike a transient dial
// failure).
type ErrLoginFailed struct {
	Endpoint string
	Reason   string
}

func (e *ErrLoginFailed) Error() string {
	return fmt.Sprintf("transport: login to %s rejected: %s", e.Endpoint, e.Reason)
}

// EndpointConfig bounds one EndpointProxy's pool and retry behavior.
type EndpointConfig struct {
	Address string
	Creds   Credentials

	PoolSize           int
	DialTimeout        time.Duration
	OperationTimeout   time.Duration
	MaxReconnectTries  int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	ConnectionHighMark int
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// EndpointProxy (C4) owns a fixed-size pool of Connections to one server
// endpoint, selecting among Ready connections round-robin, reconnecting
// failed slots with exponential backoff, and performing the login
// handshake that gates Handshaking -> Ready.
type EndpointProxy struct {
	cfg EndpointConfig

	mu      sync.Mutex
	conns   []*Connection
	closed  bool
	roundRI uint64
}

// NewEndpointProxy returns an EndpointProxy with an empty, unconnected
// pool; call Start to dial and maintain PoolSize connections.
func NewEndpointProxy(cfg EndpointConfig) *EndpointProxy {
	cfg = cfg.withDefaults()
	return &EndpointProxy{cfg: cfg, conns: make([]*Connection, cfg.PoolSize)}
}

// Start dials every pool slot and begins the background reconnect
// supervisor for each. It returns once the first slot reaches Ready, or
// ctx is done, or every slot's first dial attempt fails fatally (login
// rejected).
func (p *EndpointProxy) Start(ctx context.Context) error {
	readyCh := make(chan error, p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		i := i
		go p.superviseSlot(ctx, i, readyCh)
	}

	var lastErr error
	fatal := 0
	for i := 0; i < p.cfg.PoolSize; i++ {
		select {
		case err := <-readyCh:
			if err == nil {
				return nil
			}
			var loginErr *ErrLoginFailed
			if errors.As(err, &loginErr) {
				fatal++
				lastErr = err
				if fatal == p.cfg.PoolSize {
					return lastErr
				}
				continue
			}
			lastErr = err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// superviseSlot owns pool slot i for the EndpointProxy's lifetime: dial,
// login, run until disconnected, reconnect with backoff, repeat. readyCh
// receives exactly one signal for the slot's first connect attempt
// (nil on success, the terminal error otherwise), then is never written
// to again.
func (p *EndpointProxy) superviseSlot(ctx context.Context, slot int, readyCh chan<- error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // retry forever; the caller's ctx bounds overall lifetime

	first := true
	attempts := 0
	for {
		if p.isClosed() {
			return
		}

		conn := NewConnection(p.dialer(), Config{HighWaterMark: p.cfg.ConnectionHighMark})
		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
		err := conn.Connect(dialCtx)
		cancel()
		if err == nil {
			err = p.login(ctx, conn)
		}

		if err == nil {
			conn.MarkReady()
			p.mu.Lock()
			p.conns[slot] = conn
			p.mu.Unlock()
			if first {
				first = false
				readyCh <- nil
			}
			bo.Reset()
			attempts = 0
			<-waitDisconnected(conn)
			continue
		}

		var loginErr *ErrLoginFailed
		if errors.As(err, &loginErr) {
			if first {
				first = false
				readyCh <- err
			}
			return
		}

		attempts++
		if first && p.cfg.MaxReconnectTries > 0 && attempts >= p.cfg.MaxReconnectTries {
			first = false
			readyCh <- err
		}

		delay := bo.NextBackOff()
		obkvlog.WithFields(logrus.Fields{"address": p.cfg.Address, "slot": slot, "attempt": attempts}).
			WithError(err).Warn("transport: reconnect failed, backing off")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func waitDisconnected(conn *Connection) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for conn.State() != StateDisconnected {
			time.Sleep(50 * time.Millisecond)
		}
	}()
	return done
}

func (p *EndpointProxy) dialer() func(context.Context) (net.Conn, error) {
	addr := p.cfg.Address
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

func (p *EndpointProxy) login(ctx context.Context, conn *Connection) error {
	loginCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	footer, err := conn.Send(loginCtx, wire.ChannelLogin, 0, 0, &loginPayload{creds: p.cfg.Creds}, &loginResultPayload{})
	if err != nil {
		conn.MarkDisconnected(err)
		return &ErrLoginFailed{Endpoint: p.cfg.Address, Reason: err.Error()}
	}
	if footer.ErrorCode != 0 {
		conn.MarkDisconnected(fmt.Errorf("login rejected with code %d", footer.ErrorCode))
		return &ErrLoginFailed{Endpoint: p.cfg.Address, Reason: footer.ErrorMessage}
	}
	return nil
}

func (p *EndpointProxy) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Pick selects the next Ready connection round-robin, or ErrNotConnected
// if none are currently Ready.
func (p *EndpointProxy) Pick() (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.conns)
	if n == 0 {
		return nil, ErrNotConnected
	}
	start := int(atomic.AddUint64(&p.roundRI, 1)) % n
	for i := 0; i < n; i++ {
		c := p.conns[(start+i)%n]
		if c != nil && c.State() == StateReady {
			return c, nil
		}
	}
	return nil, ErrNotConnected
}

// Send picks a Ready connection and sends through it, applying
// cfg.OperationTimeout as the default deadline when ctx carries none.
func (p *EndpointProxy) Send(ctx context.Context, channel wire.ChannelID, tenantID, sessionID uint32, payload wire.Payload, result wire.Payload) (wire.ResponseFooter, error) {
	conn, err := p.Pick()
	if err != nil {
		return wire.ResponseFooter{}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.OperationTimeout)
		defer cancel()
	}
	return conn.Send(ctx, channel, tenantID, sessionID, payload, result)
}

// Close tears down every pool connection.
func (p *EndpointProxy) Close() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			_ = c.Close()
		}
	}
	return nil
}

// Package transport implements the Connection (C3) and Endpoint Proxy (C4)
// components: one authenticated, multiplexed duplex channel per server
// endpoint, request-id correlation via a background reader, and a pool of
// such connections per endpoint with retry/backoff/timeout enforcement.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/obkv-table-client-go/metrics"
	"github.com/oceanbase/obkv-table-client-go/obkvlog"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// State is a Connection's position in its lifecycle state machine
// (spec §4.3):
//
//	Disconnected --connect--> Handshaking --login-ok--> Ready
//	     ^                        |                        |
//	     +------- fatal ----------+---- fatal/close --------+
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// pendingSlot is the completion slot recorded in the pending-table for one
// outstanding request.
type pendingSlot struct {
	resultCh chan pendingResult
}

type pendingResult struct {
	header wire.RequestHeader
	footer wire.ResponseFooter
	body   []byte
	err    error
}

// ErrNotConnected is returned by Send when the Connection is neither
// Handshaking nor Ready.
var ErrNotConnected = errors.New("transport: connection not ready")

// ErrCongested is returned by Send when the pending-table high-water-mark
// is exceeded (spec §5 backpressure).
var ErrCongested = errors.New("transport: connection congested")

// Connection is one logical duplex channel to one server endpoint. The
// background reader and any number of concurrent senders are two
// independently owned halves sharing a pending-table behind a lock —
// never a mutual owning link between them (Design Note 1).
type Connection struct {
	ID string

	dial func(ctx context.Context) (net.Conn, error)

	mu    sync.Mutex
	state State
	conn  net.Conn

	nextRequestID  uint64 // accessed only under mu, monotonic per Connection lifetime
	pending        map[uint64]*pendingSlot
	highWaterMark  int
	readerStopC    chan struct{}
	readerStoppedC chan struct{}
}

// Config bounds a Connection's behavior.
type Config struct {
	// HighWaterMark is the pending-table size above which new sends fail
	// fast with ErrCongested (spec §5 backpressure). Zero disables the
	// check.
	HighWaterMark int
}

// NewConnection returns a Connection in the Disconnected state. dial
// establishes the underlying transport (TCP/TLS negotiation is an
// external collaborator per spec §1; dial is supplied by the host).
func NewConnection(dial func(ctx context.Context) (net.Conn, error), cfg Config) *Connection {
	return &Connection{
		ID:            uuid.NewString(),
		dial:          dial,
		state:         StateDisconnected,
		pending:       make(map[uint64]*pendingSlot),
		highWaterMark: cfg.HighWaterMark,
	}
}

// State returns the Connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials and transitions Disconnected -> Handshaking, then starts
// the background reader. It does not perform the login handshake itself
// (that is the Endpoint Proxy's responsibility, since a non-success login
// reply is fatal and proxy-level); it leaves the Connection in
// Handshaking until the caller calls MarkReady or MarkDisconnected.
func (c *Connection) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return &transportErr{op: "connect", err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateHandshaking
	c.readerStopC = make(chan struct{})
	c.readerStoppedC = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// MarkReady transitions Handshaking -> Ready after a successful login.
func (c *Connection) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateHandshaking {
		c.state = StateReady
		metrics.Global().IncActiveConns()
	}
}

// MarkDisconnected transitions to Disconnected and fails every pending
// slot with a transport error, fulfilling the invariant that a socket
// failure fails ALL pending slots.
func (c *Connection) MarkDisconnected(cause error) {
	c.mu.Lock()
	wasReady := c.state == StateReady
	c.state = StateDisconnected
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[uint64]*pendingSlot)
	stopC := c.readerStopC
	c.mu.Unlock()

	if wasReady {
		metrics.Global().DecActiveConns()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if stopC != nil {
		select {
		case <-stopC:
		default:
			close(stopC)
		}
	}
	for _, slot := range pending {
		select {
		case slot.resultCh <- pendingResult{err: &transportErr{op: "connection-closed", err: cause}}:
		default:
		}
	}
}

// Close tears down the Connection unconditionally.
func (c *Connection) Close() error {
	c.MarkDisconnected(errClosed)
	return nil
}

var errClosed = errors.New("transport: connection closed")

// Send writes payload framed under a fresh monotonically increasing
// request id, and blocks until the background reader delivers a matching
// response, ctx is done, or the Connection becomes Disconnected.
func (c *Connection) Send(ctx context.Context, channel wire.ChannelID, tenantID, sessionID uint32, payload wire.Payload, result wire.Payload) (wire.ResponseFooter, error) {
	c.mu.Lock()
	if c.state != StateReady && c.state != StateHandshaking {
		c.mu.Unlock()
		return wire.ResponseFooter{}, ErrNotConnected
	}
	if c.highWaterMark > 0 && len(c.pending) >= c.highWaterMark {
		c.mu.Unlock()
		return wire.ResponseFooter{}, ErrCongested
	}
	c.nextRequestID++
	reqID := c.nextRequestID
	slot := &pendingSlot{resultCh: make(chan pendingResult, 1)}
	c.pending[reqID] = slot
	conn := c.conn
	c.mu.Unlock()

	var buf bytes.Buffer
	if payload != nil {
		if err := payload.Encode(&buf); err != nil {
			c.removePending(reqID)
			return wire.ResponseFooter{}, fmt.Errorf("transport: encode request: %w", err)
		}
	}

	var timeoutMs uint32
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			timeoutMs = uint32(d.Milliseconds()) //nolint:gosec // bounded by realistic RPC deadlines
		}
	}

	h := wire.RequestHeader{
		Channel:   channel,
		RequestID: reqID,
		TenantID:  tenantID,
		SessionID: sessionID,
		TimeoutMs: timeoutMs,
	}
	if err := wire.WriteFrame(conn, h, buf.Bytes()); err != nil {
		c.removePending(reqID)
		c.MarkDisconnected(err)
		return wire.ResponseFooter{}, &transportErr{op: "send", err: err}
	}

	select {
	case res := <-slot.resultCh:
		if res.err != nil {
			return wire.ResponseFooter{}, res.err
		}
		if result != nil {
			if err := result.Decode(bytes.NewReader(res.body)); err != nil {
				return wire.ResponseFooter{}, fmt.Errorf("transport: decode response: %w", err)
			}
		}
		return res.footer, nil
	case <-ctx.Done():
		c.removePending(reqID)
		return wire.ResponseFooter{}, ctx.Err()
	}
}

func (c *Connection) removePending(reqID uint64) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// readLoop is the single background task per Connection: it reads frames,
// parses the header, looks up the pending slot, removes it, and delivers
// the response. Grounded on the teacher's relayUpstreamToClient loop shape
// (proxy/mysql/conn.go): check for shutdown, read one frame, classify
// transport-closed errors, dispatch, repeat.
func (c *Connection) readLoop() {
	c.mu.Lock()
	conn := c.conn
	stoppedC := c.readerStoppedC
	c.mu.Unlock()
	defer close(stoppedC)

	for {
		header, rawPayload, err := wire.ReadFrame(conn)
		if err != nil {
			// A close we made ourselves is already Disconnected; a peer
			// close (EOF) or any other failure still has to fail the
			// pending slots.
			if !isClosedErr(err) || c.State() != StateDisconnected {
				c.MarkDisconnected(err)
			}
			return
		}

		footer, body, err := wire.DecodeResponseFooter(rawPayload)
		if err != nil {
			// A frame parse error is fatal to the Connection (spec §4.3).
			c.MarkDisconnected(err)
			return
		}

		c.mu.Lock()
		slot, ok := c.pending[header.RequestID]
		if ok {
			delete(c.pending, header.RequestID)
		}
		c.mu.Unlock()

		if !ok {
			obkvlog.WithField("request_id", header.RequestID).Warn("transport: response for unknown or already-completed request id")
			continue
		}

		select {
		case slot.resultCh <- pendingResult{header: header, footer: footer, body: body}:
		default:
		}
	}
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Err.Error() == "use of closed network connection"
	}
	return strings.Contains(err.Error(), "closed")
}

type transportErr struct {
	op  string
	err error
}

func (e *transportErr) Error() string { return fmt.Sprintf("transport: %s: %v", e.op, e.err) }
func (e *transportErr) Unwrap() error { return e.err }

// PendingCount reports the number of outstanding requests, for tests and
// metrics.
func (c *Connection) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

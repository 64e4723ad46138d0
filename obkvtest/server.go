// Package obkvtest is an in-process fake OBKV server: a real net.Listener
// speaking the actual frame format (wire.ReadFrame/WriteFrame), with
// per-channel handlers a test registers to build arbitrary request/
// response fixtures. It replaces any need for testcontainers-go/Docker,
// since no real OBKV server container image exists to run in CI.
package obkvtest

import (
	"fmt"
	"net"
	"sync"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// Handler produces a response payload (already wire-encoded, without the
// ResponseFooter) and footer for one request frame's opaque payload bytes.
type Handler func(reqBody []byte) (respBody []byte, footer wire.ResponseFooter)

// Server is a fake OBKV endpoint: it accepts any number of connections,
// performs the login handshake unconditionally successfully unless a
// LoginHandler is set, and dispatches every other channel to a
// registered Handler.
type Server struct {
	ln net.Listener

	mu           sync.Mutex
	handlers     map[wire.ChannelID]Handler
	loginHandler Handler

	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a Server listening on an OS-assigned loopback port.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("obkvtest: listen: %w", err)
	}
	s := &Server{ln: ln, handlers: make(map[wire.ChannelID]Handler)}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listener's address, e.g. for dialing.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Handle registers the handler for channel. Subsequent requests on that
// channel are dispatched to it; requests on an unregistered channel get a
// generic internal-error footer.
func (s *Server) Handle(channel wire.ChannelID, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = h
}

// HandleLogin overrides the default always-succeed login handshake.
func (s *Server) HandleLogin(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginHandler = h
}

// Close stops accepting connections and closes the listener.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		_ = s.ln.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	for {
		h, body, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		var respBody []byte
		var footer wire.ResponseFooter

		s.mu.Lock()
		var handler Handler
		if h.Channel == wire.ChannelLogin {
			handler = s.loginHandler
		} else {
			handler = s.handlers[h.Channel]
		}
		s.mu.Unlock()

		if handler != nil {
			respBody, footer = handler(body)
		} else if h.Channel == wire.ChannelLogin {
			footer = wire.ResponseFooter{ErrorCode: 0}
		} else {
			footer = wire.ResponseFooter{ErrorCode: -1, ErrorMessage: fmt.Sprintf("obkvtest: no handler for channel %s", h.Channel)}
		}

		frame := wire.EncodeResponseFooter(respBody, footer)
		if err := wire.WriteFrame(conn, h, frame); err != nil {
			return
		}
	}
}

package obkv

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode classifies an error into the taxonomy described in spec §7, so
// a host can branch on it without string matching.
type ErrorCode uint8

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeTransport
	ErrCodeProtocol
	ErrCodeServerException
	ErrCodeAuth
	ErrCodeClientUsage
	ErrCodeTimeout
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeTransport:
		return "transport"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeServerException:
		return "server_exception"
	case ErrCodeAuth:
		return "auth"
	case ErrCodeClientUsage:
		return "client_usage"
	case ErrCodeTimeout:
		return "timeout"
	}
	return "unknown"
}

// CodedError is implemented by every error the client surfaces to callers.
type CodedError interface {
	error
	Code() ErrorCode
}

// TransportError wraps a connect/read/write/framing failure. Retriable by
// the Dispatcher.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("obkv: transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Code() ErrorCode { return ErrCodeTransport }

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: errors.Wrap(err, op)}
}

// ProtocolError wraps an unparseable response, duplicate request id, or
// unexpected payload type. Fatal to the Connection; retriable at the
// operation level on a fresh connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string   { return "obkv: protocol: " + e.Reason }
func (e *ProtocolError) Code() ErrorCode { return ErrCodeProtocol }

func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

// ServerCode is a numeric result code returned by the server in a response
// header. Zero means success.
type ServerCode int32

const (
	ServerCodeSuccess ServerCode = 0

	// Location and session codes (spec §4.7). All but
	// ServerCodeSessionExpired are retriable and trigger route
	// invalidation + retry; a session expiry surfaces as ErrSessionExpired.
	ServerCodeNotMaster               ServerCode = -4038
	ServerCodePartitionMoved          ServerCode = -4039
	ServerCodeMasterSessionChanged    ServerCode = -4040
	ServerCodeFrozen                  ServerCode = -4041
	ServerCodeSchemaVersionMismatch   ServerCode = -4042
	ServerCodeSessionExpired          ServerCode = -4043

	// Non-retriable codes named explicitly by spec §8 scenarios.
	ServerCodePrimaryKeyDuplicate ServerCode = -5024

	// ServerCodeUnknown marks a DispatchEvent (spec §13) whose failure
	// never reached the server — a transport error or client-side
	// timeout, so no ServerCode was ever assigned.
	ServerCodeUnknown ServerCode = -1
)

// Retriable reports whether a server code should trigger route
// invalidation and a bounded retry, per spec §4.7.
func (c ServerCode) Retriable() bool {
	switch c {
	case ServerCodeNotMaster, ServerCodePartitionMoved, ServerCodeMasterSessionChanged,
		ServerCodeFrozen, ServerCodeSchemaVersionMismatch:
		return true
	}
	return false
}

// ServerException carries a non-success response header.
type ServerException struct {
	ServerCode ServerCode
	Message    string
	TraceID    string
}

func (e *ServerException) Error() string {
	return fmt.Sprintf("obkv: server exception %d: %s (trace=%s)", e.ServerCode, e.Message, e.TraceID)
}

// Code implements CodedError.
func (e *ServerException) Code() ErrorCode { return ErrCodeServerException }

// AuthError wraps a login-handshake failure. Fatal for that endpoint-proxy
// instance.
type AuthError struct {
	Endpoint string
	Err      error
}

func (e *AuthError) Error() string   { return fmt.Sprintf("obkv: auth failed for %s: %v", e.Endpoint, e.Err) }
func (e *AuthError) Unwrap() error   { return e.Err }
func (e *AuthError) Code() ErrorCode { return ErrCodeAuth }

func NewAuthError(endpoint string, err error) *AuthError {
	return &AuthError{Endpoint: endpoint, Err: errors.Wrapf(err, "login to %s", endpoint)}
}

// ClientUsageError covers type mismatches, cross-partition atomic
// batches, use-after-close on cursors, and missing required builder
// fields.
type ClientUsageError struct {
	Reason string
}

func (e *ClientUsageError) Error() string   { return "obkv: client usage: " + e.Reason }
func (e *ClientUsageError) Code() ErrorCode { return ErrCodeClientUsage }

func NewClientUsageError(reason string) *ClientUsageError {
	return &ClientUsageError{Reason: reason}
}

// ErrAlreadyClosed is returned by Cursor.Next after Close.
var ErrAlreadyClosed = NewClientUsageError("cursor already closed")

// ErrCrossPartitionAtomic is returned when an atomic batch's operations
// have more than one distinct partition key.
var ErrCrossPartitionAtomic = NewClientUsageError("atomic batch spans more than one partition")

// ErrSessionExpired is a client-usage-visible error raised when the server
// reports a stream session has expired mid-iteration (resolved open
// question, see SPEC_FULL.md §4.8): the client does not silently re-fetch
// because that would violate cursor monotonicity across a session the
// server may have repartitioned during.
var ErrSessionExpired = NewClientUsageError("stream session expired")

// TimeoutError wraps an operation-deadline expiry.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string   { return "obkv: timeout: " + e.Op }
func (e *TimeoutError) Code() ErrorCode { return ErrCodeTimeout }

func NewTimeoutError(op string) *TimeoutError {
	return &TimeoutError{Op: op}
}

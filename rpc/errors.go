package rpc

import (
	"encoding/gob"
	"errors"
	"fmt"
)

func init() {
	gob.Register(&Error{})
}

//go:generate enumer -type=Kind
type Kind int

const (
	// BrokenPromise means the peer that held the matching promise side of a
	// ReplyFuture or RequestStream is known to be gone: the request was
	// definitely not, and never will be, delivered.
	BrokenPromise Kind = 1 + iota
	// RequestMaybeDelivered means the transport lost track of whether the
	// request reached its peer before the connection failed. Callers that
	// cannot tolerate at-most-once semantics must treat this as "maybe
	// happened" and apply idempotency at a higher layer.
	RequestMaybeDelivered
	// EndpointFailed means the local FailureMonitor or Transport determined
	// the Endpoint's owning process is down, independent of any specific
	// outstanding request.
	EndpointFailed
	// UserError wraps an error value returned by application code running
	// inside a Receiver; it is carried across the wire like any other reply.
	UserError
	// ProtocolViolation means a peer sent bytes that could not be decoded,
	// or violated an invariant of the wire protocol (credit overrun, reply
	// for an unknown token, and the like). The connection that produced it
	// should be torn down.
	ProtocolViolation
)

// Error is the error type every rpc operation that can fail across the wire
// returns. Use errors.As to recover it, or the Is* helpers below.
type Error struct {
	Kind    Kind
	Cause   error
	Message string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: %s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// gobWireError is what actually crosses the wire for an *Error: Cause is
// flattened to its Error() string, since arbitrary concrete error types on
// the sending side are not registered with gob on the receiving one. Kind is
// preserved exactly, so IsKind and the Is* helpers still work after a
// round-trip; only the original Cause's Go type is lost.
type gobWireError struct {
	Kind       Kind
	Message    string
	CauseText  string
	HasCause   bool
}

func (e *Error) GobEncode() ([]byte, error) {
	w := gobWireError{Kind: e.Kind, Message: e.Message}
	if e.Cause != nil {
		w.HasCause = true
		w.CauseText = e.Cause.Error()
	}
	return encodeValue(w)
}

func (e *Error) GobDecode(data []byte) error {
	var w gobWireError
	if err := decodeValue(data, &w); err != nil {
		return err
	}
	e.Kind = w.Kind
	e.Message = w.Message
	if w.HasCause {
		e.Cause = errors.New(w.CauseText)
	}
	return nil
}

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: cause, Message: fmt.Sprintf(format, args...)}
}

func NewBrokenPromiseError(format string, args ...interface{}) error {
	return newError(BrokenPromise, nil, format, args...)
}

func NewRequestMaybeDeliveredError(cause error, format string, args ...interface{}) error {
	return newError(RequestMaybeDelivered, cause, format, args...)
}

func NewEndpointFailedError(format string, args ...interface{}) error {
	return newError(EndpointFailed, nil, format, args...)
}

func NewUserError(cause error) error {
	return &Error{Kind: UserError, Cause: cause, Message: "user error"}
}

func NewProtocolViolationError(format string, args ...interface{}) error {
	return newError(ProtocolViolation, nil, format, args...)
}

func IsKind(err error, k Kind) bool {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Kind == k
}

func IsBrokenPromise(err error) bool          { return IsKind(err, BrokenPromise) }
func IsRequestMaybeDelivered(err error) bool  { return IsKind(err, RequestMaybeDelivered) }
func IsEndpointFailed(err error) bool         { return IsKind(err, EndpointFailed) }
func IsUserError(err error) bool              { return IsKind(err, UserError) }
func IsProtocolViolation(err error) bool      { return IsKind(err, ProtocolViolation) }

// Package rpcerr defines the error kinds surfaced by the Halibut RPC
// runtime across every package boundary (transport faults, dispatch
// faults, and pool/queue faults alike arrive at the caller as one of
// these).
package rpcerr

import "fmt"

// Kind classifies an Error. Callers should switch on Kind rather than
// inspect Error strings.
type Kind int

const (
	// Unknown is the zero value and should never be returned by the
	// runtime; its presence indicates a bug.
	Unknown Kind = iota

	// UntrustedPeer: the peer's certificate thumbprint was not in the
	// trust set, or did not match the endpoint's expected thumbprint.
	UntrustedPeer

	// HandshakeFailed: TLS negotiation failed, or the handshake
	// deadline expired before it completed.
	HandshakeFailed

	// ConnectionClosed: the transport closed before a response was
	// fully received.
	ConnectionClosed

	// Timeout: the caller's per-request deadline expired.
	Timeout

	// ServiceNotFound: the registry has no handler for the requested
	// service/method.
	ServiceNotFound

	// AmbiguousMethod: more than one overload matched a request
	// equally well.
	AmbiguousMethod

	// ServiceInvocation: the handler itself raised a user-level
	// error. Message and Detail carry the remote description
	// verbatim; the Connection is not poisoned by this kind.
	ServiceInvocation

	// ProtocolViolation: a malformed frame, an unread stream
	// attachment, or an unrecognized protocol version.
	ProtocolViolation

	// QueueFull: a poll queue was at capacity when an enqueue was
	// attempted.
	QueueFull

	// Shutdown: the runtime is shutting down.
	Shutdown
)

var kindNames = [...]string{
	"Unknown",
	"UntrustedPeer",
	"HandshakeFailed",
	"ConnectionClosed",
	"Timeout",
	"ServiceNotFound",
	"AmbiguousMethod",
	"ServiceInvocation",
	"ProtocolViolation",
	"QueueFull",
	"Shutdown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// ParseKind maps a wire ErrorDescriptor.Kind string back to a Kind,
// for a Client Proxy reconstructing a local error from a remote
// response (spec §3, §7). An unrecognized name maps to Unknown rather
// than failing, since the wire carries the name as plain text and a
// future peer's new kind should not crash an older caller.
func ParseKind(name string) Kind {
	for i, n := range kindNames {
		if n == name {
			return Kind(i)
		}
	}
	return Unknown
}

// Error is the concrete error type returned across package boundaries
// in the runtime. It corresponds to the wire ErrorDescriptor
// (kind, message, remote_stack_detail?) described in spec §3.
type Error struct {
	Kind    Kind
	Message string

	// Detail carries a remote handler's stack/description for
	// ServiceInvocation errors. Empty for transport-level errors.
	Detail string

	// Cause is the underlying error, if any, that produced this one.
	// It is not part of the wire representation.
	Cause error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that carries an underlying
// cause. If cause is already an *Error of the same kind and format is
// empty, cause is returned unchanged.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	if e, ok := cause.(*Error); ok && e.Kind == kind && format == "" {
		return e
	}
	msg := fmt.Sprintf(format, args...)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf returns the Kind of err if it is an *Error, else Unknown.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Unknown
}

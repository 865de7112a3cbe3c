// Package wire implements the Halibut framing protocol: length
// prefixed, DEFLATE-compressed, tagged structured messages, each
// optionally followed by raw stream attachments. See spec §4.1 and §6
// for the wire layout; this package is the compatibility-critical
// surface referenced there.
package wire

// ProtocolVersion is the only version this runtime speaks. A peer
// announcing anything else is a ProtocolViolation (spec §4.3).
const ProtocolVersion = 1

// StreamRef is a reference to an out-of-band StreamAttachment, carried
// inline inside Arguments/Result wherever a caller wants to pass a
// large binary payload alongside the structured frame.
type StreamRef struct {
	ID string `cbor:"id"`
}

// IdentityFrame is exchanged immediately after the TLS handshake
// succeeds (spec §4.3). SubscriptionID is empty for a listening
// orientation Connection.
type IdentityFrame struct {
	ProtocolVersion int    `cbor:"protocol_version"`
	SubscriptionID  string `cbor:"subscription_id,omitempty"`
}

// RequestFrame is a single RPC invocation (spec §3).
type RequestFrame struct {
	ID        string        `cbor:"id"`
	Service   string        `cbor:"service"`
	Method    string        `cbor:"method"`
	Arguments []interface{} `cbor:"arguments"`
	StreamIDs []string      `cbor:"stream_ids,omitempty"`
}

// ErrorDescriptor is the wire representation of a failed invocation
// (spec §3, §7). Kind is the rpcerr.Kind name as a string so this
// package does not need to import rpcerr.
type ErrorDescriptor struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
	Detail  string `cbor:"detail,omitempty"`
}

// ResponseFrame carries exactly one of Result or Error (spec §3).
type ResponseFrame struct {
	ID        string           `cbor:"id"`
	Result    interface{}      `cbor:"result,omitempty"`
	Error     *ErrorDescriptor `cbor:"error,omitempty"`
	StreamIDs []string         `cbor:"stream_ids,omitempty"`
}

// frameKind discriminates the tagged union carried by envelope. It is
// a string rather than an int so that captured wire traces are
// self-describing without this package's source at hand.
type frameKind string

const (
	kindIdentity frameKind = "identity"
	kindRequest  frameKind = "request"
	kindResponse frameKind = "response"
)

// envelope is the actual struct handed to the CBOR encoder. Exactly
// one of the pointer fields is non-nil, discriminated by Kind; this
// mirrors the tagged-union requirement of spec §6 while remaining a
// plain Go struct that cbor.Marshal/Unmarshal understand natively,
// unlike a Go interface value.
type envelope struct {
	Kind     frameKind      `cbor:"kind"`
	Identity *IdentityFrame `cbor:"identity,omitempty"`
	Request  *RequestFrame  `cbor:"request,omitempty"`
	Response *ResponseFrame `cbor:"response,omitempty"`
}

// Frame is the sum type read from and written to a Connection. Exactly
// one field is set.
type Frame struct {
	Identity *IdentityFrame
	Request  *RequestFrame
	Response *ResponseFrame

	// StreamIDs lists, in declared order, the attachment ids that
	// follow this frame on the wire. It is populated from whichever
	// of Request.StreamIDs / Response.StreamIDs is present so callers
	// have one place to look regardless of frame kind.
	StreamIDs []string
}

func (f *Frame) toEnvelope() (*envelope, error) {
	switch {
	case f.Identity != nil:
		return &envelope{Kind: kindIdentity, Identity: f.Identity}, nil
	case f.Request != nil:
		return &envelope{Kind: kindRequest, Request: f.Request}, nil
	case f.Response != nil:
		return &envelope{Kind: kindResponse, Response: f.Response}, nil
	default:
		return nil, errNoPayload
	}
}

func fromEnvelope(e *envelope) (*Frame, error) {
	f := &Frame{}
	switch e.Kind {
	case kindIdentity:
		if e.Identity == nil {
			return nil, errMalformed("identity envelope missing identity field")
		}
		f.Identity = e.Identity
	case kindRequest:
		if e.Request == nil {
			return nil, errMalformed("request envelope missing request field")
		}
		f.Request = e.Request
		f.StreamIDs = e.Request.StreamIDs
	case kindResponse:
		if e.Response == nil {
			return nil, errMalformed("response envelope missing response field")
		}
		f.Response = e.Response
		f.StreamIDs = e.Response.StreamIDs
	default:
		return nil, errMalformed("unknown frame kind %q", string(e.Kind))
	}
	return f, nil
}

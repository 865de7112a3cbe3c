package rpc

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hohhen/Halibut/rpcerr"
	"github.com/hohhen/Halibut/wire"
)

// State is a Connection's position in the state machine of spec §4.3.
type State int

const (
	Handshaking State = iota
	Idle
	Busy
	Broken
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// Orientation records which side of the polling inversion a
// Connection serves (spec §4.3, §4.7). A listening-orientation
// Connection's SubscriptionID is always empty.
type Orientation int

const (
	// Listening is an ordinary inbound connection serving requests
	// for the local registry.
	Listening Orientation = iota
	// PollingIn is a connection accepted by a Listener from a remote
	// poller; requests flow from the local side to the remote callee.
	PollingIn
	// PollingOut is the poller's own outbound dial; once the identity
	// handshake completes its role inverts and it runs a Request
	// Dispatcher loop like a callee (spec §4.7).
	PollingOut
)

// Connection is a Secure Channel plus a Framing Codec, carrying the
// state machine and byte counters described in spec §4.3. Connection
// stats (NumBytesRead/NumBytesWritten) are not named in the spec; they
// supplement §4.3's lifecycle with the kind of observability the
// teacher's BasicConn exposes for its socket wrappers.
type Connection struct {
	channel     *SecureChannel
	codec       *wire.Codec
	orientation Orientation
	subID       string

	mu         sync.Mutex
	state      State
	lastUsedAt time.Time

	numRead    int64
	numWritten int64
}

// newConnection wraps an already-trusted SecureChannel. state starts
// at Handshaking; callers must call identify (server or client side)
// before using the Connection for request traffic. transport is the
// byte stream the framing codec actually reads and writes; it is
// channel itself for bare TLS, or a WebSocket-wrapped net.Conn once
// upgradeWebSocket has taken over the stream (spec §6 wss://).
func newConnection(channel *SecureChannel, transport io.ReadWriter) *Connection {
	c := &Connection{channel: channel, state: Handshaking}
	c.codec = wire.NewCodec(&countingConn{rw: transport, c: c})
	return c
}

// countingConn wraps the codec's transport with byte counters, the
// same BasicConn pattern the teacher uses to track
// NumBytesRead/NumBytesWritten on its socket wrappers.
type countingConn struct {
	rw io.ReadWriter
	c  *Connection
}

func (w *countingConn) Read(p []byte) (int, error) {
	n, err := w.rw.Read(p)
	atomic.AddInt64(&w.c.numRead, int64(n))
	return n, err
}

func (w *countingConn) Write(p []byte) (int, error) {
	n, err := w.rw.Write(p)
	atomic.AddInt64(&w.c.numWritten, int64(n))
	return n, err
}

// State returns the Connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SubscriptionID is non-empty only for PollingIn/PollingOut
// connections (spec §4.3).
func (c *Connection) SubscriptionID() string { return c.subID }

// Orientation reports which side of the polling inversion this
// Connection serves.
func (c *Connection) Orientation() Orientation { return c.orientation }

// PeerThumbprint returns the thumbprint fixed at handshake time.
func (c *Connection) PeerThumbprint() string { return c.channel.PeerThumbprint() }

// NumBytesRead and NumBytesWritten report cumulative traffic, for the
// aggregate stats the Runtime exposes (rpc/stats.go).
func (c *Connection) NumBytesRead() int64    { return atomic.LoadInt64(&c.numRead) }
func (c *Connection) NumBytesWritten() int64 { return atomic.LoadInt64(&c.numWritten) }

// Close tears down the underlying channel and marks the Connection
// Broken, regardless of its prior state.
func (c *Connection) Close() error {
	c.setState(Broken)
	return c.channel.Close()
}

// identifyAsServer completes the listening/polling-in side of the
// identity sub-handshake: it reads the peer's IdentityFrame and, if
// valid, writes its own back. subscriptionID is returned from the
// peer's frame so the Listener can route the Connection (spec §4.5).
func (c *Connection) identifyAsServer(local *Identity) (subscriptionID string, err error) {
	frame, _, err := c.codec.ReadFrame()
	if err != nil {
		c.setState(Broken)
		return "", rpcerr.Wrap(rpcerr.ProtocolViolation, err, "reading identity frame")
	}
	if frame.Identity == nil {
		c.setState(Broken)
		return "", rpcerr.New(rpcerr.ProtocolViolation, "expected identity frame, got %v", frame)
	}
	if frame.Identity.ProtocolVersion != wire.ProtocolVersion {
		c.setState(Broken)
		return "", rpcerr.New(rpcerr.ProtocolViolation, "unsupported protocol version %d", frame.Identity.ProtocolVersion)
	}

	reply := &wire.Frame{Identity: &wire.IdentityFrame{ProtocolVersion: wire.ProtocolVersion}}
	if err := c.codec.WriteFrame(reply, nil); err != nil {
		c.setState(Broken)
		return "", rpcerr.Wrap(rpcerr.ProtocolViolation, err, "writing identity reply")
	}

	c.subID = frame.Identity.SubscriptionID
	if c.subID != "" {
		c.orientation = PollingIn
	} else {
		c.orientation = Listening
	}
	c.markIdle()
	return c.subID, nil
}

// identifyAsClient completes the polling-out side: it writes the
// local identity frame (declaring subscriptionID, which is empty for
// a plain outbound client connection) and waits for the peer's reply.
func (c *Connection) identifyAsClient(local *Identity, subscriptionID string) error {
	out := &wire.Frame{Identity: &wire.IdentityFrame{
		ProtocolVersion: wire.ProtocolVersion,
		SubscriptionID:  subscriptionID,
	}}
	if err := c.codec.WriteFrame(out, nil); err != nil {
		c.setState(Broken)
		return rpcerr.Wrap(rpcerr.ProtocolViolation, err, "writing identity frame")
	}

	frame, _, err := c.codec.ReadFrame()
	if err != nil {
		c.setState(Broken)
		return rpcerr.Wrap(rpcerr.ProtocolViolation, err, "reading identity reply")
	}
	if frame.Identity == nil || frame.Identity.ProtocolVersion != wire.ProtocolVersion {
		c.setState(Broken)
		return rpcerr.New(rpcerr.ProtocolViolation, "invalid identity reply %v", frame)
	}

	c.subID = subscriptionID
	if subscriptionID != "" {
		c.orientation = PollingOut
	} else {
		c.orientation = Listening
	}
	c.markIdle()
	return nil
}

func (c *Connection) markIdle() {
	c.mu.Lock()
	c.state = Idle
	c.lastUsedAt = time.Now()
	c.mu.Unlock()
}

// acquire transitions Idle -> Busy, reporting false if the Connection
// was not Idle (already taken, or Broken).
func (c *Connection) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return false
	}
	c.state = Busy
	return true
}

// release transitions Busy -> Idle and stamps last_used_at, per the
// pool's stated acquire() semantics (spec §4.4); it is a no-op if the
// Connection is already Broken.
func (c *Connection) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Broken {
		return
	}
	c.state = Idle
	c.lastUsedAt = time.Now()
}

// idleFor reports how long the Connection has sat Idle, for the
// pool's staleness check (spec §4.4).
func (c *Connection) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return 0
	}
	return time.Since(c.lastUsedAt)
}

// invoke sends a request frame and waits for the matching response.
// It is only valid on a Busy Connection owned exclusively by the
// caller (the Client Proxy never shares a Connection across
// concurrent invocations).
func (c *Connection) invoke(req *wire.RequestFrame, attachments []wire.AttachmentSource) (*wire.ResponseFrame, []*wire.StreamReader, error) {
	if err := c.codec.WriteFrame(&wire.Frame{Request: req, StreamIDs: req.StreamIDs}, attachments); err != nil {
		c.setState(Broken)
		return nil, nil, rpcerr.Wrap(rpcerr.ConnectionClosed, err, "writing request")
	}

	frame, streams, err := c.codec.ReadFrame()
	if err != nil {
		c.setState(Broken)
		return nil, nil, rpcerr.Wrap(rpcerr.ConnectionClosed, err, "reading response")
	}
	if frame.Response == nil {
		c.setState(Broken)
		return nil, nil, rpcerr.New(rpcerr.ProtocolViolation, "expected response frame, got %v", frame)
	}
	if frame.Response.ID != req.ID {
		c.setState(Broken)
		return nil, nil, rpcerr.New(rpcerr.ProtocolViolation, "response id %q does not match request id %q", frame.Response.ID, req.ID)
	}
	return frame.Response, streams, nil
}

// readRequest and writeResponse are the callee-side primitives used
// by the Request Dispatcher loop (rpc/dispatcher.go).
func (c *Connection) readRequest() (*wire.RequestFrame, []*wire.StreamReader, error) {
	frame, streams, err := c.codec.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	if frame.Request == nil {
		return nil, nil, fmt.Errorf("rpc: expected request frame, got %v", frame)
	}
	return frame.Request, streams, nil
}

func (c *Connection) writeResponse(resp *wire.ResponseFrame, attachments []wire.AttachmentSource) error {
	return c.codec.WriteFrame(&wire.Frame{Response: resp, StreamIDs: resp.StreamIDs}, attachments)
}

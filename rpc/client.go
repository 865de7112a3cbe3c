package rpc

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/hohhen/Halibut/rpcerr"
	"github.com/hohhen/Halibut/wire"
)

// ClientProxy is the caller-side entry point bound to one Endpoint
// (spec §4.8). A Runtime hands one out per distinct Endpoint via
// Runtime.Client.
type ClientProxy struct {
	endpoint Endpoint
	pool     *ConnectionPool
	polls    *pollRegistry
}

// Invoke performs one request/response round trip against the
// Connection acquired for the ClientProxy's endpoint, per spec §4.8.
func (c *ClientProxy) Invoke(service, method string, args []interface{}, attachments ...wire.AttachmentSource) (interface{}, []*wire.StreamReader, error) {
	conn, fromQueue, err := c.acquire()
	if err != nil {
		return nil, nil, err
	}

	if c.endpoint.ExpectedThumbprint != "" && conn.PeerThumbprint() != c.endpoint.ExpectedThumbprint {
		conn.Close()
		return nil, nil, rpcerr.New(rpcerr.UntrustedPeer, "peer thumbprint %s does not match expected %s", conn.PeerThumbprint(), c.endpoint.ExpectedThumbprint)
	}

	streamIDs := make([]string, len(attachments))
	for i, a := range attachments {
		streamIDs[i] = a.ID
	}

	req := &wire.RequestFrame{
		ID:        newRequestID(),
		Service:   service,
		Method:    method,
		Arguments: args,
		StreamIDs: streamIDs,
	}

	resp, streams, err := conn.invoke(req, attachments)
	if err != nil {
		c.discard(conn, fromQueue)
		return nil, nil, err
	}

	if resp.Error != nil {
		c.release(conn, fromQueue)
		return nil, nil, &rpcerr.Error{
			Kind:    rpcerr.ParseKind(resp.Error.Kind),
			Message: resp.Error.Message,
			Detail:  resp.Error.Detail,
		}
	}

	c.release(conn, fromQueue)
	return resp.Result, streams, nil
}

func (c *ClientProxy) acquire() (conn *Connection, fromQueue bool, err error) {
	switch c.endpoint.Scheme {
	case SchemeTLS:
		conn, err = c.pool.Acquire(c.endpoint)
		return conn, false, err
	case SchemePoll:
		conn, ok := c.polls.take(c.endpoint.Authority)
		if !ok {
			return nil, true, rpcerr.New(rpcerr.Shutdown, "poll subscription %q is shutting down", c.endpoint.Authority)
		}
		if !conn.acquire() {
			return nil, true, rpcerr.New(rpcerr.ConnectionClosed, "polling connection for %q was already closed", c.endpoint.Authority)
		}
		return conn, true, nil
	default:
		return nil, false, rpcerr.New(rpcerr.ProtocolViolation, "unknown endpoint scheme %q", c.endpoint.Scheme)
	}
}

func (c *ClientProxy) release(conn *Connection, fromQueue bool) {
	if fromQueue {
		c.polls.release(c.endpoint.Authority, conn)
		return
	}
	c.pool.Release(c.endpoint, conn)
}

func (c *ClientProxy) discard(conn *Connection, fromQueue bool) {
	conn.Close()
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

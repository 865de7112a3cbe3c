package rpc

import (
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/hohhen/Halibut/registry"
	"github.com/hohhen/Halibut/rpcerr"
	"github.com/hohhen/Halibut/rpclog"
)

// pollRegistry is the Listener-side bookkeeping of spec §4.7's
// inversion: a PollQueue per subscription id, populated by accepted
// polling-in Connections and drained by the Client Proxy when a local
// caller invokes a poll:// endpoint.
type pollRegistry struct {
	queues sync.Map // subscriptionID string -> *PollQueue
}

func newPollRegistry() *pollRegistry {
	return &pollRegistry{}
}

func (p *pollRegistry) queueFor(subscriptionID string) *PollQueue {
	v, _ := p.queues.LoadOrStore(subscriptionID, NewPollQueue())
	return v.(*PollQueue)
}

// register offers an accepted polling-in Connection to the queue for
// its subscription id (spec §4.5 step 4).
func (p *pollRegistry) register(subscriptionID string, conn *Connection) error {
	return p.queueFor(subscriptionID).Offer(conn)
}

// take blocks until a polling-in Connection is available for
// subscriptionID, used by the Client Proxy servicing a poll://
// invocation (spec §4.8).
func (p *pollRegistry) take(subscriptionID string) (*Connection, bool) {
	return p.queueFor(subscriptionID).Take()
}

// release returns conn to its subscription's queue for reuse by a
// later invocation, mirroring ConnectionPool.Release but keyed by
// subscription id rather than Endpoint.
func (p *pollRegistry) release(subscriptionID string, conn *Connection) {
	conn.release()
	if conn.State() != Idle {
		conn.Close()
		return
	}
	if err := p.queueFor(subscriptionID).Offer(conn); err != nil {
		conn.Close()
	}
}

func (p *pollRegistry) closeAll() {
	p.queues.Range(func(_, v interface{}) bool {
		v.(*PollQueue).Close()
		return true
	})
}

// DefaultBackoffMin and DefaultBackoffMax bound a Poller's
// reconnection delay (spec §4.7: "start 1 s, cap 30 s, full-jitter").
const (
	DefaultBackoffMin = 1 * time.Second
	DefaultBackoffMax = 30 * time.Second
)

// Poller maintains one outbound Connection for a single subscription,
// redialing with exponential backoff and full jitter whenever the
// connection breaks (spec §4.7). This mirrors the teacher's own
// connectionLoop in share/client.go, which uses the same
// jpillora/backoff discipline to keep a tunnel client attached to its
// server.
type Poller struct {
	sub      PollerSubscription
	identity *Identity
	trust    *TrustSet
	registry registry.Registry
	lc       *lifecycle
	logger   rpclog.Logger

	mu      sync.Mutex
	current *Connection
}

func newPoller(sub PollerSubscription, identity *Identity, trust *TrustSet, reg registry.Registry, logger rpclog.Logger) *Poller {
	return &Poller{
		sub:      sub,
		identity: identity,
		trust:    trust,
		registry: reg,
		lc:       newLifecycle(),
		logger:   logger,
	}
}

func (p *Poller) start() {
	release, ok := p.lc.track()
	if !ok {
		return
	}
	go func() {
		defer release()
		p.loop()
	}()
}

func (p *Poller) loop() {
	b := &backoff.Backoff{Min: DefaultBackoffMin, Max: DefaultBackoffMax, Jitter: true}
	for {
		select {
		case <-p.lc.Done():
			return
		default:
		}

		conn, err := p.dial()
		if err != nil {
			delay := b.Duration()
			p.logger.Warnf("poll subscription %q: dial failed: %s; retrying in %s", p.sub.SubscriptionID, err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-p.lc.Done():
				return
			}
		}
		b.Reset()

		// Role inversion: the polling side is now the callee (spec
		// §4.7 step 2). runDispatcher blocks until the connection
		// breaks or the lifecycle ends. setCurrent lets shutdown
		// force-close this connection if runDispatcher is still
		// blocked in a read when the grace period elapses.
		p.setCurrent(conn)
		runDispatcher(p.lc, conn, p.registry, p.logger)
		p.setCurrent(nil)

		select {
		case <-p.lc.Done():
			return
		default:
		}
	}
}

func (p *Poller) dial() (*Connection, error) {
	raw, err := net.DialTimeout("tcp", p.sub.RemoteEndpoint.Authority, DefaultHandshakeTimeout)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.HandshakeFailed, err, "dialing %s", p.sub.RemoteEndpoint.Authority)
	}

	channel, err := ClientHandshake(raw, p.identity, 0)
	if err != nil {
		return nil, err
	}
	if err := checkTrust(channel, p.trust); err != nil {
		return nil, err
	}
	if p.sub.RemoteEndpoint.ExpectedThumbprint != "" && channel.PeerThumbprint() != p.sub.RemoteEndpoint.ExpectedThumbprint {
		channel.Close()
		return nil, rpcerr.New(rpcerr.UntrustedPeer, "peer thumbprint %s does not match expected %s", channel.PeerThumbprint(), p.sub.RemoteEndpoint.ExpectedThumbprint)
	}

	conn := newConnection(channel, channel)
	if err := conn.identifyAsClient(p.identity, p.sub.SubscriptionID); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *Poller) setCurrent(c *Connection) {
	p.mu.Lock()
	p.current = c
	p.mu.Unlock()
}

// closeCurrent force-closes whatever connection the poll loop is
// currently driving through runDispatcher, so shutdown's grace timer
// can actually evict a peer that has gone silent rather than waiting
// on it forever.
func (p *Poller) closeCurrent() {
	p.mu.Lock()
	c := p.current
	p.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// shutdown stops redialing and waits for the in-flight dispatch loop
// to finish, within grace. Once grace elapses it force-closes the
// current connection so the wait below is guaranteed to return (spec
// §5, §6).
func (p *Poller) shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		p.lc.shutdownNow()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(grace):
	}
	p.closeCurrent()
	<-done
}

package rpc

import (
	"net"
	"sync"
	"time"

	"github.com/hohhen/Halibut/registry"
	"github.com/hohhen/Halibut/rpcerr"
	"github.com/hohhen/Halibut/rpclog"
)

// DefaultShutdownGrace is how long Shutdown waits for in-flight
// dispatch to finish best-effort before closing sockets out from
// under them (spec §5: "in-flight dispatch completes best-effort
// within a grace period (default 5 s)").
const DefaultShutdownGrace = 5 * time.Second

// RuntimeConfig configures a Runtime at construction (spec §4.9).
type RuntimeConfig struct {
	Identity *Identity
	Trust    *TrustSet
	Registry registry.Registry
	Logger   rpclog.Logger

	// ShutdownGrace overrides DefaultShutdownGrace when non-zero.
	ShutdownGrace time.Duration

	// PoolIdleDeadline and PoolMaxIdle override the connection pool's
	// DefaultIdleDeadline/DefaultPoolSize (pool.go) when non-zero.
	PoolIdleDeadline time.Duration
	PoolMaxIdle      int
}

// Runtime owns identity, trust set, registry reference, Listener(s),
// Poller(s), and the connection pools (spec §4.9).
type Runtime struct {
	identity *Identity
	trust    *TrustSet
	registry registry.Registry
	logger   rpclog.Logger
	grace    time.Duration

	pool  *ConnectionPool
	polls *pollRegistry

	mu        sync.Mutex
	listeners []*Listener
	pollers   []*Poller
	closed    bool
}

// NewRuntime constructs a Runtime from cfg. Registry and Trust default
// to an empty registry.MemoryRegistry and an empty TrustSet if left
// nil, so a Runtime can be built incrementally and trusted/registered
// with afterward.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Registry == nil {
		cfg.Registry = registry.NewMemoryRegistry()
	}
	if cfg.Trust == nil {
		cfg.Trust = NewTrustSet()
	}
	if cfg.Logger == nil {
		cfg.Logger = rpclog.Nop()
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	rt := &Runtime{
		identity: cfg.Identity,
		trust:    cfg.Trust,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		grace:    grace,
		polls:    newPollRegistry(),
	}
	rt.pool = NewConnectionPool(rt.dialTLS)
	if cfg.PoolIdleDeadline > 0 {
		rt.pool.idleDeadline = cfg.PoolIdleDeadline
	}
	if cfg.PoolMaxIdle > 0 {
		rt.pool.maxIdle = cfg.PoolMaxIdle
	}
	return rt
}

// Trust adds thumbprint to the Runtime's trust set (spec §4.9
// trust(thumbprint)).
func (rt *Runtime) Trust(thumbprint string) { rt.trust.Trust(thumbprint) }

// Revoke removes thumbprint from the Runtime's trust set.
func (rt *Runtime) Revoke(thumbprint string) { rt.trust.Revoke(thumbprint) }

// Registry returns the registry the Runtime dispatches requests
// against, so callers can Add/Remove services after construction.
func (rt *Runtime) Registry() registry.Registry { return rt.registry }

// ListenOn binds cfg.Address (spec §4.9 listen_on(address)) and starts
// accepting. It returns the started Listener, whose Addr reports the
// bound address.
func (rt *Runtime) ListenOn(cfg ListenerConfig) (*Listener, error) {
	l := newListener(cfg, rt.identity, rt.trust, rt.registry, rt.polls, rt.logger)
	if err := l.start(); err != nil {
		return nil, err
	}
	rt.mu.Lock()
	rt.listeners = append(rt.listeners, l)
	rt.mu.Unlock()
	return l, nil
}

// Listen binds an ephemeral port (spec §4.9 listen() -> port) with
// default listener settings and returns it.
func (rt *Runtime) Listen() (net.Addr, error) {
	l, err := rt.ListenOn(ListenerConfig{Address: ":0"})
	if err != nil {
		return nil, err
	}
	return l.Addr(), nil
}

// Poll starts maintaining an outbound Connection for sub (spec §4.9
// poll(subscription_uri, remote_endpoint)).
func (rt *Runtime) Poll(sub PollerSubscription) {
	p := newPoller(sub, rt.identity, rt.trust, rt.registry, rt.logger)
	rt.mu.Lock()
	rt.pollers = append(rt.pollers, p)
	rt.mu.Unlock()
	p.start()
}

// Client returns a caller-side proxy bound to endpoint (spec §4.9
// client(endpoint) -> proxy).
func (rt *Runtime) Client(endpoint Endpoint) *ClientProxy {
	return &ClientProxy{endpoint: endpoint, pool: rt.pool, polls: rt.polls}
}

func (rt *Runtime) dialTLS(endpoint Endpoint) (*Connection, error) {
	raw, err := net.DialTimeout("tcp", endpoint.Authority, DefaultHandshakeTimeout)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.HandshakeFailed, err, "dialing %s", endpoint.Authority)
	}
	channel, err := ClientHandshake(raw, rt.identity, 0)
	if err != nil {
		return nil, err
	}
	if err := checkTrust(channel, rt.trust); err != nil {
		return nil, err
	}
	conn := newConnection(channel, channel)
	if err := conn.identifyAsClient(rt.identity, ""); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Shutdown drains pools, closes listeners, and stops pollers, within
// the Runtime's configured grace period (spec §4.9, §5).
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	listeners := rt.listeners
	pollers := rt.pollers
	rt.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			l.shutdown(rt.grace)
		}(l)
	}
	for _, p := range pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.shutdown(rt.grace)
		}(p)
	}
	wg.Wait()

	rt.polls.closeAll()
	rt.pool.Drain()
}

// Stats aggregates byte counters across every pooled idle connection
// the Runtime currently knows about (rpc/stats.go).
func (rt *Runtime) Stats() Stats {
	return aggregateStats(rt.pool)
}

package rpc

import (
	"sync"
	"time"

	"github.com/hohhen/Halibut/rpcerr"
)

// DefaultIdleDeadline is how long a pooled Connection may sit Idle
// before acquire() discards it as stale (spec §4.4).
const DefaultIdleDeadline = 60 * time.Second

// DefaultPoolSize is the soft per-endpoint bound on Idle connections
// (spec §4.4). Connections released past this bound are closed
// immediately instead of being pushed back.
const DefaultPoolSize = 5

// dialFunc dials a fresh Connection for an endpoint, used by the pool
// when it has nothing Idle to offer (spec §4.4 step 2).
type dialFunc func(endpoint Endpoint) (*Connection, error)

// ConnectionPool is a per-endpoint LIFO of Idle connections (spec
// §4.4): LIFO keeps recently used sockets warm rather than round
// robining through ones that may have gone stale.
type ConnectionPool struct {
	idleDeadline time.Duration
	maxIdle      int
	dial         dialFunc

	mu    sync.Mutex
	stack map[Endpoint][]*Connection
}

// NewConnectionPool creates a pool that dials via dial when it has no
// Idle Connection to reuse.
func NewConnectionPool(dial dialFunc) *ConnectionPool {
	return &ConnectionPool{
		idleDeadline: DefaultIdleDeadline,
		maxIdle:      DefaultPoolSize,
		dial:         dial,
		stack:        make(map[Endpoint][]*Connection),
	}
}

// Acquire pops the most recently released Idle connection for
// endpoint, discarding stale or dead ones, dialing a new Connection
// if the pool is empty (spec §4.4).
func (p *ConnectionPool) Acquire(endpoint Endpoint) (*Connection, error) {
	for {
		conn, ok := p.pop(endpoint)
		if !ok {
			break
		}
		if conn.idleFor() > p.idleDeadline {
			conn.Close()
			continue
		}
		if !conn.acquire() {
			// Raced with eviction/shutdown; it is no longer Idle.
			continue
		}
		return conn, nil
	}
	conn, err := p.dial(endpoint)
	if err != nil {
		return nil, err
	}
	if !conn.acquire() {
		conn.Close()
		return nil, rpcerr.New(rpcerr.ConnectionClosed, "freshly dialed connection to %s was not idle", endpoint)
	}
	return conn, nil
}

func (p *ConnectionPool) pop(endpoint Endpoint) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stack := p.stack[endpoint]
	if len(stack) == 0 {
		return nil, false
	}
	conn := stack[len(stack)-1]
	p.stack[endpoint] = stack[:len(stack)-1]
	return conn, true
}

// Release returns conn to endpoint's pool if it is Idle (or marks it
// released once the caller has put it back to Idle) and there's room
// under the soft bound; otherwise the Connection is closed (spec
// §4.4). release() is idempotent with respect to Close in the sense
// that a Broken Connection is simply dropped here.
func (p *ConnectionPool) Release(endpoint Endpoint, conn *Connection) {
	conn.release()
	if conn.State() != Idle {
		conn.Close()
		return
	}

	p.mu.Lock()
	stack := p.stack[endpoint]
	if len(stack) >= p.maxIdle {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.stack[endpoint] = append(stack, conn)
	p.mu.Unlock()
}

// Drain closes every Idle connection in every endpoint's pool, for
// orderly runtime shutdown (spec §4.4: "On runtime shutdown all
// connections are drained").
func (p *ConnectionPool) Drain() {
	p.mu.Lock()
	all := p.stack
	p.stack = make(map[Endpoint][]*Connection)
	p.mu.Unlock()

	for _, stack := range all {
		for _, conn := range stack {
			conn.Close()
		}
	}
}

// Len reports the number of Idle connections currently pooled for
// endpoint, for tests and stats.
func (p *ConnectionPool) Len(endpoint Endpoint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack[endpoint])
}

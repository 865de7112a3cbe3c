package rpc

import (
	"sync"

	"github.com/hohhen/Halibut/rpcerr"
)

// DefaultQueueCapacity bounds a single subscription's poll queue
// (spec §4.7 inversion / §8 QueueFull).
const DefaultQueueCapacity = 1000

// PollQueue holds the inbound PollingIn Connections registered for
// one subscription id, so the local caller side (the Listener's peer,
// per spec §4.5 step 4) has somewhere to park a connection servicing
// that subscription until a caller needs to invoke on it.
//
// This is a bounded FIFO, not a pool: a Connection taken out by Take
// comes back only through a fresh Offer, which pollRegistry.release
// makes once an invocation has left the Connection Idle; a Connection
// that broke is closed instead of being offered again.
type PollQueue struct {
	capacity int

	mu     sync.Mutex
	cond   *sync.Cond
	q      []*Connection
	closed bool
}

// NewPollQueue creates an empty queue with the default capacity.
func NewPollQueue() *PollQueue {
	pq := &PollQueue{capacity: DefaultQueueCapacity}
	pq.cond = sync.NewCond(&pq.mu)
	return pq
}

// Offer enqueues conn, returning rpcerr.QueueFull if the queue is
// already at capacity (spec §7/§8).
func (pq *PollQueue) Offer(conn *Connection) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.closed {
		return rpcerr.New(rpcerr.Shutdown, "poll queue is closed")
	}
	if len(pq.q) >= pq.capacity {
		return rpcerr.New(rpcerr.QueueFull, "poll queue at capacity (%d)", pq.capacity)
	}
	pq.q = append(pq.q, conn)
	pq.cond.Signal()
	return nil
}

// Take removes and returns the oldest queued Connection, blocking
// until one is available or the queue is closed (in which case ok is
// false).
func (pq *PollQueue) Take() (conn *Connection, ok bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	for len(pq.q) == 0 && !pq.closed {
		pq.cond.Wait()
	}
	if len(pq.q) == 0 {
		return nil, false
	}
	conn = pq.q[0]
	pq.q = pq.q[1:]
	return conn, true
}

// TryTake removes and returns the oldest queued Connection without
// blocking.
func (pq *PollQueue) TryTake() (conn *Connection, ok bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.q) == 0 {
		return nil, false
	}
	conn = pq.q[0]
	pq.q = pq.q[1:]
	return conn, true
}

// Len reports the number of Connections currently queued.
func (pq *PollQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.q)
}

// Close wakes every blocked Take and causes future Offers to fail.
// Queued connections are closed.
func (pq *PollQueue) Close() {
	pq.mu.Lock()
	pq.closed = true
	pending := pq.q
	pq.q = nil
	pq.cond.Broadcast()
	pq.mu.Unlock()

	for _, conn := range pending {
		conn.Close()
	}
}

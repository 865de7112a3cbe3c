package rpc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hohhen/Halibut/internal/testcert"
)

// TestRuntimeShutdownForceClosesStuckDispatcher exercises spec §5's
// grace period and §6's "guaranteed release of sockets on any exit
// path": a dispatcher parked in conn.readRequest on a silent peer must
// not be able to hang Runtime.Shutdown past the configured grace
// period.
func TestRuntimeShutdownForceClosesStuckDispatcher(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	nodePair := testcert.MustGenerate("node")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)
	nodeID, err := NewIdentity(nodePair.Certificate)
	require.NoError(t, err)

	hub := NewRuntime(RuntimeConfig{
		Identity:      hubID,
		Trust:         NewTrustSet(nodePair.Thumbprint),
		ShutdownGrace: 200 * time.Millisecond,
	})

	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	raw, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer raw.Close()

	channel, err := ClientHandshake(raw, nodeID, 0)
	require.NoError(t, err)
	require.NoError(t, checkTrust(channel, NewTrustSet(hubPair.Thumbprint)))

	conn := newConnection(channel, channel)
	require.NoError(t, conn.identifyAsClient(nodeID, ""))

	// Deliberately leave conn open and silent: the hub's dispatcher
	// goroutine is now parked in conn.readRequest with no read
	// deadline, which used to hang Shutdown indefinitely.

	done := make(chan struct{})
	go func() {
		hub.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return within a bounded time past its grace period")
	}
}

// TestPollerShutdownForceClosesStuckDispatcher is the Poller-side
// counterpart: the role-inverted connection a Poller drives through
// runDispatcher must also be force-closed once the grace period
// elapses, even though the Poller side dialed out rather than
// accepted.
func TestPollerShutdownForceClosesStuckDispatcher(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	nodePair := testcert.MustGenerate("node")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)
	nodeID, err := NewIdentity(nodePair.Certificate)
	require.NoError(t, err)

	hub := NewRuntime(RuntimeConfig{Identity: hubID, Trust: NewTrustSet(nodePair.Thumbprint)})
	defer hub.Shutdown()
	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	node := NewRuntime(RuntimeConfig{
		Identity:      nodeID,
		Trust:         NewTrustSet(hubPair.Thumbprint),
		ShutdownGrace: 200 * time.Millisecond,
	})

	node.Poll(PollerSubscription{
		SubscriptionID: "node-stuck",
		RemoteEndpoint: NewTLSEndpoint(l.Addr().String(), hubPair.Thumbprint),
	})

	// Give the poller time to dial, identify, and park in
	// runDispatcher's readRequest before shutting it down; nothing on
	// either side ever issues a request.
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		node.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return within a bounded time past its grace period")
	}
}

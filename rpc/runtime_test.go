package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hohhen/Halibut/internal/testcert"
	"github.com/hohhen/Halibut/registry"
)

func TestRuntimeListeningInvoke(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	nodePair := testcert.MustGenerate("node")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)
	nodeID, err := NewIdentity(nodePair.Certificate)
	require.NoError(t, err)

	reg := registry.NewMemoryRegistry()
	svc := registry.NewMemoryService("math")
	svc.RegisterFunc("Add", func(ctx context.Context, a, b int64) (interface{}, error) {
		return a + b, nil
	})
	reg.Add(svc)

	hub := NewRuntime(RuntimeConfig{Identity: hubID, Trust: NewTrustSet(nodePair.Thumbprint), Registry: reg})
	defer hub.Shutdown()

	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	addr := l.Addr()

	node := NewRuntime(RuntimeConfig{Identity: nodeID, Trust: NewTrustSet(hubPair.Thumbprint)})
	defer node.Shutdown()

	client := node.Client(NewTLSEndpoint(addr.String(), hubPair.Thumbprint))
	result, _, err := client.Invoke("math", "Add", []interface{}{int64(2), int64(3)})
	require.NoError(t, err)
	require.Equal(t, int64(5), result)
}

// TestRuntimePollingInversion exercises the full polling inversion of
// spec §4.7: node dials out to hub and declares a subscription id;
// hub parks that connection in its poll queue; a local caller on the
// hub side invokes poll://<subscription id> and the request actually
// flows over the node's outbound socket to the node's own registry.
func TestRuntimePollingInversion(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	nodePair := testcert.MustGenerate("node")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)
	nodeID, err := NewIdentity(nodePair.Certificate)
	require.NoError(t, err)

	nodeReg := registry.NewMemoryRegistry()
	svc := registry.NewMemoryService("math")
	svc.RegisterFunc("Add", func(ctx context.Context, a, b int64) (interface{}, error) {
		return a + b, nil
	})
	nodeReg.Add(svc)

	hub := NewRuntime(RuntimeConfig{Identity: hubID, Trust: NewTrustSet(nodePair.Thumbprint)})
	defer hub.Shutdown()
	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	addr := l.Addr()

	node := NewRuntime(RuntimeConfig{Identity: nodeID, Trust: NewTrustSet(hubPair.Thumbprint), Registry: nodeReg})
	defer node.Shutdown()

	node.Poll(PollerSubscription{
		SubscriptionID: "node-1",
		RemoteEndpoint: NewTLSEndpoint(addr.String(), hubPair.Thumbprint),
	})

	client := hub.Client(NewPollEndpoint("node-1", nodePair.Thumbprint))

	var result interface{}
	require.Eventually(t, func() bool {
		var invokeErr error
		result, _, invokeErr = client.Invoke("math", "Add", []interface{}{int64(10), int64(20)})
		return invokeErr == nil
	}, 3*time.Second, 20*time.Millisecond, "poller should eventually connect and service the subscription")

	require.Equal(t, int64(30), result)
}

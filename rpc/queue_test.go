package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hohhen/Halibut/rpcerr"
)

func TestQueueFIFOOrder(t *testing.T) {
	pq := NewPollQueue()
	conn1 := newIdleTestConnection(t)
	conn2 := newIdleTestConnection(t)

	require.NoError(t, pq.Offer(conn1))
	require.NoError(t, pq.Offer(conn2))
	require.Equal(t, 2, pq.Len())

	got1, ok := pq.TryTake()
	require.True(t, ok)
	require.Same(t, conn1, got1)

	got2, ok := pq.TryTake()
	require.True(t, ok)
	require.Same(t, conn2, got2)

	_, ok = pq.TryTake()
	require.False(t, ok)
}

func TestQueueOfferFullReturnsQueueFull(t *testing.T) {
	pq := NewPollQueue()
	pq.capacity = 1

	require.NoError(t, pq.Offer(newIdleTestConnection(t)))
	err := pq.Offer(newIdleTestConnection(t))
	require.Error(t, err)
	require.Equal(t, rpcerr.QueueFull, rpcerr.KindOf(err))
}

func TestQueueCloseWakesBlockedTake(t *testing.T) {
	pq := NewPollQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := pq.Take()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	pq.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake up after Close")
	}
}

func TestQueueOfferAfterCloseFails(t *testing.T) {
	pq := NewPollQueue()
	pq.Close()

	err := pq.Offer(newIdleTestConnection(t))
	require.Error(t, err)
	require.Equal(t, rpcerr.Shutdown, rpcerr.KindOf(err))
}

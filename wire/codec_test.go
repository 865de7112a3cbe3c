package wire

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewCodec(client)
	sc := NewCodec(server)

	req := &RequestFrame{
		ID:        "req-1",
		Service:   "greeter",
		Method:    "Hello",
		Arguments: []interface{}{"world", int64(42)},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var writeErr error
	go func() {
		defer wg.Done()
		writeErr = cc.WriteFrame(&Frame{Request: req}, nil)
	}()

	frame, streams, err := sc.ReadFrame()
	wg.Wait()
	require.NoError(t, writeErr)
	require.NoError(t, err)
	require.Empty(t, streams)
	require.NotNil(t, frame.Request)
	require.Equal(t, req.ID, frame.Request.ID)
	require.Equal(t, req.Service, frame.Request.Service)
	require.Equal(t, req.Method, frame.Request.Method)
	require.Equal(t, "world", frame.Request.Arguments[0])
}

func TestCodecRoundTripIdentity(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewCodec(client)
	sc := NewCodec(server)

	ident := &IdentityFrame{ProtocolVersion: ProtocolVersion, SubscriptionID: "sub-1"}

	go func() {
		_ = cc.WriteFrame(&Frame{Identity: ident}, nil)
	}()

	frame, _, err := sc.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, frame.Identity)
	require.Equal(t, ProtocolVersion, frame.Identity.ProtocolVersion)
	require.Equal(t, "sub-1", frame.Identity.SubscriptionID)
}

func TestCodecAttachmentRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewCodec(client)
	sc := NewCodec(server)

	payload := []byte(strings.Repeat("x", 5000))
	resp := &ResponseFrame{ID: "req-1", Result: "ok", StreamIDs: []string{"att-1"}}

	var percents []int
	var mu sync.Mutex

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		_ = cc.WriteFrame(&Frame{Response: resp, StreamIDs: resp.StreamIDs}, []AttachmentSource{
			{
				ID:     "att-1",
				Length: int64(len(payload)),
				Reader: bytes.NewReader(payload),
				Progress: func(pct int) {
					mu.Lock()
					percents = append(percents, pct)
					mu.Unlock()
				},
			},
		})
	}()

	_, streams, err := sc.ReadFrame()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, "att-1", streams[0].ID)

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 512)
	for {
		n, err := streams[0].Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	require.Equal(t, payload, got)
	require.True(t, streams[0].drained)

	// Progress is reported after each write of the attachment returns,
	// which on a net.Pipe is after the reader above consumed the bytes;
	// WriteFrame returns only once every callback has run.
	<-writeDone

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, percents)
	require.Equal(t, 100, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		require.Greater(t, percents[i], percents[i-1])
	}
}

func TestCodecRejectsSkippedAttachment(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewCodec(client)
	sc := NewCodec(server)

	resp := &ResponseFrame{ID: "req-1", Result: "ok", StreamIDs: []string{"att-1"}}
	go func() {
		_ = cc.WriteFrame(&Frame{Response: resp, StreamIDs: resp.StreamIDs}, []AttachmentSource{
			{ID: "att-1", Length: 3, Reader: bytes.NewReader([]byte("abc"))},
		})
		_ = cc.WriteFrame(&Frame{Response: &ResponseFrame{ID: "req-2", Result: "ok"}}, nil)
	}()

	_, streams, err := sc.ReadFrame()
	require.NoError(t, err)
	require.Len(t, streams, 1)

	// Attempt the next frame without draining the attachment: must fail.
	_, _, err = sc.ReadFrame()
	require.Error(t, err)
}

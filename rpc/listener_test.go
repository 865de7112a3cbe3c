package rpc

import (
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hohhen/Halibut/internal/testcert"
)

// TestListenerServesFriendlyPageToPlaintextClient exercises spec §8
// property 2: a plaintext HTTP request against a Halibut TLS port
// gets the friendly-page response and the connection closes promptly,
// instead of hanging waiting for a TLS handshake that will never come.
func TestListenerServesFriendlyPageToPlaintextClient(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)

	hub := NewRuntime(RuntimeConfig{Identity: hubID, Trust: NewTrustSet()})
	defer hub.Shutdown()

	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Contains(t, string(out), "200 OK")
	require.Contains(t, string(out), defaultFriendlyPageBody)
	require.Contains(t, string(out), "Connection: close")
}

// TestListenerServesFriendlyPageOverTLS exercises spec §6 and testable
// property §8.7: a client that completes a real TLS handshake and then
// speaks plaintext HTTP/1.1 over the encrypted channel — exactly what
// a browser hitting https://node:port/ does — still gets the friendly
// page, instead of the connection being dropped by a failed CBOR
// decode inside identifyAsServer.
func TestListenerServesFriendlyPageOverTLS(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	clientPair := testcert.MustGenerate("client")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)

	hub := NewRuntime(RuntimeConfig{Identity: hubID, Trust: NewTrustSet(clientPair.Thumbprint)})
	defer hub.Shutdown()

	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	raw, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer raw.Close()

	tlsConn := tls.Client(raw, &tls.Config{
		Certificates:       []tls.Certificate{clientPair.Certificate},
		InsecureSkipVerify: true, //nolint:gosec // test dials a throwaway self-signed server
	})
	tlsConn.SetDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, tlsConn.Handshake())

	_, err = io.WriteString(tlsConn, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(tlsConn)
	require.NoError(t, err)
	require.Contains(t, string(out), "200 OK")
	require.Contains(t, string(out), defaultFriendlyPageBody)
}

// TestListenerClosesFailedWebSocketUpgrade exercises the
// EnableWebSocket path: an HTTP request over TLS that is not a genuine
// WebSocket upgrade must still get the friendly page, and the
// connection must not be left open past that response.
func TestListenerClosesFailedWebSocketUpgrade(t *testing.T) {
	hubPair := testcert.MustGenerate("hub")
	clientPair := testcert.MustGenerate("client")
	hubID, err := NewIdentity(hubPair.Certificate)
	require.NoError(t, err)

	hub := NewRuntime(RuntimeConfig{Identity: hubID, Trust: NewTrustSet(clientPair.Thumbprint)})
	defer hub.Shutdown()

	l, err := hub.ListenOn(ListenerConfig{Address: "127.0.0.1:0", EnableWebSocket: true})
	require.NoError(t, err)

	raw, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer raw.Close()

	tlsConn := tls.Client(raw, &tls.Config{
		Certificates:       []tls.Certificate{clientPair.Certificate},
		InsecureSkipVerify: true, //nolint:gosec // test dials a throwaway self-signed server
	})
	tlsConn.SetDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, tlsConn.Handshake())

	_, err = io.WriteString(tlsConn, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(tlsConn)
	require.NoError(t, err)
	require.Contains(t, string(out), "200 OK")
	require.Contains(t, string(out), defaultFriendlyPageBody)
}

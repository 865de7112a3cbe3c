package rpc

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/hohhen/Halibut/rpcerr"
)

// DefaultHandshakeTimeout is the hard deadline for completing the TLS
// handshake, per spec §4.2. A peer that opens a socket but never
// finishes the handshake — including one that never speaks TLS at all
// — must not be allowed to hold the socket open past this.
const DefaultHandshakeTimeout = 30 * time.Second

// SecureChannel is a mutually-authenticated TLS session plus the
// observed peer thumbprint (spec §4.2). It implements net.Conn so it
// can be handed straight to a wire.Codec.
type SecureChannel struct {
	*tls.Conn
	peerThumbprint string
}

// PeerThumbprint returns the thumbprint recorded during the handshake.
// Fixed for the Connection's lifetime (spec §3).
func (c *SecureChannel) PeerThumbprint() string { return c.peerThumbprint }

// ServerHandshake upgrades raw into a Secure Channel acting as the
// server side: it presents identity's certificate, requires a client
// certificate (refusing the handshake if none is offered), and does
// not validate the peer's chain (spec §4.2). The caller is
// responsible for checking the returned thumbprint against a
// TrustSet; ServerHandshake itself only performs the TLS exchange.
func ServerHandshake(raw net.Conn, identity *Identity, timeout time.Duration) (*SecureChannel, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{identity.Certificate()},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	return handshake(tls.Server(raw, cfg), timeout)
}

// ClientHandshake upgrades raw into a Secure Channel acting as the
// client side: it presents identity's certificate and accepts
// whatever certificate the server offers at the TLS layer (spec
// §4.2); chain validation is skipped via InsecureSkipVerify, which is
// safe here only because the caller is required to check the
// returned thumbprint against a TrustSet before treating the channel
// as trusted — Halibut's entire trust model lives above this layer,
// not in the TLS chain.
func ClientHandshake(raw net.Conn, identity *Identity, timeout time.Duration) (*SecureChannel, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	cfg := &tls.Config{
		Certificates:       []tls.Certificate{identity.Certificate()},
		InsecureSkipVerify: true, // nolint:gosec // thumbprint pinning happens above this layer
		MinVersion:         tls.VersionTLS12,
	}
	return handshake(tls.Client(raw, cfg), timeout)
}

func handshake(conn *tls.Conn, timeout time.Duration) (*SecureChannel, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, rpcerr.Wrap(rpcerr.HandshakeFailed, err, "setting handshake deadline")
	}
	if err := conn.Handshake(); err != nil {
		conn.Close()
		return nil, rpcerr.Wrap(rpcerr.HandshakeFailed, err, "TLS handshake")
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		conn.Close()
		return nil, rpcerr.New(rpcerr.HandshakeFailed, "peer presented no certificate")
	}

	// Clear the handshake deadline; callers impose their own
	// read/write deadlines for subsequent frame traffic.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, rpcerr.Wrap(rpcerr.HandshakeFailed, err, "clearing handshake deadline")
	}

	thumb := ThumbprintDER(state.PeerCertificates[0].Raw)
	return &SecureChannel{Conn: conn, peerThumbprint: thumb}, nil
}

// checkTrust closes ch and returns an UntrustedPeer error if its peer
// thumbprint is not in trust (spec §4.2, §7).
func checkTrust(ch *SecureChannel, trust *TrustSet) error {
	if trust.IsTrusted(ch.PeerThumbprint()) {
		return nil
	}
	ch.Close()
	return rpcerr.New(rpcerr.UntrustedPeer, "peer thumbprint %s is not trusted", ch.PeerThumbprint())
}

package rpc

import (
	"crypto/sha1" // nolint:gosec // thumbprints are an identity pin, not a security property of SHA-1 collision resistance (spec §3 fixes the algorithm)
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// Identity is a runtime's own certificate and private key, used to
// present during the TLS handshake on both the listening and polling
// sides (spec §3, §4.2). Loading key material from disk is out of
// scope (spec §1); construct an Identity from an already-loaded
// tls.Certificate.
type Identity struct {
	cert       tls.Certificate
	thumbprint string
}

// NewIdentity wraps a tls.Certificate, precomputing its thumbprint.
// cert.Leaf is populated (parsed from cert.Certificate[0]) if it was
// not already set, matching what tls.X509KeyPair leaves undone.
func NewIdentity(cert tls.Certificate) (*Identity, error) {
	thumb, err := Thumbprint(cert)
	if err != nil {
		return nil, fmt.Errorf("rpc: NewIdentity: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("rpc: NewIdentity: parsing leaf: %w", err)
		}
		cert.Leaf = leaf
	}
	return &Identity{cert: cert, thumbprint: thumb}, nil
}

// Certificate returns the underlying tls.Certificate, suitable for
// tls.Config.Certificates.
func (id *Identity) Certificate() tls.Certificate { return id.cert }

// Thumbprint returns this identity's own thumbprint.
func (id *Identity) Thumbprint() string { return id.thumbprint }

// Thumbprint computes the lowercase hex SHA-1 of a certificate's DER
// encoding (spec §3, GLOSSARY). This is the sole identity token the
// runtime uses; there is deliberately no chain validation (spec §1
// Non-goals).
func Thumbprint(cert tls.Certificate) (string, error) {
	if len(cert.Certificate) == 0 {
		return "", fmt.Errorf("rpc: certificate has no DER bytes")
	}
	sum := sha1.Sum(cert.Certificate[0])
	return hex.EncodeToString(sum[:]), nil
}

// ThumbprintDER computes the thumbprint of a raw DER-encoded
// certificate, for use where only the wire form is available (e.g.
// from tls.ConnectionState.PeerCertificates[0].Raw).
func ThumbprintDER(der []byte) string {
	sum := sha1.Sum(der)
	return hex.EncodeToString(sum[:])
}

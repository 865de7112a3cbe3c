// Package testcert generates throwaway self-signed certificates for
// exercising Halibut's trust-pinning handshake in tests, adapted from
// the dca example's CA-generation helpers for a flat, chain-free trust
// model: Halibut pins leaf thumbprints directly, so there is no CA to
// generate here, only leaves.
package testcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1" // nolint:gosec // same identity-pin rationale as rpc.Thumbprint
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Pair is a generated identity: its tls.Certificate (for
// tls.Config.Certificates) and its thumbprint (as rpc.Thumbprint
// would compute it, precomputed here so tests don't need to import
// the rpc package just to assert on it).
type Pair struct {
	Certificate tls.Certificate
	Thumbprint  string
}

// Generate creates a fresh self-signed ECDSA P-256 certificate/key
// pair with the given common name. Every call produces a distinct
// key and serial, so two Generate calls never collide in a TrustSet.
func Generate(commonName string) (Pair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Pair{}, fmt.Errorf("testcert: generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Pair{}, fmt.Errorf("testcert: generating serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return Pair{}, fmt.Errorf("testcert: creating certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	sum := sha1.Sum(der)
	return Pair{Certificate: cert, Thumbprint: hex.EncodeToString(sum[:])}, nil
}

// MustGenerate is Generate, panicking on error; convenient in table
// tests where every case needs its own identity.
func MustGenerate(commonName string) Pair {
	p, err := Generate(commonName)
	if err != nil {
		panic(err)
	}
	return p
}

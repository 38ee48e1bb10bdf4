// Package tlsconf derives TLS credentials for the clipnotify relay from a
// shared passphrase.
//
// The server's ECDSA P-256 key is derived deterministically from the
// passphrase; its certificate is self-signed and fresh on every start.
// Clients derive the same key and accept the server only if the presented
// public key matches, so there is no CA and nothing to distribute:
//
//	HKDF-SHA256(ikm=passphrase, salt="clipnotify-tls-v1", info="relay-key")
//	→ 64 bytes → reduced into [1, N-1] → P-256 private key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/credentials"
)

// ServerName is the name in the certificate and the SNI clients send.
const ServerName = "clipnotify"

var (
	hkdfSalt = []byte("clipnotify-tls-v1")
	hkdfInfo = []byte("relay-key")
)

// ErrKeyMismatch is returned by the client verifier when the server was
// configured with a different passphrase.
var ErrKeyMismatch = errors.New("tlsconf: server public key does not match passphrase")

// Credentials holds the derived key pair for one passphrase.
type Credentials struct {
	key    *ecdsa.PrivateKey
	pubDER []byte
}

// New derives Credentials from passphrase.
func New(passphrase string) (*Credentials, error) {
	if passphrase == "" {
		return nil, errors.New("tlsconf: empty passphrase")
	}
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal public key: %w", err)
	}
	return &Credentials{key: key, pubDER: pub}, nil
}

// ServerConfig returns a config for tls.NewListener. ALPN offers h2 and
// http/1.1 so gRPC and the HTTP gateway can share the listener.
func (c *Credentials) ServerConfig() (*tls.Config, error) {
	certDER, err := selfSignedCert(c.key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  c.key,
		}},
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a config that accepts only a server holding the
// derived key.
func (c *Credentials) ClientConfig() *tls.Config {
	return &tls.Config{
		// Chain verification is replaced by the public-key check below.
		InsecureSkipVerify:    true, //nolint:gosec
		ServerName:            ServerName,
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: c.verify,
	}
}

// TransportCredentials wraps ClientConfig for grpc.WithTransportCredentials.
func (c *Credentials) TransportCredentials() credentials.TransportCredentials {
	return credentials.NewTLS(c.ClientConfig())
}

func (c *Credentials) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("tlsconf: server presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("tlsconf: parse server certificate: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("tlsconf: marshal server public key: %w", err)
	}
	if !bytes.Equal(pub, c.pubDER) {
		return ErrKeyMismatch
	}
	return nil
}

func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), hkdfSalt, hkdfInfo)
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1))

	key := &ecdsa.PrivateKey{D: k}
	key.Curve = curve
	key.X, key.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ServerName},
		DNSNames:              []string{ServerName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}

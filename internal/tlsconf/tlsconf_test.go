package tlsconf

import (
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a, err := New("hunter2")
	require.NoError(t, err)
	b, err := New("hunter2")
	require.NoError(t, err)
	c, err := New("hunter3")
	require.NoError(t, err)

	assert.Equal(t, a.pubDER, b.pubDER)
	assert.NotEqual(t, a.pubDER, c.pubDER)
}

func TestEmptyPassphrase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

// handshake runs one TLS handshake between server and client credentials
// over loopback TCP and returns the client's error.
func handshake(t *testing.T, server, client *Credentials) error {
	t.Helper()
	scfg, err := server.ServerConfig()
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", scfg)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		if err := c.(*tls.Conn).Handshake(); err == nil {
			_, _ = io.Copy(io.Discard, c)
		}
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	return tls.Client(conn, client.ClientConfig()).Handshake()
}

func TestHandshake(t *testing.T) {
	server, err := New("shared")
	require.NoError(t, err)
	same, err := New("shared")
	require.NoError(t, err)
	other, err := New("different")
	require.NoError(t, err)

	assert.NoError(t, handshake(t, server, same))
	assert.ErrorIs(t, handshake(t, server, other), ErrKeyMismatch)
}

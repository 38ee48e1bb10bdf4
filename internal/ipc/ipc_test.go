//go:build !windows

package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPathOverride(t *testing.T) {
	t.Setenv(EnvSocket, "/run/custom.sock")
	assert.Equal(t, "/run/custom.sock", SocketPath())
}

func TestSocketPathXDG(t *testing.T) {
	t.Setenv(EnvSocket, "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/clipnotify.sock", SocketPath())
}

func TestListenDialAndStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.sock")
	t.Setenv(EnvSocket, path)
	require.NoError(t, os.WriteFile(path, nil, 0o600), "stale file from a previous run")

	assert.False(t, IsRunning())

	ln, err := Listen()
	require.NoError(t, err)
	defer ln.Close()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	accepted := make(chan struct{})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
			select {
			case <-accepted:
			default:
				close(accepted)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := Dial(ctx)
	require.NoError(t, err)
	_ = c.Close()
	<-accepted

	assert.True(t, IsRunning())
}

func TestListenRefusesLiveEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.sock")
	t.Setenv(EnvSocket, path)

	first, err := Listen()
	require.NoError(t, err)
	defer first.Close()
	go func() {
		for {
			c, err := first.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	_, err = Listen()
	require.ErrorIs(t, err, ErrInUse)

	_, err = os.Stat(path)
	assert.NoError(t, err, "the live server keeps its socket")
	assert.True(t, IsRunning())
}

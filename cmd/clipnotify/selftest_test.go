package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipnotify"
	"go.klb.dev/clipnotify/internal/winmsg/simnative"
)

// memBoard is an in-memory clipboard. When sim is set, every write is
// followed by a change notification, the way the OS reports it.
type memBoard struct {
	sim *simnative.Native

	mu     sync.Mutex
	text   string
	writes []string
}

func (b *memBoard) Name() string { return "memory" }

func (b *memBoard) ReadText() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, nil
}

func (b *memBoard) WriteText(s string) error {
	b.mu.Lock()
	b.text = s
	b.writes = append(b.writes, s)
	b.mu.Unlock()
	if b.sim != nil {
		b.sim.ClipboardChanged()
	}
	return nil
}

func (b *memBoard) history() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.writes...)
}

func TestSelftestReportsNotification(t *testing.T) {
	sim := simnative.New()
	svc := clipnotify.New(clipnotify.WithNative(sim))
	board := &memBoard{sim: sim, text: "user text"}

	var out bytes.Buffer
	require.NoError(t, selftest(context.Background(), &out, svc, board, 2*time.Second))

	assert.True(t, strings.HasPrefix(out.String(), "ok: notification 1 after "), out.String())
	writes := board.history()
	require.Len(t, writes, 2)
	assert.True(t, strings.HasPrefix(writes[0], "clipnotify selftest "))
	assert.Equal(t, "user text", writes[1])
}

func TestSelftestRestoresClipboardOnTimeout(t *testing.T) {
	svc := clipnotify.New(clipnotify.WithNative(simnative.New()))
	board := &memBoard{text: "user text"}

	err := selftest(context.Background(), &bytes.Buffer{}, svc, board, 20*time.Millisecond)
	require.ErrorContains(t, err, "no clipboard notification")

	text, _ := board.ReadText()
	assert.Equal(t, "user text", text)
	assert.Len(t, board.history(), 2)
}

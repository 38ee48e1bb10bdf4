//go:build windows || darwin || linux

package clip

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

var (
	initOnce sync.Once
	initErr  error
)

type systemBackend struct{}

// New opens the system clipboard. clipboard.Init is called here rather than
// in init() so that commands that never touch the clipboard do not need a
// display.
func New() (Backend, error) {
	initOnce.Do(func() { initErr = clipboard.Init() })
	if initErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, initErr)
	}
	return systemBackend{}, nil
}

func (systemBackend) Name() string { return "golang.design/x/clipboard" }

func (systemBackend) ReadText() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (systemBackend) WriteText(s string) error {
	// The returned channel fires when another program takes ownership,
	// which is not what we wait for here.
	_ = clipboard.Write(clipboard.FmtText, []byte(s))
	return nil
}

// Package clip reads and writes clipboard text for "clipnotify selftest".
//
// Build constraints select the implementation:
//
//	clip_system.go: Windows, macOS, Linux via golang.design/x/clipboard
//	clip_other.go:  everything else; every call fails with ErrUnavailable
package clip

import "errors"

// ErrUnavailable is returned when no system clipboard can be opened.
var ErrUnavailable = errors.New("clip: system clipboard unavailable")

// Backend is a text clipboard.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// ReadText returns the current clipboard text, or "" if the clipboard
	// holds no text.
	ReadText() (string, error)

	// WriteText replaces the clipboard contents with s. It returns once the
	// write has been handed to the OS.
	WriteText(s string) error
}

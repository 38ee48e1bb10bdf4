// Package winmsg is the boundary between clipnotify and the Windows
// window-message subsystem. Build constraints select the implementation:
//
//	native_windows.go: user32 via golang.org/x/sys/windows
//	native_other.go:   every call fails with ErrUnsupported
//
// The simnative subpackage provides an in-memory stand-in used by tests and
// by the CLI's --simulate mode.
package winmsg

import "errors"

// WMClipboardUpdate is posted to every window registered with
// AddClipboardFormatListener when the clipboard contents change.
const WMClipboardUpdate uint32 = 0x031D

// ErrUnsupported is returned by the native implementation on platforms
// without the Windows clipboard-format listener API.
var ErrUnsupported = errors.New("winmsg: clipboard format listeners require windows")

// Handle is an opaque native window handle (HWND). The zero value means no
// window.
type Handle uintptr

// WndProc receives every message dispatched to a window.
type WndProc func(h Handle, msg uint32, wParam, lParam uintptr) uintptr

// Native is the set of platform calls the listener needs. All methods except
// DefWindowProc must be called from the thread that will run the message
// loop; the OS binds window message delivery to the creating thread.
type Native interface {
	// InitThread prepares the calling thread for window ownership
	// (single-threaded COM apartment on Windows).
	InitThread() error

	// CreateWindow registers a window class named class whose procedure is
	// proc and creates one window of that class.
	CreateWindow(class string, proc WndProc) (Handle, error)

	// SetMessageOnlyParent reparents h under the message-only root so it is
	// never shown and never receives broadcast or input messages.
	SetMessageOnlyParent(h Handle) error

	// AddClipboardFormatListener subscribes h to WMClipboardUpdate.
	AddClipboardFormatListener(h Handle) error

	// DefWindowProc performs default processing for a message.
	DefWindowProc(h Handle, msg uint32, wParam, lParam uintptr) uintptr

	// RunMessageLoop retrieves and dispatches messages for the calling
	// thread. It blocks until the platform delivers a message and only
	// returns on WM_QUIT or a retrieval error.
	RunMessageLoop() error
}

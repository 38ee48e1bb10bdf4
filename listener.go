package clipnotify

import (
	"log/slog"
	"sync"

	"go.klb.dev/clipnotify/internal/winmsg"
)

const listenerClass = "ClipnotifyListener"

// listener is the hidden message-only window that receives
// WM_CLIPBOARDUPDATE. It is created once, on the pump thread, and never
// destroyed.
type listener struct {
	native   winmsg.Native
	log      *slog.Logger
	onUpdate func()

	mu          sync.Mutex
	initialized bool
	registered  bool
	handle      winmsg.Handle
}

// create allocates the window, moves it under the message-only root and
// subscribes it to clipboard updates. It must run on the thread that will
// pump messages for the window. A second call fails with
// ErrAlreadyInitialized and leaves the first window untouched.
//
// The listener counts as initialized as soon as the first attempt starts: a
// half-built window cannot be torn down, so a failed attempt is not retried.
func (l *listener) create() error {
	l.mu.Lock()
	if l.initialized {
		l.mu.Unlock()
		return ErrAlreadyInitialized
	}
	l.initialized = true
	l.mu.Unlock()

	h, err := l.native.CreateWindow(listenerClass, l.handleMessage)
	if err != nil {
		return &RegistrationError{Op: "create window", Err: err}
	}
	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()

	if err := l.native.SetMessageOnlyParent(h); err != nil {
		return &RegistrationError{Op: "reparent to message-only root", Err: err}
	}
	if err := l.native.AddClipboardFormatListener(h); err != nil {
		return &RegistrationError{Op: "add clipboard format listener", Err: err}
	}

	l.mu.Lock()
	l.registered = true
	l.mu.Unlock()

	l.log.Debug("clipboard listener window registered", "hwnd", uintptr(h))
	return nil
}

// handleMessage is the window procedure. Clipboard updates are published
// synchronously; everything else gets default processing.
func (l *listener) handleMessage(h winmsg.Handle, msg uint32, wParam, lParam uintptr) uintptr {
	if msg == winmsg.WMClipboardUpdate {
		l.onUpdate()
		return 0
	}
	return l.native.DefWindowProc(h, msg, wParam, lParam)
}

func (l *listener) state() (registered bool, h winmsg.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered, l.handle
}

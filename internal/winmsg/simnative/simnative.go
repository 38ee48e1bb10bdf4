// Package simnative is an in-memory winmsg.Native. Windows and listener
// registrations live in maps, and RunMessageLoop blocks on a channel that
// ClipboardChanged and Post feed, so the listener can be driven end to end
// without user32.
package simnative

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.klb.dev/clipnotify/internal/winmsg"
)

type message struct {
	h      winmsg.Handle
	msg    uint32
	wParam uintptr
	lParam uintptr
	done   chan struct{}
}

type window struct {
	class       string
	proc        winmsg.WndProc
	messageOnly bool
	listening   bool
}

// Native simulates the window-message subsystem of one process.
//
// The Fail* fields make the matching call return the given error; set them
// before the listener starts.
type Native struct {
	FailInit     error
	FailCreate   error
	FailReparent error
	FailRegister error

	mu      sync.Mutex
	next    winmsg.Handle
	windows map[winmsg.Handle]*window

	queue       chan message
	loops       atomic.Int32
	defaultProc atomic.Uint64
}

// New returns an empty simulated native.
func New() *Native {
	return &Native{
		next:    0x1000,
		windows: make(map[winmsg.Handle]*window),
		queue:   make(chan message, 64),
	}
}

func (n *Native) InitThread() error { return n.FailInit }

func (n *Native) CreateWindow(class string, proc winmsg.WndProc) (winmsg.Handle, error) {
	if n.FailCreate != nil {
		return 0, n.FailCreate
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next += 4
	h := n.next
	n.windows[h] = &window{class: class, proc: proc}
	return h, nil
}

func (n *Native) SetMessageOnlyParent(h winmsg.Handle) error {
	if n.FailReparent != nil {
		return n.FailReparent
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.windows[h]
	if !ok {
		return fmt.Errorf("simnative: invalid window handle %#x", uintptr(h))
	}
	w.messageOnly = true
	return nil
}

func (n *Native) AddClipboardFormatListener(h winmsg.Handle) error {
	if n.FailRegister != nil {
		return n.FailRegister
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.windows[h]
	if !ok {
		return fmt.Errorf("simnative: invalid window handle %#x", uintptr(h))
	}
	w.listening = true
	return nil
}

func (n *Native) DefWindowProc(winmsg.Handle, uint32, uintptr, uintptr) uintptr {
	n.defaultProc.Add(1)
	return 0
}

// RunMessageLoop dispatches posted messages one at a time, in order, on the
// calling goroutine. It never returns.
func (n *Native) RunMessageLoop() error {
	n.loops.Add(1)
	for m := range n.queue {
		n.mu.Lock()
		w := n.windows[m.h]
		n.mu.Unlock()
		if w != nil && w.proc != nil {
			w.proc(m.h, m.msg, m.wParam, m.lParam)
		}
		close(m.done)
	}
	return nil
}

// Post queues msg for h. The returned channel is closed once the message has
// been dispatched by the loop.
func (n *Native) Post(h winmsg.Handle, msg uint32, wParam, lParam uintptr) <-chan struct{} {
	done := make(chan struct{})
	n.queue <- message{h: h, msg: msg, wParam: wParam, lParam: lParam, done: done}
	return done
}

// ClipboardChanged posts WM_CLIPBOARDUPDATE to every registered listener,
// the way the OS does after a clipboard write. The returned channel is
// closed after the last of those messages has been dispatched; it is closed
// immediately when nobody listens.
func (n *Native) ClipboardChanged() <-chan struct{} {
	closed := make(chan struct{})
	close(closed)
	var done <-chan struct{} = closed
	for _, h := range n.Listeners() {
		done = n.Post(h, winmsg.WMClipboardUpdate, 0, 0)
	}
	return done
}

// Listeners returns the handles registered with AddClipboardFormatListener.
func (n *Native) Listeners() []winmsg.Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []winmsg.Handle
	for h, w := range n.windows {
		if w.listening {
			out = append(out, h)
		}
	}
	return out
}

// Windows reports how many windows have been created.
func (n *Native) Windows() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.windows)
}

// IsMessageOnly reports whether h was reparented under the message-only root.
func (n *Native) IsMessageOnly(h winmsg.Handle) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.windows[h]
	return ok && w.messageOnly
}

// Loops reports how many goroutines have entered RunMessageLoop.
func (n *Native) Loops() int { return int(n.loops.Load()) }

// DefaultProcessed reports how many messages fell through to DefWindowProc.
func (n *Native) DefaultProcessed() uint64 { return n.defaultProc.Load() }

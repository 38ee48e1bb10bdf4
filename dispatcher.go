package clipnotify

import (
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipnotify/internal/winmsg"
)

// Event is a clipboard-change notification. It carries no clipboard data.
type Event struct {
	// Seq counts notifications received by the Service, starting at 1.
	Seq uint64
	// Time is when the pump thread received the notification.
	Time time.Time
}

// Callback handles an Event. Callbacks run on the pump thread, one at a
// time, and must not block: while a callback runs no further clipboard
// messages are processed.
type Callback func(Event)

// Token identifies a subscription. The zero Token is never issued.
type Token uint64

type subscription struct {
	tok     Token
	cb      Callback
	removed bool
	running bool
}

// dispatcher is the ordered subscriber list. Publish snapshots the list and
// invokes callbacks without holding mu, so callbacks may Subscribe and
// Unsubscribe freely.
type dispatcher struct {
	log     *slog.Logger
	onFault func(*CallbackFault)

	mu     sync.Mutex
	idle   *sync.Cond // signalled when a running callback returns
	subs   []*subscription
	next   Token
	thread uint64 // OS thread that publishes; 0 until bound

	faults atomic.Uint64
}

func newDispatcher(log *slog.Logger, onFault func(*CallbackFault)) *dispatcher {
	d := &dispatcher{log: log, onFault: onFault}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// bind records the calling OS thread as the one that publishes. The caller
// must have locked its goroutine to the thread.
func (d *dispatcher) bind() {
	d.mu.Lock()
	d.thread = winmsg.ThreadID()
	d.mu.Unlock()
}

func (d *dispatcher) subscribe(cb Callback) Token {
	if cb == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.subs = append(d.subs, &subscription{tok: d.next, cb: cb})
	return d.next
}

// unsubscribe removes tok. Once it returns the callback is never invoked
// again: if the callback is running on the publishing thread, unsubscribe
// waits for it to return, unless it is itself called from that thread (that
// is, from inside a callback).
func (d *dispatcher) unsubscribe(tok Token) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.IndexFunc(d.subs, func(s *subscription) bool { return s.tok == tok })
	if i < 0 {
		return false
	}
	s := d.subs[i]
	s.removed = true
	d.subs = slices.Delete(d.subs, i, i+1)

	if d.thread != 0 && d.thread != winmsg.ThreadID() {
		for s.running {
			d.idle.Wait()
		}
	}
	return true
}

func (d *dispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// publish invokes every callback subscribed when it was called, in
// registration order, on the calling goroutine.
func (d *dispatcher) publish(ev Event) {
	d.mu.Lock()
	snapshot := slices.Clone(d.subs)
	d.mu.Unlock()

	for _, s := range snapshot {
		d.mu.Lock()
		if s.removed {
			d.mu.Unlock()
			continue
		}
		s.running = true
		d.mu.Unlock()

		fault := d.invoke(s, ev)

		d.mu.Lock()
		s.running = false
		d.idle.Broadcast()
		d.mu.Unlock()

		if fault != nil {
			d.faults.Add(1)
			d.log.Error("subscriber callback panicked",
				"token", uint64(fault.Token),
				"seq", ev.Seq,
				"panic", fault.Value,
			)
			d.report(fault)
		}
	}
}

// report hands fault to onFault. A panicking handler is logged and dropped
// so it cannot take the pump thread down.
func (d *dispatcher) report(fault *CallbackFault) {
	if d.onFault == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("fault handler panicked", "token", uint64(fault.Token), "panic", r)
		}
	}()
	d.onFault(fault)
}

func (d *dispatcher) invoke(s *subscription, ev Event) (fault *CallbackFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &CallbackFault{Token: s.tok, Event: ev, Value: r, Stack: debug.Stack()}
		}
	}()
	s.cb(ev)
	return nil
}

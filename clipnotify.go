// Package clipnotify delivers in-process notifications when the system
// clipboard changes.
//
// A Service owns one hidden message-only window registered with the Windows
// clipboard-format listener API, and one goroutine locked to its own OS
// thread that pumps the window's message queue. Every WM_CLIPBOARDUPDATE is
// republished, synchronously on that thread, to the subscribed callbacks:
//
//	svc := clipnotify.New()
//	tok := svc.Subscribe(func(ev clipnotify.Event) { ... })
//	if err := svc.EnsureStarted(ctx); err != nil { ... }
//	defer svc.Unsubscribe(tok)
//
// The package-level Subscribe and Unsubscribe use a process-wide Service
// that is started on first subscription.
//
// Events carry no clipboard data, and rapid updates are not queued: a
// subscriber that hands work to another goroutine should keep only the
// latest Event.
package clipnotify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipnotify/internal/winmsg"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	native  winmsg.Native
	log     *slog.Logger
	onFault func(*CallbackFault)
	now     func() time.Time
}

// WithNative replaces the platform implementation.
func WithNative(n winmsg.Native) Option { return func(o *options) { o.native = n } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithFaultHandler is called, on the pump thread, for every callback that
// panics. A panic in fn itself is logged and discarded.
func WithFaultHandler(fn func(*CallbackFault)) Option {
	return func(o *options) { o.onFault = fn }
}

// WithClock sets the source of Event.Time.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Stats is a point-in-time view of a Service.
type Stats struct {
	Started          bool
	Handle           uintptr
	Notifications    uint64
	Subscribers      int
	Faults           uint64
	LastNotification time.Time
}

// Service is one clipboard listener with its subscriber list.
type Service struct {
	log  *slog.Logger
	now  func() time.Time
	disp *dispatcher
	lis  *listener
	pump *pump

	seq  atomic.Uint64
	last atomic.Int64 // unix nanos of the latest notification
}

// New returns a Service that has not started listening yet.
func New(opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.native == nil {
		o.native = winmsg.New()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	log := o.log.With("component", "clipnotify")

	s := &Service{log: log, now: o.now}
	s.disp = newDispatcher(log, o.onFault)
	s.lis = &listener{native: o.native, log: log, onUpdate: s.notify}
	s.pump = newPump(o.native, s.lis, s.disp, log)
	return s
}

// Subscribe registers cb. It may be called at any time from any goroutine
// and does not start the listener. A nil cb is ignored and yields the zero
// Token.
func (s *Service) Subscribe(cb Callback) Token { return s.disp.subscribe(cb) }

// Unsubscribe removes the subscription and reports whether it existed. Once
// it returns, the callback is not invoked again. Called from another
// goroutine while the callback runs, it waits for the callback to return;
// called from inside a callback it returns at once.
//
// The wait needs an OS thread id (winmsg.ThreadID). Where there is none
// (darwin, the BSDs; only reachable with a simulated native) Unsubscribe
// never waits: no new invocation starts after it returns, but one already
// running may still be in progress.
func (s *Service) Unsubscribe(tok Token) bool { return s.disp.unsubscribe(tok) }

// EnsureStarted starts the listener on first call and returns the result of
// its setup: nil, or an error matching ErrNativeRegistration. Every later
// call returns the same result. ctx only bounds the wait; it does not stop
// the listener.
func (s *Service) EnsureStarted(ctx context.Context) error {
	return s.pump.ensureStarted(ctx)
}

// Started reports whether the listener is registered and pumping messages.
func (s *Service) Started() bool { return s.pump.started.Load() }

// Handle returns the listener window handle, or 0 before the window exists.
func (s *Service) Handle() winmsg.Handle {
	_, h := s.lis.state()
	return h
}

// Err returns the setup error, or the message loop error if the loop
// stopped, or nil.
func (s *Service) Err() error { return s.pump.err() }

// Close always returns ErrShutdownUnsupported: the listener window and its
// registration live as long as the process.
func (s *Service) Close() error { return ErrShutdownUnsupported }

// Stats returns current counters.
func (s *Service) Stats() Stats {
	_, h := s.lis.state()
	st := Stats{
		Started:       s.Started(),
		Handle:        uintptr(h),
		Notifications: s.seq.Load(),
		Subscribers:   s.disp.len(),
		Faults:        s.disp.faults.Load(),
	}
	if ns := s.last.Load(); ns != 0 {
		st.LastNotification = time.Unix(0, ns)
	}
	return st
}

// notify runs on the pump thread for every WM_CLIPBOARDUPDATE.
func (s *Service) notify() {
	ev := Event{Seq: s.seq.Add(1), Time: s.now()}
	s.last.Store(ev.Time.UnixNano())
	s.log.Debug("clipboard changed", "seq", ev.Seq)
	s.disp.publish(ev)
}

var (
	defaultOnce sync.Once
	defaultSvc  *Service
)

// Default returns the process-wide Service, creating it on first use.
func Default() *Service {
	defaultOnce.Do(func() { defaultSvc = New() })
	return defaultSvc
}

// Subscribe registers cb with the process-wide Service and starts it if
// needed. The Token is valid even when starting fails, so the caller can
// still Unsubscribe.
func Subscribe(cb Callback) (Token, error) {
	svc := Default()
	tok := svc.Subscribe(cb)
	return tok, svc.EnsureStarted(context.Background())
}

// Unsubscribe removes a subscription made with Subscribe.
func Unsubscribe(tok Token) bool { return Default().Unsubscribe(tok) }

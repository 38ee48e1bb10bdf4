package clipnotify

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"go.klb.dev/clipnotify/internal/winmsg"
)

// pump owns the one OS thread that creates the listener window and runs the
// message loop for it.
type pump struct {
	native   winmsg.Native
	listener *listener
	disp     *dispatcher
	log      *slog.Logger

	once     sync.Once
	ready    chan struct{}
	setupErr error // written before ready is closed

	started atomic.Bool
	loopErr atomic.Pointer[error]
}

func newPump(native winmsg.Native, l *listener, d *dispatcher, log *slog.Logger) *pump {
	return &pump{
		native:   native,
		listener: l,
		disp:     d,
		log:      log,
		ready:    make(chan struct{}),
	}
}

// ensureStarted starts the pump on first use and waits for its setup to
// finish. Later calls return the outcome of that one setup; nothing is
// retried.
func (p *pump) ensureStarted(ctx context.Context) error {
	p.once.Do(func() { go p.run() })
	select {
	case <-p.ready:
		return p.setupErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pump) run() {
	// The thread stays locked for the goroutine's lifetime: window messages
	// are delivered to the thread that created the window.
	runtime.LockOSThread()
	p.disp.bind()

	if err := p.native.InitThread(); err != nil {
		p.fail(&RegistrationError{Op: "initialize apartment", Err: err})
		return
	}
	if err := p.listener.create(); err != nil {
		p.fail(err)
		return
	}

	p.started.Store(true)
	close(p.ready)
	p.log.Info("clipboard listener started", "thread", winmsg.ThreadID())

	err := p.native.RunMessageLoop()
	if err != nil {
		p.loopErr.Store(&err)
		p.log.Error("clipboard message loop failed; no further notifications", "err", err)
		return
	}
	p.log.Warn("clipboard message loop exited; no further notifications")
}

func (p *pump) fail(err error) {
	p.setupErr = err
	close(p.ready)
	p.log.Error("clipboard listener setup failed", "err", err)
}

func (p *pump) err() error {
	if e := p.loopErr.Load(); e != nil {
		return *e
	}
	select {
	case <-p.ready:
		return p.setupErr
	default:
		return nil
	}
}

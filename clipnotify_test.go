package clipnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipnotify/internal/winmsg/simnative"
)

// recorder collects callback invocations from the pump thread.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) cb(name string) Callback {
	return func(Event) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the message loop")
	}
}

func startService(t *testing.T, opts ...Option) (*Service, *simnative.Native) {
	t.Helper()
	sim := simnative.New()
	svc := New(append([]Option{WithNative(sim), WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, svc.EnsureStarted(context.Background()))
	return svc, sim
}

func TestEndToEnd(t *testing.T) {
	svc, sim := startService(t)
	var rec recorder

	a := svc.Subscribe(rec.cb("A"))
	wait(t, sim.ClipboardChanged())
	assert.Equal(t, []string{"A"}, rec.take())

	svc.Subscribe(rec.cb("B"))
	wait(t, sim.ClipboardChanged())
	assert.Equal(t, []string{"A", "B"}, rec.take())

	require.True(t, svc.Unsubscribe(a))
	wait(t, sim.ClipboardChanged())
	assert.Equal(t, []string{"B"}, rec.take())
}

func TestSubscribeBeforeStart(t *testing.T) {
	sim := simnative.New()
	svc := New(WithNative(sim), WithLogger(discardLogger()))
	var rec recorder

	svc.Subscribe(rec.cb("early"))
	assert.False(t, svc.Started())
	assert.Zero(t, sim.Windows(), "Subscribe does not start the listener")

	require.NoError(t, svc.EnsureStarted(context.Background()))
	wait(t, sim.ClipboardChanged())
	assert.Equal(t, []string{"early"}, rec.take())
}

func TestEnsureStartedIsIdempotent(t *testing.T) {
	svc, sim := startService(t)

	for range 3 {
		require.NoError(t, svc.EnsureStarted(context.Background()))
	}
	assert.True(t, svc.Started())
	assert.Equal(t, 1, sim.Windows())
	assert.Eventually(t, func() bool { return sim.Loops() == 1 }, time.Second, 5*time.Millisecond)

	listeners := sim.Listeners()
	require.Len(t, listeners, 1)
	assert.True(t, sim.IsMessageOnly(listeners[0]))
	assert.Equal(t, listeners[0], svc.Handle())
	assert.Equal(t, uintptr(listeners[0]), svc.Stats().Handle)
}

func TestSecondCreateFails(t *testing.T) {
	svc, sim := startService(t)
	var rec recorder
	svc.Subscribe(rec.cb("A"))

	err := svc.lis.create()
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 1, sim.Windows())

	wait(t, sim.ClipboardChanged())
	assert.Equal(t, []string{"A"}, rec.take(), "first listener keeps receiving")
}

func TestSetupFailures(t *testing.T) {
	cause := errors.New("access denied")
	tests := []struct {
		name   string
		inject func(*simnative.Native)
		op     string
	}{
		{"apartment", func(n *simnative.Native) { n.FailInit = cause }, "initialize apartment"},
		{"create", func(n *simnative.Native) { n.FailCreate = cause }, "create window"},
		{"reparent", func(n *simnative.Native) { n.FailReparent = cause }, "reparent to message-only root"},
		{"register", func(n *simnative.Native) { n.FailRegister = cause }, "add clipboard format listener"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simnative.New()
			tt.inject(sim)
			svc := New(WithNative(sim), WithLogger(discardLogger()))

			err := svc.EnsureStarted(context.Background())
			require.ErrorIs(t, err, ErrNativeRegistration)
			require.ErrorIs(t, err, cause)

			var regErr *RegistrationError
			require.ErrorAs(t, err, &regErr)
			assert.Equal(t, tt.op, regErr.Op)

			again := svc.EnsureStarted(context.Background())
			assert.Same(t, err, again, "setup is not retried")
			assert.False(t, svc.Started())
			assert.Equal(t, err, svc.Err())
			assert.Empty(t, sim.Listeners())
			assert.Zero(t, sim.Loops())
		})
	}
}

func TestOtherMessagesGetDefaultProcessing(t *testing.T) {
	svc, sim := startService(t)
	var rec recorder
	svc.Subscribe(rec.cb("A"))

	const wmClose = 0x0010
	h := sim.Listeners()[0]
	wait(t, sim.Post(h, wmClose, 0, 0))

	assert.Empty(t, rec.take())
	assert.Equal(t, uint64(1), sim.DefaultProcessed())
	assert.Zero(t, svc.Stats().Notifications)
}

func TestPanickingSubscriberDoesNotStopPump(t *testing.T) {
	var faults []*CallbackFault
	var mu sync.Mutex
	svc, sim := startService(t, WithFaultHandler(func(f *CallbackFault) {
		mu.Lock()
		faults = append(faults, f)
		mu.Unlock()
	}))
	var rec recorder

	svc.Subscribe(rec.cb("before"))
	bad := svc.Subscribe(func(Event) { panic("subscriber bug") })
	svc.Subscribe(rec.cb("after"))

	wait(t, sim.ClipboardChanged())
	wait(t, sim.ClipboardChanged())

	assert.Equal(t, []string{"before", "after", "before", "after"}, rec.take())
	mu.Lock()
	require.Len(t, faults, 2)
	assert.Equal(t, bad, faults[0].Token)
	mu.Unlock()
	assert.Equal(t, uint64(2), svc.Stats().Faults)
	assert.NoError(t, svc.Err())
}

func TestEventsAndStats(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	svc, sim := startService(t, WithClock(func() time.Time { return at }))

	var mu sync.Mutex
	var events []Event
	svc.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	wait(t, sim.ClipboardChanged())
	wait(t, sim.ClipboardChanged())

	mu.Lock()
	assert.Equal(t, []Event{{Seq: 1, Time: at}, {Seq: 2, Time: at}}, events)
	mu.Unlock()

	st := svc.Stats()
	assert.True(t, st.Started)
	assert.Equal(t, uint64(2), st.Notifications)
	assert.Equal(t, 1, st.Subscribers)
	assert.True(t, at.Equal(st.LastNotification))
}

// blockingNative holds InitThread until release is closed.
type blockingNative struct {
	*simnative.Native
	release chan struct{}
}

func (n blockingNative) InitThread() error {
	<-n.release
	return n.Native.InitThread()
}

func TestEnsureStartedHonoursContext(t *testing.T) {
	sim := blockingNative{Native: simnative.New(), release: make(chan struct{})}
	svc := New(WithNative(sim), WithLogger(discardLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.EnsureStarted(ctx), context.DeadlineExceeded)
	assert.False(t, svc.Started())

	close(sim.release)
	require.NoError(t, svc.EnsureStarted(context.Background()))
	assert.Equal(t, 1, sim.Windows())
}

func TestCloseIsUnsupported(t *testing.T) {
	svc, _ := startService(t)
	assert.ErrorIs(t, svc.Close(), ErrShutdownUnsupported)
	assert.True(t, svc.Started())
}

func TestUnsubscribeFromCallbackOnPump(t *testing.T) {
	svc, sim := startService(t)

	var mu sync.Mutex
	calls := 0
	var tok Token
	mu.Lock()
	tok = svc.Subscribe(func(Event) {
		mu.Lock()
		calls++
		self := tok
		mu.Unlock()
		svc.Unsubscribe(self)
	})
	mu.Unlock()

	wait(t, sim.ClipboardChanged())
	wait(t, sim.ClipboardChanged())

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Zero(t, svc.Stats().Subscribers)
}

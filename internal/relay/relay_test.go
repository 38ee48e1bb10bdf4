package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"go.klb.dev/clipnotify"
	"go.klb.dev/clipnotify/internal/winmsg/simnative"
)

func newService(t *testing.T) (*clipnotify.Service, *simnative.Native) {
	t.Helper()
	sim := simnative.New()
	svc := clipnotify.New(
		clipnotify.WithNative(sim),
		clipnotify.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, svc.EnsureStarted(context.Background()))
	return svc, sim
}

func dispatched(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the message loop")
	}
}

// serve starts srv on an in-memory listener and returns a connected client.
func serve(t *testing.T, srv *Server) *Client {
	t.Helper()
	ln := bufconn.Listen(1 << 16)
	g := grpc.NewServer()
	srv.Register(g)
	go func() { _ = g.Serve(ln) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestStatus(t *testing.T) {
	svc, sim := newService(t)
	client := serve(t, New(svc, "", "v1.2.3"))

	dispatched(t, sim.ClipboardChanged())
	dispatched(t, sim.ClipboardChanged())

	st, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", st.Version)
	assert.True(t, st.Started)
	assert.NotZero(t, st.Handle)
	assert.Equal(t, uint64(2), st.Notifications)
	assert.Zero(t, st.Subscribers)
	assert.False(t, st.LastNotification.IsZero())
}

func TestWatchStreamsNotifications(t *testing.T) {
	svc, sim := newService(t)
	srv := New(svc, "", "dev")
	client := serve(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.Watch(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.Watchers() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, svc.Stats().Subscribers)

	for want := uint64(1); want <= 3; want++ {
		dispatched(t, sim.ClipboardChanged())
		ev, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, ev.Seq)
		assert.False(t, ev.Time.IsZero())
	}

	cancel()
	assert.Eventually(t, func() bool { return svc.Stats().Subscribers == 0 }, 2*time.Second, 5*time.Millisecond,
		"closing the stream unsubscribes")
	assert.Eventually(t, func() bool { return srv.Watchers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestAuth(t *testing.T) {
	svc, _ := newService(t)
	client := serve(t, New(svc, "s3cret", "dev"))

	_, err := client.Status(context.Background())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	_, err = client.Status(bad)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	good := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer s3cret")
	_, err = client.Status(good)
	assert.NoError(t, err)

	stream, err := client.Watch(context.Background())
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestLatestKeepsNewest(t *testing.T) {
	box := newLatest()
	for seq := uint64(1); seq <= 5; seq++ {
		box.offer(clipnotify.Event{Seq: seq})
	}
	select {
	case ev := <-box.ch:
		assert.Equal(t, uint64(5), ev.Seq)
	default:
		t.Fatal("mailbox empty")
	}
	select {
	case ev := <-box.ch:
		t.Fatalf("unexpected backlog event %d", ev.Seq)
	default:
	}
}

func TestEventRoundTrip(t *testing.T) {
	in := clipnotify.Event{Seq: 42, Time: time.Date(2026, 10, 19, 8, 30, 0, 123456789, time.UTC)}
	m, err := encodeEvent(in)
	require.NoError(t, err)
	out, err := decodeEvent(m)
	require.NoError(t, err)
	assert.Equal(t, in.Seq, out.Seq)
	assert.True(t, in.Time.Equal(out.Time))
}

func TestGateway(t *testing.T) {
	svc, sim := newService(t)
	mux, err := NewGateway(New(svc, "tok", "dev"))
	require.NoError(t, err)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	dispatched(t, sim.ClipboardChanged())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["started"])
	assert.EqualValues(t, 1, body["notifications"])
	assert.Equal(t, "dev", body["version"])
}

func TestGatewayHealthBeforeStart(t *testing.T) {
	svc := clipnotify.New(clipnotify.WithNative(simnative.New()))
	mux, err := NewGateway(New(svc, "", "dev"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

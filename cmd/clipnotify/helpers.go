package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipnotify"
	"go.klb.dev/clipnotify/internal/ipc"
	"go.klb.dev/clipnotify/internal/relay"
	"go.klb.dev/clipnotify/internal/tlsconf"
	"go.klb.dev/clipnotify/internal/winmsg/simnative"
)

// newService returns the process-wide Service, or a private one over the
// simulated native when --simulate is set. sim is nil for the real clipboard.
func newService(v *viper.Viper) (svc *clipnotify.Service, sim *simnative.Native) {
	if v.GetDuration("simulate") <= 0 {
		return clipnotify.Default(), nil
	}
	sim = simnative.New()
	return clipnotify.New(clipnotify.WithNative(sim), clipnotify.WithLogger(slog.Default())), sim
}

// simulate fires a clipboard change every interval until ctx is done.
func simulate(ctx context.Context, sim *simnative.Native, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sim.ClipboardChanged()
		}
	}
}

// addClientFlags adds the flags shared by commands that talk to a server.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("server", "localhost:8753", "clipnotify server address (used when no local server is running)")
	f.String("token", "", "shared secret (enables TLS and bearer auth)")
	addConfigFlag(cmd)
}

// connect prefers the local IPC endpoint unless --server was given
// explicitly. transport describes the chosen route for display.
func connect(cmd *cobra.Command, v *viper.Viper) (conn *grpc.ClientConn, transport string, err error) {
	if !cmd.Flags().Changed("server") && ipc.IsRunning() {
		conn, err = dialIPC()
		if err == nil {
			return conn, fmt.Sprintf("ipc (%s)", ipc.SocketPath()), nil
		}
		slog.Debug("ipc dial failed, falling back to tcp", "err", err)
	}

	addr := v.GetString("server")
	conn, err = dialServer(addr, v.GetString("token"))
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("tcp (%s)", addr), nil
}

// dialIPC returns a *grpc.ClientConn connected to the local IPC endpoint.
// No auth needed: the endpoint is local and owner-restricted by the OS.
func dialIPC() (*grpc.ClientConn, error) {
	return grpc.NewClient(
		"passthrough:///"+ipc.SocketPath(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ipc.Dial(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
}

// dialServer connects over TCP. A non-empty token is used both for TLS key
// derivation and per-RPC auth.
func dialServer(addr, token string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		// Idle Watch streams across NAT get dropped without pings.
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if token == "" {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		creds, err := tlsconf.New(token)
		if err != nil {
			return nil, fmt.Errorf("tls credentials: %w", err)
		}
		opts = append(opts,
			grpc.WithTransportCredentials(creds.TransportCredentials()),
			grpc.WithPerRPCCredentials(&clientCreds{token: token}),
		)
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// watchEvents opens a Watch stream and calls fn for each event until ctx is
// done, the stream fails, or fn returns false.
func watchEvents(ctx context.Context, conn grpc.ClientConnInterface, fn func(clipnotify.Event) bool) error {
	stream, err := relay.NewClient(conn).Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
}

const (
	reconnectDelay = time.Second
	maxReconnect   = 30 * time.Second
)

// followEvents runs watchEvents, reconnecting with exponential back-off
// until ctx is done or fn returns false. Auth failures are not retried.
func followEvents(ctx context.Context, conn grpc.ClientConnInterface, fn func(clipnotify.Event) bool) error {
	delay := reconnectDelay
	done := false
	for {
		err := watchEvents(ctx, conn, func(ev clipnotify.Event) bool {
			delay = reconnectDelay
			done = !fn(ev)
			return !done
		})
		if err == nil || done || ctx.Err() != nil {
			return nil
		}
		switch status.Code(errors.Unwrap(err)) {
		case codes.Unauthenticated, codes.Unimplemented:
			return err
		}
		slog.Warn("watch stream ended, reconnecting", "err", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < maxReconnect {
			delay *= 2
		}
	}
}

type clientCreds struct {
	token string
}

func (c *clientCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + c.token}, nil
}

func (c *clientCreds) RequireTransportSecurity() bool { return false }

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Local().Format("15:04:05")
}

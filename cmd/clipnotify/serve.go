package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"go.klb.dev/clipnotify"
	"go.klb.dev/clipnotify/internal/ipc"
	"go.klb.dev/clipnotify/internal/relay"
	"go.klb.dev/clipnotify/internal/tlsconf"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the listener and relay notifications to other processes",
		Long: `Starts the clipboard listener and serves the clipnotify.v1.Notifications
gRPC service on the local IPC endpoint. With --addr the same service, plus an
HTTP/JSON gateway (GET /v1/status, GET /healthz), is served on one TCP port.

A non-empty --token turns on TLS (keys derived from the token) and bearer
auth for TCP clients. The IPC endpoint is never authenticated. Over TLS the
gateway speaks HTTP/1.1 only (curl --http1.1).

Config file search order:
  /etc/clipnotify/clipnotify.toml
  $HOME/.config/clipnotify/clipnotify.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPNOTIFY_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmd, v) },
	}

	f := cmd.Flags()
	f.String("addr", "", "TCP listen address, e.g. 0.0.0.0:8753 (empty = IPC only)")
	f.String("token", "", "shared secret for TCP clients (empty = no auth, no encryption)")
	f.Bool("no-ipc", false, "do not open the local IPC endpoint")
	addSimulateFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

type serveConfig struct {
	addr  string
	token string
	noIPC bool
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v)

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, sim := newService(v)
	if err := svc.EnsureStarted(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	if sim != nil {
		go simulate(ctx, sim, v.GetDuration("simulate"))
	}

	cfg := serveConfig{
		addr:  v.GetString("addr"),
		token: v.GetString("token"),
		noIPC: v.GetBool("no-ipc"),
	}
	slog.Info("clipnotify server starting",
		"version", Version,
		"addr", cfg.addr,
		"ipc", !cfg.noIPC,
		"encrypted", cfg.token != "",
		"simulated", sim != nil,
	)
	return serve(ctx, svc, cfg)
}

// endpoints are the opened listeners serve runs on; nil means disabled.
type endpoints struct {
	ipc net.Listener
	tcp net.Listener
}

// serve opens the configured listeners and runs the relay until ctx is done
// or a listener fails.
func serve(ctx context.Context, svc *clipnotify.Service, cfg serveConfig) error {
	if cfg.noIPC && cfg.addr == "" {
		return errors.New("nothing to serve: IPC disabled and no --addr")
	}

	var ep endpoints
	if !cfg.noIPC {
		ln, err := ipc.Listen()
		if err != nil {
			return fmt.Errorf("ipc listen: %w", err)
		}
		slog.Info("IPC endpoint listening", "path", ipc.SocketPath())
		ep.ipc = ln
	}
	if cfg.addr != "" {
		ln, err := net.Listen("tcp", cfg.addr)
		if err != nil {
			if ep.ipc != nil {
				_ = ep.ipc.Close()
			}
			return fmt.Errorf("listen %s: %w", cfg.addr, err)
		}
		ep.tcp = ln
	}
	return serveOn(ctx, svc, cfg.token, ep)
}

// serveOn runs the relay on ep and takes ownership of its listeners. It
// returns nil once ctx is done, or the first listener failure.
func serveOn(ctx context.Context, svc *clipnotify.Service, token string, ep endpoints) error {
	parent := ctx
	g, gctx := errgroup.WithContext(ctx)

	if ep.ipc != nil {
		// The IPC endpoint is owner-restricted, so it skips the token.
		gs := grpc.NewServer()
		relay.New(svc, "", Version).Register(gs)
		g.Go(func() error { return gs.Serve(ep.ipc) })
		g.Go(func() error {
			<-gctx.Done()
			gs.Stop()
			return nil
		})
	}

	if ep.tcp != nil {
		if err := serveTCP(gctx, g, svc, token, ep.tcp); err != nil {
			_ = ep.tcp.Close()
			if ep.ipc != nil {
				_ = ep.ipc.Close()
			}
			_ = g.Wait()
			return err
		}
	}

	if err := g.Wait(); err != nil && parent.Err() == nil {
		slog.Error("clipnotify server failed", "err", err)
		return err
	}
	slog.Info("clipnotify server stopped")
	return nil
}

// serveTCP splits ln between gRPC and the HTTP gateway. A non-empty token
// turns on TLS and bearer auth.
func serveTCP(ctx context.Context, g *errgroup.Group, svc *clipnotify.Service, token string, ln net.Listener) error {
	if token != "" {
		creds, err := tlsconf.New(token)
		if err != nil {
			return fmt.Errorf("tls credentials: %w", err)
		}
		tc, err := creds.ServerConfig()
		if err != nil {
			return fmt.Errorf("tls config: %w", err)
		}
		ln = tls.NewListener(ln, tc)
	}
	slog.Info("listening", "addr", ln.Addr(), "tls", token != "")

	rs := relay.New(svc, token, Version)
	gs := grpc.NewServer(grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             20 * time.Second,
		PermitWithoutStream: true,
	}))
	rs.Register(gs)

	gw, err := relay.NewGateway(rs)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	hs := relay.NewHTTPServer(gw)

	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	g.Go(func() error { return gs.Serve(grpcL) })
	g.Go(func() error {
		if err := hs.Serve(httpL); !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Closing the root listener during shutdown ends Serve with an error.
		if err := m.Serve(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		gs.Stop()
		_ = hs.Shutdown(sctx)
		m.Close()
		return nil
	})
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipnotify"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a line for every clipboard change",
		Long: `Starts the clipboard listener in the foreground and prints the sequence
number and time of every change until interrupted.

With --simulate no window is created; a simulated clipboard changes at the
given interval instead. Useful on hosts without a Windows desktop.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runWatch(cmd, v) },
	}

	addSimulateFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runWatch(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v)

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, sim := newService(v)
	out := cmd.OutOrStdout()
	tok := svc.Subscribe(func(ev clipnotify.Event) {
		fmt.Fprintf(out, "%d\t%s\n", ev.Seq, ev.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	})
	defer svc.Unsubscribe(tok)

	if err := svc.EnsureStarted(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	if sim != nil {
		go simulate(ctx, sim, v.GetDuration("simulate"))
	}

	st := svc.Stats()
	slog.Info("watching clipboard", "version", Version, "handle", st.Handle, "simulated", sim != nil)

	<-ctx.Done()
	st = svc.Stats()
	slog.Info("stopped", "notifications", st.Notifications, "faults", st.Faults)
	return nil
}

// cmdContext returns cmd's context, or Background before Execute sets one.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

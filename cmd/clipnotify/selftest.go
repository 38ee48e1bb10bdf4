package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipnotify"
	"go.klb.dev/clipnotify/internal/clip"
)

func newSelftestCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Write to the clipboard and check that a notification arrives",
		Long: `Starts the clipboard listener, writes a marker string to the system
clipboard, and waits for the resulting change notification.

The previous clipboard text is restored afterwards. Exits non-zero if no
notification arrives within --timeout.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runSelftest(cmd, v) },
	}

	cmd.Flags().Duration("timeout", 5*time.Second, "how long to wait for the notification")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runSelftest(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v)

	board, err := clip.New()
	if err != nil {
		return err
	}
	return selftest(cmdContext(cmd), cmd.OutOrStdout(), clipnotify.Default(), board, v.GetDuration("timeout"))
}

// selftest writes a marker to board and waits for svc to report the change.
// The previous clipboard text is put back on every return path after the
// marker was written.
func selftest(ctx context.Context, out io.Writer, svc *clipnotify.Service, board clip.Backend, timeout time.Duration) error {
	got := make(chan clipnotify.Event, 1)
	tok := svc.Subscribe(func(ev clipnotify.Event) {
		select {
		case got <- ev:
		default:
		}
	})
	defer svc.Unsubscribe(tok)
	if err := svc.EnsureStarted(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	prev, err := board.ReadText()
	if err != nil {
		return fmt.Errorf("read clipboard: %w", err)
	}
	marker := fmt.Sprintf("clipnotify selftest %d", time.Now().UnixNano())
	slog.Debug("writing marker", "backend", board.Name(), "marker", marker)
	start := time.Now()
	if err := board.WriteText(marker); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	defer restoreText(board, prev)

	select {
	case ev := <-got:
		fmt.Fprintf(out, "ok: notification %d after %s\n", ev.Seq, time.Since(start).Round(time.Millisecond))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no clipboard notification within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restoreText puts prev back on the clipboard. An empty prev leaves the
// marker in place: there is no text to restore.
func restoreText(board clip.Backend, prev string) {
	if prev == "" {
		return
	}
	if err := board.WriteText(prev); err != nil {
		slog.Warn("could not restore clipboard", "err", err)
	}
}

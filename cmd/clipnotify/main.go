// clipnotify: clipboard change notifications for Windows processes.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/clipnotify/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clipnotify",
		Short: "Clipboard change notifications",
		Long: `clipnotify registers a hidden message-only window as a Windows clipboard
format listener and reports every clipboard change.

Run "clipnotify watch" to log changes in the foreground, or "clipnotify serve"
to relay them to other processes over a local socket and, optionally, TCP.
"clipnotify tail" and "clipnotify status" talk to a running server.

Config file search order (first found wins):
  /etc/clipnotify/clipnotify.toml
  $HOME/.config/clipnotify/clipnotify.toml
  path supplied via --config

All flags can be set via CLIPNOTIFY_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newWatchCmd(),
		newServeCmd(),
		newTailCmd(),
		newStatusCmd(),
		newSelftestCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipnotify %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) *slog.Logger {
	fallback := slog.LevelInfo
	if interactive {
		fallback = slog.LevelDebug
	}
	return logging.Setup(logging.ParseFormat(formatStr), logging.ParseLevel(levelStr, fallback))
}

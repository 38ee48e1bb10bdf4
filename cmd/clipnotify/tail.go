package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipnotify"
)

func newTailCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream clipboard changes from a running server",
		Long: `Connects to "clipnotify serve" and prints each clipboard change as it
arrives. A slow reader sees the newest change, not a backlog.

If a local server is running, the IPC endpoint is used. Pass --server to
target a specific server over TCP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runTail(cmd, v) },
	}

	f := cmd.Flags()
	f.Int("count", 0, "exit after this many changes (0 = run until interrupted)")
	f.Bool("json", false, "print one JSON object per change")
	f.Bool("reconnect", false, "keep reconnecting when the server goes away")
	addClientFlags(cmd)

	return cmd
}

type tailLine struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
}

func runTail(cmd *cobra.Command, v *viper.Viper) error {
	count := v.GetInt("count")
	jsonOut := v.GetBool("json")

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := connect(cmd, v)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	seen := 0
	follow := watchEvents
	if v.GetBool("reconnect") {
		follow = followEvents
	}
	return follow(ctx, conn, func(ev clipnotify.Event) bool {
		if jsonOut {
			_ = enc.Encode(tailLine{Seq: ev.Seq, Time: ev.Time})
		} else {
			fmt.Fprintf(out, "%d\t%s\n", ev.Seq, ev.Time.Local().Format("2006-01-02T15:04:05.000Z07:00"))
		}
		seen++
		return count <= 0 || seen < count
	})
}

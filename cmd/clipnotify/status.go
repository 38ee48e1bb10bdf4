package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipnotify/internal/relay"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show listener state and counters",
		Long: `Displays the state of a running "clipnotify serve": whether the listener
is registered, its window handle, and notification counters.

If a local server is running, the request is sent via the IPC endpoint. Pass
--server to target a specific server directly over TCP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	conn, transport, err := connect(cmd, v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmdContext(cmd), 5*time.Second)
	defer cancel()
	st, err := relay.NewClient(conn).Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if v.GetBool("json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(cmd.OutOrStdout(), st, transport)
	return nil
}

func printStatus(out io.Writer, st relay.Status, transport string) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	state := "not running"
	if st.Started {
		state = "listening"
	}
	last := "-"
	if !st.LastNotification.IsZero() {
		last = fmt.Sprintf("%s (%s)", st.LastNotification.Local().Format(time.RFC3339), fmtAge(st.LastNotification))
	}

	fmt.Fprintf(w, "Transport:\t%s\n", transport)
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Listener:\t%s\n", state)
	fmt.Fprintf(w, "Window:\t%#x\n", st.Handle)
	fmt.Fprintf(w, "Notifications:\t%d\n", st.Notifications)
	fmt.Fprintf(w, "Last change:\t%s\n", last)
	fmt.Fprintf(w, "Subscribers:\t%d\n", st.Subscribers)
	fmt.Fprintf(w, "Watchers:\t%d\n", st.Watchers)
	fmt.Fprintf(w, "Faults:\t%d\n", st.Faults)
	_ = w.Flush()
}

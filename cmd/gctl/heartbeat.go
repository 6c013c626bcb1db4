package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/client"
	"github.com/alfredjeanlab/gpuctl/internal/ui"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <worker-id>",
	Short: "Report a worker as alive, once or on an interval",
	Long: `Marks the worker ready and records its last-seen time. With --every the
command keeps beating until interrupted, which is how an agent on the GPU
host stays out of the unreachable state.`,
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		every, _ := cmd.Flags().GetDuration("every")
		req := client.HeartbeatRequest{}
		req.Hostname, _ = cmd.Flags().GetString("hostname")
		req.IP, _ = cmd.Flags().GetString("ip")
		if !cmd.Flags().Changed("hostname") {
			req.Hostname, _ = os.Hostname()
		}

		beat := func(ctx context.Context) error {
			w, err := apiClient.Heartbeat(ctx, id, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), w)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				ui.RenderMuted(time.Now().Format("15:04:05")), w.ID, ui.RenderState(string(w.State)))
			return nil
		}

		if every <= 0 {
			return beat(cmd.Context())
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			if err := beat(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "heartbeat failed: %v\n", err)
				// A deleted worker will never come back.
				if client.IsNotFound(err) {
					return err
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	heartbeatCmd.Flags().String("hostname", "", "hostname to report (default: this host)")
	heartbeatCmd.Flags().String("ip", "", "IP address to report")
	heartbeatCmd.Flags().Duration("every", 0, "keep sending heartbeats at this interval")
}

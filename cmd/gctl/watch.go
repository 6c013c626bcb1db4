package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/client"
	"github.com/alfredjeanlab/gpuctl/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch <kind> [key=value...]",
	Short: "Stream the current records of a kind, then every change to them",
	Long: `Opens a watch: every matching record is sent first as CREATED, then each
later create, update, and delete as it happens. Filters work as in list.`,
	Example: `  gctl watch workers cluster_id=cl-ab12
  gctl watch docker-cmds --filter 'record.state != "running"' --transport grpc`,
	GroupID: "streams",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := resolveKind(args[0])
		if err != nil {
			return err
		}
		fields, err := parseFilters(args[1:])
		if err != nil {
			return err
		}
		opts := client.WatchOptions{Fields: fields}
		opts.Search, _ = cmd.Flags().GetString("search")
		opts.Filter, _ = cmd.Flags().GetString("filter")
		opts.Heartbeat, _ = cmd.Flags().GetDuration("heartbeat")
		showBeats, _ := cmd.Flags().GetBool("show-heartbeats")
		limit, _ := cmd.Flags().GetInt("count")
		transport, _ := cmd.Flags().GetString("transport")

		var watcher client.Watcher
		switch transport {
		case "http":
			watcher = apiClient
		case "grpc":
			gc, err := client.NewGRPCClient(grpcAddr, authToken)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			defer gc.Close()
			watcher = gc
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		seen := 0
		out := cmd.OutOrStdout()
		return watcher.Watch(ctx, kind, opts, func(ev client.WatchEvent) error {
			if ev.Type == events.Heartbeat {
				if showBeats {
					return printEvent(out, ev)
				}
				return nil
			}
			if err := printEvent(out, ev); err != nil {
				return err
			}
			seen++
			if limit > 0 && seen >= limit {
				return client.ErrStopWatch
			}
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().String("search", "", "case-insensitive substring match on name-like fields")
	watchCmd.Flags().String("filter", "", "CEL predicate over `record` (e.g. record.state == \"ready\")")
	watchCmd.Flags().Duration("heartbeat", 0, "server heartbeat interval (default: server setting)")
	watchCmd.Flags().Bool("show-heartbeats", false, "print heartbeat frames")
	watchCmd.Flags().Int("count", 0, "exit after this many events (0 = run until interrupted)")
	watchCmd.Flags().String("transport", "http", "watch transport (http or grpc)")
}

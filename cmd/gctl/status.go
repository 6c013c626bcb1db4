package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/client"
	"github.com/alfredjeanlab/gpuctl/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show bus topics, open watches, and tracked workers",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stats, err := apiClient.Stats(ctx)
		if err != nil {
			return err
		}
		watches, err := apiClient.Watches(ctx)
		if err != nil {
			return err
		}
		roster, err := apiClient.Presence(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]any{
				"stats":    stats,
				"watches":  watches,
				"presence": roster,
			})
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, ui.RenderAccent("Topics:"))
		for _, t := range stats.Topics {
			fmt.Fprintf(w, "  %s\t%d subscribers\n", t.Topic, t.Subscribers)
		}

		fmt.Fprintln(w, ui.RenderAccent(fmt.Sprintf("Watches (%d):", stats.Watches)))
		for _, wi := range watches {
			filter := wi.Filter
			if filter == "" {
				filter = ui.RenderMuted("-")
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%d sent\tsince %s\n",
				wi.ID, wi.Kind, ui.Truncate(filter, 40), wi.Sent, wi.Started.Local().Format(time.Kitchen))
		}

		fmt.Fprintln(w, ui.RenderAccent(fmt.Sprintf("Workers (%d):", stats.Workers)))
		for _, e := range roster {
			state := ui.RenderState("ready")
			if e.Reaped {
				state = ui.RenderState("unreachable")
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\tidle %s\t%s\n",
				e.WorkerID, e.Hostname, e.IP, time.Duration(e.IdleSecs*float64(time.Second)).Round(time.Second), state)
		}
		return w.Flush()
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check server health over HTTP, or gRPC with --transport grpc",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		want := "ok"
		var status string
		var err error
		switch transport {
		case "http":
			status, err = apiClient.Health(cmd.Context())
		case "grpc":
			gc, dialErr := client.NewGRPCClient(grpcAddr, authToken)
			if dialErr != nil {
				return fmt.Errorf("failed to connect to server: %w", dialErr)
			}
			defer gc.Close()
			status, err = gc.Health(cmd.Context())
			want = "serving"
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}
		if status != want {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	Short:   "Download a JSONL snapshot of every record",
	GroupID: "system",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || args[0] == "-" {
			return apiClient.Export(cmd.Context(), cmd.OutOrStdout())
		}
		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		if err := apiClient.Export(cmd.Context(), f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

func init() {
	healthCmd.Flags().String("transport", "http", "transport to check (http or grpc)")
}

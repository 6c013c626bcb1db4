package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/client"
	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/ui"
)

func defaultNATSURL() string {
	if s := os.Getenv("GPUCTL_NATS_URL"); s != "" {
		return s
	}
	if r, ok := activeRemote(); ok {
		return r.NATSURL
	}
	return ""
}

var eventsCmd = &cobra.Command{
	Use:   "events [kind]",
	Short: "Tail change events mirrored to NATS by every server replica",
	Long: `Subscribes directly to the NATS subjects the servers mirror their changes
to. Unlike watch there is no initial snapshot, and events from all replicas
appear, tagged with the replica that produced them.`,
	GroupID: "streams",
	Args:    cobra.MaximumNArgs(1),
	// Talks to NATS only.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			return fmt.Errorf("no NATS URL; pass --nats, set GPUCTL_NATS_URL, or add one to the active remote")
		}
		subject := events.SubjectPrefix + ".>"
		if len(args) == 1 {
			kind, err := resolveKind(args[0])
			if err != nil {
				return err
			}
			subject = events.SubjectPrefix + "." + events.Topic(kind) + ".*"
		}

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("nats: disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				slog.Info("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(subject)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		defer cancel()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				if err := printEnvelope(out, data); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping event: %v\n", err)
				}
			}
		}
	},
}

func printEnvelope(w io.Writer, data []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if jsonOutput {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	ev, err := env.Event()
	if err != nil {
		return err
	}
	origin := env.Origin
	if len(origin) > 8 {
		origin = origin[:8]
	}
	fmt.Fprint(w, ui.RenderMuted("["+origin+"] "))
	return printEvent(w, client.WatchEvent{Type: ev.Type, Data: ev.Data})
}

func init() {
	eventsCmd.Flags().String("nats", defaultNATSURL(), "NATS server URL")
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/client"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

// printRecord writes one record as aligned "key: value" lines.
func printRecord(w io.Writer, rec model.Record) error {
	if jsonOutput {
		return printJSON(w, model.PublicView(rec))
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	switch r := rec.(type) {
	case *model.Cluster:
		row("ID", r.ID)
		row("Name", r.Name)
		row("Description", r.Description)
		row("Lifecycle", ui.RenderState(string(r.Lifecycle)))
		row("Created", formatTime(r.CreatedAt))
		row("Updated", formatTime(r.UpdatedAt))
	case *model.Worker:
		row("ID", r.ID)
		row("Name", r.Name)
		row("Cluster", r.ClusterID)
		row("Hostname", r.Hostname)
		row("IP", r.IP)
		row("State", ui.RenderState(string(r.State)))
		row("Labels", formatMap(r.Labels))
		if r.HeartbeatAt != nil {
			row("Heartbeat", formatTime(*r.HeartbeatAt))
		}
		row("Created", formatTime(r.CreatedAt))
		row("Updated", formatTime(r.UpdatedAt))
	case *model.DockerCmd:
		row("ID", r.ID)
		row("Name", r.Name)
		row("Worker", r.WorkerID)
		row("Image", r.Image)
		row("Entrypoint", r.Entrypoint)
		row("Cmd", r.Cmd)
		row("Ports", formatMap(r.PortMap))
		row("State", ui.RenderState(string(r.State)))
		row("Created", formatTime(r.CreatedAt))
		row("Updated", formatTime(r.UpdatedAt))
	default:
		return printJSON(w, rec)
	}
	return tw.Flush()
}

// printList writes a page of records as a table, one row per record.
func printList(w io.Writer, kind model.Kind, res *client.ListResult) error {
	if jsonOutput {
		items := make([]any, len(res.Items))
		for i, rec := range res.Items {
			items[i] = model.PublicView(rec)
		}
		return printJSON(w, map[string]any{"items": items, "pagination": res.Pagination})
	}
	if len(res.Items) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no "+string(kind)+" records"))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, listHeader(kind))
	for _, rec := range res.Items {
		fmt.Fprintln(tw, listRow(rec))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := res.Pagination
	if p.TotalPage > 1 {
		fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("page %d of %d (%d total)", p.Page, p.TotalPage, p.Total)))
	}
	return nil
}

func listHeader(kind model.Kind) string {
	switch kind {
	case model.KindCluster:
		return "ID\tNAME\tDESCRIPTION"
	case model.KindWorker:
		return "ID\tNAME\tCLUSTER\tHOSTNAME\tIP\tSTATE"
	default:
		return "ID\tNAME\tWORKER\tIMAGE\tSTATE"
	}
}

func listRow(rec model.Record) string {
	switch r := rec.(type) {
	case *model.Cluster:
		return strings.Join([]string{r.ID, r.Name, ui.Truncate(r.Description, 50)}, "\t")
	case *model.Worker:
		return strings.Join([]string{r.ID, r.Name, r.ClusterID, r.Hostname, r.IP, ui.RenderState(string(r.State))}, "\t")
	case *model.DockerCmd:
		return strings.Join([]string{r.ID, r.Name, r.WorkerID, ui.Truncate(r.Image, 40), ui.RenderState(string(r.State))}, "\t")
	}
	return rec.PrimaryKey()
}

// printEvent writes one watch event on a single line.
func printEvent(w io.Writer, ev client.WatchEvent) error {
	if jsonOutput {
		var data any
		if ev.Data != nil {
			data = model.PublicView(ev.Data)
		}
		out, err := json.Marshal(map[string]any{"type": ev.Type, "data": data})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	stamp := ui.RenderMuted(time.Now().Format("15:04:05"))
	if ev.Data == nil {
		_, err := fmt.Fprintf(w, "%s %s\n", stamp, ui.RenderEvent(ev.Type))
		return err
	}
	row := strings.ReplaceAll(listRow(ev.Data), "\t", "  ")
	_, err := fmt.Fprintf(w, "%s %-9s %s\n", stamp, ui.RenderEvent(ev.Type), row)
	return err
}

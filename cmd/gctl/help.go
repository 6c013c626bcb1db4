package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/ui"
)

// helpFunc prints cobra's usage text. Commands that take a kind argument
// also list the registered kinds with their filter and search fields.
func helpFunc(cmd *cobra.Command, _ []string) {
	var buf bytes.Buffer
	buf.WriteString(cmd.UsageString())
	if takesKind(cmd) {
		buf.WriteString("\n")
		writeKinds(&buf)
	}

	out := buf.String()
	if ui.ShouldUseColor() {
		out = colorizeHelp(out)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
}

func takesKind(cmd *cobra.Command) bool {
	if cmd == rootCmd {
		return true
	}
	return (cmd.GroupID == "records" && cmd != heartbeatCmd) || cmd == watchCmd || cmd == eventsCmd
}

// writeKinds renders the kind registry as a help section.
func writeKinds(w io.Writer) {
	fmt.Fprintln(w, "Record kinds:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range model.Kinds() {
		info, _ := model.Lookup(k)
		fmt.Fprintf(tw, "  %s\t%s\tfilter: %s\tsearch: %s\n",
			k, info.Plural, strings.Join(info.Filterable, ","), strings.Join(info.Searchable, ","))
	}
	tw.Flush()
}

// colorizeHelp highlights section headers, the first word of indented
// command and kind rows, and the filter/search columns.
func colorizeHelp(s string) string {
	var out strings.Builder
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line != "" && line[0] != ' ' && strings.HasSuffix(line, ":"):
			line = ui.RenderAccent(line)
		case strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   ") && !strings.HasPrefix(line, "  -"):
			rest := line[2:]
			name, tail, _ := strings.Cut(rest, " ")
			if i := strings.Index(tail, "filter: "); i >= 0 {
				tail = tail[:i] + ui.RenderMuted(tail[i:])
			}
			line = "  " + ui.RenderCommand(name) + " " + tail
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String()
}

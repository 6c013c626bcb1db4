package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/client"
)

var createCmd = &cobra.Command{
	Use:   "create <kind> [key=value...]",
	Short: "Create a cluster, worker, or docker command",
	Example: `  gctl create cluster name=lab
  gctl create worker name=node-1 cluster_id=cl-ab12 labels='{"gpu":"a100"}'
  gctl create dockercmd image=jupyter/base-notebook worker_id=wk-cd34 -f cmd.json`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := resolveKind(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		doc, err := parseDocument(args[1:], file)
		if err != nil {
			return err
		}
		rec, err := apiClient.Create(cmd.Context(), kind, doc)
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

var getCmd = &cobra.Command{
	Use:     "get <kind> <id>",
	Short:   "Show one record",
	GroupID: "records",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := resolveKind(args[0])
		if err != nil {
			return err
		}
		rec, err := apiClient.Get(cmd.Context(), kind, args[1])
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <kind> [key=value...]",
	Short: "List records, optionally filtered",
	Example: `  gctl list workers state=ready
  gctl list docker-cmds --search jupyter --sort -created_at
  gctl list workers --filter 'record.labels["gpu"] == "a100"'`,
	GroupID: "records",
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
		opts := client.ListOptions{Fields: fields}
		opts.Search, _ = cmd.Flags().GetString("search")
		opts.Filter, _ = cmd.Flags().GetString("filter")
		opts.Sort, _ = cmd.Flags().GetString("sort")
		opts.Page, _ = cmd.Flags().GetInt("page")
		opts.PerPage, _ = cmd.Flags().GetInt("per-page")

		res, err := apiClient.List(cmd.Context(), kind, opts)
		if err != nil {
			return err
		}
		return printList(cmd.OutOrStdout(), kind, res)
	},
}

var updateCmd = &cobra.Command{
	Use:     "update <kind> <id> [key=value...]",
	Short:   "Change fields of a record; unspecified fields keep their value",
	Example: `  gctl update dockercmd dc-ef56 state=running`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := resolveKind(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		patch, err := parseDocument(args[2:], file)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return fmt.Errorf("nothing to update; pass key=value pairs or --file")
		}
		rec, err := apiClient.Update(cmd.Context(), kind, args[1], patch)
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <kind> <id>...",
	Short:   "Delete records and everything beneath them",
	GroupID: "records",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := resolveKind(args[0])
		if err != nil {
			return err
		}
		for _, id := range args[1:] {
			if err := apiClient.Delete(cmd.Context(), kind, id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", kind, id)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{createCmd, updateCmd} {
		c.Flags().StringP("file", "f", "", "read the document from a JSON file (- for stdin)")
	}
	listCmd.Flags().String("search", "", "case-insensitive substring match on name-like fields")
	listCmd.Flags().String("filter", "", "CEL predicate over `record` (e.g. record.state == \"ready\")")
	listCmd.Flags().String("sort", "", "sort field, prefix with - for descending")
	listCmd.Flags().Int("page", 0, "page number (1-based)")
	listCmd.Flags().Int("per-page", 0, "records per page (default 100)")
}

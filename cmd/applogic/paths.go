package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/flowgraph"
)

var pathsCmd = &cobra.Command{
	Use:   "paths <bundle> <action>",
	Short: "List every control-flow path of an action",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		a, err := loadApp(args[0])
		if err != nil {
			return err
		}
		return runPaths(cmd.OutOrStdout(), a, args[1], limit, asJSON)
	},
}

func init() {
	pathsCmd.Flags().Int("limit", 0, "stop after this many paths (default from settings)")
	pathsCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(pathsCmd)
}

func runPaths(out io.Writer, a *app.App, action string, limit int, asJSON bool) error {
	compiled, err := a.Action(action)
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = cfg.PathLimit
	}
	paths, truncated := flowgraph.EnumeratePaths(compiled.Graph(), limit)

	if asJSON {
		return printJSON(out, map[string]any{
			"action":    action,
			"count":     len(paths),
			"truncated": truncated,
			"paths":     paths,
		})
	}
	for i, p := range paths {
		fmt.Fprintf(out, "%3d  %s\n", i+1, strings.Join(p, " -> "))
	}
	suffix := ""
	if truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(out, "%d paths%s\n", len(paths), suffix)
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/diagram"
	"github.com/rendis/applogic/pkg/schema"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <bundle> <action>",
	Short: "Draw the control-flow graph of an action",
	Long: `Draws an action's control-flow graph as mermaid, ascii, png or svg.
Given --agent or --context, the action is run first and the diagram marks
the nodes the call went through.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		a, err := loadApp(args[0])
		if err != nil {
			return err
		}

		var trace *schema.Trace
		agent, _ := cmd.Flags().GetString("agent")
		ctxFile, _ := cmd.Flags().GetString("context")
		if agent != "" || ctxFile != "" {
			opts, err := callOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			if trace, _, err = traceOf(cmd.Context(), a, args[1], opts); err != nil {
				return err
			}
		}

		data, err := renderDiagram(cmd.Context(), a, args[1], trace, diagram.Format(format))
		if err != nil {
			return err
		}
		if outPath == "" {
			return writeDiagram(cmd.OutOrStdout(), data, diagram.Format(format))
		}
		return os.WriteFile(outPath, data, 0o644)
	},
}

func init() {
	addCallFlags(diagramCmd)
	diagramCmd.Flags().String("format", string(diagram.FormatMermaid), "mermaid, ascii, png or svg")
	diagramCmd.Flags().StringP("out", "o", "", "write to a file instead of stdout")
	rootCmd.AddCommand(diagramCmd)
}

// renderDiagram draws the action. ASCII goes through the installed
// mermaid-ascii binary when there is one.
func renderDiagram(ctx context.Context, a *app.App, action string, trace *schema.Trace, format diagram.Format) ([]byte, error) {
	compiled, err := a.Action(action)
	if err != nil {
		return nil, err
	}
	if format == diagram.FormatASCII {
		model := diagram.Build(compiled.Graph(), trace)
		return []byte(diagram.RenderASCIIAuto(ctx, model, cfg.BinDir)), nil
	}
	return diagram.Render(ctx, compiled.Graph(), trace, format)
}

func writeDiagram(w io.Writer, data []byte, format diagram.Format) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if format == diagram.FormatPNG {
		return nil
	}
	if n := len(data); n > 0 && data[n-1] != '\n' {
		_, err := fmt.Fprintln(w)
		return err
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/logging"
	"github.com/rendis/applogic/internal/world"
	"github.com/rendis/applogic/pkg/schema"
)

var runCmd = &cobra.Command{
	Use:   "run <bundle> <action>",
	Short: "Execute one action and print its result",
	Long: `Runs an action as --agent against a fresh world seeded from the bundle
state, or against an explicit execution context given with --context.
The result is printed as JSON; a failed call exits non-zero.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := callOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(args[0])
		if err != nil {
			return err
		}
		res, err := executeCall(cmd.Context(), a, args[1], opts)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s failed: %s", args[1], res.Error.Message)
		}
		return nil
	},
}

func init() {
	addCallFlags(runCmd)
	runCmd.Flags().Bool("trace", false, "include the control-flow trace in the result")
	rootCmd.AddCommand(runCmd)
}

// callOptions describe one command-line action call.
type callOptions struct {
	Agent   string
	Params  map[string]any
	Context *schema.ExecutionContext
	Seed    *int64
	Now     time.Time
	Trace   bool
}

func addCallFlags(cmd *cobra.Command) {
	cmd.Flags().String("agent", "", "acting agent id (state from the bundle)")
	cmd.Flags().String("params", "", "params as a JSON object")
	cmd.Flags().String("params-file", "", "params from a JSON or YAML file")
	cmd.Flags().String("context", "", "execution context from a JSON or YAML file")
	cmd.Flags().Int64("seed", 0, "seed the random source and use a fixed clock")
	cmd.Flags().String("now", "", "fixed clock start (RFC3339), implies deterministic services")
}

func callOptionsFromFlags(cmd *cobra.Command) (callOptions, error) {
	var opts callOptions
	flags := cmd.Flags()
	opts.Agent, _ = flags.GetString("agent")
	if flags.Lookup("trace") != nil {
		opts.Trace, _ = flags.GetBool("trace")
	}

	if raw, _ := flags.GetString("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Params); err != nil {
			return opts, fmt.Errorf("--params: %w", err)
		}
	}
	if path, _ := flags.GetString("params-file"); path != "" {
		if err := decodeFile(path, &opts.Params); err != nil {
			return opts, fmt.Errorf("--params-file: %w", err)
		}
	}
	if path, _ := flags.GetString("context"); path != "" {
		opts.Context = &schema.ExecutionContext{}
		if err := decodeFile(path, opts.Context); err != nil {
			return opts, fmt.Errorf("--context: %w", err)
		}
	}
	if opts.Agent == "" && opts.Context == nil {
		return opts, fmt.Errorf("one of --agent or --context is required")
	}

	deterministic := flags.Changed("seed")
	opts.Now = time.Now().UTC()
	if raw, _ := flags.GetString("now"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, fmt.Errorf("--now: %w", err)
		}
		opts.Now = t
		deterministic = true
	}
	if deterministic {
		seed, _ := flags.GetInt64("seed")
		opts.Seed = &seed
	}
	return opts, nil
}

// executeCall runs one call. Against the bundle world the diff is discarded
// with the world; it only shows in the result.
func executeCall(ctx context.Context, a *app.App, action string, opts callOptions) (*schema.ExecutionResult, error) {
	exec := a.Executor().WithTrace(opts.Trace)
	if opts.Seed != nil {
		exec = exec.WithServices(expressions.Deterministic(*opts.Seed, opts.Now))
	}

	agent := opts.Agent
	if opts.Context != nil && opts.Context.AgentID != "" {
		agent = opts.Context.AgentID
	}
	ctx = logging.WithCall(ctx, a.Name(), action, agent)

	if opts.Context != nil {
		ectx := opts.Context
		if opts.Params != nil {
			ectx.Params = opts.Params
		}
		return a.RunWith(ctx, exec, action, ectx)
	}
	return world.FromBundle(a.Bundle()).Run(ctx, a, exec, opts.Agent, action, opts.Params)
}

// traceOf runs a call with tracing on and returns its trace.
func traceOf(ctx context.Context, a *app.App, action string, opts callOptions) (*schema.Trace, *schema.ExecutionResult, error) {
	opts.Trace = true
	res, err := executeCall(ctx, a, action, opts)
	if err != nil {
		return nil, nil, err
	}
	return res.Trace, res, nil
}

// decodeFile reads a JSON or YAML file into v.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	raw, err := app.ToJSON(data, app.FormatOf(path))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}


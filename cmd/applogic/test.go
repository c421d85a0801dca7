package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/internal/coverage"
	"github.com/rendis/applogic/internal/sandbox"
)

var testCmd = &cobra.Command{
	Use:   "test <bundle> <suite>...",
	Short: "Run test suites against a bundle",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.Concurrency
		}
		withCoverage, _ := cmd.Flags().GetBool("coverage")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := loadApp(args[0])
		if err != nil {
			return err
		}
		var cov *coverage.Collector
		if withCoverage {
			cov = coverage.NewCollector()
		}

		failed := 0
		var reports []*sandbox.SuiteReport
		for _, path := range args[1:] {
			suite, err := sandbox.LoadSuite(path)
			if err != nil {
				return err
			}
			// The collector is shared, so the last report covers every suite.
			runner, err := sandbox.NewRunner(a, sandbox.RunnerConfig{
				Concurrency: concurrency,
				Coverage:    cov,
				PathLimit:   cfg.PathLimit,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			report, err := runner.Run(cmd.Context(), suite)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			failed += report.Failed
			reports = append(reports, report)
			if !asJSON {
				printSuiteReport(cmd.OutOrStdout(), path, report)
			}
		}

		if asJSON {
			if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
		} else if cov != nil && len(reports) > 0 {
			printCoverage(cmd.OutOrStdout(), reports[len(reports)-1])
		}
		if failed > 0 {
			return fmt.Errorf("%d case(s) failed", failed)
		}
		return nil
	},
}

func init() {
	testCmd.Flags().Int("concurrency", 4, "cases run in parallel")
	testCmd.Flags().Bool("coverage", false, "report action, branch and path coverage")
	testCmd.Flags().Bool("json", false, "print reports as JSON")
	rootCmd.AddCommand(testCmd)
}

func printSuiteReport(out io.Writer, path string, r *sandbox.SuiteReport) {
	for _, c := range r.Cases {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%s  %s (%s, %s)\n", status, c.Name, c.Action, c.Duration)
		for _, f := range c.Failures {
			fmt.Fprintf(out, "      %s\n", f)
		}
	}
	fmt.Fprintf(out, "%s: %d passed, %d failed\n", path, r.Passed, r.Failed)
}

func printCoverage(out io.Writer, r *sandbox.SuiteReport) {
	c := r.Coverage
	if c == nil {
		return
	}
	fmt.Fprintf(out, "coverage: actions %.1f%%, branches %.1f%%, paths %.1f%%\n",
		c.ActionCoverage*100, c.BranchCoverage*100, c.PathCoverage*100)
	for _, name := range c.UncoveredActions {
		fmt.Fprintf(out, "  uncovered action %s\n", name)
	}
	for _, b := range c.UncoveredBranches {
		fmt.Fprintf(out, "  uncovered %s arm of %s block %s (%s)\n", b.BranchType, b.Action, b.BlockIndex, b.Condition)
	}
}

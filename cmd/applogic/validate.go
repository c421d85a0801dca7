package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [bundle|dir]...",
	Short: "Check bundles for structural, semantic and flow errors",
	Long: `Compiles every action of every bundle. An invalid action fails its
bundle; warnings such as unreachable directives are listed but do not fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), bundleArgs(args))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(out io.Writer, paths []string) error {
	files, err := expandBundlePaths(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no bundles given")
	}

	failed := 0
	for _, f := range files {
		a, err := loadApp(f)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s\n     %v\n", f, err)
			continue
		}
		actions := a.Actions()
		fmt.Fprintf(out, "ok   %s (%s, %d actions)\n", f, a.Name(), len(actions))
		for _, c := range actions {
			for _, w := range c.Warnings() {
				fmt.Fprintf(out, "     warning: %s: %s: %s\n", c.Name(), w.Path, w.Message)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d bundles invalid", failed, len(files))
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/engine"
)

// bundleExts are the file extensions read as bundles when a directory is given.
var bundleExts = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// isSuiteFile reports whether a file in a bundle directory is a test suite.
func isSuiteFile(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(base, "_suite")
}

// expandBundlePaths replaces each directory with the bundle files directly
// inside it, sorted by name. Suite files are skipped.
func expandBundlePaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, e := range entries {
			name := filepath.Join(p, e.Name())
			if e.IsDir() || !bundleExts[strings.ToLower(filepath.Ext(name))] || isSuiteFile(name) {
				continue
			}
			files = append(files, name)
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}

func newExecutor() (*engine.Executor, error) {
	return engine.NewExecutor(engine.ExecutorConfig{Logger: logger})
}

// loadApp compiles a single bundle file.
func loadApp(path string) (*app.App, error) {
	b, err := app.LoadBundle(path)
	if err != nil {
		return nil, err
	}
	exec, err := newExecutor()
	if err != nil {
		return nil, err
	}
	return app.New(b, exec)
}

// loadRegistry compiles every bundle under paths. Two bundles with the same
// app name are an error.
func loadRegistry(paths []string) (*app.Registry, error) {
	files, err := expandBundlePaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no bundles given")
	}
	exec, err := newExecutor()
	if err != nil {
		return nil, err
	}

	reg := app.NewRegistry()
	seen := map[string]string{}
	for _, f := range files {
		b, err := app.LoadBundle(f)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("app %q defined in both %s and %s", b.Name, prev, f)
		}
		a, err := app.New(b, exec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		seen[b.Name] = f
		reg.Register(a)
	}
	return reg, nil
}

// bundleArgs picks the bundle paths from positional args, falling back to
// the configured bundles.
func bundleArgs(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Bundles
}

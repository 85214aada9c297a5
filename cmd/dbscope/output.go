package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaibhaw-/dbscope/internal/dbscope/config"
	"github.com/vaibhaw-/dbscope/internal/dbscope/runner"
)

// reportOptions merges the config with the --format flag.
func reportOptions(format string) (runner.Options, error) {
	opts, err := runner.OptionsFromConfig(config.Get())
	if err != nil {
		return opts, err
	}
	if format != "" {
		opts.Format = format
	}
	switch opts.Format {
	case "text", "json":
	default:
		return opts, fmt.Errorf("invalid --format %q (want text|json)", opts.Format)
	}
	return opts, nil
}

// outputBase names the default output file after the input log, without
// its compression and format extensions.
func outputBase(input string) string {
	if input == "" {
		return "stdin"
	}
	name := strings.TrimSuffix(filepath.Base(input), ".zst")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// closeOutput runs closeOut and reports its error through err unless err
// already holds one.
func closeOutput(closeOut func() error, err *error) {
	if cerr := closeOut(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close output: %w", cerr)
	}
}

// openOutput resolves where the tab is written: the explicit path, a file
// named after base in output.dir, or stdout.
func openOutput(path, base, format string) (io.Writer, string, func() error, error) {
	if path == "" {
		if dir := config.Get().Output.Dir; dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, "", nil, fmt.Errorf("create output dir: %w", err)
			}
			ext := ".txt"
			if format == "json" {
				ext = ".json"
			}
			path = filepath.Join(dir, base+ext)
		}
	}
	if path == "" {
		return os.Stdout, "", func() error { return nil }, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("create output: %w", err)
	}
	return f, path, f.Close, nil
}

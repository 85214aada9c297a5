package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaibhaw-/dbscope/internal/dbscope/config"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/runner"
	"github.com/vaibhaw-/dbscope/internal/dbscope/workload"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a workload against a database and show its SQL tab",
	RunE:  runWorkload,
}

var (
	flagWorkload  string
	flagLog       string
	flagRunFormat string
	flagRunOutput string
)

func init() {
	runCmd.Flags().StringVar(&flagWorkload, "workload", "", "workload YAML file (required)")
	runCmd.Flags().StringVar(&flagLog, "log", "", "write captured events to this NDJSON file (.zst compresses)")
	runCmd.Flags().StringVar(&flagRunFormat, "format", "", "output format: text|json (default from config)")
	runCmd.Flags().StringVar(&flagRunOutput, "output", "", "output file (default stdout or output.dir)")
	runCmd.MarkFlagRequired("workload")
}

func runWorkload(cmd *cobra.Command, args []string) (err error) {
	w, err := workload.Load(flagWorkload)
	if err != nil {
		return err
	}

	opts, err := reportOptions(flagRunFormat)
	if err != nil {
		return err
	}

	out, path, closeOut, err := openOutput(flagRunOutput, w.Name, opts.Format)
	if err != nil {
		return err
	}
	defer closeOutput(closeOut, &err)
	opts.Output = path

	rc := request.New(request.OptionsFromConfig(config.Get())...)
	if _, err := runner.RunWorkload(cmd.Context(), w, rc, flagLog, out, opts); err != nil {
		return fmt.Errorf("run workload %s: %w", w.Name, err)
	}
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/runner"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the SQL tab from a recorded NDJSON event log",
	RunE:  runReport,
}

var (
	flagInput        string
	flagReportFormat string
	flagReportOutput string
)

func init() {
	reportCmd.Flags().StringVar(&flagInput, "input", "", "event log (default stdin, .zst is decompressed)")
	reportCmd.Flags().StringVar(&flagReportFormat, "format", "", "output format: text|json (default from config)")
	reportCmd.Flags().StringVar(&flagReportOutput, "output", "", "output file (default stdout or output.dir)")
}

func runReport(cmd *cobra.Command, args []string) (err error) {
	opts, err := reportOptions(flagReportFormat)
	if err != nil {
		return err
	}

	in, err := message.OpenLog(flagInput)
	if err != nil {
		return err
	}
	defer in.Close()

	out, path, closeOut, err := openOutput(flagReportOutput, outputBase(flagInput), opts.Format)
	if err != nil {
		return err
	}
	defer closeOutput(closeOut, &err)

	opts.Input = flagInput
	opts.Output = path
	_, err = runner.RunReport(cmd.Context(), in, out, opts)
	return err
}

// Package runner drives the offline paths: rendering a recorded event log
// and replaying a workload into a fresh one.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vaibhaw-/dbscope/internal/dbscope/aggregate"
	"github.com/vaibhaw-/dbscope/internal/dbscope/config"
	"github.com/vaibhaw-/dbscope/internal/dbscope/logger"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/sanitize"
	"github.com/vaibhaw-/dbscope/internal/dbscope/sqlstats"
	"github.com/vaibhaw-/dbscope/internal/dbscope/tab"
	"github.com/vaibhaw-/dbscope/internal/dbscope/workload"
)

// RunSummary is appended as one NDJSON line to the run log.
type RunSummary struct {
	Timestamp     string                 `json:"timestamp"`
	Command       string                 `json:"command"`
	Input         string                 `json:"input,omitempty"`
	Output        string                 `json:"output,omitempty"`
	EventCount    int                    `json:"event_count"`
	RejectedCount int                    `json:"rejected_count"`
	Anomalies     int                    `json:"anomalies"`
	Statistics    map[string]interface{} `json:"statistics,omitempty"`
}

// Options controls a report.
type Options struct {
	// Format is "text" or "json".
	Format string
	Tab    tab.Options
	// RunLog, when set, receives a RunSummary per run.
	RunLog string
	// Input and Output label the run in the summary.
	Input  string
	Output string
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{Format: "text"}, nil
	}
	binding, err := aggregate.ParseBinding(cfg.Aggregation.TransactionBinding)
	if err != nil {
		return Options{}, fmt.Errorf("aggregation config: %w", err)
	}
	return Options{
		Format: cfg.Output.Format,
		Tab: tab.Options{
			Binding:   binding,
			Sanitizer: sanitize.Sanitizer{MaxValueLen: cfg.Output.MaxValueLen},
		},
		RunLog: cfg.Logging.RunLog,
	}, nil
}

func appendRunLog(path string, summary RunSummary) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(summary)
}

// RunReport reads an NDJSON event log from in, renders the tab to out and
// returns it. Malformed lines are counted and skipped. The returned tab is
// nil when the log holds no database activity.
func RunReport(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*tab.Tab, error) {
	log := logger.L()
	log.Infow("starting report run",
		"input", opts.Input,
		"format", opts.Format,
		"binding", opts.Tab.Binding.String(),
	)

	source := opts.Input
	if source == "" {
		source = "input"
	}

	var (
		events   []message.Event
		rejected int
		lines    int
	)
	results := message.ReadEvents(in, source)
	for res := range results {
		if err := ctx.Err(); err != nil {
			// drain so the reader goroutine can exit
			go func() {
				for range results {
				}
			}()
			return nil, err
		}

		lines++
		if lines%1000 == 0 {
			log.Infow("processing progress",
				"lines_processed", lines,
				"event_count", len(events),
				"rejected_count", rejected)
		}
		if res.Err != nil {
			rejected++
			log.Debugw("rejected line", "line_number", res.Line, "err", res.Err.Error())
			continue
		}
		events = append(events, res.Event)
	}

	return render("report", events, rejected, out, opts)
}

// RunWorkload replays w through rc, optionally writes the captured events to
// logPath and renders the tab to out. A workload error is returned after the
// events gathered so far have been written and rendered.
func RunWorkload(ctx context.Context, w *workload.Workload, rc *request.Context, logPath string, out io.Writer, opts Options) (*tab.Tab, error) {
	events, runErr := workload.Run(ctx, w, rc)
	if runErr != nil && len(events) == 0 {
		return nil, runErr
	}

	if logPath != "" {
		if err := message.WriteLog(logPath, events); err != nil {
			return nil, err
		}
		logger.L().Infow("wrote event log", "path", logPath, "events", len(events))
	}

	if opts.Input == "" {
		opts.Input = w.Name
	}
	if opts.Output == "" {
		opts.Output = logPath
	}
	t, err := render("run", events, 0, out, opts)
	if err != nil {
		return nil, err
	}
	return t, runErr
}

func render(command string, events []message.Event, rejected int, out io.Writer, opts Options) (*tab.Tab, error) {
	log := logger.L()
	start := time.Now()

	q := aggregate.New(aggregate.WithBinding(opts.Tab.Binding)).Aggregate(events)
	t := tab.FromModel(q, opts.Tab.Sanitizer)

	var err error
	switch opts.Format {
	case "json":
		err = tab.WriteJSON(out, t)
	default:
		err = tab.WriteText(out, t)
	}
	if err != nil {
		log.Errorw("failed to write tab", "err", err.Error())
		return nil, fmt.Errorf("write tab: %w", err)
	}

	stats := sqlstats.Calculate(q)
	anomalies := 0
	if q != nil {
		anomalies = q.Anomalies
	}

	if opts.RunLog != "" {
		summary := RunSummary{
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			Command:       command,
			Input:         opts.Input,
			Output:        opts.Output,
			EventCount:    len(events),
			RejectedCount: rejected,
			Anomalies:     anomalies,
			Statistics:    stats.SummaryMap(),
		}
		if err := appendRunLog(opts.RunLog, summary); err != nil {
			log.Errorw("failed to write run log",
				"path", opts.RunLog,
				"err", err.Error())
		} else {
			log.Debugw("wrote run summary", "path", opts.RunLog)
		}
	}

	log.Infow("completed "+command+" run",
		"duration", time.Since(start),
		"event_count", len(events),
		"rejected_count", rejected,
		"anomalies", anomalies,
		"queries", stats.QueryCount,
	)
	return t, nil
}

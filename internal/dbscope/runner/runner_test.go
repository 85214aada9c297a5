package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/aggregate"
	"github.com/vaibhaw-/dbscope/internal/dbscope/config"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/workload"
)

// encodeLog writes a small two-command log followed by one malformed line.
func encodeLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	conn, a, b := uuid.New(), uuid.New(), uuid.New()
	h := func(cmd uuid.UUID, d time.Duration) message.Header {
		return message.Header{ID: uuid.New(), ConnectionID: conn, CommandID: cmd, Duration: d}
	}
	n := int64(4)
	events := []message.Event{
		message.ConnectionOpen{Header: h(uuid.Nil, 0)},
		message.CommandStart{Header: h(a, 0), Text: "SELECT * FROM orders"},
		message.CommandEnd{Header: h(a, 2*time.Millisecond), RecordsAffected: &n},
		message.CommandStart{Header: h(b, 0), Text: "DELETE FROM orders"},
		message.CommandError{Header: h(b, time.Millisecond), Err: errors.New("locked")},
		message.ConnectionClose{Header: h(uuid.Nil, 5*time.Millisecond)},
	}

	var buf bytes.Buffer
	for _, e := range events {
		if err := message.Encode(&buf, e); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	buf.WriteString("not json\n")
	return &buf
}

func readSummaries(t *testing.T, path string) []RunSummary {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}
	defer f.Close()

	var out []RunSummary
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var s RunSummary
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			t.Fatalf("decode summary: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func TestRunReport_Text(t *testing.T) {
	runLog := filepath.Join(t.TempDir(), "runs.ndjson")
	var out bytes.Buffer

	tb, err := RunReport(context.Background(), encodeLog(t), &out, Options{Format: "text", RunLog: runLog, Input: "events.ndjson"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tb == nil {
		t.Fatal("expected a tab")
	}
	if tb.Statistics.QueryCount != 2 {
		t.Errorf("expected 2 queries, got %d", tb.Statistics.QueryCount)
	}
	for _, want := range []string{"SQL Statistics", "SELECT * FROM orders", "locked"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}

	summaries := readSummaries(t, runLog)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Command != "report" || s.Input != "events.ndjson" {
		t.Errorf("unexpected summary labels: %+v", s)
	}
	if s.EventCount != 6 || s.RejectedCount != 1 {
		t.Errorf("expected 6 events and 1 rejected, got %d and %d", s.EventCount, s.RejectedCount)
	}
	if s.Statistics["query_count"] != float64(2) {
		t.Errorf("expected query_count 2, got %v", s.Statistics["query_count"])
	}
}

func TestRunReport_TruncatesLongValues(t *testing.T) {
	conn, cmd := uuid.New(), uuid.New()
	var buf bytes.Buffer
	for _, e := range []message.Event{
		message.ConnectionOpen{Header: message.Header{ID: uuid.New(), ConnectionID: conn}},
		message.CommandStart{
			Header:     message.Header{ID: uuid.New(), ConnectionID: conn, CommandID: cmd},
			Text:       "SELECT * FROM notes WHERE body = ?",
			Parameters: []message.Parameter{message.NewParameter("@p1", "a very long note body")},
		},
		message.CommandEnd{Header: message.Header{ID: uuid.New(), ConnectionID: conn, CommandID: cmd}},
	} {
		if err := message.Encode(&buf, e); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	opts, err := OptionsFromConfig(&config.Config{
		Aggregation: config.AggregationCfg{TransactionBinding: "enclosed"},
		Output:      config.OutputCfg{Format: "text", MaxValueLen: 6},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb, err := RunReport(context.Background(), &buf, &bytes.Buffer{}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tb == nil || len(tb.Connections) != 1 || len(tb.Connections[0].Commands) != 1 {
		t.Fatalf("unexpected tab: %+v", tb)
	}
	want := "SELECT * FROM notes WHERE body = 'a very...'"
	if got := tb.Connections[0].Commands[0].Command; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestRunReport_JSON(t *testing.T) {
	var out bytes.Buffer
	if _, err := RunReport(context.Background(), encodeLog(t), &out, Options{Format: "json"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Statistics struct {
			QueryCount int `json:"query_count"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Statistics.QueryCount != 2 {
		t.Errorf("expected 2 queries, got %d", decoded.Statistics.QueryCount)
	}
}

func TestRunReport_Empty(t *testing.T) {
	var out bytes.Buffer
	tb, err := RunReport(context.Background(), strings.NewReader(""), &out, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tb != nil {
		t.Errorf("expected nil tab, got %+v", tb)
	}
	if !strings.Contains(out.String(), "No database activity") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunReport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunReport(ctx, encodeLog(t), &bytes.Buffer{}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(&config.Config{
		Aggregation: config.AggregationCfg{TransactionBinding: "nearest"},
		Output:      config.OutputCfg{Format: "json", MaxValueLen: 8},
		Logging:     config.LoggingCfg{RunLog: "runs.ndjson"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Tab.Binding != aggregate.BindNearest || opts.Format != "json" || opts.RunLog != "runs.ndjson" {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.Tab.Sanitizer.MaxValueLen != 8 {
		t.Errorf("expected MaxValueLen 8, got %d", opts.Tab.Sanitizer.MaxValueLen)
	}

	if _, err := OptionsFromConfig(&config.Config{Aggregation: config.AggregationCfg{TransactionBinding: "x"}}); err == nil {
		t.Error("expected error for unknown binding")
	}
}

func TestRunWorkload_WritesReplayableLog(t *testing.T) {
	dir := t.TempDir()
	w := &workload.Workload{
		Name:     "orders",
		Driver:   "sqlite",
		Database: filepath.Join(dir, "orders.db"),
		Setup:    []string{"CREATE TABLE orders (id INTEGER)"},
		Statements: []workload.Statement{
			{SQL: "INSERT INTO orders (id) VALUES (?)", Args: []any{1}, Transaction: "commit"},
			{SQL: "SELECT id FROM orders"},
		},
	}
	logPath := filepath.Join(dir, "events.ndjson.zst")
	runLog := filepath.Join(dir, "runs.ndjson")

	var out bytes.Buffer
	rc := request.New(request.WithStackTraces(false))
	tb, err := RunWorkload(context.Background(), w, rc, logPath, &out, Options{RunLog: runLog})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tb == nil || tb.Statistics.QueryCount != 2 || tb.Statistics.TransactionCount != 1 {
		t.Fatalf("unexpected tab: %+v", tb)
	}

	events, rejected, err := message.ReadLog(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if rejected != 0 {
		t.Errorf("expected no rejected lines, got %d", rejected)
	}

	var replay bytes.Buffer
	f, err := message.OpenLog(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	again, err := RunReport(context.Background(), f, &replay, Options{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if again.Statistics.QueryCount != 2 {
		t.Errorf("replayed log has %d queries", again.Statistics.QueryCount)
	}

	summaries := readSummaries(t, runLog)
	if len(summaries) != 1 || summaries[0].Command != "run" || summaries[0].Input != "orders" || summaries[0].EventCount != len(events) {
		t.Errorf("unexpected summaries: %+v", summaries)
	}
}

// Package tab turns the reconstructed model of one request into the rows of
// the SQL tab: statistics plus one block of command rows per connection.
package tab

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/aggregate"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/sanitize"
	"github.com/vaibhaw-/dbscope/internal/dbscope/sqlstats"
)

const (
	StatusError = "error"
	StatusWarn  = "warn"

	neverCompleted = "Transaction was never completed"
	inTxIndent     = "\t\t\t"
)

// Options controls how the tab is built.
type Options struct {
	Binding   aggregate.Binding
	Sanitizer sanitize.Sanitizer
}

// Tab is the presentation model of one request.
type Tab struct {
	RequestID   uuid.UUID       `json:"request_id"`
	Statistics  Statistics      `json:"statistics"`
	Connections []ConnectionRow `json:"connections"`
	// Anomalies counts events the aggregator had to patch up.
	Anomalies int `json:"anomalies,omitempty"`
}

// Statistics is sqlstats.Statistics with durations in milliseconds.
type Statistics struct {
	ConnectionCount    int     `json:"connection_count"`
	QueryCount         int     `json:"query_count"`
	TransactionCount   int     `json:"transaction_count"`
	QueryExecutionTime float64 `json:"query_execution_time_ms"`
	ConnectionOpenTime float64 `json:"connection_open_time_ms"`
}

type ConnectionRow struct {
	ID         uuid.UUID    `json:"id"`
	DurationMS *float64     `json:"duration_ms"`
	Commands   []CommandRow `json:"commands"`
}

type TransactionRow struct {
	Label   string `json:"label"`
	Detail  string `json:"detail"`
	Warning string `json:"warning,omitempty"`
}

type ParameterRow struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
	Size  int    `json:"size"`
}

type ErrorRow struct {
	Message string `json:"message"`
	// Detail carries driver specific codes such as SQLSTATE.
	Detail string `json:"detail,omitempty"`
	Stack  string `json:"stack,omitempty"`
}

type CommandRow struct {
	HeadTransaction *TransactionRow `json:"head_transaction,omitempty"`
	Ordinal         string          `json:"ordinal"`
	Command         string          `json:"command"`
	StatementType   string          `json:"statement_type"`
	Parameters      []ParameterRow  `json:"parameters,omitempty"`
	Records         int64           `json:"records"`
	DurationMS      *float64        `json:"duration_ms"`
	OffsetMS        float64         `json:"offset_ms"`
	Async           bool            `json:"async"`
	TailTransaction *TransactionRow `json:"tail_transaction,omitempty"`
	Error           *ErrorRow       `json:"error,omitempty"`
	Stack           string          `json:"stack,omitempty"`
	Status          string          `json:"status,omitempty"`
}

// Build aggregates events and lays out the tab. It returns nil when there is
// nothing to show.
func Build(events []message.Event, opts Options) *Tab {
	q := aggregate.New(aggregate.WithBinding(opts.Binding)).Aggregate(events)
	return FromModel(q, opts.Sanitizer)
}

// FromModel lays out an already aggregated model.
func FromModel(q *aggregate.QueryMetadata, s sanitize.Sanitizer) *Tab {
	if q == nil {
		return nil
	}

	t := &Tab{Anomalies: q.Anomalies}
	for _, c := range q.Connections() {
		if c.Empty() {
			continue
		}
		row := ConnectionRow{ID: c.ID, DurationMS: msPtr(c.Duration)}
		for _, cmd := range c.Commands() {
			row.Commands = append(row.Commands, commandRow(cmd, s))
		}
		t.Connections = append(t.Connections, row)
	}
	if len(t.Connections) == 0 {
		return nil
	}

	st := sqlstats.Calculate(q)
	t.Statistics = Statistics{
		ConnectionCount:    st.ConnectionCount,
		QueryCount:         st.QueryCount,
		TransactionCount:   st.TransactionCount,
		QueryExecutionTime: ms(st.QueryExecutionTime),
		ConnectionOpenTime: ms(st.ConnectionOpenTime),
	}
	return t
}

func commandRow(cmd *aggregate.Command, s sanitize.Sanitizer) CommandRow {
	row := CommandRow{
		Ordinal:       ordinal(cmd),
		Command:       s.Process(cmd.Text, cmd.Parameters),
		StatementType: sanitize.StatementType(cmd.Text),
		Records:       records(cmd),
		DurationMS:    msPtr(cmd.Duration),
		OffsetMS:      ms(cmd.Offset),
		Async:         cmd.IsAsync,
	}

	if tx := cmd.HeadTransaction; tx != nil {
		row.HeadTransaction = &TransactionRow{
			Label:  "▼ Transaction - Started",
			Detail: "Isolation Level - " + tx.IsolationLevel,
		}
		if !tx.Completed() {
			row.HeadTransaction.Warning = neverCompleted
		}
	}
	if tx := cmd.TailTransaction; tx != nil {
		status := "Rolled back"
		if tx.Committed != nil && *tx.Committed {
			status = "Committed"
		}
		row.TailTransaction = &TransactionRow{
			Label:  "▲ Transaction - Finished",
			Detail: "Status - " + status,
		}
	}

	for _, p := range cmd.Parameters {
		row.Parameters = append(row.Parameters, ParameterRow{
			Name:  p.Name,
			Value: p.Rendered(),
			Type:  p.Type,
			Size:  p.Size,
		})
	}

	if cmd.HasError() {
		row.Error = &ErrorRow{
			Message: cmd.Exception.Error(),
			Detail:  DriverDetail(cmd.Exception),
			Stack:   cmd.StackTrace,
		}
		row.Status = StatusError
	} else {
		row.Stack = cmd.StackTrace
		if cmd.IsDuplicate {
			row.Status = StatusWarn
		}
	}
	return row
}

func ordinal(cmd *aggregate.Command) string {
	n := "-"
	if cmd.Ordinal > 0 {
		n = strconv.Itoa(cmd.Ordinal)
	}
	if cmd.InTransaction {
		return inTxIndent + n
	}
	return n
}

// records prefers RecordsAffected and falls back to the running total when
// the driver reported nothing usable.
func records(cmd *aggregate.Command) int64 {
	if cmd.RecordsAffected == nil || *cmd.RecordsAffected < 0 {
		return cmd.TotalRecords
	}
	return *cmd.RecordsAffected
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func msPtr(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	v := ms(*d)
	return &v
}

// Package sqlstats computes summary statistics over a reconstructed request.
package sqlstats

import (
	"fmt"
	"io"
	"time"

	"github.com/vaibhaw-/dbscope/internal/dbscope/aggregate"
)

// Statistics summarises the database activity of one request.
//
// Fields:
// - ConnectionCount: connections with at least one command or transaction
// - QueryCount: commands across all connections, duplicates included
// - TransactionCount: transactions across all connections
// - QueryExecutionTime: sum of command durations (unfinished commands count as zero)
// - ConnectionOpenTime: sum of connection open spans (unknown spans count as zero)
type Statistics struct {
	ConnectionCount    int
	QueryCount         int
	TransactionCount   int
	QueryExecutionTime time.Duration
	ConnectionOpenTime time.Duration
}

// Calculate aggregates q. A nil model yields the zero value.
func Calculate(q *aggregate.QueryMetadata) Statistics {
	var s Statistics
	for _, c := range q.Connections() {
		if !c.Empty() {
			s.ConnectionCount++
		}
		s.TransactionCount += len(c.Transactions)
		if c.Duration != nil {
			s.ConnectionOpenTime += *c.Duration
		}
		for _, cmd := range c.Commands() {
			s.QueryCount++
			if cmd.Duration != nil {
				s.QueryExecutionTime += *cmd.Duration
			}
		}
	}
	return s
}

// PrintSummary prints a formatted summary to the writer.
func (s Statistics) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  Connections: %d\n", s.ConnectionCount)
	fmt.Fprintf(w, "  Queries: %d\n", s.QueryCount)
	fmt.Fprintf(w, "  Transactions: %d\n", s.TransactionCount)
	fmt.Fprintf(w, "  Query execution time: %s\n", formatMillis(s.QueryExecutionTime))
	fmt.Fprintf(w, "  Connection open time: %s\n", formatMillis(s.ConnectionOpenTime))
}

// SummaryMap returns the statistics as a map for programmatic access.
func (s Statistics) SummaryMap() map[string]interface{} {
	return map[string]interface{}{
		"connection_count":        s.ConnectionCount,
		"query_count":             s.QueryCount,
		"transaction_count":       s.TransactionCount,
		"query_execution_time_ms": millis(s.QueryExecutionTime),
		"connection_open_time_ms": millis(s.ConnectionOpenTime),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%.2f ms", millis(d))
}

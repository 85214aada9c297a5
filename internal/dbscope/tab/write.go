package tab

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// WriteJSON writes t as indented JSON. A nil tab is written as null.
func WriteJSON(w io.Writer, t *Tab) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("failed to encode tab: %w", err)
	}
	return nil
}

// WriteText renders t as terminal tables.
func WriteText(w io.Writer, t *Tab) error {
	if t == nil {
		_, err := fmt.Fprintln(w, "No database activity recorded.")
		return err
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("SQL Statistics"))
	b.WriteString("\n")
	stats := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("# Connections", "# Queries", "# Transactions", "Total query execution time", "Total connection open time").
		Row(
			fmt.Sprint(t.Statistics.ConnectionCount),
			fmt.Sprint(t.Statistics.QueryCount),
			fmt.Sprint(t.Statistics.TransactionCount),
			fmtMS(t.Statistics.QueryExecutionTime),
			fmtMS(t.Statistics.ConnectionOpenTime),
		)
	b.WriteString(stats.String())
	b.WriteString("\n")

	for _, c := range t.Connections {
		b.WriteString("\n")
		title := "Connection " + c.ID.String()
		if c.DurationMS != nil {
			title += " (open " + fmtMS(*c.DurationMS) + ")"
		}
		b.WriteString(titleStyle.Render(title))
		b.WriteString("\n")

		rows := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("Tx", "#", "Type", "Command", "Parameters", "Records", "Duration", "Offset", "Async", "Status")
		var notes []string
		for _, cmd := range c.Commands {
			rows.Row(
				txCell(cmd),
				strings.ReplaceAll(cmd.Ordinal, "\t", " "),
				cmd.StatementType,
				cmd.Command,
				paramsCell(cmd.Parameters),
				humanize.Comma(cmd.Records),
				durationCell(cmd.DurationMS),
				"T+ " + fmtMS(cmd.OffsetMS),
				fmt.Sprint(cmd.Async),
				statusCell(cmd.Status),
			)
			notes = append(notes, commandNotes(cmd)...)
		}
		b.WriteString(rows.String())
		b.WriteString("\n")
		for _, n := range notes {
			b.WriteString(n)
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func txCell(cmd CommandRow) string {
	var parts []string
	if h := cmd.HeadTransaction; h != nil {
		parts = append(parts, "▼ "+strings.TrimPrefix(h.Detail, "Isolation Level - "))
	}
	if tl := cmd.TailTransaction; tl != nil {
		parts = append(parts, "▲ "+strings.TrimPrefix(tl.Detail, "Status - "))
	}
	return strings.Join(parts, " ")
}

func paramsCell(params []ParameterRow) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.Name+"="+p.Value)
	}
	return strings.Join(parts, ", ")
}

func durationCell(d *float64) string {
	if d == nil {
		return "-"
	}
	return fmtMS(*d)
}

func statusCell(s string) string {
	switch s {
	case StatusError:
		return errorStyle.Render(s)
	case StatusWarn:
		return warnStyle.Render("duplicate")
	}
	return s
}

func commandNotes(cmd CommandRow) []string {
	var notes []string
	prefix := "  #" + strings.TrimSpace(cmd.Ordinal) + " "
	if h := cmd.HeadTransaction; h != nil && h.Warning != "" {
		notes = append(notes, prefix+warnStyle.Render(h.Warning))
	}
	if e := cmd.Error; e != nil {
		msg := e.Message
		if e.Detail != "" {
			msg += " [" + e.Detail + "]"
		}
		notes = append(notes, prefix+errorStyle.Render("error: "+msg))
		if e.Stack != "" {
			notes = append(notes, indent(e.Stack))
		}
	} else if cmd.Stack != "" {
		notes = append(notes, prefix+"stack:", indent(cmd.Stack))
	}
	return notes
}

func indent(s string) string {
	return "      " + strings.ReplaceAll(s, "\n", "\n      ")
}

func fmtMS(v float64) string {
	return fmt.Sprintf("%.2f ms", v)
}

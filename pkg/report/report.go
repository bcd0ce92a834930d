// Package report renders a flattened result index into report rows, one per
// result summary, and writes them as CSV or JSON. Detail records are not
// included.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apicize/apicize-go/pkg/results"
)

// Row is one line of the run report, derived from a result summary.
type Row struct {
	ExecCtr    int    `json:"execCtr"`
	Level      int    `json:"level"`
	Name       string `json:"name"`
	Method     string `json:"method,omitempty"`
	URL        string `json:"url,omitempty"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Success    string `json:"success"`
	TestsPass  int    `json:"testsPass"`
	TestsFail  int    `json:"testsFail"`
	Errors     int    `json:"errors"`
	Duration   int64  `json:"duration"`
	Error      string `json:"error,omitempty"`
}

// Generate projects an indexed run into report rows, one per summary, in
// execution counter order.
func Generate(indexed *results.IndexedResults) []Row {
	rows := make([]Row, 0, len(indexed.Summaries))
	for _, summary := range indexed.Summaries {
		rows = append(rows, Row{
			ExecCtr:    summary.ExecCtr,
			Level:      summary.Level,
			Name:       summary.Name,
			Method:     summary.Method,
			URL:        summary.URL,
			Status:     summary.Status,
			StatusText: summary.StatusText,
			Success:    string(summary.Success),
			TestsPass:  summary.TestPassCount,
			TestsFail:  summary.TestFailCount,
			Errors:     summary.RequestErrorCount,
			Duration:   summary.Duration,
			Error:      summary.Error,
		})
	}
	return rows
}

// WriteCSV emits rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	header := []string{
		"execCtr", "level", "name", "method", "url",
		"status", "statusText", "success",
		"testsPass", "testsFail", "errors", "duration", "error",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, row := range rows {
		status := ""
		if row.Status != 0 {
			status = strconv.Itoa(row.Status)
		}
		record := []string{
			strconv.Itoa(row.ExecCtr),
			strconv.Itoa(row.Level),
			row.Name,
			row.Method,
			row.URL,
			status,
			row.StatusText,
			row.Success,
			strconv.Itoa(row.TestsPass),
			strconv.Itoa(row.TestsFail),
			strconv.Itoa(row.Errors),
			strconv.FormatInt(row.Duration, 10),
			row.Error,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON emits rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []Row) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}

// Render returns a compact textual rendition of the rows suitable for
// terminal output.
func Render(rows []Row) string {
	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(strings.Repeat("  ", row.Level))
		switch row.Success {
		case string(results.StatusSuccess):
			sb.WriteString("PASS ")
		case string(results.StatusFailure):
			sb.WriteString("FAIL ")
		default:
			sb.WriteString("ERR  ")
		}
		sb.WriteString(row.Name)
		if row.Status != 0 {
			fmt.Fprintf(&sb, " [%d %s]", row.Status, row.StatusText)
		}
		if row.TestsPass+row.TestsFail > 0 {
			fmt.Fprintf(&sb, " (%d passed, %d failed)", row.TestsPass, row.TestsFail)
		}
		if row.Error != "" {
			fmt.Fprintf(&sb, " - %s", row.Error)
		}
		fmt.Fprintf(&sb, " %dms\n", row.Duration)
	}
	return sb.String()
}

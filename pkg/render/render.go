// Package render formats tabular results for the CLI: JSON, aligned
// text tables, or CSV.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/TFMV/fedra/pkg/models"
)

// Format names accepted by the CLI.
const (
	FormatJSON  = "json"
	FormatTable = "table"
	FormatCSV   = "csv"
)

// Render writes the result in the requested format. maxRows truncates
// the output when positive; the full row count still prints.
func Render(w io.Writer, result *models.TabularResult, format string, maxRows int) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatTable:
		return renderTable(w, result, maxRows)
	case FormatCSV:
		return renderCSV(w, result, maxRows)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func renderJSON(w io.Writer, result *models.TabularResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func renderTable(w io.Writer, result *models.TabularResult, maxRows int) error {
	if !result.Success {
		_, err := fmt.Fprintf(w, "query failed: %s\n", result.Error)
		return err
	}

	columns := result.ColumnNames()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, col)
	}
	fmt.Fprintln(tw)

	for _, row := range truncate(result.Rows, maxRows) {
		for j, col := range columns {
			if j > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cellText(row.Field(col)))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if maxRows > 0 && len(result.Rows) > maxRows {
		fmt.Fprintf(w, "... %d of %d rows shown\n", maxRows, len(result.Rows))
	}
	fmt.Fprintf(w, "%d row(s) in %.3fs\n", result.RowCount, result.ExecutionSeconds)
	return nil
}

func renderCSV(w io.Writer, result *models.TabularResult, maxRows int) error {
	if !result.Success {
		return fmt.Errorf("query failed: %s", result.Error)
	}

	columns := result.ColumnNames()
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range truncate(result.Rows, maxRows) {
		for i, col := range columns {
			record[i] = cellText(row.Field(col))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func truncate(rows []models.Row, maxRows int) []models.Row {
	if maxRows > 0 && len(rows) > maxRows {
		return rows[:maxRows]
	}
	return rows
}

// cellText renders one cell: bare strings without JSON quoting,
// everything else as compact JSON.
func cellText(v models.Value) string {
	if v.Kind() == models.KindString {
		return v.Str()
	}
	return v.String()
}

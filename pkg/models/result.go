package models

import "sort"

// Row is one result record. Field sets may differ between rows of the
// same result (union of mismatched schemas); absent fields read as
// null through Field.
type Row map[string]Value

// Field returns a cell, treating absent fields as null.
func (r Row) Field(name string) Value {
	if v, ok := r[name]; ok {
		return v
	}
	return Null()
}

// Clone copies the row's top-level map. Cell values are immutable.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TabularResult is the uniform result shape produced by every executor
// and aggregator operation. A failed result carries no rows.
type TabularResult struct {
	Success            bool     `json:"success"`
	Rows               []Row    `json:"data,omitempty"`
	RowCount           int      `json:"count"`
	Columns            []string `json:"columns,omitempty"`
	Error              string   `json:"error,omitempty"`
	ExecutionSeconds   float64  `json:"execution_time,omitempty"`
	AggregationSeconds float64  `json:"aggregation_time,omitempty"`
}

// OK wraps rows in a successful result.
func OK(rows []Row) *TabularResult {
	return &TabularResult{Success: true, Rows: rows, RowCount: len(rows)}
}

// Failed builds a failure result carrying only the reason.
func Failed(reason string) *TabularResult {
	return &TabularResult{Success: false, Error: reason}
}

// ColumnNames returns the result's column order: the catalog order
// when the backend supplied one, otherwise the union of row fields in
// sorted order.
func (t *TabularResult) ColumnNames() []string {
	if len(t.Columns) > 0 {
		return t.Columns
	}
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// StreamingResult is the lazy variant for large columnar result sets:
// metadata up front, rows delivered in batches. The channel closes
// when the cursor is exhausted or the context is cancelled.
type StreamingResult struct {
	Columns []string
	Batches <-chan []Row
}

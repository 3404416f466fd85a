// Package aggregate combines and reshapes tabular results in memory:
// joins, unions, transforms, filters, sorts, limits and grouping over
// the open-record row model.
package aggregate

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

// Aggregator applies one named operation to one or more inputs.
type Aggregator struct {
	log zerolog.Logger
}

// New creates an Aggregator.
func New(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("component", "aggregator").Logger()}
}

// Aggregate dispatches by operation name. Failed or empty inputs are
// dropped before dispatch; an operation left with no usable input
// fails. The result always carries AggregationSeconds, success or not.
func (a *Aggregator) Aggregate(inputs []*models.TabularResult, operation string, params models.Value) *models.TabularResult {
	started := time.Now()
	result := a.dispatch(usableInputs(inputs), operation, params)
	result.AggregationSeconds = time.Since(started).Seconds()
	return result
}

func (a *Aggregator) dispatch(inputs []*models.TabularResult, operation string, params models.Value) *models.TabularResult {
	if len(inputs) == 0 {
		return models.Failed("no usable inputs for aggregation")
	}
	switch operation {
	case "join":
		return a.join(inputs, params)
	case "union":
		return a.union(inputs)
	case "transform":
		return a.transform(inputs[0], params)
	case "filter":
		return a.filter(inputs[0], params)
	case "sort":
		return a.sort(inputs[0], params)
	case "limit":
		return a.limit(inputs[0], params)
	case "group":
		return a.group(inputs[0], params)
	default:
		return models.Failed(errors.Newf(errors.CodeAggregationFailed,
			"unknown aggregation operation: %s", operation).Error())
	}
}

// usableInputs keeps only successful inputs with at least one row.
func usableInputs(inputs []*models.TabularResult) []*models.TabularResult {
	out := make([]*models.TabularResult, 0, len(inputs))
	for _, in := range inputs {
		if in != nil && in.Success && len(in.Rows) > 0 {
			out = append(out, in)
		}
	}
	return out
}

// join hash-joins exactly two inputs on the configured keys. Missing
// join keys fail closed rather than matching everything.
func (a *Aggregator) join(inputs []*models.TabularResult, params models.Value) *models.TabularResult {
	if len(inputs) != 2 {
		return models.Failed(errors.Newf(errors.CodeAggregationFailed,
			"join requires exactly 2 inputs, got %d", len(inputs)).Error())
	}
	left, right := inputs[0], inputs[1]

	leftOn, _ := params.Get("left_on")
	leftKeys := leftOn.Strings()
	if len(leftKeys) == 0 {
		return models.Failed("join requires left_on")
	}
	rightKeys := leftKeys
	if rightOn, ok := params.Get("right_on"); ok {
		if keys := rightOn.Strings(); len(keys) > 0 {
			rightKeys = keys
		}
	}
	if len(leftKeys) != len(rightKeys) {
		return models.Failed("left_on and right_on must have the same length")
	}

	how := params.GetString("how")
	if how == "" {
		how = "inner"
	}
	switch how {
	case "inner", "left", "right", "outer":
	default:
		return models.Failed(errors.Newf(errors.CodeAggregationFailed, "unknown join type: %s", how).Error())
	}

	suffixLeft := params.GetString("suffix_left")
	if suffixLeft == "" {
		suffixLeft = "_x"
	}
	suffixRight := params.GetString("suffix_right")
	if suffixRight == "" {
		suffixRight = "_y"
	}

	// Index the right side by composite key.
	index := make(map[string][]int, len(right.Rows))
	for i, row := range right.Rows {
		key, ok := compositeKey(row, rightKeys)
		if !ok {
			continue
		}
		index[key] = append(index[key], i)
	}

	var out []models.Row
	matchedRight := make([]bool, len(right.Rows))
	for _, lrow := range left.Rows {
		key, ok := compositeKey(lrow, leftKeys)
		matches := index[key]
		if !ok || len(matches) == 0 {
			if how == "left" || how == "outer" {
				out = append(out, lrow.Clone())
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = true
			out = append(out, mergeRows(lrow, right.Rows[ri], leftKeys, rightKeys, suffixLeft, suffixRight))
		}
	}
	if how == "right" || how == "outer" {
		for i, rrow := range right.Rows {
			if !matchedRight[i] {
				out = append(out, rrow.Clone())
			}
		}
	}

	return models.OK(out)
}

// compositeKey builds a join key from the row's values. Returns false
// when any key column is absent, so such rows never match.
func compositeKey(row models.Row, keys []string) (string, bool) {
	parts := make([]string, len(keys))
	for i, key := range keys {
		val, ok := row[key]
		if !ok {
			return "", false
		}
		parts[i] = val.String()
	}
	composed := ""
	for i, part := range parts {
		if i > 0 {
			composed += "\x1f"
		}
		composed += part
	}
	return composed, true
}

// mergeRows merges a matched pair. A right join key matching its left
// counterpart is kept once without suffix; any other colliding column
// splits into suffixed variants.
func mergeRows(left, right models.Row, leftKeys, rightKeys []string, suffixLeft, suffixRight string) models.Row {
	sharedKey := make(map[string]bool, len(rightKeys))
	for i, rk := range rightKeys {
		if rk == leftKeys[i] {
			sharedKey[rk] = true
		}
	}

	out := make(models.Row, len(left)+len(right))
	for col, val := range left {
		out[col] = val
	}
	for col, val := range right {
		if sharedKey[col] {
			continue
		}
		if existing, collides := out[col]; collides {
			delete(out, col)
			out[col+suffixLeft] = existing
			out[col+suffixRight] = val
			continue
		}
		out[col] = val
	}
	return out
}

// union concatenates every input's rows. Schemas need not match; the
// open-record model leaves absent columns null.
func (a *Aggregator) union(inputs []*models.TabularResult) *models.TabularResult {
	total := 0
	for _, in := range inputs {
		total += len(in.Rows)
	}
	out := make([]models.Row, 0, total)
	for _, in := range inputs {
		for _, row := range in.Rows {
			out = append(out, row.Clone())
		}
	}
	return models.OK(out)
}

// transform applies an ordered list of column operations to the first
// input. Kinds may repeat and run in exactly the order the plan lists
// them; an unknown kind fails rather than silently skipping.
func (a *Aggregator) transform(input *models.TabularResult, params models.Value) *models.TabularResult {
	list, ok := params.Get("transformations")
	if !ok || len(list.Array()) == 0 {
		return models.Failed("no transformations specified")
	}

	rows := make([]models.Row, len(input.Rows))
	for i, row := range input.Rows {
		rows[i] = row.Clone()
	}

	for _, step := range list.Array() {
		var failed *models.TabularResult
		switch step.GetString("type") {
		case "select_columns":
			rows = selectColumns(rows, step)
		case "rename_columns":
			renameColumns(rows, step)
		case "add_column":
			failed = addColumn(rows, step)
		case "drop_columns":
			dropColumns(rows, step)
		case "fill_na":
			fillNA(rows, step)
		default:
			failed = models.Failed(errors.Newf(errors.CodeAggregationFailed,
				"unknown transformation type: %q", step.GetString("type")).Error())
		}
		if failed != nil {
			return failed
		}
	}

	return models.OK(rows)
}

func selectColumns(rows []models.Row, step models.Value) []models.Row {
	cols, _ := step.Get("columns")
	keep := cols.Strings()
	if len(keep) == 0 {
		return rows
	}
	for i, row := range rows {
		next := make(models.Row, len(keep))
		for _, col := range keep {
			if val, has := row[col]; has {
				next[col] = val
			}
		}
		rows[i] = next
	}
	return rows
}

func renameColumns(rows []models.Row, step models.Value) {
	renames, _ := step.Get("rename_map")
	if renames.Kind() != models.KindObject {
		return
	}
	for _, row := range rows {
		for from, toVal := range renames.Object() {
			to := toVal.Str()
			if to == "" {
				continue
			}
			if val, has := row[from]; has {
				delete(row, from)
				row[to] = val
			}
		}
	}
}

func addColumn(rows []models.Row, step models.Value) *models.TabularResult {
	name := step.GetString("column_name")
	exprText := step.GetString("expression")
	if name == "" || exprText == "" {
		return models.Failed("add_column requires column_name and expression")
	}
	expr, err := ParseExpression(exprText)
	if err != nil {
		return models.Failed(errors.Wrap(err, errors.CodeAggregationFailed, "add_column expression").Error())
	}
	for _, row := range rows {
		row[name] = expr.Eval(row)
	}
	return nil
}

func dropColumns(rows []models.Row, step models.Value) {
	cols, _ := step.Get("columns")
	for _, row := range rows {
		for _, col := range cols.Strings() {
			delete(row, col)
		}
	}
}

// fillNA replaces absent and null cells with the fill value, over the
// named column subset when one is given, otherwise over every column.
func fillNA(rows []models.Row, step models.Value) {
	fill, _ := step.Get("value")
	cols, _ := step.Get("columns")
	columns := cols.Strings()
	if len(columns) == 0 {
		columns = columnUnion(rows)
	}
	for _, row := range rows {
		for _, col := range columns {
			if val, has := row[col]; !has || val.IsNull() {
				row[col] = fill
			}
		}
	}
}

// filter keeps rows where the expression evaluates truthy.
func (a *Aggregator) filter(input *models.TabularResult, params models.Value) *models.TabularResult {
	exprText := params.GetString("expression")
	if exprText == "" {
		return models.Failed("filter requires an expression")
	}
	expr, err := ParseExpression(exprText)
	if err != nil {
		return models.Failed(errors.Wrap(err, errors.CodeAggregationFailed, "filter expression").Error())
	}

	var out []models.Row
	for _, row := range input.Rows {
		if truthy(expr.Eval(row)) {
			out = append(out, row.Clone())
		}
	}
	return models.OK(out)
}

// sort orders rows by one or more columns. "ascending" may be a single
// bool applied to all keys or a per-key array.
func (a *Aggregator) sort(input *models.TabularResult, params models.Value) *models.TabularResult {
	byParam, _ := params.Get("by")
	keys := byParam.Strings()
	if len(keys) == 0 {
		return models.Failed("sort requires by")
	}

	ascending := make([]bool, len(keys))
	for i := range ascending {
		ascending[i] = true
	}
	if asc, ok := params.Get("ascending"); ok {
		switch asc.Kind() {
		case models.KindBool:
			for i := range ascending {
				ascending[i] = asc.Bool()
			}
		case models.KindArray:
			for i, item := range asc.Array() {
				if i < len(ascending) {
					ascending[i] = item.Bool()
				}
			}
		}
	}

	rows := make([]models.Row, len(input.Rows))
	for i, row := range input.Rows {
		rows[i] = row.Clone()
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, key := range keys {
			cmp := models.Compare(rows[i].Field(key), rows[j].Field(key))
			if cmp == 0 {
				continue
			}
			if ascending[k] {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	return models.OK(rows)
}

// limit truncates to the first n rows.
func (a *Aggregator) limit(input *models.TabularResult, params models.Value) *models.TabularResult {
	countParam, ok := params.Get("count")
	if !ok || countParam.Kind() != models.KindNumber {
		return models.Failed("limit requires a numeric count")
	}
	n := int(countParam.Number())
	if n < 0 {
		return models.Failed("limit count must not be negative")
	}

	if n > len(input.Rows) {
		n = len(input.Rows)
	}
	out := make([]models.Row, n)
	for i := 0; i < n; i++ {
		out[i] = input.Rows[i].Clone()
	}
	return models.OK(out)
}

// group aggregates rows by key columns, computing count/sum/avg/min/max
// over a value column. Groups appear in first-seen order.
func (a *Aggregator) group(input *models.TabularResult, params models.Value) *models.TabularResult {
	byParam, _ := params.Get("by")
	keys := byParam.Strings()
	if len(keys) == 0 {
		return models.Failed("group requires by")
	}
	agg := params.GetString("aggregation")
	if agg == "" {
		agg = "count"
	}
	column := params.GetString("column")
	if agg != "count" && column == "" {
		return models.Failed(errors.Newf(errors.CodeAggregationFailed,
			"group aggregation %s requires a column", agg).Error())
	}

	type bucket struct {
		keyRow models.Row
		count  int
		sum    float64
		min    float64
		max    float64
		seen   bool
	}
	order := []string{}
	buckets := map[string]*bucket{}

	for _, row := range input.Rows {
		key, _ := compositeKey(row, keys)
		b, exists := buckets[key]
		if !exists {
			keyRow := make(models.Row, len(keys))
			for _, k := range keys {
				keyRow[k] = row.Field(k)
			}
			b = &bucket{keyRow: keyRow}
			buckets[key] = b
			order = append(order, key)
		}
		b.count++
		if agg == "count" {
			continue
		}
		if val, has := row[column]; has && val.Kind() == models.KindNumber {
			n := val.Number()
			b.sum += n
			if !b.seen || n < b.min {
				b.min = n
			}
			if !b.seen || n > b.max {
				b.max = n
			}
			b.seen = true
		}
	}

	outCol := agg
	if agg != "count" {
		outCol = agg + "_" + column
	}
	out := make([]models.Row, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		row := b.keyRow.Clone()
		switch agg {
		case "count":
			row[outCol] = models.Number(float64(b.count))
		case "sum":
			row[outCol] = models.Number(b.sum)
		case "avg":
			if b.count > 0 {
				row[outCol] = models.Number(b.sum / float64(b.count))
			} else {
				row[outCol] = models.Null()
			}
		case "min":
			row[outCol] = numberOrNull(b.min, b.seen)
		case "max":
			row[outCol] = numberOrNull(b.max, b.seen)
		default:
			return models.Failed(errors.Newf(errors.CodeAggregationFailed,
				"unknown group aggregation: %s", agg).Error())
		}
		out = append(out, row)
	}
	return models.OK(out)
}

func numberOrNull(n float64, seen bool) models.Value {
	if !seen {
		return models.Null()
	}
	return models.Number(n)
}

func columnUnion(rows []models.Row) []string {
	set := map[string]bool{}
	for _, row := range rows {
		for col := range row {
			set[col] = true
		}
	}
	out := make([]string, 0, len(set))
	for col := range set {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

// truthy mirrors the expression language's boolean coercion: null,
// false, zero and "" are false.
func truthy(v models.Value) bool {
	switch v.Kind() {
	case models.KindNull:
		return false
	case models.KindBool:
		return v.Bool()
	case models.KindNumber:
		return v.Number() != 0
	case models.KindString:
		return v.Str() != ""
	default:
		return true
	}
}

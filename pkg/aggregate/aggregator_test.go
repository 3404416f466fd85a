package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/fedra/pkg/models"
)

func testAggregator(t *testing.T) *Aggregator {
	t.Helper()
	return New(zerolog.Nop())
}

func params(t *testing.T, text string) models.Value {
	t.Helper()
	var v models.Value
	require.NoError(t, json.Unmarshal([]byte(text), &v))
	return v
}

func rows(rs ...models.Row) *models.TabularResult {
	return models.OK(rs)
}

func usersInput() *models.TabularResult {
	return rows(
		models.Row{"user_id": models.Number(1), "name": models.String("ada")},
		models.Row{"user_id": models.Number(2), "name": models.String("bob")},
		models.Row{"user_id": models.Number(3), "name": models.String("cyd")},
	)
}

func ordersInput() *models.TabularResult {
	return rows(
		models.Row{"user_id": models.Number(1), "total": models.Number(10)},
		models.Row{"user_id": models.Number(1), "total": models.Number(5)},
		models.Row{"user_id": models.Number(2), "total": models.Number(7)},
		models.Row{"user_id": models.Number(9), "total": models.Number(99)},
	)
}

func TestAggregate_UnknownOperation(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput()}, "pivot", models.Null())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown aggregation operation")
}

func TestAggregate_DropsUnusableInputs(t *testing.T) {
	inputs := []*models.TabularResult{
		models.Failed("boom"),
		models.OK(nil),
		usersInput(),
	}
	result := testAggregator(t).Aggregate(inputs, "limit", params(t, `{"count": 2}`))
	require.True(t, result.Success)
	assert.Equal(t, 2, result.RowCount)
}

func TestAggregate_NoUsableInputs(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{models.Failed("boom")}, "union", models.Null())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no usable inputs")
}

func TestAggregate_AlwaysRecordsTiming(t *testing.T) {
	ok := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput()}, "limit", params(t, `{"count": 1}`))
	assert.GreaterOrEqual(t, ok.AggregationSeconds, 0.0)

	failed := testAggregator(t).Aggregate(nil, "union", models.Null())
	assert.False(t, failed.Success)
	assert.GreaterOrEqual(t, failed.AggregationSeconds, 0.0)
}

func TestJoin_Inner(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput(), ordersInput()},
		"join", params(t, `{"left_on": "user_id"}`))
	require.True(t, result.Success, result.Error)

	// user 1 matches twice, user 2 once, user 3 and order user 9 drop.
	assert.Equal(t, 3, result.RowCount)
	for _, row := range result.Rows {
		assert.False(t, row.Field("name").IsNull())
		assert.False(t, row.Field("total").IsNull())
	}
}

func TestJoin_LeftAndOuter(t *testing.T) {
	agg := testAggregator(t)

	left := agg.Aggregate(
		[]*models.TabularResult{usersInput(), ordersInput()},
		"join", params(t, `{"left_on": "user_id", "how": "left"}`))
	require.True(t, left.Success)
	assert.Equal(t, 4, left.RowCount) // 3 matches + unmatched user 3

	outer := agg.Aggregate(
		[]*models.TabularResult{usersInput(), ordersInput()},
		"join", params(t, `{"left_on": "user_id", "how": "outer"}`))
	require.True(t, outer.Success)
	assert.Equal(t, 5, outer.RowCount) // + unmatched order user 9
}

func TestJoin_RequiresTwoInputs(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput()},
		"join", params(t, `{"left_on": "user_id"}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "exactly 2 inputs")
}

func TestJoin_MissingKeyFailsClosed(t *testing.T) {
	left := rows(models.Row{"name": models.String("no key here")})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{left, ordersInput()},
		"join", params(t, `{"left_on": "user_id"}`))
	require.True(t, result.Success)
	// A row without the join key matches nothing rather than everything.
	assert.Equal(t, 0, result.RowCount)
}

func TestJoin_RequiresLeftOn(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput(), ordersInput()},
		"join", params(t, `{}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "left_on")
}

func TestJoin_SuffixesCollidingColumns(t *testing.T) {
	left := rows(models.Row{"id": models.Number(1), "v": models.String("L")})
	right := rows(models.Row{"id": models.Number(1), "v": models.String("R")})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{left, right},
		"join", params(t, `{"left_on": "id"}`))
	require.True(t, result.Success)
	require.Equal(t, 1, result.RowCount)

	row := result.Rows[0]
	assert.Equal(t, "L", row.Field("v_x").Str())
	assert.Equal(t, "R", row.Field("v_y").Str())
	assert.True(t, row.Field("v").IsNull())
	// The shared join key is kept once.
	assert.Equal(t, 1.0, row.Field("id").Number())
}

func TestJoin_DifferentKeyNames(t *testing.T) {
	right := rows(
		models.Row{"uid": models.Number(1), "total": models.Number(10)},
	)
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput(), right},
		"join", params(t, `{"left_on": "user_id", "right_on": "uid"}`))
	require.True(t, result.Success)
	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, "ada", result.Rows[0].Field("name").Str())
}

func TestUnion_MismatchedSchemas(t *testing.T) {
	a := rows(models.Row{"x": models.Number(1)})
	b := rows(models.Row{"y": models.String("z")})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{a, b}, "union", models.Null())
	require.True(t, result.Success)
	assert.Equal(t, 2, result.RowCount)
	assert.True(t, result.Rows[0].Field("y").IsNull())
	assert.Equal(t, []string{"x", "y"}, result.ColumnNames())
}

func TestTransform_OperationsApplyInOrder(t *testing.T) {
	input := rows(
		models.Row{"a": models.Number(1), "b": models.Number(2), "c": models.Number(3)},
	)
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [
			{"type": "select_columns", "columns": ["a", "b"]},
			{"type": "rename_columns", "rename_map": {"a": "alpha"}},
			{"type": "add_column", "column_name": "sum", "expression": "alpha + b"},
			{"type": "drop_columns", "columns": ["b"]}
		]}`))
	require.True(t, result.Success, result.Error)
	require.Equal(t, 1, result.RowCount)

	row := result.Rows[0]
	assert.Equal(t, 1.0, row.Field("alpha").Number())
	assert.Equal(t, 3.0, row.Field("sum").Number())
	assert.True(t, row.Field("b").IsNull())
	assert.True(t, row.Field("c").IsNull())
}

func TestTransform_RenameTakesEffect(t *testing.T) {
	input := rows(models.Row{"a": models.Number(1), "b": models.Number(2)})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [
			{"type": "rename_columns", "rename_map": {"a": "z"}}
		]}`))
	require.True(t, result.Success, result.Error)

	row := result.Rows[0]
	assert.Equal(t, 1.0, row.Field("z").Number())
	assert.True(t, row.Field("a").IsNull())
}

func TestTransform_RenameThenSelectByNewName(t *testing.T) {
	input := rows(models.Row{"a": models.Number(1), "b": models.Number(2)})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [
			{"type": "rename_columns", "rename_map": {"a": "z"}},
			{"type": "select_columns", "columns": ["z"]}
		]}`))
	require.True(t, result.Success, result.Error)

	// The select sees the renamed column, and b is gone.
	row := result.Rows[0]
	assert.Equal(t, 1.0, row.Field("z").Number())
	assert.True(t, row.Field("b").IsNull())
	assert.Equal(t, []string{"z"}, result.ColumnNames())
}

func TestTransform_RepeatedKinds(t *testing.T) {
	input := rows(models.Row{"a": models.Number(2)})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [
			{"type": "add_column", "column_name": "double", "expression": "a * 2"},
			{"type": "add_column", "column_name": "triple", "expression": "a * 3"}
		]}`))
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 4.0, result.Rows[0].Field("double").Number())
	assert.Equal(t, 6.0, result.Rows[0].Field("triple").Number())
}

func TestTransform_FillNA(t *testing.T) {
	input := rows(
		models.Row{"a": models.Number(1)},
		models.Row{"b": models.Number(2)},
	)
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [{"type": "fill_na", "value": 0}]}`))
	require.True(t, result.Success)
	assert.Equal(t, 0.0, result.Rows[0].Field("b").Number())
	assert.False(t, result.Rows[0].Field("b").IsNull())
}

func TestTransform_FillNAColumnSubset(t *testing.T) {
	input := rows(models.Row{"a": models.Null(), "b": models.Null()})
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [
			{"type": "fill_na", "value": 0, "columns": ["a"]}
		]}`))
	require.True(t, result.Success)

	// Only the named column is filled.
	assert.Equal(t, 0.0, result.Rows[0].Field("a").Number())
	assert.True(t, result.Rows[0].Field("b").IsNull())
}

func TestTransform_NoTransformationsFails(t *testing.T) {
	for _, text := range []string{`{}`, `{"transformations": []}`} {
		result := testAggregator(t).Aggregate(
			[]*models.TabularResult{usersInput()}, "transform", params(t, text))
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "no transformations")
	}
}

func TestTransform_UnknownTypeFails(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{usersInput()},
		"transform", params(t, `{"transformations": [{"type": "pivot"}]}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown transformation type")
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	input := rows(models.Row{"a": models.Number(1)})
	_ = testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"transform", params(t, `{"transformations": [
			{"type": "rename_columns", "rename_map": {"a": "z"}}
		]}`))
	assert.Equal(t, 1.0, input.Rows[0].Field("a").Number())
}

func TestFilter_Expression(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{ordersInput()},
		"filter", params(t, `{"expression": "total > 6 and user_id < 9"}`))
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.RowCount)
}

func TestFilter_BadExpression(t *testing.T) {
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{ordersInput()},
		"filter", params(t, `{"expression": "total >"}`))
	assert.False(t, result.Success)
}

func TestSort_MultiKeyStable(t *testing.T) {
	input := rows(
		models.Row{"g": models.String("b"), "n": models.Number(1), "tag": models.String("first")},
		models.Row{"g": models.String("a"), "n": models.Number(2)},
		models.Row{"g": models.String("b"), "n": models.Number(1), "tag": models.String("second")},
		models.Row{"g": models.String("a"), "n": models.Number(1)},
	)
	result := testAggregator(t).Aggregate(
		[]*models.TabularResult{input},
		"sort", params(t, `{"by": ["g", "n"], "ascending": [true, false]}`))
	require.True(t, result.Success)

	assert.Equal(t, "a", result.Rows[0].Field("g").Str())
	assert.Equal(t, 2.0, result.Rows[0].Field("n").Number())
	// Equal keys keep their input order.
	assert.Equal(t, "first", result.Rows[2].Field("tag").Str())
	assert.Equal(t, "second", result.Rows[3].Field("tag").Str())
}

func TestLimit(t *testing.T) {
	agg := testAggregator(t)

	result := agg.Aggregate([]*models.TabularResult{ordersInput()},
		"limit", params(t, `{"count": 2}`))
	require.True(t, result.Success)
	assert.Equal(t, 2, result.RowCount)

	// A limit past the end returns everything.
	result = agg.Aggregate([]*models.TabularResult{ordersInput()},
		"limit", params(t, `{"count": 100}`))
	require.True(t, result.Success)
	assert.Equal(t, 4, result.RowCount)

	result = agg.Aggregate([]*models.TabularResult{ordersInput()},
		"limit", params(t, `{"count": -1}`))
	assert.False(t, result.Success)

	result = agg.Aggregate([]*models.TabularResult{ordersInput()},
		"limit", params(t, `{}`))
	assert.False(t, result.Success)
}

func TestGroup_CountAndSum(t *testing.T) {
	agg := testAggregator(t)

	count := agg.Aggregate([]*models.TabularResult{ordersInput()},
		"group", params(t, `{"by": "user_id"}`))
	require.True(t, count.Success, count.Error)
	require.Equal(t, 3, count.RowCount)
	// Groups come out in first-seen order.
	assert.Equal(t, 1.0, count.Rows[0].Field("user_id").Number())
	assert.Equal(t, 2.0, count.Rows[0].Field("count").Number())

	sum := agg.Aggregate([]*models.TabularResult{ordersInput()},
		"group", params(t, `{"by": "user_id", "aggregation": "sum", "column": "total"}`))
	require.True(t, sum.Success)
	assert.Equal(t, 15.0, sum.Rows[0].Field("sum_total").Number())
}

func TestGroup_MinMaxAvg(t *testing.T) {
	agg := testAggregator(t)

	avg := agg.Aggregate([]*models.TabularResult{ordersInput()},
		"group", params(t, `{"by": "user_id", "aggregation": "avg", "column": "total"}`))
	require.True(t, avg.Success)
	assert.Equal(t, 7.5, avg.Rows[0].Field("avg_total").Number())

	min := agg.Aggregate([]*models.TabularResult{ordersInput()},
		"group", params(t, `{"by": "user_id", "aggregation": "min", "column": "total"}`))
	require.True(t, min.Success)
	assert.Equal(t, 5.0, min.Rows[0].Field("min_total").Number())

	max := agg.Aggregate([]*models.TabularResult{ordersInput()},
		"group", params(t, `{"by": "user_id", "aggregation": "max", "column": "total"}`))
	require.True(t, max.Success)
	assert.Equal(t, 10.0, max.Rows[0].Field("max_total").Number())
}

func TestGroup_RequiresColumnForNumericAggregations(t *testing.T) {
	result := testAggregator(t).Aggregate([]*models.TabularResult{ordersInput()},
		"group", params(t, `{"by": "user_id", "aggregation": "sum"}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "requires a column")
}

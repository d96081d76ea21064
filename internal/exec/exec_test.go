package exec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pagedb/internal/aggregate"
	"pagedb/internal/expr"
	"pagedb/internal/value"
)

func schemaOf(names ...string) value.Schema {
	schema := make(value.Schema, len(names))
	for i, n := range names {
		schema[i] = value.ColumnSchema{Name: n, Type: value.TypeInt64}
	}
	return schema
}

func TestReadFromRowsYieldsSingleRowWhenEmpty(t *testing.T) {
	r := NewReadFromRows(nil, value.Schema{})
	row, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, row)

	_, ok, err = r.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFilterKeepsOnlyMatchingRows(t *testing.T) {
	schema := schemaOf("n")
	rows := []value.Row{{value.Int64(1)}, {value.Int64(2)}, {value.Int64(3)}}
	source := NewReadFromRows(rows, schema)

	accessor := expr.NewSchemaAccessor(schema)
	id, err := expr.NewIdentifier("n", accessor)
	require.NoError(t, err)
	predicate := &expr.BinaryExpr{Op: expr.OpGe, LHS: id, RHS: expr.NumberLiteral{V: 2}}

	f := NewFilter(source, predicate)
	got, err := Drain(f)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(2), got[0][0].I64)
	require.Equal(t, int64(3), got[1][0].I64)
}

func TestSortOrdersDescendingStably(t *testing.T) {
	schema := schemaOf("n")
	rows := []value.Row{{value.Int64(1)}, {value.Int64(3)}, {value.Int64(2)}}
	source := NewReadFromRows(rows, schema)

	accessor := expr.NewSchemaAccessor(schema)
	id, err := expr.NewIdentifier("n", accessor)
	require.NoError(t, err)

	s := NewSort(source, []SortKey{{Expr: id, Desc: true}})
	got, err := Drain(s)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, []int64{got[0][0].I64, got[1][0].I64, got[2][0].I64})
}

func TestJoinOnSharedColumnName(t *testing.T) {
	leftSchema := value.Schema{
		{Name: "id", Type: value.TypeInt64},
		{Name: "name", Type: value.TypeString},
	}
	rightSchema := value.Schema{
		{Name: "id", Type: value.TypeInt64},
		{Name: "amount", Type: value.TypeInt64},
	}
	left := NewReadFromRows([]value.Row{
		{value.Int64(1), value.String("alice")},
		{value.Int64(2), value.String("bob")},
	}, leftSchema)
	right := NewReadFromRows([]value.Row{
		{value.Int64(2), value.Int64(50)},
		{value.Int64(3), value.Int64(99)},
	}, rightSchema)

	j := NewJoin(left, right)
	got, err := Drain(j)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bob", got[0][1].Str)
	require.Equal(t, int64(50), got[0][2].I64)

	outSchema := j.OutputSchema()
	require.Equal(t, []string{"id", "name", "amount"}, outSchema.Names())
}

func TestJoinCartesianWhenNoSharedColumns(t *testing.T) {
	left := NewReadFromRows([]value.Row{{value.Int64(1)}}, schemaOf("a"))
	right := NewReadFromRows([]value.Row{{value.Int64(10)}, {value.Int64(20)}}, schemaOf("b"))

	j := NewJoin(left, right)
	got, err := Drain(j)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestGroupBySumsPerGroup(t *testing.T) {
	schema := value.Schema{
		{Name: "category", Type: value.TypeString},
		{Name: "amount", Type: value.TypeInt64},
	}
	rows := []value.Row{
		{value.String("a"), value.Int64(10)},
		{value.String("b"), value.Int64(5)},
		{value.String("a"), value.Int64(20)},
	}
	source := NewReadFromRows(rows, schema)
	accessor := expr.NewSchemaAccessor(schema)

	catID, err := expr.NewIdentifier("category", accessor)
	require.NoError(t, err)
	amtID, err := expr.NewIdentifier("amount", accessor)
	require.NoError(t, err)

	reg := aggregate.NewRegistry()
	sumFn, err := reg.Get("sum")
	require.NoError(t, err)

	gb := NewGroupBy(source,
		[]GroupKey{{Name: "category", Expr: catID}},
		[]GroupAggregate{{Name: "total", Function: sumFn, Argument: amtID}},
	)

	got, err := Drain(gb)
	require.NoError(t, err)
	require.Len(t, got, 2)

	totals := map[string]int64{}
	for _, row := range got {
		totals[row[0].Str] = row[1].I64
	}
	require.Equal(t, int64(30), totals["a"])
	require.Equal(t, int64(5), totals["b"])
}

// Package exec implements the Volcano-style pull-based operator tree,
// grounded on the original engine's executor.cpp. Every Operator exposes
// Next (returning ok=false at end of stream) and OutputSchema. Sort, Join,
// and GroupBy are pipeline breakers: they drain their children eagerly the
// first time Next is called.
package exec

import (
	"fmt"
	"sort"

	"pagedb/internal/aggregate"
	"pagedb/internal/dberr"
	"pagedb/internal/expr"
	"pagedb/internal/storage"
	"pagedb/internal/storage/table"
	"pagedb/internal/value"
)

// Operator is the pull-based interface every node in an executor tree
// implements.
type Operator interface {
	Next() (value.Row, bool, error)
	OutputSchema() value.Schema
}

// Drain pulls every row out of an operator, used by the pipeline-breaking
// operators below to materialize their child.
func Drain(op Operator) ([]value.Row, error) {
	var rows []value.Row
	for {
		row, ok, err := op.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, row)
	}
}

// ReadFromRows replays a fixed row vector. If constructed with no rows it
// yields a single empty row instead of ending immediately, supporting
// `SELECT <consts>` with no FROM clause.
type ReadFromRows struct {
	rows    []value.Row
	schema  value.Schema
	counter int
	done    bool
}

func NewReadFromRows(rows []value.Row, schema value.Schema) *ReadFromRows {
	return &ReadFromRows{rows: rows, schema: schema}
}

func (r *ReadFromRows) Next() (value.Row, bool, error) {
	if r.counter < len(r.rows) {
		row := r.rows[r.counter]
		r.counter++
		return row, true, nil
	}
	if len(r.rows) == 0 && !r.done {
		r.done = true
		return value.Row{}, true, nil
	}
	return nil, false, nil
}

func (r *ReadFromRows) OutputSchema() value.Schema { return r.schema }

// ReadFromTable scans a table page by page, slot by slot, yielding an
// empty row for tombstoned slots rather than skipping them silently so
// callers can tell a deletion from end of stream.
type ReadFromTable struct {
	tbl       *table.Table
	schema    value.Schema
	page      storage.PageIndex
	slot      storage.RowIndex
	pageCount storage.PageIndex
}

func NewReadFromTable(tbl *table.Table) *ReadFromTable {
	return &ReadFromTable{tbl: tbl, schema: tbl.Schema(), pageCount: tbl.PageCount()}
}

func (r *ReadFromTable) Next() (value.Row, bool, error) {
	for r.page < r.pageCount {
		n, err := r.tbl.RowCountInPage(r.page)
		if err != nil {
			return nil, false, err
		}
		if r.slot >= n {
			r.page++
			r.slot = 0
			continue
		}
		row, err := r.tbl.GetAt(r.page, r.slot)
		r.slot++
		if err != nil {
			return nil, false, err
		}
		return row, true, nil
	}
	return nil, false, nil
}

func (r *ReadFromTable) OutputSchema() value.Schema { return r.schema }

// Expressions projects each input row through a list of expressions.
type Expressions struct {
	input       Operator
	expressions []expr.Expr
	schema      value.Schema
}

func NewExpressions(input Operator, expressions []expr.Expr, names []string) *Expressions {
	schema := make(value.Schema, len(expressions))
	for i, e := range expressions {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		schema[i] = value.ColumnSchema{Name: name, Type: e.ResultType()}
	}
	return &Expressions{input: input, expressions: expressions, schema: schema}
}

func (e *Expressions) Next() (value.Row, bool, error) {
	row, ok, err := e.input.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make(value.Row, len(e.expressions))
	for i, expression := range e.expressions {
		v, err := expression.Evaluate(row)
		if err != nil {
			return nil, false, err
		}
		out[i] = v
	}
	return out, true, nil
}

func (e *Expressions) OutputSchema() value.Schema { return e.schema }

// Filter pulls rows from its input until the predicate evaluates true,
// discarding the rest.
type Filter struct {
	input     Operator
	predicate expr.Expr
}

func NewFilter(input Operator, predicate expr.Expr) *Filter {
	return &Filter{input: input, predicate: predicate}
}

func (f *Filter) Next() (value.Row, bool, error) {
	for {
		row, ok, err := f.input.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		v, err := f.predicate.Evaluate(row)
		if err != nil {
			return nil, false, err
		}
		if v.Kind != value.KindBoolean {
			return nil, false, fmt.Errorf("filter predicate must be boolean: %w", dberr.ErrTypeMismatch)
		}
		if v.Bool {
			return row, true, nil
		}
	}
}

func (f *Filter) OutputSchema() value.Schema { return f.input.OutputSchema() }

// SortKey is one (expression, direction) pair a Sort orders by, in order.
type SortKey struct {
	Expr expr.Expr
	Desc bool
}

// Sort materializes its child, sorts the full row vector by a composite
// comparator over SortKeys, then replays it.
type Sort struct {
	keys   []SortKey
	schema value.Schema
	rows   []value.Row
	pos    int
	err    error
	drawn  bool
	input  Operator
}

func NewSort(input Operator, keys []SortKey) *Sort {
	return &Sort{input: input, keys: keys, schema: input.OutputSchema()}
}

func (s *Sort) ensureDrawn() {
	if s.drawn {
		return
	}
	s.drawn = true
	rows, err := Drain(s.input)
	if err != nil {
		s.err = err
		return
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		less, err := s.less(rows[i], rows[j])
		if err != nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		s.err = sortErr
		return
	}
	s.rows = rows
}

func (s *Sort) less(a, b value.Row) (bool, error) {
	for _, key := range s.keys {
		va, err := key.Expr.Evaluate(a)
		if err != nil {
			return false, err
		}
		vb, err := key.Expr.Evaluate(b)
		if err != nil {
			return false, err
		}
		cmp := value.Compare(va, vb)
		if cmp == 0 {
			continue
		}
		result := cmp < 0
		if key.Desc {
			result = !result
		}
		return result, nil
	}
	return false, nil
}

func (s *Sort) Next() (value.Row, bool, error) {
	s.ensureDrawn()
	if s.err != nil {
		return nil, false, s.err
	}
	if s.pos == len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func (s *Sort) OutputSchema() value.Schema { return s.schema }

// Join equi-joins on every column name shared between its two children. If
// no names match the result is the full Cartesian product. Both children
// are materialized before the first row is produced.
type Join struct {
	left, right Operator
	schema      value.Schema
	rows        []value.Row
	pos         int
	drawn       bool
	err         error
}

func NewJoin(left, right Operator) *Join {
	return &Join{left: left, right: right}
}

func (j *Join) ensureDrawn() {
	if j.drawn {
		return
	}
	j.drawn = true

	leftSchema := j.left.OutputSchema()
	rightSchema := j.right.OutputSchema()

	schema := append(value.Schema{}, leftSchema...)
	leftMatch := make(map[int]int) // left index -> right index
	rightMatch := make(map[int]int)
	for i, lc := range leftSchema {
		for k, rc := range rightSchema {
			if lc.Name == rc.Name {
				leftMatch[i] = k
				rightMatch[k] = i
				break
			}
		}
	}
	for i, rc := range rightSchema {
		if _, common := rightMatch[i]; !common {
			schema = append(schema, rc)
		}
	}
	j.schema = schema

	leftRows, err := Drain(j.left)
	if err != nil {
		j.err = err
		return
	}
	rightRows, err := Drain(j.right)
	if err != nil {
		j.err = err
		return
	}

	for _, lrow := range leftRows {
		for _, rrow := range rightRows {
			match := true
			for li, ri := range leftMatch {
				if value.Compare(lrow[li], rrow[ri]) != 0 {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			newRow := append(value.Row{}, lrow...)
			for i, v := range rrow {
				if _, common := rightMatch[i]; !common {
					newRow = append(newRow, v)
				}
			}
			j.rows = append(j.rows, newRow)
		}
	}
}

func (j *Join) Next() (value.Row, bool, error) {
	j.ensureDrawn()
	if j.err != nil {
		return nil, false, j.err
	}
	if j.pos == len(j.rows) {
		return nil, false, nil
	}
	row := j.rows[j.pos]
	j.pos++
	return row, true, nil
}

func (j *Join) OutputSchema() value.Schema {
	j.ensureDrawn()
	return j.schema
}

// GroupKey is one grouping expression, with the name it contributes to the
// output schema.
type GroupKey struct {
	Name string
	Expr expr.Expr
}

// GroupAggregate is one `aggregate(argument) AS name` column of a GroupBy.
type GroupAggregate struct {
	Name     string
	Function aggregate.Function
	Argument expr.Expr
}

// GroupBy hashes each input row on its group-key tuple, maintains one
// aggregate state per (group, aggregate column), and emits one row per
// distinct group in arbitrary but deterministic order.
type GroupBy struct {
	input      Operator
	keys       []GroupKey
	aggregates []GroupAggregate
	schema     value.Schema
	rows       []value.Row
	pos        int
	drawn      bool
	err        error
}

func NewGroupBy(input Operator, keys []GroupKey, aggregates []GroupAggregate) *GroupBy {
	schema := make(value.Schema, 0, len(keys)+len(aggregates))
	for _, k := range keys {
		schema = append(schema, value.ColumnSchema{Name: k.Name, Type: k.Expr.ResultType()})
	}
	for _, a := range aggregates {
		schema = append(schema, value.ColumnSchema{Name: a.Name, Type: a.Argument.ResultType()})
	}
	return &GroupBy{input: input, keys: keys, aggregates: aggregates, schema: schema}
}

type groupState struct {
	key   value.Row
	state [][]byte
}

func (g *GroupBy) ensureDrawn() {
	if g.drawn {
		return
	}
	g.drawn = true

	rows, err := Drain(g.input)
	if err != nil {
		g.err = err
		return
	}

	order := make([]string, 0)
	groups := make(map[string]*groupState)

	for _, row := range rows {
		keyRow := make(value.Row, len(g.keys))
		for i, k := range g.keys {
			v, err := k.Expr.Evaluate(row)
			if err != nil {
				g.err = err
				return
			}
			keyRow[i] = v
		}
		groupID := groupKeyString(keyRow)

		gs, ok := groups[groupID]
		if !ok {
			gs = &groupState{key: keyRow, state: make([][]byte, len(g.aggregates))}
			for i, a := range g.aggregates {
				buf := make([]byte, a.Function.StateSize())
				a.Function.Create(buf)
				gs.state[i] = buf
			}
			groups[groupID] = gs
			order = append(order, groupID)
		}

		for i, a := range g.aggregates {
			argVal, err := a.Argument.Evaluate(row)
			if err != nil {
				g.err = err
				return
			}
			if err := a.Function.Add(gs.state[i], value.Row{argVal}); err != nil {
				g.err = err
				return
			}
		}
	}

	for _, id := range order {
		gs := groups[id]
		outRow := append(value.Row{}, gs.key...)
		for i, a := range g.aggregates {
			outRow = append(outRow, a.Function.Result(gs.state[i]))
		}
		g.rows = append(g.rows, outRow)
	}
}

func groupKeyString(key value.Row) string {
	s := ""
	for _, v := range key {
		s += fmt.Sprintf("%d:%s|", v.Kind, v.String())
	}
	return s
}

func (g *GroupBy) Next() (value.Row, bool, error) {
	g.ensureDrawn()
	if g.err != nil {
		return nil, false, g.err
	}
	if g.pos == len(g.rows) {
		return nil, false, nil
	}
	row := g.rows[g.pos]
	g.pos++
	return row, true, nil
}

func (g *GroupBy) OutputSchema() value.Schema { return g.schema }

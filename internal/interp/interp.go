// Package interp translates a parsed statement from internal/sql into an
// internal/exec operator tree (or a direct catalog/table mutation for DDL
// and inserts) and runs it to completion, grounded on the original engine's
// interpreter.cpp.
package interp

import (
	"fmt"
	"strconv"
	"strings"

	"pagedb/internal/aggregate"
	"pagedb/internal/catalog"
	"pagedb/internal/dberr"
	"pagedb/internal/exec"
	"pagedb/internal/expr"
	"pagedb/internal/sql"
	"pagedb/internal/storage/table"
	"pagedb/internal/value"
)

// Result is the outcome of running one statement: a schema and row set.
// DDL and INSERT statements return an empty schema and no rows.
type Result struct {
	Schema value.Schema
	Rows   []value.Row
}

// Interpreter resolves table names through a Catalog and executes parsed
// statements against the tables it finds.
type Interpreter struct {
	catalog    *catalog.Catalog
	numFrames  int
	aggregates *aggregate.Registry
}

func New(cat *catalog.Catalog, numFrames int) *Interpreter {
	return &Interpreter{catalog: cat, numFrames: numFrames, aggregates: aggregate.NewRegistry()}
}

// Run parses a single statement and executes it.
func (it *Interpreter) Run(query string) (*Result, error) {
	stmt, err := sql.NewParser(query).ParseStatement()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return it.Execute(stmt)
}

func (it *Interpreter) Execute(stmt sql.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *sql.CreateTableStmt:
		return it.execCreateTable(s)
	case *sql.DropTableStmt:
		return it.execDropTable(s)
	case *sql.InsertStmt:
		return it.execInsert(s)
	case *sql.SelectStmt:
		return it.execSelect(s)
	default:
		return nil, fmt.Errorf("unsupported statement %T: %w", stmt, dberr.ErrUnsupportedOperation)
	}
}

func (it *Interpreter) execCreateTable(stmt *sql.CreateTableStmt) (*Result, error) {
	if _, exists, err := it.catalog.FindTableSchema(stmt.Name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("table %q already exists", stmt.Name)
	}

	schema := make(value.Schema, len(stmt.Columns))
	for i, c := range stmt.Columns {
		schema[i] = value.ColumnSchema{Name: c.Name, Type: c.Type, Length: c.Length}
	}
	if len(schema) > value.MaxColumns {
		return nil, fmt.Errorf("table %q: too many columns", stmt.Name)
	}

	if err := it.catalog.SaveTableSchema(stmt.Name, schema); err != nil {
		return nil, err
	}

	tbl, err := table.Open(it.catalog.TablePath(stmt.Name), schema, it.numFrames)
	if err != nil {
		return nil, err
	}
	if err := tbl.Close(); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (it *Interpreter) execDropTable(stmt *sql.DropTableStmt) (*Result, error) {
	schema, ok, err := it.catalog.FindTableSchema(stmt.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %q: %w", stmt.Name, dberr.ErrTableNotFound)
	}

	tbl, err := table.Open(it.catalog.TablePath(stmt.Name), schema, it.numFrames)
	if err != nil {
		return nil, err
	}
	if err := tbl.Remove(); err != nil {
		return nil, err
	}
	if err := it.catalog.ForgetTableSchema(stmt.Name); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (it *Interpreter) execInsert(stmt *sql.InsertStmt) (*Result, error) {
	schema, ok, err := it.catalog.FindTableSchema(stmt.Table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %q: %w", stmt.Table, dberr.ErrTableNotFound)
	}
	if len(stmt.Values) != len(schema) {
		return nil, fmt.Errorf("table %q expects %d values, got %d", stmt.Table, len(schema), len(stmt.Values))
	}

	tbl, err := table.Open(it.catalog.TablePath(stmt.Table), schema, it.numFrames)
	if err != nil {
		return nil, err
	}
	defer tbl.Close()

	row := make(value.Row, len(schema))
	emptyAccessor := expr.NewSchemaAccessor(value.Schema{})
	for i, ve := range stmt.Values {
		built, err := it.buildExpr(ve, emptyAccessor, nil)
		if err != nil {
			return nil, err
		}
		v, err := built.Evaluate(nil)
		if err != nil {
			return nil, err
		}
		coerced, err := coerceValue(v, schema[i].Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", schema[i].Name, err)
		}
		row[i] = coerced
	}

	if _, err := tbl.Insert(row); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func coerceValue(v value.Value, target value.Type) (value.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch target {
	case value.TypeBoolean:
		if v.Kind != value.KindBoolean {
			return value.Value{}, fmt.Errorf("expected boolean: %w", dberr.ErrTypeMismatch)
		}
		return v, nil
	case value.TypeUint64:
		switch v.Kind {
		case value.KindUint64:
			return v, nil
		case value.KindInt64:
			if v.I64 < 0 {
				return value.Value{}, fmt.Errorf("negative value for unsigned column: %w", dberr.ErrTypeMismatch)
			}
			return value.Uint64(uint64(v.I64)), nil
		default:
			return value.Value{}, fmt.Errorf("expected uint64: %w", dberr.ErrTypeMismatch)
		}
	case value.TypeInt64:
		if v.Kind != value.KindInt64 {
			return value.Value{}, fmt.Errorf("expected int64: %w", dberr.ErrTypeMismatch)
		}
		return v, nil
	case value.TypeVarchar:
		if v.Kind != value.KindVarchar && v.Kind != value.KindString {
			return value.Value{}, fmt.Errorf("expected string: %w", dberr.ErrTypeMismatch)
		}
		return value.Varchar(v.Str), nil
	case value.TypeString:
		if v.Kind != value.KindVarchar && v.Kind != value.KindString {
			return value.Value{}, fmt.Errorf("expected string: %w", dberr.ErrTypeMismatch)
		}
		return value.String(v.Str), nil
	default:
		return value.Value{}, fmt.Errorf("unknown column type %v: %w", target, dberr.ErrUnsupportedOperation)
	}
}

func (it *Interpreter) execSelect(stmt *sql.SelectStmt) (*Result, error) {
	var tables []*table.Table
	defer func() {
		for _, t := range tables {
			t.Close()
		}
	}()

	var source exec.Operator
	for _, name := range stmt.From {
		schema, ok, err := it.catalog.FindTableSchema(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("table %q: %w", name, dberr.ErrTableNotFound)
		}
		tbl, err := table.Open(it.catalog.TablePath(name), schema, it.numFrames)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tbl)

		reader := exec.NewReadFromTable(tbl)
		if source == nil {
			source = reader
		} else {
			source = exec.NewJoin(source, reader)
		}
	}
	if source == nil {
		source = exec.NewReadFromRows(nil, value.Schema{})
	}

	accessor := expr.NewSchemaAccessor(source.OutputSchema())

	var filtered exec.Operator = source
	if stmt.Where != nil {
		whereExpr, err := it.buildExpr(stmt.Where, accessor, nil)
		if err != nil {
			return nil, err
		}
		filtered = exec.NewFilter(source, whereExpr)
	}

	hasAgg := len(stmt.GroupBy) > 0
	if !hasAgg {
		for _, item := range stmt.Columns {
			if _, ok := item.Expr.(*sql.FunctionCall); ok {
				hasAgg = true
				break
			}
		}
	}

	var final exec.Operator
	var err error
	if hasAgg {
		final, err = it.buildAggregateSelect(stmt, filtered, accessor)
	} else {
		final, err = it.buildPlainSelect(stmt, filtered, accessor)
	}
	if err != nil {
		return nil, err
	}

	rows, err := exec.Drain(final)
	if err != nil {
		return nil, err
	}
	return &Result{Schema: final.OutputSchema(), Rows: rows}, nil
}

func (it *Interpreter) buildPlainSelect(stmt *sql.SelectStmt, input exec.Operator, accessor expr.SchemaAccessor) (exec.Operator, error) {
	srcSchema := input.OutputSchema()

	var exprs []expr.Expr
	var names []string
	for _, item := range stmt.Columns {
		if item.Star {
			for _, col := range srcSchema {
				id, err := expr.NewIdentifier(col.Name, accessor)
				if err != nil {
					return nil, err
				}
				exprs = append(exprs, id)
				names = append(names, col.Name)
			}
			continue
		}
		e, err := it.buildExpr(item.Expr, accessor, nil)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		names = append(names, firstNonEmpty(item.Alias, exprName(item.Expr)))
	}

	projected := exec.NewExpressions(input, exprs, names)

	var out exec.Operator = projected
	if len(stmt.OrderBy) > 0 {
		outAccessor := expr.NewSchemaAccessor(projected.OutputSchema())
		keys := make([]exec.SortKey, 0, len(stmt.OrderBy))
		for _, o := range stmt.OrderBy {
			ke, err := it.buildExpr(o.Expr, outAccessor, nil)
			if err != nil {
				return nil, err
			}
			keys = append(keys, exec.SortKey{Expr: ke, Desc: o.Desc})
		}
		out = exec.NewSort(projected, keys)
	}
	return out, nil
}

func (it *Interpreter) buildAggregateSelect(stmt *sql.SelectStmt, input exec.Operator, accessor expr.SchemaAccessor) (exec.Operator, error) {
	groupKeys := make([]exec.GroupKey, 0, len(stmt.GroupBy))
	for _, ge := range stmt.GroupBy {
		be, err := it.buildExpr(ge, accessor, nil)
		if err != nil {
			return nil, err
		}
		groupKeys = append(groupKeys, exec.GroupKey{Name: exprName(ge), Expr: be})
	}

	aggAlias := map[string]string{}
	var groupAggs []exec.GroupAggregate

	registerAgg := func(fc *sql.FunctionCall, alias string) (string, error) {
		sig := signature(fc)
		if a, ok := aggAlias[sig]; ok {
			return a, nil
		}
		if len(fc.Args) != 1 {
			return "", fmt.Errorf("aggregate %s requires exactly one argument", fc.Name)
		}
		argExpr, err := it.buildExpr(fc.Args[0], accessor, nil)
		if err != nil {
			return "", err
		}
		fn, err := it.aggregates.Get(strings.ToLower(fc.Name))
		if err != nil {
			return "", err
		}
		if alias == "" {
			alias = sig
		}
		groupAggs = append(groupAggs, exec.GroupAggregate{Name: alias, Function: fn, Argument: argExpr})
		aggAlias[sig] = alias
		return alias, nil
	}

	for _, item := range stmt.Columns {
		if fc, ok := item.Expr.(*sql.FunctionCall); ok {
			if _, err := registerAgg(fc, item.Alias); err != nil {
				return nil, err
			}
		}
	}
	if stmt.Having != nil {
		if err := collectAggregates(stmt.Having, registerAgg); err != nil {
			return nil, err
		}
	}

	groupBy := exec.NewGroupBy(input, groupKeys, groupAggs)
	postAccessor := expr.NewSchemaAccessor(groupBy.OutputSchema())

	var afterHaving exec.Operator = groupBy
	if stmt.Having != nil {
		he, err := it.buildExpr(stmt.Having, postAccessor, aggAlias)
		if err != nil {
			return nil, err
		}
		afterHaving = exec.NewFilter(groupBy, he)
	}

	var exprs []expr.Expr
	var names []string
	for _, item := range stmt.Columns {
		if item.Star {
			return nil, fmt.Errorf("SELECT * is not supported together with aggregation: %w", dberr.ErrUnsupportedOperation)
		}
		if fc, ok := item.Expr.(*sql.FunctionCall); ok {
			alias := aggAlias[signature(fc)]
			id, err := expr.NewIdentifier(alias, postAccessor)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, id)
			names = append(names, firstNonEmpty(item.Alias, alias))
			continue
		}
		e, err := it.buildExpr(item.Expr, postAccessor, aggAlias)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		names = append(names, firstNonEmpty(item.Alias, exprName(item.Expr)))
	}

	projected := exec.NewExpressions(afterHaving, exprs, names)

	var out exec.Operator = projected
	if len(stmt.OrderBy) > 0 {
		outAccessor := expr.NewSchemaAccessor(projected.OutputSchema())
		keys := make([]exec.SortKey, 0, len(stmt.OrderBy))
		for _, o := range stmt.OrderBy {
			ke, err := it.buildExpr(o.Expr, outAccessor, nil)
			if err != nil {
				return nil, err
			}
			keys = append(keys, exec.SortKey{Expr: ke, Desc: o.Desc})
		}
		out = exec.NewSort(projected, keys)
	}
	return out, nil
}

// collectAggregates walks an expression tree looking for aggregate calls,
// registering each one it finds (used for HAVING clauses whose aggregate
// isn't also in the SELECT list).
func collectAggregates(e sql.Expr, register func(*sql.FunctionCall, string) (string, error)) error {
	switch n := e.(type) {
	case *sql.FunctionCall:
		_, err := register(n, "")
		return err
	case *sql.BinaryOp:
		if err := collectAggregates(n.LHS, register); err != nil {
			return err
		}
		return collectAggregates(n.RHS, register)
	case *sql.UnaryOp:
		return collectAggregates(n.Expr, register)
	default:
		return nil
	}
}

var binaryOpKind = map[string]expr.BinaryOp{
	"+": expr.OpAdd, "-": expr.OpSub, "*": expr.OpMul, "/": expr.OpDiv,
	"=": expr.OpEq, "!=": expr.OpNe, "<": expr.OpLt, "<=": expr.OpLe,
	">": expr.OpGt, ">=": expr.OpGe, "AND": expr.OpAnd, "OR": expr.OpOr,
}

func (it *Interpreter) buildExpr(e sql.Expr, accessor expr.SchemaAccessor, aggAlias map[string]string) (expr.Expr, error) {
	switch n := e.(type) {
	case *sql.Identifier:
		return expr.NewIdentifier(n.Name, accessor)
	case *sql.NumberLiteral:
		v, err := strconv.ParseInt(n.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer literal %q: %w", n.Text, err)
		}
		return expr.NumberLiteral{V: v}, nil
	case *sql.StringLiteral:
		return expr.StringLiteral{V: n.Text}, nil
	case *sql.BoolLiteral:
		return expr.Literal{V: value.Bool(n.Value), Typ: value.TypeBoolean}, nil
	case *sql.NullLiteral:
		return expr.Literal{V: value.Null(), Typ: value.TypeInt64}, nil
	case *sql.UnaryOp:
		inner, err := it.buildExpr(n.Expr, accessor, aggAlias)
		if err != nil {
			return nil, err
		}
		op := expr.OpNeg
		if n.Op == "NOT" {
			op = expr.OpNot
		}
		return &expr.UnaryExpr{Op: op, Expr: inner}, nil
	case *sql.BinaryOp:
		lhs, err := it.buildExpr(n.LHS, accessor, aggAlias)
		if err != nil {
			return nil, err
		}
		rhs, err := it.buildExpr(n.RHS, accessor, aggAlias)
		if err != nil {
			return nil, err
		}
		op, ok := binaryOpKind[n.Op]
		if !ok {
			return nil, fmt.Errorf("unknown operator %q: %w", n.Op, dberr.ErrUnsupportedOperation)
		}
		if op >= expr.OpEq && op <= expr.OpGe {
			// A non-negative integer literal compared with a uint64 operand
			// becomes a uint64 constant, so both sides share one variant.
			if lit, isNum := rhs.(expr.NumberLiteral); isNum && lit.V >= 0 && lhs.ResultType() == value.TypeUint64 {
				rhs = expr.Literal{V: value.Uint64(uint64(lit.V)), Typ: value.TypeUint64}
			} else if lit, isNum := lhs.(expr.NumberLiteral); isNum && lit.V >= 0 && rhs.ResultType() == value.TypeUint64 {
				lhs = expr.Literal{V: value.Uint64(uint64(lit.V)), Typ: value.TypeUint64}
			}
		}
		return &expr.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}, nil
	case *sql.FunctionCall:
		if aggAlias == nil {
			return nil, fmt.Errorf("aggregate function %s not allowed here: %w", n.Name, dberr.ErrUnsupportedOperation)
		}
		alias, ok := aggAlias[signature(n)]
		if !ok {
			return nil, fmt.Errorf("aggregate %s is not registered: %w", n.Name, dberr.ErrUnsupportedOperation)
		}
		return expr.NewIdentifier(alias, accessor)
	default:
		return nil, fmt.Errorf("unsupported expression node %T: %w", e, dberr.ErrUnsupportedOperation)
	}
}

func exprName(e sql.Expr) string {
	switch n := e.(type) {
	case *sql.Identifier:
		return n.Name
	case *sql.FunctionCall:
		return signature(n)
	case *sql.NumberLiteral:
		return n.Text
	case *sql.StringLiteral:
		return n.Text
	default:
		return ""
	}
}

func signature(fc *sql.FunctionCall) string {
	args := make([]string, len(fc.Args))
	for i, a := range fc.Args {
		args[i] = exprName(a)
	}
	return fmt.Sprintf("%s(%s)", strings.ToLower(fc.Name), strings.Join(args, ","))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

package sql

import "pagedb/internal/value"

// Statement is any top-level parsed statement.
type Statement interface{}

// ColumnDef is one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name   string
	Type   value.Type
	Length uint32 // only meaningful for TypeVarchar
}

// CreateTableStmt is `CREATE TABLE name (col type, ...)`.
type CreateTableStmt struct {
	Name    string
	Columns []ColumnDef
}

// DropTableStmt is `DROP TABLE name`.
type DropTableStmt struct {
	Name string
}

// InsertStmt is `INSERT INTO name VALUES (expr, ...)`.
type InsertStmt struct {
	Table  string
	Values []Expr
}

// SelectItem is one entry of a SELECT list: either `*` or an expression with
// an optional alias.
type SelectItem struct {
	Star  bool
	Expr  Expr
	Alias string
}

// OrderItem is one entry of an ORDER BY clause.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// SelectStmt is `SELECT items FROM tables [WHERE] [GROUP BY] [HAVING] [ORDER BY]`.
type SelectStmt struct {
	Columns []SelectItem
	From    []string
	Where   Expr
	GroupBy []Expr
	Having  Expr
	OrderBy []OrderItem
}

// Expr is any parsed expression node, resolved against a schema later by
// the interpreter package.
type Expr interface{}

// Identifier references a column by name.
type Identifier struct {
	Name string
}

// NumberLiteral is an integer literal; the interpreter decides whether it
// becomes a uint64 or int64 value depending on context.
type NumberLiteral struct {
	Text string
}

// StringLiteral is a quoted string literal.
type StringLiteral struct {
	Text string
}

// BoolLiteral is the TRUE or FALSE keyword.
type BoolLiteral struct {
	Value bool
}

// NullLiteral is the NULL keyword.
type NullLiteral struct{}

// BinaryOp is any two-operand operator: arithmetic, comparison, or logical.
type BinaryOp struct {
	Op  string
	LHS Expr
	RHS Expr
}

// UnaryOp is NOT or unary minus.
type UnaryOp struct {
	Op   string
	Expr Expr
}

// FunctionCall is an aggregate call like `SUM(x)` appearing in a SELECT list
// or HAVING clause.
type FunctionCall struct {
	Name string
	Args []Expr
}

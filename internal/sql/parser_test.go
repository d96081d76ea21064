package sql

import "testing"

func TestParseCreateTable(t *testing.T) {
	stmt, err := NewParser("CREATE TABLE users (id UINT64, name VARCHAR(32))").ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		t.Fatalf("got %T, want *CreateTableStmt", stmt)
	}
	if ct.Name != "users" {
		t.Errorf("Name = %q, want users", ct.Name)
	}
	if len(ct.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(ct.Columns))
	}
	if ct.Columns[1].Length != 32 {
		t.Errorf("varchar length = %d, want 32", ct.Columns[1].Length)
	}
}

func TestParseInsert(t *testing.T) {
	stmt, err := NewParser("INSERT INTO users VALUES (1, 'alice')").ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	ins, ok := stmt.(*InsertStmt)
	if !ok {
		t.Fatalf("got %T, want *InsertStmt", stmt)
	}
	if ins.Table != "users" || len(ins.Values) != 2 {
		t.Fatalf("unexpected insert statement: %#v", ins)
	}
}

func TestParseSelectWithWhereAndOrderBy(t *testing.T) {
	stmt, err := NewParser("SELECT id, name FROM users WHERE id > 5 ORDER BY name DESC").ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	sel, ok := stmt.(*SelectStmt)
	if !ok {
		t.Fatalf("got %T, want *SelectStmt", stmt)
	}
	if len(sel.Columns) != 2 {
		t.Fatalf("got %d select items, want 2", len(sel.Columns))
	}
	if sel.Where == nil {
		t.Fatal("expected a WHERE expression")
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("unexpected order by: %#v", sel.OrderBy)
	}
}

func TestParseSelectStarFromMultipleTables(t *testing.T) {
	stmt, err := NewParser("SELECT * FROM a, b").ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	sel := stmt.(*SelectStmt)
	if len(sel.Columns) != 1 || !sel.Columns[0].Star {
		t.Fatalf("expected a single star select item, got %#v", sel.Columns)
	}
	if len(sel.From) != 2 {
		t.Fatalf("expected two tables, got %v", sel.From)
	}
}

func TestParseSelectGroupByHavingAggregate(t *testing.T) {
	stmt, err := NewParser("SELECT category, SUM(amount) AS total FROM orders GROUP BY category HAVING SUM(amount) > 100").ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	sel := stmt.(*SelectStmt)
	if len(sel.GroupBy) != 1 {
		t.Fatalf("expected 1 group by expression, got %d", len(sel.GroupBy))
	}
	fc, ok := sel.Columns[1].Expr.(*FunctionCall)
	if !ok || fc.Name != "SUM" {
		t.Fatalf("expected SUM(...) as the second select item, got %#v", sel.Columns[1].Expr)
	}
	if sel.Having == nil {
		t.Fatal("expected a HAVING expression")
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	stmt, err := NewParser("SELECT 1 FROM t WHERE a = 1 AND b = 2 OR c = 3").ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	sel := stmt.(*SelectStmt)
	top, ok := sel.Where.(*BinaryOp)
	if !ok || top.Op != "OR" {
		t.Fatalf("expected top-level OR, got %#v", sel.Where)
	}
	lhs, ok := top.LHS.(*BinaryOp)
	if !ok || lhs.Op != "AND" {
		t.Fatalf("expected AND nested under OR's LHS, got %#v", top.LHS)
	}
}

func TestParseInvalidStatementErrors(t *testing.T) {
	cases := []string{
		"SELECT * students",
		"CREATE users (id UINT64)",
		"INSERT INTO users (1, 2)",
		"",
	}
	for _, sqlText := range cases {
		if _, err := NewParser(sqlText).ParseStatement(); err == nil {
			t.Errorf("ParseStatement(%q): expected error", sqlText)
		}
	}
}

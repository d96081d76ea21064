package sql

import (
	"fmt"
	"strconv"
	"strings"

	"pagedb/internal/value"
)

// Parser is a recursive-descent parser over the Lexer's token stream,
// grounded on the teacher's query_parser idiom of a single current/peek
// token pair, extended with operator precedence climbing for the richer
// expression grammar the query language needs.
type Parser struct {
	lex  *Lexer
	cur  Token
	peek Token
}

func NewParser(input string) *Parser {
	p := &Parser{lex: NewLexer(input)}
	p.cur = p.lex.NextToken()
	p.peek = p.lex.NextToken()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.NextToken()
}

func (p *Parser) expect(kind TokenKind) (Token, error) {
	if p.cur.Kind != kind {
		return Token{}, fmt.Errorf("expected %s, found %s %q", kind, p.cur.Kind, p.cur.Value)
	}
	tok := p.cur
	p.advance()
	return tok, nil
}

// ParseStatement parses exactly one statement from the parser's input.
func (p *Parser) ParseStatement() (Statement, error) {
	switch p.cur.Kind {
	case CREATE:
		return p.parseCreateTable()
	case DROP:
		return p.parseDropTable()
	case INSERT:
		return p.parseInsert()
	case SELECT:
		return p.parseSelect()
	default:
		return nil, fmt.Errorf("unexpected token %s %q at start of statement", p.cur.Kind, p.cur.Value)
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	p.advance() // CREATE
	if _, err := p.expect(TABLE); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}

	var columns []ColumnDef
	for {
		colName, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		typeTok, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		col := ColumnDef{Name: colName.Value}
		switch strings.ToUpper(typeTok.Value) {
		case "BOOL", "BOOLEAN":
			col.Type = value.TypeBoolean
		case "UINT64":
			col.Type = value.TypeUint64
		case "INT64":
			col.Type = value.TypeInt64
		case "STRING":
			col.Type = value.TypeString
		case "VARCHAR":
			col.Type = value.TypeVarchar
			if p.cur.Kind == LPAREN {
				p.advance()
				lenTok, err := p.expect(NUMBER)
				if err != nil {
					return nil, err
				}
				n, err := strconv.ParseUint(lenTok.Value, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("invalid varchar length %q: %w", lenTok.Value, err)
				}
				col.Length = uint32(n)
				if _, err := p.expect(RPAREN); err != nil {
					return nil, err
				}
			}
		default:
			return nil, fmt.Errorf("unknown column type %q", typeTok.Value)
		}
		columns = append(columns, col)

		if p.cur.Kind == COMMA {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return &CreateTableStmt{Name: name.Value, Columns: columns}, nil
}

func (p *Parser) parseDropTable() (Statement, error) {
	p.advance() // DROP
	if _, err := p.expect(TABLE); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	return &DropTableStmt{Name: name.Value}, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if _, err := p.expect(INTO); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(VALUES); err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}

	var values []Expr
	for {
		v, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur.Kind == COMMA {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return &InsertStmt{Table: name.Value, Values: values}, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	p.advance() // SELECT
	stmt := &SelectStmt{}

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, item)
		if p.cur.Kind == COMMA {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expect(FROM); err != nil {
		return nil, err
	}
	for {
		name, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		stmt.From = append(stmt.From, name.Value)
		if p.cur.Kind == COMMA {
			p.advance()
			continue
		}
		break
	}

	if p.cur.Kind == WHERE {
		p.advance()
		where, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.cur.Kind == GROUP {
		p.advance()
		if _, err := p.expect(BY); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if p.cur.Kind == COMMA {
				p.advance()
				continue
			}
			break
		}
	}

	if p.cur.Kind == HAVING {
		p.advance()
		having, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	if p.cur.Kind == ORDER {
		p.advance()
		if _, err := p.expect(BY); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			desc := false
			if p.cur.Kind == DESC {
				desc = true
				p.advance()
			} else if p.cur.Kind == ASC {
				p.advance()
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderItem{Expr: e, Desc: desc})
			if p.cur.Kind == COMMA {
				p.advance()
				continue
			}
			break
		}
	}

	return stmt, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.cur.Kind == ASTERISK {
		p.advance()
		return SelectItem{Star: true}, nil
	}
	e, err := p.parseExpr(0)
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.cur.Kind == AS {
		p.advance()
		alias, err := p.expect(IDENT)
		if err != nil {
			return SelectItem{}, err
		}
		item.Alias = alias.Value
	}
	return item, nil
}

// precedence climbing: OR < AND < comparisons < additive < multiplicative.
var binaryPrecedence = map[TokenKind]int{
	OR:       1,
	AND:      2,
	EQ:       3,
	NE:       3,
	LT:       3,
	LE:       3,
	GT:       3,
	GE:       3,
	PLUS:     4,
	MINUS:    4,
	ASTERISK: 5,
	SLASH:    5,
}

var tokenOp = map[TokenKind]string{
	OR: "OR", AND: "AND",
	EQ: "=", NE: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=",
	PLUS: "+", MINUS: "-", ASTERISK: "*", SLASH: "/",
}

func (p *Parser) parseExpr(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := binaryPrecedence[p.cur.Kind]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		op := tokenOp[p.cur.Kind]
		p.advance()
		rhs, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryOp{Op: op, LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	switch p.cur.Kind {
	case NOT:
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: "NOT", Expr: e}, nil
	case MINUS:
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: "-", Expr: e}, nil
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Kind {
	case NUMBER:
		tok := p.cur
		p.advance()
		return &NumberLiteral{Text: tok.Value}, nil
	case STRINGLIT:
		tok := p.cur
		p.advance()
		return &StringLiteral{Text: tok.Value}, nil
	case TRUEKW:
		p.advance()
		return &BoolLiteral{Value: true}, nil
	case FALSEKW:
		p.advance()
		return &BoolLiteral{Value: false}, nil
	case NULLKW:
		p.advance()
		return &NullLiteral{}, nil
	case LPAREN:
		p.advance()
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	case IDENT:
		tok := p.cur
		p.advance()
		if p.cur.Kind == LPAREN {
			p.advance()
			var args []Expr
			if p.cur.Kind != RPAREN {
				for {
					a, err := p.parseExpr(0)
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.cur.Kind == COMMA {
						p.advance()
						continue
					}
					break
				}
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			return &FunctionCall{Name: tok.Value, Args: args}, nil
		}
		return &Identifier{Name: tok.Value}, nil
	default:
		return nil, fmt.Errorf("unexpected token %s %q in expression", p.cur.Kind, p.cur.Value)
	}
}

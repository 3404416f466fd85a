package aggregate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/TFMV/fedra/pkg/models"
)

// The expression language for filter and add_column: column
// identifiers, number and string literals, arithmetic (+ - * / %),
// comparisons (== != < <= > >=), boolean operators (and, or, not) and
// parentheses. Unknown columns evaluate to null; comparisons against
// null are false.

// Expression is a parsed, reusable expression.
type Expression struct {
	root exprNode
}

// ParseExpression parses the expression text.
func ParseExpression(text string) (*Expression, error) {
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q", p.tokens[p.pos].text)
	}
	return &Expression{root: root}, nil
}

// Eval evaluates against one row.
func (e *Expression) Eval(row models.Row) models.Value {
	return e.root.eval(row)
}

type exprNode interface {
	eval(row models.Row) models.Value
}

type columnNode struct{ name string }

func (n columnNode) eval(row models.Row) models.Value { return row.Field(n.name) }

type literalNode struct{ val models.Value }

func (n literalNode) eval(models.Row) models.Value { return n.val }

type unaryNode struct {
	op    string
	child exprNode
}

func (n unaryNode) eval(row models.Row) models.Value {
	v := n.child.eval(row)
	switch n.op {
	case "not":
		return models.Bool(!truthy(v))
	case "-":
		return models.Number(-v.Number())
	}
	return models.Null()
}

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n binaryNode) eval(row models.Row) models.Value {
	// Short-circuit booleans before evaluating the right side.
	switch n.op {
	case "and":
		if !truthy(n.left.eval(row)) {
			return models.Bool(false)
		}
		return models.Bool(truthy(n.right.eval(row)))
	case "or":
		if truthy(n.left.eval(row)) {
			return models.Bool(true)
		}
		return models.Bool(truthy(n.right.eval(row)))
	}

	l, r := n.left.eval(row), n.right.eval(row)
	switch n.op {
	case "+":
		if l.Kind() == models.KindString || r.Kind() == models.KindString {
			return models.String(l.Str() + r.Str())
		}
		return models.Number(l.Number() + r.Number())
	case "-":
		return models.Number(l.Number() - r.Number())
	case "*":
		return models.Number(l.Number() * r.Number())
	case "/":
		if r.Number() == 0 {
			return models.Null()
		}
		return models.Number(l.Number() / r.Number())
	case "%":
		ri := int64(r.Number())
		if ri == 0 {
			return models.Null()
		}
		return models.Number(float64(int64(l.Number()) % ri))
	case "==":
		return models.Bool(l.Equal(r))
	case "!=":
		return models.Bool(!l.Equal(r))
	case "<", "<=", ">", ">=":
		if l.IsNull() || r.IsNull() || l.Kind() != r.Kind() {
			return models.Bool(false)
		}
		cmp := models.Compare(l, r)
		switch n.op {
		case "<":
			return models.Bool(cmp < 0)
		case "<=":
			return models.Bool(cmp <= 0)
		case ">":
			return models.Bool(cmp > 0)
		default:
			return models.Bool(cmp >= 0)
		}
	}
	return models.Null()
}

// Lexer.

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(text string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(text) {
		c := rune(text[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(text[i+1:], byte(c))
			if end < 0 {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{tokString, text[i+1 : i+1+end]})
			i += end + 2
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(text) && unicode.IsDigit(rune(text[i+1]))):
			j := i
			for j < len(text) && (unicode.IsDigit(rune(text[j])) || text[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, text[i:j]})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(text) && (unicode.IsLetter(rune(text[j])) || unicode.IsDigit(rune(text[j])) || text[j] == '_' || text[j] == '.') {
				j++
			}
			word := text[i:j]
			switch strings.ToLower(word) {
			case "and", "or", "not":
				tokens = append(tokens, token{tokOp, strings.ToLower(word)})
			case "true":
				tokens = append(tokens, token{tokIdent, "true"})
			case "false":
				tokens = append(tokens, token{tokIdent, "false"})
			case "null":
				tokens = append(tokens, token{tokIdent, "null"})
			default:
				tokens = append(tokens, token{tokIdent, word})
			}
			i = j
		default:
			matched := ""
			for _, op := range []string{"==", "!=", "<=", ">=", "<", ">", "+", "-", "*", "/", "%"} {
				if strings.HasPrefix(text[i:], op) {
					matched = op
					break
				}
			}
			if matched == "" {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
			tokens = append(tokens, token{tokOp, matched})
			i += len(matched)
		}
	}
	return tokens, nil
}

// Parser: precedence climbing.

type exprParser struct {
	tokens []token
	pos    int
}

func precedence(op string) int {
	switch op {
	case "or":
		return 1
	case "and":
		return 2
	case "==", "!=", "<", "<=", ">", ">=":
		return 3
	case "+", "-":
		return 4
	case "*", "/", "%":
		return 5
	}
	return 0
}

func (p *exprParser) parseExpr(minPrec int) (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.kind != tokOp {
			break
		}
		prec := precedence(tok.text)
		if prec == 0 || prec < minPrec {
			break
		}
		p.pos++
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokOp {
		switch p.tokens[p.pos].text {
		case "not", "-":
			op := p.tokens[p.pos].text
			p.pos++
			child, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return unaryNode{op: op, child: child}, nil
		}
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	tok := p.tokens[p.pos]
	p.pos++
	switch tok.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", tok.text)
		}
		return literalNode{models.Number(n)}, nil
	case tokString:
		return literalNode{models.String(tok.text)}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return literalNode{models.Bool(true)}, nil
		case "false":
			return literalNode{models.Bool(false)}, nil
		case "null":
			return literalNode{models.Null()}, nil
		}
		return columnNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}
}

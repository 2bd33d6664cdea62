package cql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rhema/internal/logging"
	"rhema/internal/rherrors"
)

// Parser consumes a pre-tokenized CQL statement and builds a Query AST.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a full CQL statement. Syntax errors are
// returned as *rherrors.InvalidQuery, carrying a byte offset and a short
// message naming the expected token class. Keywords are validated
// eagerly; referenced fields are not resolved here (§4.4).
func Parse(src string) (*Query, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	logging.Parser("parsed query: target=%s scope=%q conditions=%d", q.Target, q.ScopeSelector, len(q.Conditions))
	return q, nil
}

func tokenize(src string) ([]Token, error) {
	lx := NewLexer(src)
	// byteOffsets maps the lexer's rune offsets to byte offsets in src.
	var byteOffsets []int
	for i := range src {
		byteOffsets = append(byteOffsets, i)
	}
	byteOffsets = append(byteOffsets, len(src))
	var tokens []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			var qerr *rherrors.InvalidQuery
			if errors.As(err, &qerr) {
				qerr.Offset = byteOffsets[qerr.Offset]
			}
			return nil, err
		}
		tok.Offset = byteOffsets[tok.Offset]
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			break
		}
	}
	return tokens, nil
}

func (p *Parser) peek() Token  { return p.tokens[p.pos] }
func (p *Parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expectKeyword(word string) (Token, error) {
	t := p.peek()
	if t.Kind == TokenKeyword && t.Upper == word {
		return p.advance(), nil
	}
	return Token{}, newSyntaxError(t.Offset, fmt.Sprintf("expected keyword %s", word))
}

func (p *Parser) atKeyword(word string) bool {
	t := p.peek()
	return t.Kind == TokenKeyword && t.Upper == word
}

func (p *Parser) parseQuery() (*Query, error) {
	q := &Query{}

	if _, err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	proj, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	q.Projection = proj

	if p.atKeyword("FROM") {
		p.advance()
		target, selector, err := p.parseFrom()
		if err != nil {
			return nil, err
		}
		q.Target = target
		q.ScopeSelector = selector
	}

	if p.atKeyword("WHERE") {
		p.advance()
		conds, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		q.Conditions = conds
	}

	if p.atKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		order, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		q.OrderBy = order
	}

	if p.atKeyword("LIMIT") {
		p.advance()
		n, err := p.parseNonNegativeInt("LIMIT")
		if err != nil {
			return nil, err
		}
		q.Limit = &n
	}

	if p.atKeyword("OFFSET") {
		p.advance()
		n, err := p.parseNonNegativeInt("OFFSET")
		if err != nil {
			return nil, err
		}
		q.Offset = &n
	}

	if p.peek().Kind != TokenEOF {
		return nil, newSyntaxError(p.peek().Offset, "unexpected trailing input")
	}

	return q, nil
}

func (p *Parser) parseProjection() (Projection, error) {
	t := p.peek()
	switch {
	case t.Kind == TokenStar:
		p.advance()
		return Projection{Kind: ProjectionStar}, nil
	case t.Kind == TokenKeyword && t.Upper == "COUNT":
		p.advance()
		return Projection{Kind: ProjectionCount}, nil
	case t.Kind == TokenIdent:
		fields, err := p.parseFieldList()
		if err != nil {
			return Projection{}, err
		}
		return Projection{Kind: ProjectionFields, Fields: fields}, nil
	default:
		return Projection{}, newSyntaxError(t.Offset, "expected '*', COUNT, or a field list")
	}
}

func (p *Parser) parseFieldList() ([]string, error) {
	var fields []string
	for {
		f, err := p.parseFieldPath()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if p.peek().Kind == TokenComma {
			p.advance()
			continue
		}
		break
	}
	return fields, nil
}

func (p *Parser) parseFieldPath() (string, error) {
	t := p.peek()
	if t.Kind != TokenIdent {
		return "", newSyntaxError(t.Offset, "expected a field name")
	}
	p.advance()
	var sb strings.Builder
	sb.WriteString(t.Text)
	for p.peek().Kind == TokenDot {
		p.advance()
		next := p.peek()
		if next.Kind != TokenIdent {
			return "", newSyntaxError(next.Offset, "expected identifier after '.'")
		}
		p.advance()
		sb.WriteByte('.')
		sb.WriteString(next.Text)
	}
	return sb.String(), nil
}

func (p *Parser) parseFrom() (target string, selector string, err error) {
	t := p.peek()
	if t.Kind != TokenIdent {
		return "", "", newSyntaxError(t.Offset, "expected a document kind after FROM")
	}
	p.advance()
	target = strings.ToLower(t.Text)

	if p.peek().Kind == TokenLParen {
		p.advance()
		strTok := p.peek()
		if strTok.Kind != TokenString {
			return "", "", newSyntaxError(strTok.Offset, "expected a scope name string literal")
		}
		p.advance()
		selector = strTok.Text
		rparen := p.peek()
		if rparen.Kind != TokenRParen {
			return "", "", newSyntaxError(rparen.Offset, "expected ')'")
		}
		p.advance()
	}
	return target, selector, nil
}

func (p *Parser) parseWhere() ([]Condition, error) {
	var conds []Condition
	cond, err := p.parsePredicate(ConjunctionNone)
	if err != nil {
		return nil, err
	}
	conds = append(conds, cond)

	for p.atKeyword("AND") || p.atKeyword("OR") {
		conj := Conjunction(p.advance().Upper)
		cond, err := p.parsePredicate(conj)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func (p *Parser) parsePredicate(conj Conjunction) (Condition, error) {
	field, err := p.parseFieldPath()
	if err != nil {
		return Condition{}, err
	}

	opTok := p.peek()
	op, err := p.parseOperator(opTok)
	if err != nil {
		return Condition{}, err
	}
	p.advance()

	lit, err := p.parseLiteral()
	if err != nil {
		return Condition{}, err
	}

	return Condition{Conjunction: conj, Field: field, Op: op, Value: lit}, nil
}

func (p *Parser) parseOperator(t Token) (Operator, error) {
	switch {
	case t.Kind == TokenOp:
		return Operator(t.Text), nil
	case t.Kind == TokenKeyword && t.Upper == "CONTAINS":
		return OpContains, nil
	case t.Kind == TokenKeyword && t.Upper == "MATCHES":
		return OpMatches, nil
	default:
		return "", newSyntaxError(t.Offset, "expected a comparison operator")
	}
}

func (p *Parser) parseLiteral() (Literal, error) {
	t := p.peek()
	switch t.Kind {
	case TokenString:
		p.advance()
		return Literal{Value: t.Text}, nil
	case TokenInt:
		p.advance()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return Literal{}, newSyntaxError(t.Offset, "invalid integer literal")
		}
		return Literal{Value: n}, nil
	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return Literal{}, newSyntaxError(t.Offset, "invalid float literal")
		}
		return Literal{Value: f}, nil
	case TokenTimestamp:
		p.advance()
		ts, err := parseTimestamp(t.Text)
		if err != nil {
			return Literal{}, newSyntaxError(t.Offset, "invalid ISO-8601 timestamp")
		}
		return timeLiteral(ts), nil
	case TokenKeyword:
		if t.Upper == "TRUE" || t.Upper == "FALSE" {
			p.advance()
			return Literal{Value: t.Upper == "TRUE"}, nil
		}
		return Literal{}, newSyntaxError(t.Offset, "expected a literal value")
	default:
		return Literal{}, newSyntaxError(t.Offset, "expected a literal value")
	}
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func (p *Parser) parseOrderBy() ([]OrderTerm, error) {
	var terms []OrderTerm
	for {
		field, err := p.parseFieldPath()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.atKeyword("ASC") {
			p.advance()
		} else if p.atKeyword("DESC") {
			p.advance()
			desc = true
		}
		terms = append(terms, OrderTerm{Field: field, Desc: desc})
		if p.peek().Kind == TokenComma {
			p.advance()
			continue
		}
		break
	}
	return terms, nil
}

func (p *Parser) parseNonNegativeInt(clause string) (int, error) {
	t := p.peek()
	if t.Kind != TokenInt {
		return 0, newSyntaxError(t.Offset, fmt.Sprintf("expected a non-negative integer after %s", clause))
	}
	n, err := strconv.Atoi(t.Text)
	if err != nil || n < 0 {
		return 0, newSyntaxError(t.Offset, fmt.Sprintf("%s must be a non-negative integer", clause))
	}
	p.advance()
	return n, nil
}

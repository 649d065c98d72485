// Package tsquery turns free text into a PostgreSQL to_tsquery expression that can only
// ever contain quoted lexemes and the operators listed below.
//
// Grammar (whitespace between terms is an implicit AND):
//
//	query    := or
//	or       := and { ("|" | "OR") and }
//	and      := follow { [ "&" | "AND" ] follow }
//	follow   := unary { "<->" unary }
//	unary    := ("!" | "-" | "NOT") unary | primary
//	primary  := "(" query ")" | '"' word { word } '"' | word [ "*" | ":*" ]
//	word     := run of Unicode letters, digits, marks or "_"
//
// "-" negates only at a token boundary, so "e-mail" is two terms. Keywords are
// recognized in upper case only. Every other rune separates words. Dangling operators,
// empty groups and unmatched parentheses are dropped; an unclosed group or phrase ends
// at end of input. Groups nest at most MaxDepth levels; a "(" beyond that is a
// separator and its ")" is then unmatched. Input that reduces to nothing yields the
// empty Query, which the caller must treat as matching no rows.
package tsquery

import (
	"errors"
	"strings"
)

// MaxDepth is the deepest group nesting the parser keeps.
const MaxDepth = 32

// ErrNotText is returned by SanitizeValue for operands that are not strings.
var ErrNotText = errors.New("search operand is not text")

// Query is a sanitized to_tsquery expression.
type Query struct {
	text string
}

// String returns the expression text.
func (q Query) String() string { return q.text }

// IsEmpty reports whether the input contained no searchable term.
func (q Query) IsEmpty() bool { return q.text == "" }

// Sanitize converts arbitrary text into a Query. It never fails.
func Sanitize(input string) Query {
	p := &parser{tokens: lex(input)}
	root := p.parseQuery()
	if root == nil {
		return Query{}
	}
	var b strings.Builder
	render(&b, root, precOr)
	return Query{text: b.String()}
}

// SanitizeValue sanitizes an operand of unknown shape. Only strings are accepted.
func SanitizeValue(v any) (Query, error) {
	switch s := v.(type) {
	case string:
		return Sanitize(s), nil
	case *string:
		if s == nil {
			return Query{}, ErrNotText
		}
		return Sanitize(*s), nil
	default:
		return Query{}, ErrNotText
	}
}

type opKind int

const (
	opOr opKind = iota
	opAnd
	opFollow
)

const (
	precOr = iota + 1
	precAnd
	precFollow
	precNot
	precTerm
)

type node interface {
	prec() int
}

type termNode struct {
	word   string
	prefix bool
}

type notNode struct {
	child node
}

type listNode struct {
	op       opKind
	children []node
}

func (termNode) prec() int { return precTerm }
func (notNode) prec() int  { return precNot }

func (n listNode) prec() int {
	switch n.op {
	case opOr:
		return precOr
	case opAnd:
		return precAnd
	default:
		return precFollow
	}
}

// combine builds an n-ary node, flattening children of the same operator.
func combine(op opKind, children []node) node {
	flat := make([]node, 0, len(children))
	for _, c := range children {
		if c == nil {
			continue
		}
		if l, ok := c.(listNode); ok && l.op == op {
			flat = append(flat, l.children...)
			continue
		}
		flat = append(flat, c)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return listNode{op: op, children: flat}
}

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *parser) peek() tokenKind {
	if p.pos >= len(p.tokens) {
		return tokEOF
	}
	return p.tokens[p.pos].kind
}

func (p *parser) next() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokEOF}
	}
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// parseQuery parses until end of input, skipping unmatched closing parentheses.
func (p *parser) parseQuery() node {
	var parts []node
	for p.peek() != tokEOF {
		if n := p.parseOr(); n != nil {
			parts = append(parts, n)
		}
		if p.peek() == tokRParen {
			p.next()
		}
	}
	return combine(opAnd, parts)
}

// parseGroup parses the body of "(" ... ")"; the opening parenthesis is consumed.
func (p *parser) parseGroup() node {
	var parts []node
	for {
		switch p.peek() {
		case tokEOF:
			return combine(opAnd, parts)
		case tokRParen:
			p.next()
			return combine(opAnd, parts)
		}
		parts = append(parts, p.parseOr())
	}
}

func (p *parser) parseOr() node {
	children := []node{p.parseAnd()}
	for p.peek() == tokOr {
		p.next()
		children = append(children, p.parseAnd())
	}
	return combine(opOr, children)
}

func (p *parser) parseAnd() node {
	var children []node
	for {
		switch p.peek() {
		case tokAnd:
			p.next()
		case tokWord, tokNot, tokLParen, tokQuote, tokFollow:
			children = append(children, p.parseFollow())
		default:
			return combine(opAnd, children)
		}
	}
}

func (p *parser) parseFollow() node {
	children := []node{p.parseUnary()}
	for p.peek() == tokFollow {
		p.next()
		children = append(children, p.parseUnary())
	}
	return combine(opFollow, children)
}

func (p *parser) parseUnary() node {
	negate := false
prefix:
	for {
		switch {
		case p.peek() == tokNot:
			p.next()
			negate = !negate
		case p.peek() == tokLParen && p.depth >= MaxDepth:
			p.next()
		default:
			break prefix
		}
	}

	child := p.parsePrimary()
	if child == nil || !negate {
		return child
	}
	if inner, ok := child.(notNode); ok {
		return inner.child
	}
	return notNode{child: child}
}

func (p *parser) parsePrimary() node {
	switch p.peek() {
	case tokWord:
		t := p.next()
		return termNode{word: t.text, prefix: t.prefix}
	case tokLParen:
		p.next()
		p.depth++
		defer func() { p.depth-- }()
		return p.parseGroup()
	case tokQuote:
		p.next()
		return p.parsePhrase()
	default:
		return nil
	}
}

// parsePhrase collects the words up to the closing quote; operators inside a phrase
// are ignored.
func (p *parser) parsePhrase() node {
	var words []node
	for {
		t := p.next()
		switch t.kind {
		case tokEOF, tokQuote:
			return combine(opFollow, words)
		case tokWord:
			words = append(words, termNode{word: t.text, prefix: t.prefix})
		}
	}
}

func render(b *strings.Builder, n node, parentPrec int) {
	wrap := n.prec() < parentPrec
	if wrap {
		b.WriteByte('(')
	}
	switch v := n.(type) {
	case termNode:
		b.WriteString(quoteLexeme(v.word))
		if v.prefix {
			b.WriteString(":*")
		}
	case notNode:
		b.WriteByte('!')
		render(b, v.child, precNot)
	case listNode:
		sep := " & "
		switch v.op {
		case opOr:
			sep = " | "
		case opFollow:
			sep = " <-> "
		}
		for i, c := range v.children {
			if i > 0 {
				b.WriteString(sep)
			}
			render(b, c, v.prec()+1)
		}
	}
	if wrap {
		b.WriteByte(')')
	}
}

// quoteLexeme renders a word as a tsquery quoted lexeme.
func quoteLexeme(word string) string {
	escaped := strings.ReplaceAll(word, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "'", "''")
	return "'" + escaped + "'"
}

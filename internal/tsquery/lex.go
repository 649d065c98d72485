package tsquery

import (
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokAnd
	tokOr
	tokNot
	tokFollow
	tokLParen
	tokRParen
	tokQuote
)

type token struct {
	kind   tokenKind
	text   string
	prefix bool
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// lex splits input into tokens. Runes that are neither word runes nor operators are
// dropped, which is what keeps quotes, backslashes and tsquery weights out of the
// output.
func lex(input string) []token {
	rs := []rune(input)
	var tokens []token

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case isWordRune(r):
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			switch word {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd})
				i = j
				continue
			case "OR":
				tokens = append(tokens, token{kind: tokOr})
				i = j
				continue
			case "NOT":
				tokens = append(tokens, token{kind: tokNot})
				i = j
				continue
			}
			prefix, end := scanPrefix(rs, j)
			tokens = append(tokens, token{kind: tokWord, text: word, prefix: prefix})
			i = end
		case r == '&':
			tokens = append(tokens, token{kind: tokAnd})
			i++
		case r == '|':
			tokens = append(tokens, token{kind: tokOr})
			i++
		case r == '!':
			tokens = append(tokens, token{kind: tokNot})
			i++
		case r == '<' && i+2 < len(rs) && rs[i+1] == '-' && rs[i+2] == '>':
			tokens = append(tokens, token{kind: tokFollow})
			i += 3
		case r == '-':
			if i == 0 || !isWordRune(rs[i-1]) {
				tokens = append(tokens, token{kind: tokNot})
			}
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen})
			i++
		case r == '"':
			tokens = append(tokens, token{kind: tokQuote})
			i++
		default:
			i++
		}
	}
	return tokens
}

// scanPrefix recognizes a prefix marker right after a word: "*", ":*", or the
// rendered form "':*".
func scanPrefix(rs []rune, j int) (bool, int) {
	k := j
	if k < len(rs) && rs[k] == '\'' {
		k++
	}
	if k < len(rs) && rs[k] == '*' {
		return true, k + 1
	}
	if k+1 < len(rs) && rs[k] == ':' && rs[k+1] == '*' {
		return true, k + 2
	}
	return false, j
}

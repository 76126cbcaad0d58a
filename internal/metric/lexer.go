package metric

import (
	"errors"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokField
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	pos   int
	value float64 // tokNumber only
}

// Multi-character operators first so the longest match wins.
var operators = []string{
	"**", "//", "<=", ">=", "==", "!=", "<>", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "!",
}

var keywords = map[string]string{
	"and": "and",
	"or":  "or",
	"not": "not",
}

// tokenize splits a formula into tokens. Field names are recognized here so the
// parser never sees a free identifier.
func tokenize(formula string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(formula) {
		c := formula[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++

		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++

		case isDigit(c) || (c == '.' && i+1 < len(formula) && isDigit(formula[i+1])):
			tok, next, err := lexNumber(formula, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next

		case isIdentStart(c):
			start := i
			for i < len(formula) && isIdentPart(formula[i]) {
				i++
			}
			word := formula[start:i]
			if op, ok := keywords[word]; ok {
				tokens = append(tokens, token{kind: tokOp, text: op, pos: start})
				continue
			}
			if !isFieldName(word) {
				return nil, &SyntaxError{Formula: formula, Pos: start, Msg: "unknown identifier " + strconv.Quote(word)}
			}
			tokens = append(tokens, token{kind: tokField, text: word, pos: start})

		default:
			op := matchOperator(formula[i:])
			if op == "" {
				return nil, &SyntaxError{Formula: formula, Pos: i, Msg: "unexpected character " + strconv.QuoteRune(rune(c))}
			}
			tokens = append(tokens, token{kind: tokOp, text: normalizeOp(op), pos: i})
			i += len(op)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(formula)})
	return tokens, nil
}

func lexNumber(formula string, start int) (token, int, error) {
	i := start
	if strings.HasPrefix(formula[i:], "0x") || strings.HasPrefix(formula[i:], "0X") {
		i += 2
		for i < len(formula) && isHexDigit(formula[i]) {
			i++
		}
		text := formula[start:i]
		v, err := strconv.ParseUint(text[2:], 16, 64)
		if err != nil {
			return token{}, 0, &SyntaxError{Formula: formula, Pos: start, Msg: "invalid hexadecimal literal " + strconv.Quote(text)}
		}
		if i < len(formula) && isIdentPart(formula[i]) {
			return token{}, 0, &SyntaxError{Formula: formula, Pos: start, Msg: "invalid numeric literal"}
		}
		return token{kind: tokNumber, text: text, pos: start, value: float64(v)}, i, nil
	}

	for i < len(formula) && isDigit(formula[i]) {
		i++
	}
	if i < len(formula) && formula[i] == '.' {
		i++
		for i < len(formula) && isDigit(formula[i]) {
			i++
		}
	}
	if i < len(formula) && (formula[i] == 'e' || formula[i] == 'E') {
		j := i + 1
		if j < len(formula) && (formula[j] == '+' || formula[j] == '-') {
			j++
		}
		if j < len(formula) && isDigit(formula[j]) {
			for j < len(formula) && isDigit(formula[j]) {
				j++
			}
			i = j
		}
	}
	if i < len(formula) && isIdentPart(formula[i]) {
		return token{}, 0, &SyntaxError{Formula: formula, Pos: start, Msg: "invalid numeric literal"}
	}

	text := formula[start:i]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return token{}, 0, &SyntaxError{Formula: formula, Pos: start, Msg: "invalid numeric literal " + strconv.Quote(text)}
	}
	return token{kind: tokNumber, text: text, pos: start, value: v}, i, nil
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func normalizeOp(op string) string {
	switch op {
	case "&&":
		return "and"
	case "||":
		return "or"
	case "!":
		return "not"
	case "<>":
		return "!="
	}
	return op
}

// isFieldName reports whether word is pmc<N> or virt<N>.
func isFieldName(word string) bool {
	var digits string
	switch {
	case strings.HasPrefix(word, "pmc"):
		digits = word[len("pmc"):]
	case strings.HasPrefix(word, "virt"):
		digits = word[len("virt"):]
	default:
		return false
	}
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

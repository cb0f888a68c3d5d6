package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Evaluator is a small, dependency-free rule-expression evaluator. Rule
// authors write boolean expressions over the form's field ids; the engine
// binds the current values map and asks for a verdict.
//
// Supported grammar, loosest to tightest binding:
//   - boolean composition: `a || b`, `a && b`, `!a`
//   - comparisons: `==`, `!=`, `<`, `<=`, `>`, `>=`
//   - arithmetic: `+`, `-`, `*`, `/`
//   - primaries: string/number/bool/null literals, parentheses, and
//     identifiers resolved against the values map (dot-path traversal with
//     flattened keys preferred)
//
// A bare identifier is a truthiness test. There is deliberately no function
// call, indexing, or assignment syntax: expressions come from study
// configuration, not from code review.
type Evaluator struct{}

// New returns a ready Evaluator. The evaluator holds no state and is safe
// for concurrent use.
func New() *Evaluator { return &Evaluator{} }

// Eval parses and evaluates an expression against the supplied values. An
// empty expression is vacuously true. Syntax errors, references to unknown
// identifiers, and type faults are returned as errors; Eval never panics.
func (e *Evaluator) Eval(expression string, values map[string]any) (bool, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return true, nil
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return true, nil
	}

	node, err := parse(tokens)
	if err != nil {
		return false, err
	}

	out, err := node.eval(values)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

type tokenKind int

const (
	tokenIdentifier tokenKind = iota
	tokenString
	tokenNumber
	tokenBool
	tokenNull
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
	tokenAnd
	tokenOr
	tokenNot
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	raw  string
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0

	peek := func() byte {
		if i >= len(input) {
			return 0
		}
		return input[i]
	}

	for i < len(input) {
		ch := peek()
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			i++
			tokens = append(tokens, token{kind: tokenLParen, raw: "("})
		case ch == ')':
			i++
			tokens = append(tokens, token{kind: tokenRParen, raw: ")"})
		case ch == '+':
			i++
			tokens = append(tokens, token{kind: tokenPlus, raw: "+"})
		case ch == '-':
			i++
			tokens = append(tokens, token{kind: tokenMinus, raw: "-"})
		case ch == '*':
			i++
			tokens = append(tokens, token{kind: tokenStar, raw: "*"})
		case ch == '/':
			i++
			tokens = append(tokens, token{kind: tokenSlash, raw: "/"})
		case ch == '!':
			i++
			if peek() == '=' {
				i++
				tokens = append(tokens, token{kind: tokenNeq, raw: "!="})
			} else {
				tokens = append(tokens, token{kind: tokenNot, raw: "!"})
			}
		case ch == '=':
			i++
			if peek() != '=' {
				return nil, errors.New("expr: unexpected '='; use '=='")
			}
			i++
			tokens = append(tokens, token{kind: tokenEq, raw: "=="})
		case ch == '<':
			i++
			if peek() == '=' {
				i++
				tokens = append(tokens, token{kind: tokenLte, raw: "<="})
			} else {
				tokens = append(tokens, token{kind: tokenLt, raw: "<"})
			}
		case ch == '>':
			i++
			if peek() == '=' {
				i++
				tokens = append(tokens, token{kind: tokenGte, raw: ">="})
			} else {
				tokens = append(tokens, token{kind: tokenGt, raw: ">"})
			}
		case ch == '&':
			i++
			if peek() != '&' {
				return nil, errors.New("expr: unexpected '&'; use '&&'")
			}
			i++
			tokens = append(tokens, token{kind: tokenAnd, raw: "&&"})
		case ch == '|':
			i++
			if peek() != '|' {
				return nil, errors.New("expr: unexpected '|'; use '||'")
			}
			i++
			tokens = append(tokens, token{kind: tokenOr, raw: "||"})
		case ch == '"' || ch == '\'':
			value, rest, err := scanString(input[i:])
			if err != nil {
				return nil, err
			}
			i = len(input) - len(rest)
			tokens = append(tokens, token{kind: tokenString, raw: value})
		case ch >= '0' && ch <= '9':
			start := i
			for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, raw: input[start:i]})
		default:
			start := i
			for i < len(input) && !isDelimiter(input[i]) {
				i++
			}
			raw := input[start:i]
			if raw == "" {
				return nil, fmt.Errorf("expr: unexpected character %q", string(ch))
			}
			switch strings.ToLower(raw) {
			case "true", "false":
				tokens = append(tokens, token{kind: tokenBool, raw: strings.ToLower(raw)})
			case "null", "nil":
				tokens = append(tokens, token{kind: tokenNull, raw: "null"})
			default:
				tokens = append(tokens, token{kind: tokenIdentifier, raw: raw})
			}
		}
	}

	return tokens, nil
}

func isDelimiter(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\r', '(', ')', '!', '=', '<', '>', '&', '|', '+', '-', '*', '/', '"', '\'':
		return true
	}
	return false
}

// scanString consumes a quoted literal and returns the unescaped value plus
// the remaining input.
func scanString(input string) (string, string, error) {
	quote := input[0]
	var out strings.Builder
	escaped := false
	for i := 1; i < len(input); i++ {
		ch := input[i]
		if escaped {
			switch ch {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			default:
				out.WriteByte(ch)
			}
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return out.String(), input[i+1:], nil
		}
		out.WriteByte(ch)
	}
	return "", "", errors.New("expr: unterminated string literal")
}

type node interface {
	eval(values map[string]any) (any, error)
}

type stream struct {
	tokens []token
	pos    int
}

func (s *stream) match(kinds ...tokenKind) (token, bool) {
	if s.pos >= len(s.tokens) {
		return token{}, false
	}
	for _, kind := range kinds {
		if s.tokens[s.pos].kind == kind {
			out := s.tokens[s.pos]
			s.pos++
			return out, true
		}
	}
	return token{}, false
}

func parse(tokens []token) (node, error) {
	s := &stream{tokens: tokens}
	out, err := parseOr(s)
	if err != nil {
		return nil, err
	}
	if s.pos < len(s.tokens) {
		return nil, fmt.Errorf("expr: unexpected token %q", s.tokens[s.pos].raw)
	}
	return out, nil
}

func parseOr(s *stream) (node, error) {
	left, err := parseAnd(s)
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := s.match(tokenOr); !ok {
			return left, nil
		}
		right, err := parseAnd(s)
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
}

func parseAnd(s *stream) (node, error) {
	left, err := parseNot(s)
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := s.match(tokenAnd); !ok {
			return left, nil
		}
		right, err := parseNot(s)
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
}

func parseNot(s *stream) (node, error) {
	if _, ok := s.match(tokenNot); ok {
		inner, err := parseNot(s)
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return parseComparison(s)
}

func parseComparison(s *stream) (node, error) {
	left, err := parseAdditive(s)
	if err != nil {
		return nil, err
	}
	op, ok := s.match(tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte)
	if !ok {
		return left, nil
	}
	right, err := parseAdditive(s)
	if err != nil {
		return nil, err
	}
	return cmpNode{left: left, op: op.kind, opRaw: op.raw, right: right}, nil
}

func parseAdditive(s *stream) (node, error) {
	left, err := parseMultiplicative(s)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := s.match(tokenPlus, tokenMinus)
		if !ok {
			return left, nil
		}
		right, err := parseMultiplicative(s)
		if err != nil {
			return nil, err
		}
		left = arithNode{left: left, op: op.kind, opRaw: op.raw, right: right}
	}
}

func parseMultiplicative(s *stream) (node, error) {
	left, err := parseUnary(s)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := s.match(tokenStar, tokenSlash)
		if !ok {
			return left, nil
		}
		right, err := parseUnary(s)
		if err != nil {
			return nil, err
		}
		left = arithNode{left: left, op: op.kind, opRaw: op.raw, right: right}
	}
}

func parseUnary(s *stream) (node, error) {
	if _, ok := s.match(tokenMinus); ok {
		inner, err := parseUnary(s)
		if err != nil {
			return nil, err
		}
		return negNode{inner: inner}, nil
	}
	return parsePrimary(s)
}

func parsePrimary(s *stream) (node, error) {
	if _, ok := s.match(tokenLParen); ok {
		inner, err := parseOr(s)
		if err != nil {
			return nil, err
		}
		if _, ok := s.match(tokenRParen); !ok {
			return nil, errors.New("expr: missing closing ')'")
		}
		return inner, nil
	}

	if s.pos >= len(s.tokens) {
		return nil, errors.New("expr: unexpected end of expression")
	}

	tok := s.tokens[s.pos]
	s.pos++
	switch tok.kind {
	case tokenString:
		return litNode{value: tok.raw}, nil
	case tokenNumber:
		f, err := strconv.ParseFloat(tok.raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expr: invalid number literal %q", tok.raw)
		}
		return litNode{value: f}, nil
	case tokenBool:
		return litNode{value: tok.raw == "true"}, nil
	case tokenNull:
		return litNode{value: nil}, nil
	case tokenIdentifier:
		return identNode{path: tok.raw}, nil
	default:
		return nil, fmt.Errorf("expr: unexpected token %q", tok.raw)
	}
}

package filter

import (
	"fmt"
	"strings"
	"unicode"
)

// Parse reads a caller-supplied filter string. Both the Lucene style used by
// platform clients (`state:active -type:harvest`) and the Meilisearch style
// (`state = "active" AND type != "harvest"`) are accepted:
//
//	expr    := and ( OR and )*
//	and     := unary ( [AND] unary )*
//	unary   := ( "-" | "!" | NOT ) unary | "+" unary | primary
//	primary := "(" expr ")"
//	         | field ( ":" | "=" ) value
//	         | field ":" "(" value ( [OR] value )* ")"
//	         | field "!=" value
//	         | field IN "[" value ( "," value )* "]"
//
// Adjacent terms without an operator are ANDed.
func Parse(input string) (Expr, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, nil
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	return e, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokWord
	tokString
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
	tokColon
	tokEq
	tokNeq
	tokPlus
	tokMinus
	tokAnd
	tokOr
	tokNot
	tokIn
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '[':
			toks = append(toks, token{tokLBrack, "[", i})
			i++
		case r == ']':
			toks = append(toks, token{tokRBrack, "]", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == ':':
			toks = append(toks, token{tokColon, ":", i})
			i++
		case r == '=':
			toks = append(toks, token{tokEq, "=", i})
			i++
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokNeq, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}
		case r == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i++
		case r == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i++
		case r == '"' || r == '\'':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if c == r {
					closed = true
					i++
					break
				}
				sb.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at offset %d", start)
			}
			toks = append(toks, token{tokString, sb.String(), start})
		default:
			start := i
			for i < len(runes) && !isDelimiter(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			toks = append(toks, token{keyword(word), word, start})
		}
	}
	toks = append(toks, token{tokEOF, "", len(runes)})
	return toks, nil
}

func isDelimiter(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	return strings.ContainsRune(`()[],:=!"'`, r)
}

func keyword(word string) tokKind {
	switch word {
	case "AND", "&&":
		return tokAnd
	case "OR", "||":
		return tokOr
	case "NOT":
		return tokNot
	case "IN":
		return tokIn
	default:
		return tokWord
	}
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		if t.kind == tokEOF {
			return t, fmt.Errorf("expected %s at end of filter", what)
		}
		return t, fmt.Errorf("expected %s at offset %d, got %q", what, t.pos, t.text)
	}
	return t, nil
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := Or{first}
	for p.peek().kind == tokOr {
		p.next()
		e, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := And{first}
	for {
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokWord, tokLParen, tokPlus, tokMinus, tokNot:
		default:
			if len(terms) == 1 {
				return first, nil
			}
			return terms, nil
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek().kind {
	case tokMinus, tokNot:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	case tokPlus:
		p.next()
		return p.parseUnary()
	default:
		return p.parsePrimary()
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return e, nil
	}

	field, err := p.expect(tokWord, "field name")
	if err != nil {
		return nil, err
	}

	op := p.next()
	switch op.kind {
	case tokColon:
		if p.peek().kind == tokLParen {
			p.next()
			values, err := p.valueGroup()
			if err != nil {
				return nil, err
			}
			return In{Field: field.text, Values: values}, nil
		}
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		return Eq{Field: field.text, Value: value}, nil
	case tokEq:
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		return Eq{Field: field.text, Value: value}, nil
	case tokNeq:
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		return Not{X: Eq{Field: field.text, Value: value}}, nil
	case tokIn:
		if _, err := p.expect(tokLBrack, `"["`); err != nil {
			return nil, err
		}
		var values []string
		for {
			value, err := p.value()
			if err != nil {
				return nil, err
			}
			values = append(values, value)
			t := p.next()
			if t.kind == tokRBrack {
				break
			}
			if t.kind != tokComma {
				return nil, fmt.Errorf(`expected "," or "]" at offset %d`, t.pos)
			}
		}
		return In{Field: field.text, Values: values}, nil
	case tokEOF:
		return nil, fmt.Errorf("missing operator after field %q", field.text)
	default:
		return nil, fmt.Errorf("unexpected %q after field %q", op.text, field.text)
	}
}

// valueGroup reads `a OR b c)` after an opening parenthesis.
func (p *parser) valueGroup() ([]string, error) {
	var values []string
	for {
		switch p.peek().kind {
		case tokRParen:
			p.next()
			if len(values) == 0 {
				return nil, fmt.Errorf("empty value group")
			}
			return values, nil
		case tokOr:
			p.next()
		default:
			value, err := p.value()
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
	}
}

func (p *parser) value() (string, error) {
	t := p.next()
	switch t.kind {
	case tokWord, tokString:
		return t.text, nil
	case tokMinus:
		// negative numbers such as `score:-1`
		w, err := p.expect(tokWord, "value")
		if err != nil {
			return "", err
		}
		return "-" + w.text, nil
	case tokEOF:
		return "", fmt.Errorf("expected value at end of filter")
	default:
		return "", fmt.Errorf("expected value at offset %d, got %q", t.pos, t.text)
	}
}

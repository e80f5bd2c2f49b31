// Package literal turns field values that arrive as stringified containers
// back into structured values without evaluating code. Records produced by the
// collection pipeline carry sections like personal_info as Python-repr'd dicts
// ("{'name': 'barjraj', 'age': 28, ...}") or as JSON; both are handled here.
//
// Parsing fails closed: anything malformed or ambiguous comes back as the
// original string with ok=false so callers treat it as opaque text.
package literal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse normalizes a raw field value. Non-strings and plain scalar strings are
// returned as-is with ok=true. Strings that look like an encoded container are
// decoded structurally (JSON first, then Python literal syntax); on malformed
// input the original string is returned with ok=false.
func Parse(v any) (any, bool) {
	s, isStr := v.(string)
	if !isStr {
		return v, true
	}
	t := strings.TrimSpace(s)
	if !looksStructured(t) {
		return v, true
	}
	parsed, err := ParseString(t)
	if err != nil {
		return s, false
	}
	return parsed, true
}

// looksStructured reports whether a string plausibly encodes a container or a
// quoted scalar. Plain prose never qualifies, so it is not flagged as unparsed.
func looksStructured(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '{', '[', '(', '\'', '"':
		return true
	}
	return false
}

// ParseString decodes a single literal: dict/list/tuple, quoted string,
// number, boolean or null, in either JSON or Python repr syntax.
func ParseString(s string) (any, error) {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v, nil
		}
	}
	p := &scanner{src: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("literal: trailing data at offset %d", p.pos)
	}
	return v, nil
}

// scanner is a recursive-descent reader over Python literal syntax. Numbers
// are returned as float64 to match encoding/json semantics.
type scanner struct {
	src string
	pos int
}

func (p *scanner) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *scanner) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *scanner) expect(c byte) error {
	if b, ok := p.peek(); !ok || b != c {
		return fmt.Errorf("literal: expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *scanner) value() (any, error) {
	p.skipSpace()
	b, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("literal: unexpected end of input")
	}
	switch {
	case b == '{':
		return p.dict()
	case b == '[':
		return p.list(']')
	case b == '(':
		return p.list(')')
	case b == '\'' || b == '"':
		return p.quoted()
	case b == '-' || b == '+' || (b >= '0' && b <= '9'):
		return p.number()
	default:
		return p.word()
	}
}

func (p *scanner) dict() (any, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	out := map[string]any{}
	p.skipSpace()
	if b, ok := p.peek(); ok && b == '}' {
		p.pos++
		return out, nil
	}
	for {
		key, err := p.value()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out[fmt.Sprint(key)] = val
		p.skipSpace()
		b, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("literal: unterminated dict")
		}
		if b == ',' {
			p.pos++
			p.skipSpace()
			// Trailing comma before the closing brace is legal in Python.
			if b2, ok2 := p.peek(); ok2 && b2 == '}' {
				p.pos++
				return out, nil
			}
			continue
		}
		if b == '}' {
			p.pos++
			return out, nil
		}
		return nil, fmt.Errorf("literal: expected ',' or '}' at offset %d", p.pos)
	}
}

// list parses a Python list or tuple; both decode to []any.
func (p *scanner) list(close byte) (any, error) {
	p.pos++ // opener already inspected by value()
	out := []any{}
	p.skipSpace()
	if b, ok := p.peek(); ok && b == close {
		p.pos++
		return out, nil
	}
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		b, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("literal: unterminated sequence")
		}
		if b == ',' {
			p.pos++
			p.skipSpace()
			if b2, ok2 := p.peek(); ok2 && b2 == close {
				p.pos++
				return out, nil
			}
			continue
		}
		if b == close {
			p.pos++
			return out, nil
		}
		return nil, fmt.Errorf("literal: expected ',' or %q at offset %d", string(close), p.pos)
	}
}

func (p *scanner) quoted() (any, error) {
	quote := p.src[p.pos]
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case quote:
			p.pos++
			return sb.String(), nil
		case '\\':
			if p.pos+1 >= len(p.src) {
				return nil, fmt.Errorf("literal: dangling escape")
			}
			p.pos++
			switch e := p.src[p.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(e)
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return nil, fmt.Errorf("literal: unterminated string")
}

func (p *scanner) number() (any, error) {
	start := p.pos
	if b, _ := p.peek(); b == '-' || b == '+' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' ||
			((c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E')) {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("literal: bad number %q", p.src[start:p.pos])
	}
	return f, nil
}

// word handles the bare constants of both syntaxes.
func (p *scanner) word() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
			continue
		}
		break
	}
	switch p.src[start:p.pos] {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	}
	return nil, fmt.Errorf("literal: unknown token %q at offset %d", p.src[start:p.pos], start)
}

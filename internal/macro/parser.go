package macro

import (
	"errors"
	"strings"
)

// Errors raised when a bracketed region is still open at end of input. The
// message names the delimiter that never arrived.
var (
	errMissingCloseParen = errors.New("missing close parenthesis")
	errMissingCloseBrace = errors.New("missing close brace")
)

// Invocation is one parsed macro call: $name, $name(a,b), $name{input} or
// $name(a,b){input}. Args and Body hold raw, unexpanded text; escaped
// commas inside an argument are still escaped. Start and End delimit the
// whole call in the buffer, including the leading backslash when Escaped.
type Invocation struct {
	Name    string
	Args    []string
	Body    *string
	Escaped bool
	Start   int
	End     int
}

// parser scans a text buffer for macro invocations. It replaces the nested
// closures of earlier revisions with explicit buffer/position state so each
// production is testable on its own.
type parser struct {
	text string
	pos  int
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// next returns the next invocation at or after the current position, or
// nil when the rest of the buffer holds none. A '$' not followed by an
// identifier is plain text.
func (p *parser) next() (*Invocation, error) {
	for i := p.pos; i < len(p.text); i++ {
		if p.text[i] != '$' {
			continue
		}
		if i+1 >= len(p.text) || !isNameStart(p.text[i+1]) {
			continue
		}
		end := i + 1
		for end < len(p.text) && isNameChar(p.text[end]) {
			end++
		}
		inv := &Invocation{Name: p.text[i+1 : end], Start: i}
		if i > 0 && p.text[i-1] == '\\' {
			inv.Escaped = true
			inv.Start = i - 1
		}
		if end < len(p.text) && p.text[end] == '(' {
			args, next, err := p.parseArgs(end)
			if err != nil {
				return nil, err
			}
			inv.Args = args
			end = next
		}
		if end < len(p.text) && p.text[end] == '{' {
			body, next, err := p.parseBody(end)
			if err != nil {
				return nil, err
			}
			inv.Body = &body
			end = next
		}
		inv.End = end
		p.pos = end
		return inv, nil
	}
	p.pos = len(p.text)
	return nil, nil
}

// parseArgs consumes a parenthesized, comma-separated argument list
// starting at the '(' at open. Parentheses and braces nest freely inside an
// argument; only a comma at depth 1 separates, and '\,' never does.
// Returns the raw arguments and the index just past the closing ')'.
func (p *parser) parseArgs(open int) ([]string, int, error) {
	var args []string
	stack := []byte{')'}
	argStart := open + 1
	for i := open + 1; i < len(p.text); i++ {
		switch c := p.text[i]; c {
		case '(':
			stack = append(stack, ')')
		case '{':
			stack = append(stack, '}')
		case ')', '}':
			if stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					args = append(args, p.text[argStart:i])
					return args, i + 1, nil
				}
			}
		case ',':
			if len(stack) == 1 && p.text[i-1] != '\\' {
				args = append(args, p.text[argStart:i])
				argStart = i + 1
			}
		}
	}
	return nil, 0, closerError(stack[len(stack)-1])
}

// parseBody consumes a single braced region starting at the '{' at open,
// honoring nested balanced brackets. Returns the raw body and the index
// just past the closing '}'.
func (p *parser) parseBody(open int) (string, int, error) {
	stack := []byte{'}'}
	for i := open + 1; i < len(p.text); i++ {
		switch c := p.text[i]; c {
		case '(':
			stack = append(stack, ')')
		case '{':
			stack = append(stack, '}')
		case ')', '}':
			if stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return p.text[open+1 : i], i + 1, nil
				}
			}
		}
	}
	return "", 0, closerError(stack[len(stack)-1])
}

func closerError(missing byte) error {
	if missing == ')' {
		return errMissingCloseParen
	}
	return errMissingCloseBrace
}

// unescapeCommas turns '\,' back into a literal comma, applied to each raw
// argument before it is expanded.
func unescapeCommas(arg string) string {
	return strings.ReplaceAll(arg, `\,`, ",")
}

// literal reconstitutes an escaped invocation: the call's text verbatim,
// minus the leading backslash.
func (p *parser) literal(inv *Invocation) string {
	return p.text[inv.Start+1 : inv.End]
}

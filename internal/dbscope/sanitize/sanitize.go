// Package sanitize prepares captured statements for display: bound parameter
// values are inlined into the statement text and statements are classified
// by their leading keyword.
package sanitize

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// Sanitizer rewrites a statement with its parameter values inlined.
// The zero value inlines values of any length.
type Sanitizer struct {
	// MaxValueLen truncates longer inlined values; 0 means no limit.
	MaxValueLen int
}

// Process returns text with placeholders replaced by the display form of
// params. Supported placeholders are ?, $N, @name and :name. Placeholders
// inside quoted strings, identifiers or comments are left alone, as are
// placeholders without a matching parameter.
func (s Sanitizer) Process(text string, params []message.Parameter) string {
	if len(params) == 0 {
		return text
	}

	byName := make(map[string]message.Parameter, len(params))
	for _, p := range params {
		byName[strings.TrimLeft(p.Name, "@:$")] = p
	}

	var b strings.Builder
	b.Grow(len(text))
	positional := 0
	var quote byte

	for i := 0; i < len(text); i++ {
		c := text[i]

		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			quote = c
			b.WriteByte(c)
		case '-', '/':
			end := commentEnd(text, i)
			if end == i {
				b.WriteByte(c)
				continue
			}
			b.WriteString(text[i:end])
			i = end - 1
		case '?':
			if positional < len(params) {
				b.WriteString(s.literal(params[positional]))
				positional++
			} else {
				b.WriteByte(c)
			}
		case '$':
			j := i + 1
			for j < len(text) && isDigit(text[j]) {
				j++
			}
			n, err := strconv.Atoi(text[i+1 : j])
			if j == i+1 || err != nil || n < 1 || n > len(params) {
				b.WriteByte(c)
				continue
			}
			b.WriteString(s.literal(params[n-1]))
			i = j - 1
		case '@', ':':
			// @@sysvar and ::cast are not placeholders.
			if i+1 < len(text) && text[i+1] == c {
				b.WriteString(text[i : i+2])
				i++
				continue
			}
			j := i + 1
			for j < len(text) && isIdent(text[j]) {
				j++
			}
			p, ok := byName[text[i+1:j]]
			if j == i+1 || !ok {
				b.WriteByte(c)
				continue
			}
			b.WriteString(s.literal(p))
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Literal renders one parameter the way Process inlines it.
func (s Sanitizer) Literal(p message.Parameter) string {
	return s.literal(p)
}

func (s Sanitizer) literal(p message.Parameter) string {
	if p.IsNull() {
		return "NULL"
	}
	v := p.Rendered()
	if s.MaxValueLen > 0 && utf8.RuneCountInString(v) > s.MaxValueLen {
		v = string([]rune(v)[:s.MaxValueLen]) + "..."
	}
	if quoted(p) {
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return v
}

// commentEnd returns the index just past a -- or /* comment starting at i,
// or i when none starts there. An unterminated comment runs to the end.
func commentEnd(text string, i int) int {
	if i+1 >= len(text) {
		return i
	}
	switch text[i : i+2] {
	case "--":
		if n := strings.IndexByte(text[i:], '\n'); n >= 0 {
			return i + n
		}
		return len(text)
	case "/*":
		if n := strings.Index(text[i+2:], "*/"); n >= 0 {
			return i + 2 + n + 2
		}
		return len(text)
	}
	return i
}

func quoted(p message.Parameter) bool {
	switch p.Type {
	case "string", "time.Time":
		return true
	case "":
		_, ok := p.Value.(string)
		return ok
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdent(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

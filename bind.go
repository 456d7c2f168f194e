// bind.go
package xpg

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// Marker is the positional parameter marker recognized in templates.
const Marker = "%s"

type markerKind uint8

const (
	markerParam  markerKind = iota // %s
	markerEscape                   // %%
	markerData                     // __data__
	markerKeys                     // __keys__
	markerValues                   // __values__
)

var tokenKinds = []struct {
	token string
	kind  markerKind
}{
	{TokenData, markerData},
	{TokenKeys, markerKeys},
	{TokenValues, markerValues},
}

type marker struct {
	kind  markerKind
	start int
	end   int
}

// Bind interpolates args into the %s markers of query as SQL literals and
// returns the statement text exactly as it would be sent.
//
// Markers inside quoted strings, quoted identifiers, comments and
// dollar-quoted bodies are left alone. With at least one argument, "%%"
// outside those regions becomes a single "%". With no arguments the query is
// returned untouched.
//
// Example:
//
//	s, _ := xpg.Bind(`SELECT * FROM users WHERE id = %s AND name = %s`, 7, "o'neil")
//	// s => SELECT * FROM users WHERE id = 7 AND name = 'o''neil'
func Bind(query string, args ...any) (string, error) {
	if len(args) == 0 {
		return query, nil
	}
	marks, err := findMarkers(query)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(query) + 8*len(args))
	last, next := 0, 0
	for _, m := range marks {
		if m.kind > markerEscape {
			continue
		}
		b.WriteString(query[last:m.start])
		last = m.end
		if m.kind == markerEscape {
			b.WriteByte('%')
			continue
		}
		if next >= len(args) {
			return "", xerrors.Errorf("%w: more markers than %d args", ErrArgCount, len(args))
		}
		lit, err := Adapt(args[next])
		if err != nil {
			return "", xerrors.Errorf("xpg: bind arg %d: %w", next, err)
		}
		b.WriteString(lit)
		next++
	}
	if next != len(args) {
		return "", xerrors.Errorf("%w: %d markers, %d args", ErrArgCount, next, len(args))
	}
	b.WriteString(query[last:])
	return b.String(), nil
}

// markersBefore counts the %s markers that start before offset.
func markersBefore(marks []marker, offset int) int {
	n := 0
	for _, m := range marks {
		if m.start >= offset {
			break
		}
		if m.kind == markerParam {
			n++
		}
	}
	return n
}

func findMarkers(query string) ([]marker, error) {
	var out []marker
	i := 0
	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		switch r {
		case '\'':
			skip := skipSingleQuoted
			if isEscapePrefix(query, i) {
				skip = skipEscapeQuoted
			}
			j, err := skip(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '"':
			j, err := skipDoubleQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '-':
			if hasPrefix(query[i:], "--") {
				i = skipLineComment(query, i+2)
				continue
			}
		case '/':
			if hasPrefix(query[i:], "/*") {
				j, err := skipBlockComment(query, i+2)
				if err != nil {
					return nil, err
				}
				i = j
				continue
			}
		case '$':
			if j, ok, err := skipDollarQuoted(query, i); err != nil {
				return nil, err
			} else if ok {
				i = j
				continue
			}
		case '_':
			if k, n := matchToken(query[i:]); n > 0 {
				out = append(out, marker{kind: k, start: i, end: i + n})
				i += n
				continue
			}
		case '%':
			if hasPrefix(query[i:], "%%") {
				out = append(out, marker{kind: markerEscape, start: i, end: i + 2})
				i += 2
				continue
			}
			if hasPrefix(query[i:], Marker) {
				out = append(out, marker{kind: markerParam, start: i, end: i + 2})
				i += 2
				continue
			}
		}
		i += w
	}
	return out, nil
}

func skipSingleQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '\'' {
			if i < len(s) && s[i] == '\'' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("xpg: unterminated single-quoted string")
}

// isEscapePrefix reports whether the quote at i opens an E'...' string.
func isEscapePrefix(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	if i == 1 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i-1])
	return !isTagChar(r) && r != '$'
}

// skipEscapeQuoted is skipSingleQuoted for E'...' strings, where a
// backslash escapes the next character.
func skipEscapeQuoted(s string, i int) (int, error) {
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case '\'':
			i++
			if i < len(s) && s[i] == '\'' {
				i++
				continue
			}
			return i, nil
		}
		i++
	}
	return 0, fmt.Errorf("xpg: unterminated escape string")
}

func matchToken(s string) (markerKind, int) {
	for _, t := range tokenKinds {
		if hasPrefix(s, t.token) {
			return t.kind, len(t.token)
		}
	}
	return 0, 0
}

func skipDoubleQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '"' {
			if i < len(s) && s[i] == '"' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("xpg: unterminated double-quoted identifier")
}

func skipLineComment(s string, i int) int {
	for i < len(s) {
		if s[i] == '\n' {
			return i + 1
		}
		i++
	}
	return i
}

func skipBlockComment(s string, i int) (int, error) {
	for i < len(s)-1 {
		if s[i] == '*' && s[i+1] == '/' {
			return i + 2, nil
		}
		i++
	}
	return 0, fmt.Errorf("xpg: unterminated block comment")
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$.
func skipDollarQuoted(s string, i int) (int, bool, error) {
	if s[i] != '$' {
		return 0, false, nil
	}
	j := i + 1
	for j < len(s) && s[j] != '$' && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	k := j + 1
	idx := strings.Index(s[k:], tag)
	if idx < 0 {
		return 0, true, fmt.Errorf("xpg: unterminated dollar-quoted string")
	}
	return k + idx + len(tag), true, nil
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }

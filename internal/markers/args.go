package markers

import (
	"strings"

	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

// args holds a parsed marker argument list: positional slots in order, plus
// named arguments by key. A marker's binder picks values from whichever of
// the two it finds populated for a given parameter; positional and named
// forms are mutually exclusive within a single call.
type args struct {
	positional []string
	hasValue   []bool // positional[i] came from an explicit (possibly empty) slot
	named      map[string]string
}

// parseArgs splits the inside of `name(...)` into positional or named
// arguments. Quoting is honored via `"`, `'`, or backtick so literal commas
// and parentheses can appear in a value; NULL (case-insensitive, unquoted)
// means "omitted" and is not recorded as a value at all.
func parseArgs(raw string) (*args, error) {
	tokens, err := splitTopLevel(raw)
	if err != nil {
		return nil, err
	}

	a := &args{named: map[string]string{}}
	sawNamed := false
	sawPositional := false

	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			// Empty positional slot — legal.
			a.positional = append(a.positional, "")
			a.hasValue = append(a.hasValue, false)
			sawPositional = true
			continue
		}
		if key, val, ok := splitNamed(tok); ok {
			sawNamed = true
			if isNull(val) {
				continue
			}
			a.named[key] = unquote(val)
			continue
		}
		sawPositional = true
		if isNull(tok) {
			a.positional = append(a.positional, "")
			a.hasValue = append(a.hasValue, false)
			continue
		}
		a.positional = append(a.positional, unquote(tok))
		a.hasValue = append(a.hasValue, true)
	}

	if sawNamed && sawPositional {
		return nil, tbegerr.New(tbegerr.MarkerValidation,
			"positional and named arguments cannot be mixed in one marker call").WithLiteral(raw)
	}
	return a, nil
}

// splitTopLevel splits raw on commas that are not inside a quoted span,
// preserving the quote characters so splitNamed/unquote can still see them.
func splitTopLevel(raw string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote rune
	inQuote := false

	for _, r := range raw {
		switch {
		case inQuote:
			cur.WriteRune(r)
			if r == quote {
				inQuote = false
			}
		case r == '"' || r == '\'' || r == '`':
			inQuote = true
			quote = r
			cur.WriteRune(r)
		case r == ',':
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, tbegerr.New(tbegerr.MarkerValidation, "unterminated quote in marker arguments").WithLiteral(raw)
	}
	tokens = append(tokens, cur.String())
	if len(tokens) == 1 && strings.TrimSpace(tokens[0]) == "" {
		return nil, nil
	}
	return tokens, nil
}

// splitNamed recognizes `key=value` (key must look like an identifier,
// distinguishing it from a quoted positional value that happens to contain
// an `=`).
func splitNamed(tok string) (key, val string, ok bool) {
	i := strings.IndexByte(tok, '=')
	if i <= 0 {
		return "", "", false
	}
	k := strings.TrimSpace(tok[:i])
	for _, r := range k {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return "", "", false
		}
	}
	return k, strings.TrimSpace(tok[i+1:]), true
}

func isNull(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "NULL")
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// get returns a parameter's value, preferring the named form, falling back
// to the positional slot at index pos. ok is false when neither form
// supplied a value.
func (a *args) get(name string, pos int) (string, bool) {
	return a.getAlias(pos, name)
}

// getAlias is get for a parameter accepted under more than one
// named-argument spelling (e.g. `var`/`variable`, `empty`/`emptyRange`):
// every name is tried against the named-argument map, in order, before
// falling back to the positional slot at index pos.
func (a *args) getAlias(pos int, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := a.named[name]; ok {
			return v, true
		}
	}
	if pos >= 0 && pos < len(a.positional) && a.hasValue[pos] {
		return a.positional[pos], true
	}
	return "", false
}

package realtime

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalidFilter = errors.New("invalid filter")

// Filter is a column equality predicate written as "column=eq.value".
// The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses "column=eq.value". Columns may be snake_case or camelCase.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filter{}, nil
	}
	col, rest, ok := strings.Cut(s, "=")
	if !ok {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	op, value, ok := strings.Cut(rest, ".")
	if !ok || op != "eq" {
		return Filter{}, fmt.Errorf("%w: only eq is supported in %q", ErrInvalidFilter, s)
	}
	col = strings.TrimSpace(col)
	if col == "" || value == "" {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	return Filter{Column: camelCase(col), Value: value}, nil
}

func (f Filter) IsZero() bool { return f.Column == "" }

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Match reports whether record satisfies the filter.
func (f Filter) Match(record map[string]any) bool {
	if f.IsZero() {
		return true
	}
	v, ok := record[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

func camelCase(col string) string {
	if !strings.Contains(col, "_") {
		return col
	}
	var b strings.Builder
	upper := false
	for _, r := range col {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

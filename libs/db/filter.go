package db

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter builds a parameterized WHERE clause. Conditions are written with '?'
// placeholders and rendered to pgx positional parameters in order, so callers
// never count "$n" by hand.
type Filter struct {
	clauses []string
	args    []any
	err     error
}

func NewFilter() *Filter {
	return &Filter{}
}

// Where adds a condition. The number of '?' in clause must equal len(args).
func (f *Filter) Where(clause string, args ...any) *Filter {
	if n := strings.Count(clause, "?"); n != len(args) {
		if f.err == nil {
			f.err = fmt.Errorf("filter clause %q has %d placeholders but %d args", clause, n, len(args))
		}
		return f
	}
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
	return f
}

// WhereIf adds the condition only when cond is true.
func (f *Filter) WhereIf(cond bool, clause string, args ...any) *Filter {
	if !cond {
		return f
	}
	return f.Where(clause, args...)
}

// Build renders " WHERE ..." (or "" when empty) followed by suffix, which may
// itself contain '?' placeholders bound to suffixArgs (e.g. "LIMIT ?").
func (f *Filter) Build(suffix string, suffixArgs ...any) (string, []any, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	if n := strings.Count(suffix, "?"); n != len(suffixArgs) {
		return "", nil, fmt.Errorf("filter suffix %q has %d placeholders but %d args", suffix, n, len(suffixArgs))
	}

	var b strings.Builder
	if len(f.clauses) > 0 {
		b.WriteString(" WHERE ")
		for i, c := range f.clauses {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("(")
			b.WriteString(c)
			b.WriteString(")")
		}
	}
	if suffix != "" {
		b.WriteString(" ")
		b.WriteString(suffix)
	}

	args := make([]any, 0, len(f.args)+len(suffixArgs))
	args = append(args, f.args...)
	args = append(args, suffixArgs...)
	return bind(b.String()), args, nil
}

func bind(sql string) string {
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

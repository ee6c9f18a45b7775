package bunstore

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-pipeline/query"
)

// Compile renders p as a WHERE fragment with bun placeholders. column maps an
// entity field to its column; unknown fields fail the compile. Comparisons
// against nil become IS NULL and IS NOT NULL.
func Compile(p query.Predicate, column func(field string) (string, bool)) (string, []any, error) {
	return CompileNullable(p, column, nil)
}

// CompileNullable is Compile for tables where nullable reports which fields may
// hold NULL. Comparisons on those fields are guarded so a NULL column reads as
// an unequal value rather than unknown, which keeps NOT in line with in-memory
// matching.
func CompileNullable(p query.Predicate, column func(field string) (string, bool), nullable func(field string) bool) (string, []any, error) {
	resolved, err := query.Resolved(p)
	if err != nil {
		return "", nil, err
	}
	if nullable == nil {
		nullable = func(string) bool { return false }
	}
	c := compiler{column: column, nullable: nullable}
	sql, err := c.compile(resolved)
	if err != nil {
		return "", nil, err
	}
	return sql, c.args, nil
}

var comparison = map[query.Op]string{
	query.OpEq:  "=",
	query.OpNe:  "<>",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

type compiler struct {
	column   func(string) (string, bool)
	nullable func(string) bool
	args     []any
}

func (c *compiler) compile(p query.Predicate) (string, error) {
	switch p.Op {
	case query.OpAnd, query.OpOr:
		if len(p.Children) == 0 {
			if p.Op == query.OpAnd {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		parts := make([]string, len(p.Children))
		for i, child := range p.Children {
			s, err := c.compile(child)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		sep := " AND "
		if p.Op == query.OpOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case query.OpNot:
		s, err := c.compile(p.Children[0])
		if err != nil {
			return "", err
		}
		return "NOT " + s, nil
	}

	col, ok := c.column(p.Field)
	if !ok {
		return "", fmt.Errorf("%w: %s", query.ErrUnknownField, p.Field)
	}
	if p.Op == query.OpIn {
		values, _ := p.Value.([]any)
		if len(values) == 0 {
			return "1 = 0", nil
		}
		present := make([]any, 0, len(values))
		for _, v := range values {
			if !isNull(v) {
				present = append(present, v)
			}
		}
		if len(present) == len(values) {
			c.args = append(c.args, bun.Ident(col), bun.In(values))
			return c.guard(p.Field, col, "? IN (?)", false), nil
		}
		if len(present) == 0 {
			c.args = append(c.args, bun.Ident(col))
			return "? IS NULL", nil
		}
		c.args = append(c.args, bun.Ident(col), bun.In(present), bun.Ident(col))
		return "(? IN (?) OR ? IS NULL)", nil
	}
	op, ok := comparison[p.Op]
	if !ok {
		return "", fmt.Errorf("%w: unknown op %q", query.ErrMalformedPredicate, p.Op)
	}
	if isNull(p.Value) {
		switch p.Op {
		case query.OpEq, query.OpGte, query.OpLte:
			c.args = append(c.args, bun.Ident(col))
			return "? IS NULL", nil
		case query.OpNe:
			c.args = append(c.args, bun.Ident(col))
			return "? IS NOT NULL", nil
		}
		// only nil sits at nil, and nothing sits strictly beside it
		return "1 = 0", nil
	}
	c.args = append(c.args, bun.Ident(col), p.Value)
	return c.guard(p.Field, col, "? "+op+" ?", p.Op == query.OpNe), nil
}

// guard makes a comparison on a nullable column two valued: NULL never equals
// a value, so it satisfies <> and nothing else.
func (c *compiler) guard(field, col, sql string, negated bool) string {
	if !c.nullable(field) {
		return sql
	}
	c.args = append(c.args, bun.Ident(col))
	if negated {
		return "(" + sql + " OR ? IS NULL)"
	}
	return "(" + sql + " AND ? IS NOT NULL)"
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// nullableFields reports the exported fields of t that can hold NULL.
func nullableFields(t reflect.Type) map[string]bool {
	out := map[string]bool{}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		switch f.Type.Kind() {
		case reflect.Pointer, reflect.Interface:
			out[f.Name] = true
		}
	}
	return out
}

// columnsOf maps the exported fields of t to bun column names, honoring the
// name part of a bun tag.
func columnsOf(t reflect.Type) map[string]string {
	out := map[string]string{}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag := f.Tag.Get("bun")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || strings.Contains(name, ":") {
			name = underscore(f.Name)
		}
		out[f.Name] = name
	}
	return out
}

// underscore converts a Go field name the way bun does: "UserID" becomes
// "user_id".
func underscore(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 && ((i+1 < len(s) && isLower(s[i+1])) || isLower(s[i-1])) {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

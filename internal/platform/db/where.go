package db

import (
	"strconv"
	"strings"
)

// Conditions accumulates AND-ed predicates with positional parameters. Each
// "?" in an expression becomes the next $n placeholder.
type Conditions struct {
	parts []string
	args  []any
}

// Add appends expr, binding args to its "?" placeholders in order.
func (c *Conditions) Add(expr string, args ...any) {
	var b strings.Builder
	i := 0
	for _, r := range expr {
		if r == '?' && i < len(args) {
			b.WriteString(c.Arg(args[i]))
			i++
			continue
		}
		b.WriteRune(r)
	}
	c.parts = append(c.parts, b.String())
}

// Arg binds v and returns its placeholder without adding a predicate.
func (c *Conditions) Arg(v any) string {
	c.args = append(c.args, v)
	return "$" + strconv.Itoa(len(c.args))
}

// SQL returns the predicates joined by AND, or "TRUE" when there are none.
func (c *Conditions) SQL() string {
	if len(c.parts) == 0 {
		return "TRUE"
	}
	return strings.Join(c.parts, " AND ")
}

func (c *Conditions) Args() []any { return c.args }

package database

import (
	"fmt"
	"strings"
)

// Builders accumulate clause fragments and an aligned positional
// parameter list, then render to SQL in one fixed clause order. A
// builder is single-use and single-goroutine: accumulate, render,
// discard. The rendered placeholder count always equals the parameter
// count; the typed Where/Set methods are the only sanctioned way to
// bind a literal.

// allowedOperators is the whitelist for the typed condition methods.
// Anything else must go through the expression variants, where the
// caller owns the fragment text.
var allowedOperators = map[string]struct{}{
	"=": {}, "!=": {}, "<>": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
	"LIKE": {}, "NOT LIKE": {}, "IS": {}, "IS NOT": {},
}

// conditions collects WHERE-clause fragments with their connectors and
// bound parameters, in call order.
type conditions struct {
	frags  []string
	params []any
	err    error
}

func (c *conditions) add(connector, column, operator string, value any) {
	op := strings.ToUpper(strings.TrimSpace(operator))
	if _, ok := allowedOperators[op]; !ok {
		if c.err == nil {
			c.err = fmt.Errorf("unsupported operator %q; use an expression variant for raw fragments", operator)
		}
		return
	}
	c.push(connector, fmt.Sprintf("%s %s ?", column, op))
	c.params = append(c.params, value)
}

// addExpr appends a pre-formed fragment with no bindable literal, e.g.
// "playtime > 0". Callers must not concatenate untrusted input here.
func (c *conditions) addExpr(connector, expr string) {
	c.push(connector, expr)
}

func (c *conditions) push(connector, frag string) {
	if len(c.frags) == 0 {
		c.frags = append(c.frags, frag)
		return
	}
	c.frags = append(c.frags, connector+" "+frag)
}

func (c *conditions) empty() bool { return len(c.frags) == 0 }

func (c *conditions) render(sb *strings.Builder) {
	if c.empty() {
		return
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(c.frags, " "))
}

// countPlaceholders reports the number of ? placeholders in a rendered
// statement. Every ToSQL checks it against the parameter list before
// handing the statement out.
func countPlaceholders(query string) int {
	return strings.Count(query, "?")
}

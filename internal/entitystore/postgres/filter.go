package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/subgraphd/indexnode/internal/entity"
)

// filterCompiler accumulates positional arguments while compiling an
// entity.Filter tree into a JSONB-aware WHERE fragment against the
// `attributes` column. Starting the counter at the caller's current
// argument count lets the fragment be appended after deployment/entity_type
// equality conditions already built by the caller.
type filterCompiler struct {
	args     []any
	argIndex int
}

func newFilterCompiler(argIndex int) *filterCompiler {
	return &filterCompiler{argIndex: argIndex}
}

func (c *filterCompiler) next(arg any) string {
	placeholder := fmt.Sprintf("$%d", c.argIndex)
	c.args = append(c.args, arg)
	c.argIndex++
	return placeholder
}

// compile renders f as a SQL boolean expression referencing the
// `attributes` JSONB column.
func (c *filterCompiler) compile(f entity.Filter) (string, error) {
	switch f.Op {
	case entity.FilterEqual:
		return c.compileEqual(f.Attribute, f.Value)
	case entity.FilterIn:
		return c.compileIn(f.Attribute, f.Values)
	case entity.FilterContains:
		return c.compileContains(f.Attribute, f.Value)
	case entity.FilterLessThan:
		return c.compileCompare(f.Attribute, f.Value, "<")
	case entity.FilterGreaterThan:
		return c.compileCompare(f.Attribute, f.Value, ">")
	case entity.FilterNot:
		if len(f.Children) != 1 {
			return "", fmt.Errorf("not filter requires exactly one child")
		}
		inner, err := c.compile(f.Children[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	case entity.FilterAnd:
		return c.compileCombinator(f.Children, "AND")
	case entity.FilterOr:
		return c.compileCombinator(f.Children, "OR")
	default:
		return "", fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

func (c *filterCompiler) compileCombinator(children []entity.Filter, joiner string) (string, error) {
	if len(children) == 0 {
		return "", fmt.Errorf("%s filter requires at least one child", joiner)
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := c.compile(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("(%s)", part))
	}
	return strings.Join(parts, " "+joiner+" "), nil
}

// compileEqual uses JSONB containment, which matches the stored Value
// struct by structural equality regardless of scalar kind.
func (c *filterCompiler) compileEqual(attr string, v entity.Value) (string, error) {
	doc, err := json.Marshal(map[string]entity.Value{attr: v})
	if err != nil {
		return "", err
	}
	placeholder := c.next(string(doc))
	return fmt.Sprintf("attributes @> %s::jsonb", placeholder), nil
}

func (c *filterCompiler) compileIn(attr string, values []entity.Value) (string, error) {
	if len(values) == 0 {
		return "1 = 0", nil
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		part, err := c.compileEqual(attr, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " OR "), nil
}

// compileContains matches list-valued attributes whose elems array contains
// an element structurally equal to v.
func (c *filterCompiler) compileContains(attr string, v entity.Value) (string, error) {
	doc, err := json.Marshal([]entity.Value{v})
	if err != nil {
		return "", err
	}
	attrPlaceholder := c.next(attr)
	docPlaceholder := c.next(string(doc))
	path := fmt.Sprintf("attributes #> array[%s::text, 'elems']", attrPlaceholder)
	return fmt.Sprintf("%s @> %s::jsonb", path, docPlaceholder), nil
}

// quoteAttr escapes an attribute name for embedding as a SQL string literal,
// used only where a bind parameter isn't available (an ORDER BY expression,
// which Postgres won't accept a parameterized key path into).
func quoteAttr(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// compileCompare renders a numeric/string ordering comparison against the
// scalar sub-field appropriate for v.Kind.
func (c *filterCompiler) compileCompare(attr string, v entity.Value, op string) (string, error) {
	attrPlaceholder := c.next(attr)
	switch v.Kind {
	case entity.KindInt:
		placeholder := c.next(v.Int)
		return fmt.Sprintf("(attributes->%s::text->>'int')::bigint %s %s", attrPlaceholder, op, placeholder), nil
	case entity.KindFloat:
		placeholder := c.next(v.Float)
		return fmt.Sprintf("(attributes->%s::text->>'float')::double precision %s %s", attrPlaceholder, op, placeholder), nil
	case entity.KindBigInt:
		placeholder := c.next(v.BigInt)
		return fmt.Sprintf("(attributes->%s::text->>'big_int')::numeric %s %s::numeric", attrPlaceholder, op, placeholder), nil
	case entity.KindString, entity.KindID:
		placeholder := c.next(v.Str)
		return fmt.Sprintf("(attributes->%s::text->>'str') %s %s", attrPlaceholder, op, placeholder), nil
	default:
		return "", fmt.Errorf("ordering comparison unsupported for kind %q", v.Kind)
	}
}

// Package sqlhandler implements the per-action SQL generators (spec.md
// §4.4): read, create, update, delete, custom. Every handler produces
// (sql, params) — parameterized text plus bound arguments, never an
// interpolated value — and applies the field/row permission projection
// computed by internal/permission before a single column name reaches the
// generated text.
package sqlhandler

import (
	"fmt"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/permission"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// Operator is one of the WHERE-clause comparison operators spec.md §4.4.1 names.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLe         Operator = "le"
	OpGt         Operator = "gt"
	OpGe         Operator = "ge"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not-in"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "not-between"
	OpLike       Operator = "like"
)

var sqlByOperator = map[Operator]string{
	OpEq: "=", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=", OpLike: "LIKE",
}

// ParseFilter splits a query_params value into its operator and operand(s).
// Absent "<op>::" prefix means eq (spec.md §4.4.1).
func ParseFilter(raw string) (Operator, []string, error) {
	op := OpEq
	operand := raw
	if idx := strings.Index(raw, "::"); idx >= 0 {
		candidate := Operator(raw[:idx])
		if _, known := sqlByOperator[candidate]; known || candidate == OpIn || candidate == OpNotIn || candidate == OpBetween || candidate == OpNotBetween {
			op = candidate
			operand = raw[idx+2:]
		}
	}

	switch op {
	case OpIn, OpNotIn:
		parts := splitNonEmpty(operand)
		if len(parts) == 0 {
			return "", nil, gatewayerr.Newf(gatewayerr.BadRequest, "operator %q requires at least one operand", op)
		}
		return op, parts, nil
	case OpBetween, OpNotBetween:
		parts := splitNonEmpty(operand)
		if len(parts) != 2 {
			return "", nil, gatewayerr.Newf(gatewayerr.BadRequest, "operator %q requires exactly two comma-separated operands", op)
		}
		return op, parts, nil
	default:
		return op, []string{operand}, nil
	}
}

func splitNonEmpty(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// CoerceValue converts a raw string operand to the property descriptor's
// semantic type, using cast for numeric/boolean coercion and dateparse for
// free-form date-time parsing (SPEC_FULL.md §4.4.1).
func CoerceValue(pd *apimodel.PropertyDescriptor, raw string) (any, error) {
	switch pd.Type {
	case apimodel.TypeInteger:
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, gatewayerr.Wrapf(gatewayerr.BadRequest, err, "invalid value for %q", pd.Name)
		}
		return v, nil
	case apimodel.TypeNumber:
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, gatewayerr.Wrapf(gatewayerr.BadRequest, err, "invalid value for %q", pd.Name)
		}
		return v, nil
	case apimodel.TypeBoolean:
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, gatewayerr.Wrapf(gatewayerr.BadRequest, err, "invalid value for %q", pd.Name)
		}
		return v, nil
	case apimodel.TypeDateTime:
		v, err := dateparse.ParseAny(raw)
		if err != nil {
			return nil, gatewayerr.Wrapf(gatewayerr.BadRequest, err, "invalid value for %q", pd.Name)
		}
		return v, nil
	default:
		return raw, nil
	}
}

// whereBuilder accumulates WHERE fragments and bound args across the
// query-params filter grammar, the permission predicate, and (for
// update) the concurrency-token equality, tracking placeholder
// numbering across all three so every fragment's `?`/`$N` stays correctly
// ordered for the dialect in use.
type whereBuilder struct {
	d       dialect.Dialect
	clauses []string
	args    []any
	base    int // placeholder numbering continues from base+1 (non-zero when a SET clause precedes this WHERE)
}

func newWhereBuilder(d dialect.Dialect) *whereBuilder {
	return &whereBuilder{d: d}
}

// newWhereBuilderAt is newWhereBuilder but with placeholder numbering
// starting after base prior bound arguments, for statements (UPDATE) whose
// SET clause already consumed placeholders 1..base.
func newWhereBuilderAt(d dialect.Dialect, base int) *whereBuilder {
	return &whereBuilder{d: d, base: base}
}

// addFilter renders one query_params entry into a WHERE fragment.
func (w *whereBuilder) addFilter(entity *apimodel.EntitySchema, propName, raw string) error {
	pd, ok := entity.Property(propName)
	if !ok {
		return gatewayerr.Newf(gatewayerr.BadRequest, "unknown filter property %q", propName)
	}
	op, operands, err := ParseFilter(raw)
	if err != nil {
		return err
	}

	col := w.d.Quote(pd.Column)

	switch op {
	case OpEq, OpNe:
		if operands[0] == "null" {
			if op == OpEq {
				w.clauses = append(w.clauses, col+" IS NULL")
			} else {
				w.clauses = append(w.clauses, col+" IS NOT NULL")
			}
			return nil
		}
		val, err := CoerceValue(pd, operands[0])
		if err != nil {
			return err
		}
		ph := w.bind(val)
		w.clauses = append(w.clauses, fmt.Sprintf("%s %s %s", col, sqlByOperator[op], ph))
	case OpLt, OpLe, OpGt, OpGe, OpLike:
		val, err := CoerceValue(pd, operands[0])
		if err != nil {
			return err
		}
		ph := w.bind(val)
		w.clauses = append(w.clauses, fmt.Sprintf("%s %s %s", col, sqlByOperator[op], ph))
	case OpIn, OpNotIn:
		phs := make([]string, len(operands))
		for i, raw := range operands {
			if raw == "null" {
				return gatewayerr.Newf(gatewayerr.BadRequest, "operator %q does not accept a null operand", op)
			}
			val, err := CoerceValue(pd, raw)
			if err != nil {
				return err
			}
			phs[i] = w.bind(val)
		}
		verb := "IN"
		if op == OpNotIn {
			verb = "NOT IN"
		}
		w.clauses = append(w.clauses, fmt.Sprintf("%s %s (%s)", col, verb, strings.Join(phs, ", ")))
	case OpBetween, OpNotBetween:
		if operands[0] == "null" || operands[1] == "null" {
			return gatewayerr.Newf(gatewayerr.BadRequest, "operator %q does not accept a null operand", op)
		}
		lo, err := CoerceValue(pd, operands[0])
		if err != nil {
			return err
		}
		hi, err := CoerceValue(pd, operands[1])
		if err != nil {
			return err
		}
		loPh, hiPh := w.bind(lo), w.bind(hi)
		verb := "BETWEEN"
		if op == OpNotBetween {
			verb = "NOT BETWEEN"
		}
		w.clauses = append(w.clauses, fmt.Sprintf("%s %s %s AND %s", col, verb, loPh, hiPh))
	default:
		return gatewayerr.Newf(gatewayerr.BadRequest, "unknown operator %q", op)
	}
	return nil
}

// bind appends val as a new bound argument and returns its placeholder.
func (w *whereBuilder) bind(val any) string {
	w.args = append(w.args, val)
	return w.d.Placeholder(w.base + len(w.args))
}

// addRaw appends a pre-built predicate whose placeholders are bare `?`
// tokens (as produced by internal/permission's claim-templated WHERE) —
// rewriting each to this dialect's placeholder at this builder's running
// count and binding their args in order.
func (w *whereBuilder) addRaw(predicate string, args []any) {
	if predicate == "" {
		return
	}
	var b strings.Builder
	argIdx := 0
	for i := 0; i < len(predicate); i++ {
		if predicate[i] == '?' {
			w.args = append(w.args, args[argIdx])
			b.WriteString(w.d.Placeholder(w.base + len(w.args)))
			argIdx++
		} else {
			b.WriteByte(predicate[i])
		}
	}
	w.clauses = append(w.clauses, b.String())
}

func (w *whereBuilder) build() (string, []any) {
	if len(w.clauses) == 0 {
		return "", w.args
	}
	return strings.Join(w.clauses, " AND "), w.args
}

// requirePermission fails Forbidden if the effective rule denies the action outright.
func requirePermission(rule *permission.EffectiveRule) error {
	if rule == nil || !rule.Allowed {
		return gatewayerr.New(gatewayerr.Forbidden, "no permitted role for this action")
	}
	return nil
}

// projectProperties intersects the requested property set (or all
// properties) with the permission-allowed pattern (spec.md §4.4.1).
func projectProperties(entity *apimodel.EntitySchema, requested []string, rule *permission.EffectiveRule) ([]string, error) {
	candidates := requested
	if len(candidates) == 0 {
		candidates = entity.PropertyOrder
	}
	var out []string
	for _, name := range candidates {
		if _, ok := entity.Property(name); !ok {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown property %q", name)
		}
		if rule.PropertyAllowed(name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, gatewayerr.New(gatewayerr.Forbidden, "no properties permitted after projection")
	}
	return out, nil
}

// currentTimestampSQL renders the dialect's CURRENT_TIMESTAMP equivalent; all
// built-in dialects share ANSI SQL's CURRENT_TIMESTAMP keyword so no
// per-dialect branching is needed here.
func currentTimestampSQL() string { return "CURRENT_TIMESTAMP" }

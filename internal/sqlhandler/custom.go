package sqlhandler

import (
	"context"
	"fmt"
	"reflect"
	"regexp"

	"github.com/creasty/defaults"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// CustomHandler drives a pre-declared named SQL template for ActionCustom
// (spec.md §4.4.5).
type CustomHandler struct {
	Dialect dialect.Dialect
}

var namedParamRe = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// Execute resolves op.CustomSQLName to its declared template, validates and
// defaults op.CustomBindings against the template's declared params,
// rewrites `:name` tokens to the active dialect's placeholders in
// declaration order, and returns the rows with output columns aliased per
// the template's x-output-columns mapping.
func (h *CustomHandler) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation) ([]map[string]any, error) {
	tmpl, err := apimodel.GetCustomOperation(op.CustomSQLName)
	if err != nil {
		return nil, err
	}

	bound, err := h.bindParams(tmpl, op.CustomBindings)
	if err != nil {
		return nil, err
	}

	sqlText, args, err := h.renderSQL(tmpl, bound)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	if len(tmpl.Outputs) == 0 {
		return rows, nil
	}
	return h.aliasOutputs(tmpl, rows), nil
}

// bindParams builds a bound-parameter holder struct at runtime — one
// string field per declared param, tagged `default:"<value>"` from the
// template's declared default — applies the caller's supplied bindings,
// fills the rest via github.com/creasty/defaults.Set (the same struct-tag
// defaulting the teacher uses for config), then coerces each resulting
// string to the param's declared type.
func (h *CustomHandler) bindParams(tmpl *apimodel.CustomOperationSpec, bindings map[string]any) (map[string]any, error) {
	fields := make([]reflect.StructField, 0, len(tmpl.ParamOrder))
	for i, name := range tmpl.ParamOrder {
		p := tmpl.Params[name]
		tag := ""
		if p.Default != nil {
			tag = fmt.Sprintf(`default:"%v"`, p.Default)
		}
		fields = append(fields, reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: reflect.TypeOf(""),
			Tag:  reflect.StructTag(tag),
		})
	}
	holderType := reflect.StructOf(fields)
	holder := reflect.New(holderType)

	for i, name := range tmpl.ParamOrder {
		if v, ok := bindings[name]; ok {
			holder.Elem().Field(i).SetString(fmt.Sprintf("%v", v))
		}
	}

	if err := defaults.Set(holder.Interface()); err != nil {
		return nil, gatewayerr.Wrapf(gatewayerr.InternalError, err, "applying defaults for custom operation %q", tmpl.Name)
	}

	out := make(map[string]any, len(tmpl.ParamOrder))
	for i, name := range tmpl.ParamOrder {
		p := tmpl.Params[name]
		raw := holder.Elem().Field(i).String()
		if raw == "" {
			if p.Required {
				return nil, gatewayerr.Newf(gatewayerr.BadRequest, "custom operation %q missing required param %q", tmpl.Name, name)
			}
			continue
		}
		coerced, err := CoerceValue(&apimodel.PropertyDescriptor{Name: name, Type: p.Type}, raw)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func (h *CustomHandler) renderSQL(tmpl *apimodel.CustomOperationSpec, bound map[string]any) (string, []any, error) {
	var args []any
	missing := ""
	sqlText := namedParamRe.ReplaceAllStringFunc(tmpl.SQL, func(tok string) string {
		name := tok[1:]
		v, ok := bound[name]
		if !ok {
			missing = name
			return tok
		}
		args = append(args, v)
		return h.Dialect.Placeholder(len(args))
	})
	if missing != "" {
		return "", nil, gatewayerr.Newf(gatewayerr.BadRequest, "custom operation %q references unbound param %q", tmpl.Name, missing)
	}
	return sqlText, args, nil
}

func (h *CustomHandler) aliasOutputs(tmpl *apimodel.CustomOperationSpec, rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		aliased := make(map[string]any, len(row))
		for col, val := range row {
			if field, ok := tmpl.Outputs[col]; ok {
				aliased[field] = val
			} else {
				aliased[col] = val
			}
		}
		out[i] = aliased
	}
	return out
}

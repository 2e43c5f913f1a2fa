package sqlhandler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/internal/permission"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// UpdateHandler builds and executes the UPDATE for an Operation (spec.md §4.4.3).
type UpdateHandler struct {
	Entity  *apimodel.EntitySchema
	Dialect dialect.Dialect
}

// Execute updates rows matching the derived WHERE and returns the updated
// rows, re-selected with the same filters and permission predicate as the
// UPDATE (without the concurrency-token equality).
func (h *UpdateHandler) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation, rule *permission.EffectiveRule) ([]map[string]any, error) {
	if err := requirePermission(rule); err != nil {
		return nil, err
	}
	if len(op.StoreParams) == 0 {
		return nil, gatewayerr.New(gatewayerr.BadRequest, "no properties to update")
	}

	setCols := make([]string, 0, len(op.StoreParams)+1)
	setVals := make([]any, 0, len(op.StoreParams)+1)
	setExprs := make([]string, 0, len(op.StoreParams)+1)

	for name, raw := range op.StoreParams {
		if name == h.Entity.PrimaryKey {
			return nil, gatewayerr.New(gatewayerr.BadRequest, "primary key cannot be updated")
		}
		pd, ok := h.Entity.Property(name)
		if !ok {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown property %q", name)
		}
		if !rule.PropertyAllowed(name) {
			return nil, gatewayerr.Newf(gatewayerr.Forbidden, "property %q not permitted for this role", name)
		}
		val, err := coerceStoreValue(pd, raw)
		if err != nil {
			return nil, err
		}
		setCols = append(setCols, pd.Column)
		setVals = append(setVals, val)
		setExprs = append(setExprs, "")
	}

	var concurrencySupplied bool
	var concurrencyClientValue any
	cp, hasConcurrency := h.Entity.ConcurrencyProperty()
	if hasConcurrency {
		if _, supplied := op.StoreParams[cp.Name]; supplied {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "concurrency property %q cannot be set directly", cp.Name)
		}
		if raw, ok := op.QueryParams[cp.Name]; ok {
			concurrencySupplied = true
			var err error
			concurrencyClientValue, err = CoerceValue(cp, raw)
			if err != nil {
				return nil, err
			}
		}
		setCols = append(setCols, cp.Column)
		if cp.Type == apimodel.TypeUUID {
			setVals = append(setVals, uuid.New().String())
			setExprs = append(setExprs, "")
		} else {
			setVals = append(setVals, nil)
			setExprs = append(setExprs, currentTimestampSQL())
		}
	}

	setFragments := make([]string, len(setCols))
	bound := make([]any, 0, len(setVals))
	n := 0
	for i, col := range setCols {
		if setExprs[i] != "" {
			setFragments[i] = fmt.Sprintf("%s = %s", h.Dialect.Quote(col), setExprs[i])
			continue
		}
		n++
		setFragments[i] = fmt.Sprintf("%s = %s", h.Dialect.Quote(col), h.Dialect.Placeholder(n))
		bound = append(bound, setVals[i])
	}

	// buildWhere is called twice at different placeholder bases: once
	// continuing after the SET clause's n bound values (for the UPDATE
	// statement itself, withConcurrency=true so a stale token fails to
	// match any row), once standalone at base 0 (for the refetch SELECT,
	// withConcurrency=false since the UPDATE just bumped the concurrency
	// column and the client's pre-update value would no longer match the
	// row it just updated) — a separate statement whose own placeholders
	// must start at 1 for dialects with positional $N/:N parameters.
	buildWhere := func(base int, withConcurrency bool) (string, []any, error) {
		wb := newWhereBuilderAt(h.Dialect, base)
		for prop, raw := range op.QueryParams {
			if strings.HasPrefix(prop, "__") || (hasConcurrency && prop == cp.Name) {
				continue
			}
			if err := wb.addFilter(h.Entity, prop, raw); err != nil {
				return "", nil, err
			}
		}
		wb.addRaw(rule.Where, rule.Args)
		if withConcurrency && concurrencySupplied {
			wb.clauses = append(wb.clauses, fmt.Sprintf("%s = %s", h.Dialect.Quote(cp.Column), wb.bind(concurrencyClientValue)))
		}
		sql, args := wb.build()
		return sql, args, nil
	}

	updateWhereSQL, updateWhereArgs, err := buildWhere(n, true)
	if err != nil {
		return nil, err
	}
	if updateWhereSQL == "" {
		return nil, gatewayerr.New(gatewayerr.BadRequest, "update requires at least one filter")
	}

	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		h.Dialect.Quote(h.Entity.Table), strings.Join(setFragments, ", "), updateWhereSQL)
	args := append(bound, updateWhereArgs...)

	affected, err := conn.Exec(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if concurrencySupplied {
			return nil, gatewayerr.New(gatewayerr.Conflict, "concurrency token did not match")
		}
		return nil, gatewayerr.New(gatewayerr.NotFound, "no matching rows")
	}

	refetchWhereSQL, refetchWhereArgs, err := buildWhere(0, false)
	if err != nil {
		return nil, err
	}
	return h.refetchUpdated(ctx, conn, refetchWhereSQL, refetchWhereArgs, rule)
}

func (h *UpdateHandler) refetchUpdated(ctx context.Context, conn connection.Connection, whereSQL string, whereArgs []any, rule *permission.EffectiveRule) ([]map[string]any, error) {
	projection, err := projectProperties(h.Entity, nil, rule)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(projection))
	for i, name := range projection {
		pd, _ := h.Entity.Property(name)
		cols[i] = h.Dialect.Quote(pd.Column)
	}
	sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), h.Dialect.Quote(h.Entity.Table), whereSQL)
	return conn.Query(ctx, sqlText, whereArgs...)
}

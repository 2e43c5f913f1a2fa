package sqlhandler

import (
	"context"
	"fmt"
	"strings"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/internal/permission"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// DeleteHandler builds and executes the DELETE for an Operation (spec.md §4.4.4).
type DeleteHandler struct {
	Entity  *apimodel.EntitySchema
	Dialect dialect.Dialect
}

// Execute deletes rows matching query_params AND the permission WHERE and
// returns {"deleted": <count>}.
func (h *DeleteHandler) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation, rule *permission.EffectiveRule) (map[string]any, error) {
	if err := requirePermission(rule); err != nil {
		return nil, err
	}

	wb := newWhereBuilder(h.Dialect)
	for prop, raw := range op.QueryParams {
		if strings.HasPrefix(prop, "__") {
			continue
		}
		if err := wb.addFilter(h.Entity, prop, raw); err != nil {
			return nil, err
		}
	}
	wb.addRaw(rule.Where, rule.Args)
	whereSQL, args := wb.build()
	if whereSQL == "" {
		return nil, gatewayerr.New(gatewayerr.BadRequest, "delete requires at least one filter")
	}

	sqlText := fmt.Sprintf("DELETE FROM %s WHERE %s", h.Dialect.Quote(h.Entity.Table), whereSQL)
	affected, err := conn.Exec(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": affected}, nil
}

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

// CreateHandler builds and executes the INSERT for an Operation (spec.md §4.4.2).
type CreateHandler struct {
	Entity  *apimodel.EntitySchema
	Dialect dialect.Dialect
}

// Execute inserts one row and returns it as a single-element slice.
func (h *CreateHandler) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation, rule *permission.EffectiveRule) ([]map[string]any, error) {
	if err := requirePermission(rule); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(op.StoreParams)+1)
	vals := make([]any, 0, len(op.StoreParams)+1)
	// exprs[i] is the VALUES-list expression for cols[i]: "" means bind
	// vals[i] as a placeholder; non-empty means emit this raw SQL token
	// instead (used only for CURRENT_TIMESTAMP, never for client input).
	exprs := make([]string, 0, len(op.StoreParams)+1)

	var generatedPK any
	pk, hasPK := h.Entity.Property(h.Entity.PrimaryKey)
	if hasPK && h.Entity.KeyStrategy == apimodel.KeyUUID {
		generatedPK = uuid.New().String()
		cols = append(cols, pk.Column)
		vals = append(vals, generatedPK)
		exprs = append(exprs, "")
	}

	for name, raw := range op.StoreParams {
		if name == h.Entity.PrimaryKey && (h.Entity.KeyStrategy == apimodel.KeyAuto || h.Entity.KeyStrategy == apimodel.KeySequence) {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "primary key %q is generated, must not be supplied", name)
		}
		pd, ok := h.Entity.Property(name)
		if !ok {
			return nil, gatewayerr.Newf(gatewayerr.Forbidden, "unknown property %q", name)
		}
		if !rule.PropertyAllowed(name) {
			return nil, gatewayerr.Newf(gatewayerr.Forbidden, "property %q not permitted for this role", name)
		}
		val, err := coerceStoreValue(pd, raw)
		if err != nil {
			return nil, err
		}
		cols = append(cols, pd.Column)
		vals = append(vals, val)
		exprs = append(exprs, "")
	}

	if cp, ok := h.Entity.ConcurrencyProperty(); ok {
		if _, supplied := op.StoreParams[cp.Name]; !supplied {
			cols = append(cols, cp.Column)
			if cp.Type == apimodel.TypeUUID {
				vals = append(vals, uuid.New().String())
				exprs = append(exprs, "")
			} else {
				vals = append(vals, nil)
				exprs = append(exprs, currentTimestampSQL())
			}
		}
	}

	if len(cols) == 0 {
		return nil, gatewayerr.New(gatewayerr.BadRequest, "no properties to insert")
	}

	placeholders := make([]string, len(vals))
	n := 0
	for i := range vals {
		if exprs[i] != "" {
			placeholders[i] = exprs[i]
			continue
		}
		n++
		placeholders[i] = h.Dialect.Placeholder(n)
	}
	bound := make([]any, 0, len(vals))
	for i, v := range vals {
		if exprs[i] == "" {
			bound = append(bound, v)
		}
	}
	vals = bound
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = h.Dialect.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		h.Dialect.Quote(h.Entity.Table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	if hasPK && h.Dialect.SupportsReturning() && generatedPK == nil {
		b.WriteString(" " + h.Dialect.ReturningClause(pk.Column))
	}

	sqlText := b.String()

	if hasPK && h.Dialect.SupportsReturning() && generatedPK == nil {
		rows, err := conn.Query(ctx, sqlText, vals...)
		if err != nil {
			return nil, err
		}
		if len(rows) != 1 {
			return nil, gatewayerr.New(gatewayerr.InternalError, "insert did not return exactly one row")
		}
		return h.refetch(ctx, conn, rows[0][pk.Column])
	}

	if _, err := conn.Exec(ctx, sqlText, vals...); err != nil {
		return nil, err
	}

	if !hasPK {
		return []map[string]any{}, nil
	}
	if generatedPK != nil {
		return h.refetch(ctx, conn, generatedPK)
	}

	lastID, err := conn.Query(ctx, h.lastInsertIDQuery())
	if err != nil {
		return nil, err
	}
	if len(lastID) != 1 {
		return nil, gatewayerr.New(gatewayerr.InternalError, "could not retrieve generated primary key")
	}
	var id any
	for _, v := range lastID[0] {
		id = v
		break
	}
	return h.refetch(ctx, conn, id)
}

// lastInsertIDQuery names the dialect's last-insert-id function. postgres
// and oracle always carry SupportsReturning, so this path is only ever
// reached under mysql (LAST_INSERT_ID()) or sqlite, used for local/dev and
// tests (last_insert_rowid()).
func (h *CreateHandler) lastInsertIDQuery() string {
	if h.Dialect.Engine() == dialect.SQLite {
		return "SELECT last_insert_rowid()"
	}
	return "SELECT LAST_INSERT_ID()"
}

func (h *CreateHandler) refetch(ctx context.Context, conn connection.Connection, pkValue any) ([]map[string]any, error) {
	pk, _ := h.Entity.Property(h.Entity.PrimaryKey)
	cols := make([]string, 0, len(h.Entity.PropertyOrder))
	for _, name := range h.Entity.PropertyOrder {
		pd, _ := h.Entity.Property(name)
		cols = append(cols, h.Dialect.Quote(pd.Column))
	}
	sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(cols, ", "), h.Dialect.Quote(h.Entity.Table), h.Dialect.Quote(pk.Column), h.Dialect.Placeholder(1))
	return conn.Query(ctx, sqlText, pkValue)
}

func coerceStoreValue(pd *apimodel.PropertyDescriptor, raw any) (any, error) {
	if s, ok := raw.(string); ok {
		return CoerceValue(pd, s)
	}
	return raw, nil
}

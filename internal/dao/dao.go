// Package dao implements the Operation DAO (spec.md §4.5): it dispatches an
// Operation to the right SQL handler, executes it on the given Connection,
// and materializes rows keyed by column name into rows keyed by property
// name. It never commits or rolls back; that belongs to whoever opened the
// connection (the service pipeline, or the batch orchestrator for a batch
// request).
package dao

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/internal/permission"
	"github.com/forbearing/querygate/internal/sqlhandler"
	"github.com/forbearing/querygate/types/claims"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// OperationExecutor is the narrow capability the Batch Orchestrator is
// given instead of a concrete *DAO, keeping internal/batch free to depend
// on internal/dao without internal/dao depending back on internal/batch
// (spec.md §4.5's "narrow OperationExecutor interface").
type OperationExecutor interface {
	Execute(ctx context.Context, conn connection.Connection, op *operation.Operation) (any, error)
}

// DAO dispatches operations for one configured dialect.
type DAO struct {
	Dialect dialect.Dialect

	// BatchExecutor handles op.Entity == "batch" operations. Wired by the
	// service pipeline after constructing the batch orchestrator (which
	// itself holds this DAO as its own OperationExecutor for sub-operations),
	// avoiding an import cycle between internal/dao and internal/batch.
	BatchExecutor OperationExecutor
}

// New constructs a DAO bound to the given dialect.
func New(d dialect.Dialect) *DAO {
	return &DAO{Dialect: d}
}

// Execute dispatches op to its handler and returns []map[string]any
// (read/create/update/custom), map[string]any (delete), or, for
// entity=="batch", whatever BatchExecutor returns (*operation.BatchResult
// from the Batch Orchestrator).
func (d *DAO) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation) (any, error) {
	// spec.md §4.5: "If entity == 'batch', defer to the Batch Orchestrator."
	// The request adapter's special case wraps a batch body as
	// (entity="batch", action="create") rather than a dedicated action, so
	// entity is the dispatch key here, not op.Action.
	if op.Entity == "batch" {
		if d.BatchExecutor == nil {
			return nil, gatewayerr.New(gatewayerr.InternalError, "batch execution not wired")
		}
		return d.BatchExecutor.Execute(ctx, conn, op)
	}

	if op.Action == operation.ActionCustom {
		h := &sqlhandler.CustomHandler{Dialect: d.Dialect}
		rows, err := h.Execute(ctx, conn, op)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}

	entity, err := apimodel.Get(op.Entity)
	if err != nil {
		return nil, err
	}
	rule := permission.Resolve(entity, string(op.Action), op.Claims)

	switch op.Action {
	case operation.ActionRead:
		h := &sqlhandler.ReadHandler{Entity: entity, Dialect: d.Dialect}
		rows, err := h.Execute(ctx, conn, op, rule)
		if err != nil {
			return nil, err
		}
		materialized := d.materialize(entity, rows)
		if err := d.attachArrayIncludes(ctx, conn, entity, op, materialized); err != nil {
			return nil, err
		}
		return materialized, nil

	case operation.ActionCreate:
		h := &sqlhandler.CreateHandler{Entity: entity, Dialect: d.Dialect}
		rows, err := h.Execute(ctx, conn, op, rule)
		if err != nil {
			return nil, err
		}
		return d.materialize(entity, rows), nil

	case operation.ActionUpdate:
		h := &sqlhandler.UpdateHandler{Entity: entity, Dialect: d.Dialect}
		rows, err := h.Execute(ctx, conn, op, rule)
		if err != nil {
			return nil, err
		}
		return d.materialize(entity, rows), nil

	case operation.ActionDelete:
		h := &sqlhandler.DeleteHandler{Entity: entity, Dialect: d.Dialect}
		return h.Execute(ctx, conn, op, rule)

	default:
		return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown action %q", op.Action)
	}
}

// materialize re-keys every row from column name to property name using
// samber/lo's generic map transform (matching the teacher's pervasive use
// of lo throughout its database layer), and recursively re-keys any
// object-relation row already attached under a relation name by
// internal/sqlhandler.ReadHandler.
func (d *DAO) materialize(entity *apimodel.EntitySchema, rows []map[string]any) []map[string]any {
	colToProp := make(map[string]string, len(entity.Properties))
	for _, name := range entity.PropertyOrder {
		pd, _ := entity.Property(name)
		colToProp[pd.Column] = name
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		materialized := lo.MapKeys(row, func(_ any, col string) string {
			if prop, ok := colToProp[col]; ok {
				return prop
			}
			return col
		})
		for relName, rel := range entity.Relations {
			if rel.Cardinality != apimodel.CardinalityObject {
				continue
			}
			if nested, ok := materialized[relName].(map[string]any); ok {
				if other, err := apimodel.Get(rel.ReferencedEntity); err == nil {
					materialized[relName] = d.materializeOne(other, nested)
				}
			}
		}
		out[i] = materialized
	}
	return out
}

func (d *DAO) materializeOne(entity *apimodel.EntitySchema, row map[string]any) map[string]any {
	colToProp := make(map[string]string, len(entity.Properties))
	for _, name := range entity.PropertyOrder {
		pd, _ := entity.Property(name)
		colToProp[pd.Column] = name
	}
	return lo.MapKeys(row, func(_ any, col string) string {
		if prop, ok := colToProp[col]; ok {
			return prop
		}
		return col
	})
}

// attachArrayIncludes drives AttachArrayRelation for every array-cardinality
// relation named in a read's __include metadata; ReadHandler itself only
// resolves object-cardinality joins inline and leaves array relations to the
// DAO (spec.md §4.4.1, §4.5: "For Read with array-relations, execute the
// keyed follow-up queries and attach nested arrays").
func (d *DAO) attachArrayIncludes(ctx context.Context, conn connection.Connection, entity *apimodel.EntitySchema, op *operation.Operation, rows []map[string]any) error {
	raw, ok := op.Metadata("__include")
	if !ok || raw == "" {
		return nil
	}
	for _, name := range strings.Split(raw, ",") {
		if name == "" {
			continue
		}
		rel, ok := entity.Relation(name)
		if !ok || rel.Cardinality != apimodel.CardinalityArray {
			continue // object relations and unknown names are handled/rejected elsewhere
		}
		if err := d.AttachArrayRelation(ctx, conn, entity, name, rows, op.Claims); err != nil {
			return err
		}
	}
	return nil
}

// AttachArrayRelation runs the keyed follow-up query for one array-cardinality
// relation and groups results under relName by parent primary key, per
// spec.md §4.4.1's "array relations: executed as a second, batched query
// keyed by parent PK; results grouped in memory under the relation name."
// Driven by attachArrayIncludes for every array relation named in a read's
// __include metadata (ReadHandler itself only handles object-cardinality
// joins inline); exported so tests can exercise one relation directly.
func (d *DAO) AttachArrayRelation(ctx context.Context, conn connection.Connection, entity *apimodel.EntitySchema, relName string, rows []map[string]any, callerClaims *claims.Claims) error {
	rel, ok := entity.Relation(relName)
	if !ok || rel.Cardinality != apimodel.CardinalityArray {
		return gatewayerr.Newf(gatewayerr.BadRequest, "unknown array relation %q", relName)
	}
	other, err := apimodel.Get(rel.ReferencedEntity)
	if err != nil {
		return err
	}
	childProp, ok := other.Property(rel.ChildProperty)
	if !ok {
		return gatewayerr.Newf(gatewayerr.SpecError, "relation %q child property %q not found", relName, rel.ChildProperty)
	}
	parentPK, ok := entity.Property(entity.PrimaryKey)
	if !ok {
		return gatewayerr.Newf(gatewayerr.SpecError, "entity %q has no primary key property", entity.Name)
	}

	keys := lo.FilterMap(rows, func(row map[string]any, _ int) (any, bool) {
		v, ok := row[entity.PrimaryKey]
		return v, ok && v != nil
	})
	keys = lo.Uniq(keys)
	if len(keys) == 0 {
		return nil
	}

	keyStrs := lo.Map(keys, func(v any, _ int) string { return fmt.Sprintf("%v", v) })
	childOp := &operation.Operation{
		Entity:         rel.ReferencedEntity,
		Action:         operation.ActionRead,
		QueryParams:    map[string]string{rel.ChildProperty: "in::" + strings.Join(keyStrs, ",")},
		MetadataParams: map[string]string{},
	}
	childRule := permission.Resolve(other, string(operation.ActionRead), callerClaims)
	h := &sqlhandler.ReadHandler{Entity: other, Dialect: d.Dialect}
	childRows, err := h.Execute(ctx, conn, childOp, childRule)
	if err != nil {
		return err
	}
	materialized := d.materialize(other, childRows)

	byParent := lo.GroupBy(materialized, func(row map[string]any) any {
		return row[childProp.Name]
	})
	for _, row := range rows {
		pk := row[parentPK.Name]
		row[relName] = byParent[pk]
	}
	return nil
}

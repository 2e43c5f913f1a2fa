package sqlhandler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/forbearing/querygate/config"
	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/internal/permission"
	"github.com/forbearing/querygate/types/claims"
	"github.com/forbearing/querygate/types/consts"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// ReadHandler builds and executes the SELECT for an Operation (spec.md §4.4.1).
type ReadHandler struct {
	Entity  *apimodel.EntitySchema
	Dialect dialect.Dialect
}

// orderEntry is one parsed `__sort` segment.
type orderEntry struct {
	property   string
	descending bool
}

// Execute runs the read and returns rows keyed by column name; the DAO
// re-keys by property name and attaches array-relation follow-ups.
func (h *ReadHandler) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation, rule *permission.EffectiveRule) ([]map[string]any, error) {
	if err := requirePermission(rule); err != nil {
		return nil, err
	}

	projection, err := h.projection(op, rule)
	if err != nil {
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

	order, err := h.orderBy(op)
	if err != nil {
		return nil, err
	}

	limit, offset, err := h.limitOffset(op)
	if err != nil {
		return nil, err
	}

	sqlText := h.buildSelect(projection, whereSQL, order, limit, offset)

	rows, err := conn.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}

	includes, err := h.includes(op)
	if err != nil {
		return nil, err
	}
	for _, relName := range includes {
		rel, _ := h.Entity.Relation(relName)
		if rel.Cardinality == apimodel.CardinalityArray {
			continue // array relations are a DAO-level follow-up query, not this handler's concern
		}
		if err := h.joinObjectRelation(ctx, conn, rel, rows, op.Claims); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

func (h *ReadHandler) projection(op *operation.Operation, rule *permission.EffectiveRule) ([]string, error) {
	var requested []string
	if raw, ok := op.Metadata("__properties"); ok && raw != "" {
		requested = splitNonEmpty(raw)
	}
	return projectProperties(h.Entity, requested, rule)
}

func (h *ReadHandler) buildSelect(projection []string, whereSQL string, order []orderEntry, limit, offset int) string {
	cols := make([]string, len(projection))
	for i, name := range projection {
		pd, _ := h.Entity.Property(name)
		cols[i] = h.Dialect.Quote(pd.Column)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), h.Dialect.Quote(h.Entity.Table))
	if whereSQL != "" {
		fmt.Fprintf(&b, " WHERE %s", whereSQL)
	}
	if len(order) > 0 {
		parts := make([]string, len(order))
		for i, o := range order {
			pd, _ := h.Entity.Property(o.property)
			dir := "ASC"
			if o.descending {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", h.Dialect.Quote(pd.Column), dir)
		}
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(parts, ", "))
	}
	b.WriteString(" " + h.Dialect.LimitOffset(limit, offset))
	return strings.TrimSpace(b.String())
}

func (h *ReadHandler) orderBy(op *operation.Operation) ([]orderEntry, error) {
	raw, ok := op.Metadata("__sort")
	if !ok || raw == "" {
		return nil, nil
	}
	segments := splitNonEmpty(raw)
	out := make([]orderEntry, 0, len(segments))
	for _, seg := range segments {
		prop, dir, _ := strings.Cut(seg, ":")
		if _, ok := h.Entity.Property(prop); !ok {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown sort column %q", prop)
		}
		desc := strings.EqualFold(dir, "desc")
		if dir != "" && !desc && !strings.EqualFold(dir, "asc") {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown sort direction %q", dir)
		}
		out = append(out, orderEntry{property: prop, descending: desc})
	}
	return out, nil
}

func (h *ReadHandler) limitOffset(op *operation.Operation) (int, int, error) {
	limit := consts.DefaultPageSize
	if n := config.App.Batch.DefaultPageSize; n > 0 {
		limit = n
	}
	if raw, ok := op.Metadata("__limit"); ok && raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, gatewayerr.Newf(gatewayerr.BadRequest, "invalid __limit %q", raw)
		}
		limit = v
	}
	offset := 0
	if raw, ok := op.Metadata("__offset"); ok && raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, gatewayerr.Newf(gatewayerr.BadRequest, "invalid __offset %q", raw)
		}
		offset = v
	}
	return limit, offset, nil
}

func (h *ReadHandler) includes(op *operation.Operation) ([]string, error) {
	raw, ok := op.Metadata("__include")
	if !ok || raw == "" {
		return nil, nil
	}
	names := splitNonEmpty(raw)
	sort.Strings(names) // deterministic join order for generated SQL/tests
	for _, name := range names {
		if _, ok := h.Entity.Relation(name); !ok {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown relation %q", name)
		}
	}
	return names, nil
}

// joinObjectRelation loads one object-cardinality relation with a second
// SELECT on the referenced table (`other.PK IN (...)`, bound to the parent
// rows' parent-property values) and attaches each match to its parent row
// under the relation name, modifying rows in place. No SQL JOIN is issued:
// parent rows without a matching row are kept, with the relation set to nil,
// and the attached columns are nested under the relation name rather than
// prefixed in the parent row. Each included object relation issues its own
// statement; no value is ever interpolated.
//
// The joined entity has its own permission rule, independent of the rule
// governing the parent read: spec.md §4.4.1/§8 requires projection to stay a
// subset of what the caller is permitted to see on the *referenced* entity,
// not the entity being read, so this resolves other's own effective rule
// for the read action rather than reusing the parent's.
func (h *ReadHandler) joinObjectRelation(ctx context.Context, conn connection.Connection, rel *apimodel.RelationDescriptor, rows []map[string]any, callerClaims *claims.Claims) error {
	if len(rows) == 0 {
		return nil
	}
	other, err := apimodel.Get(rel.ReferencedEntity)
	if err != nil {
		return gatewayerr.Wrapf(gatewayerr.SpecError, err, "relation %q references unknown entity %q", rel.Name, rel.ReferencedEntity)
	}
	otherRule := permission.Resolve(other, string(operation.ActionRead), callerClaims)
	if err := requirePermission(otherRule); err != nil {
		return err
	}

	parentProp, ok := h.Entity.Property(rel.ParentProperty)
	if !ok {
		return gatewayerr.Newf(gatewayerr.SpecError, "relation %q parent property %q not found", rel.Name, rel.ParentProperty)
	}
	otherPK, ok := other.Property(other.PrimaryKey)
	if !ok {
		return gatewayerr.Newf(gatewayerr.SpecError, "entity %q has no primary key property", other.Name)
	}

	keys := make([]any, 0, len(rows))
	seen := make(map[any]bool, len(rows))
	for _, row := range rows {
		v := row[parentProp.Column]
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		keys = append(keys, v)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := newWhereBuilder(h.Dialect)
	phs := make([]string, len(keys))
	for i, k := range keys {
		phs[i] = wb.bind(k)
	}
	wb.clauses = append(wb.clauses, fmt.Sprintf("%s IN (%s)", h.Dialect.Quote(otherPK.Column), strings.Join(phs, ", ")))
	whereSQL, args := wb.build()

	otherProjection, err := projectProperties(other, nil, otherRule)
	if err != nil {
		return err
	}
	// otherPK must always be selected so rows can be keyed back to their
	// parent, even when the permission projection excludes it from what the
	// caller is allowed to see; it is stripped from the attached row below
	// if it wasn't actually in the permitted projection.
	pkProjected := false
	selectNames := make([]string, 0, len(otherProjection)+1)
	for _, name := range otherProjection {
		selectNames = append(selectNames, name)
		if name == other.PrimaryKey {
			pkProjected = true
		}
	}
	if !pkProjected {
		selectNames = append(selectNames, other.PrimaryKey)
	}
	cols := make([]string, 0, len(selectNames))
	for _, name := range selectNames {
		pd, _ := other.Property(name)
		cols = append(cols, h.Dialect.Quote(pd.Column))
	}
	sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), h.Dialect.Quote(other.Table), whereSQL)

	otherRows, err := conn.Query(ctx, sqlText, args...)
	if err != nil {
		return err
	}
	byPK := make(map[any]map[string]any, len(otherRows))
	for _, r := range otherRows {
		byPK[r[otherPK.Column]] = r
		if !pkProjected {
			delete(r, otherPK.Column)
		}
	}
	for _, row := range rows {
		row[rel.Name] = byPK[row[parentProp.Column]]
	}
	return nil
}

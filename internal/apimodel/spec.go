package apimodel

import (
	"regexp"

	"github.com/cockroachdb/errors"
	"github.com/gertd/go-pluralize"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/forbearing/querygate/types/gatewayerr"
)

var pluralizeClient = pluralize.NewClient()

// Load parses a declarative spec document (an OpenAPI 3 document whose
// components.schemas/paths carry the x-database/x-primary-key/
// x-concurrency-control/x-permissions/x-parent-property/x-child-property
// vendor extensions) into a set of normalized EntitySchema values, keyed by
// entity name (spec.md §4.1 "load(spec)").
//
// Every validation failure returns a *gatewayerr.Error of kind SpecError;
// load is meant to be called once at process start (or on hot reload) and
// never partway through serving a request.
func Load(doc *openapi3.T) (map[string]*EntitySchema, error) {
	if doc == nil || doc.Components == nil {
		return nil, gatewayerr.New(gatewayerr.SpecError, "spec document has no components.schemas")
	}

	entities := make(map[string]*EntitySchema, len(doc.Components.Schemas))
	for name, ref := range doc.Components.Schemas {
		if ref == nil || ref.Value == nil {
			continue
		}
		schema, err := loadEntity(name, ref.Value)
		if err != nil {
			return nil, err
		}
		entities[name] = schema
	}

	// Second pass: validate that each relation's parent property exists on
	// the declaring entity and its child property exists on the referenced
	// entity (spec.md §3 invariant).
	for name, e := range entities {
		for relName, rel := range e.Relations {
			target, ok := entities[rel.ReferencedEntity]
			if !ok {
				return nil, gatewayerr.Newf(gatewayerr.SpecError,
					"entity %q relation %q references unknown entity %q", name, relName, rel.ReferencedEntity)
			}
			switch rel.Cardinality {
			case CardinalityObject:
				if _, ok := e.Property(rel.ParentProperty); !ok {
					return nil, gatewayerr.Newf(gatewayerr.SpecError,
						"entity %q relation %q parent-property %q does not exist", name, relName, rel.ParentProperty)
				}
				if _, ok := target.Property(target.PrimaryKey); !ok {
					return nil, gatewayerr.Newf(gatewayerr.SpecError,
						"entity %q relation %q referenced entity %q has no primary key", name, relName, rel.ReferencedEntity)
				}
			case CardinalityArray:
				if _, ok := e.Property(rel.ParentProperty); !ok {
					return nil, gatewayerr.Newf(gatewayerr.SpecError,
						"entity %q relation %q parent-property %q does not exist", name, relName, rel.ParentProperty)
				}
				if _, ok := target.Property(rel.ChildProperty); !ok {
					return nil, gatewayerr.Newf(gatewayerr.SpecError,
						"entity %q relation %q child-property %q does not exist on %q", name, relName, rel.ChildProperty, rel.ReferencedEntity)
				}
			}
		}
	}

	return entities, nil
}

func loadEntity(name string, schema *openapi3.Schema) (*EntitySchema, error) {
	ext := schema.Extensions

	table, _ := stringExt(ext, "x-database")
	if table == "" {
		table = pluralizeClient.Plural(name)
	}

	pkName, _ := stringExt(ext, "x-primary-key")
	concurrencyName, _ := stringExt(ext, "x-concurrency-control")

	props := make(map[string]*PropertyDescriptor, len(schema.Properties))
	order := make([]string, 0, len(schema.Properties))
	var foundPK bool
	for propName, propRef := range schema.Properties {
		if propRef == nil || propRef.Value == nil {
			continue
		}
		pd, err := loadProperty(propName, propRef.Value, schema, pkName, concurrencyName)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.SpecError, err, "entity "+name)
		}
		if pd.IsKey {
			foundPK = true
		}
		props[propName] = pd
		order = append(order, propName)
	}
	if pkName != "" && !foundPK {
		return nil, gatewayerr.Newf(gatewayerr.SpecError, "entity %q: primary key %q not found among properties", name, pkName)
	}
	if pkName == "" {
		return nil, gatewayerr.Newf(gatewayerr.SpecError, "entity %q: exactly one primary key is required", name)
	}
	if concurrencyName != "" {
		if _, ok := props[concurrencyName]; !ok {
			return nil, gatewayerr.Newf(gatewayerr.SpecError, "entity %q: concurrency property %q not found", name, concurrencyName)
		}
	}

	strategy := KeyAuto
	if pk, ok := props[pkName]; ok {
		switch pk.Type {
		case TypeUUID:
			strategy = KeyUUID
		}
	}
	if s, ok := stringExt(ext, "x-key-strategy"); ok && s != "" {
		strategy = KeyStrategy(s)
	}

	relations, err := loadRelations(schema)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.SpecError, err, "entity "+name)
	}

	perms, err := loadPermissions(ext)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.SpecError, err, "entity "+name)
	}

	return &EntitySchema{
		Name:              name,
		Database:          table,
		Table:             table,
		PrimaryKey:        pkName,
		KeyStrategy:       strategy,
		ConcurrencyColumn: concurrencyName,
		Properties:        props,
		PropertyOrder:     order,
		Relations:         relations,
		Permissions:       perms,
	}, nil
}

func loadProperty(name string, s *openapi3.Schema, parent *openapi3.Schema, pkName, concurrencyName string) (*PropertyDescriptor, error) {
	column, _ := stringExt(s.Extensions, "x-column")
	if column == "" {
		column = name
	}

	var ptype PropertyType
	if format, _ := stringExt(s.Extensions, "x-format"); format == "uuid" || s.Format == "uuid" {
		ptype = TypeUUID
	} else if s.Format == "date-time" || (s.Types != nil && s.Types.Includes("string") && s.Format == "date-time") {
		ptype = TypeDateTime
	} else if s.Types != nil {
		switch {
		case s.Types.Includes("integer"):
			ptype = TypeInteger
		case s.Types.Includes("number"):
			ptype = TypeNumber
		case s.Types.Includes("boolean"):
			ptype = TypeBoolean
		default:
			ptype = TypeString
		}
	} else {
		ptype = TypeString
	}

	required := false
	for _, r := range parent.Required {
		if r == name {
			required = true
			break
		}
	}

	return &PropertyDescriptor{
		Name:          name,
		Column:        column,
		Type:          ptype,
		MaxLength:     int(maxLenOf(s)),
		Required:      required,
		IsKey:         name == pkName,
		IsConcurrency: name == concurrencyName,
	}, nil
}

func maxLenOf(s *openapi3.Schema) uint64 {
	if s.MaxLength != nil {
		return *s.MaxLength
	}
	return 0
}

func loadRelations(schema *openapi3.Schema) (map[string]*RelationDescriptor, error) {
	relations := make(map[string]*RelationDescriptor)
	for name, propRef := range schema.Properties {
		if propRef == nil || propRef.Value == nil {
			continue
		}
		s := propRef.Value
		refEntity, hasRef := stringExt(s.Extensions, "x-referenced-entity")
		if !hasRef {
			continue
		}
		parentProp, _ := stringExt(s.Extensions, "x-parent-property")
		childProp, _ := stringExt(s.Extensions, "x-child-property")

		cardinality := CardinalityObject
		if s.Types != nil && s.Types.Includes("array") {
			cardinality = CardinalityArray
		}

		rel := &RelationDescriptor{
			Name:             name,
			Cardinality:      cardinality,
			ReferencedEntity: refEntity,
			ParentProperty:   parentProp,
			ChildProperty:    childProp,
		}
		if cardinality == CardinalityArray && childProp == "" {
			return nil, gatewayerr.Newf(gatewayerr.SpecError, "relation %q is array cardinality but has no x-child-property", name)
		}
		relations[name] = rel
	}
	return relations, nil
}

func loadPermissions(ext map[string]any) (PermissionTable, error) {
	raw, ok := ext["x-permissions"]
	if !ok {
		return PermissionTable{}, nil
	}
	providers, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("x-permissions must be an object keyed by provider")
	}

	table := make(PermissionTable, len(providers))
	for provider, actionsRaw := range providers {
		actions, ok := actionsRaw.(map[string]any)
		if !ok {
			return nil, errors.Newf("x-permissions.%s must be an object keyed by action", provider)
		}
		actionRules := make(ActionRules, len(actions))
		for actionName, rolesRaw := range actions {
			action := NormalizeAction(actionName)
			roles, ok := rolesRaw.(map[string]any)
			if !ok {
				return nil, errors.Newf("x-permissions.%s.%s must be an object keyed by role", provider, actionName)
			}
			roleRules := make(RoleRules, len(roles))
			for role, ruleRaw := range roles {
				rule, err := decodeRule(ruleRaw)
				if err != nil {
					return nil, errors.Wrapf(err, "x-permissions.%s.%s.%s", provider, actionName, role)
				}
				roleRules[role] = rule
			}
			if existing, ok := actionRules[action]; ok {
				for role, rule := range roleRules {
					existing[role] = rule
				}
			} else {
				actionRules[action] = roleRules
			}
		}
		table[provider] = actionRules
	}
	return table, nil
}

// decodeRule normalizes the two concise Rule forms (and the object form
// itself) into the object form
// (spec.md §3: "The normalized form stored internally is always the object
// form; the concise forms decompress to {properties: regex, where: null}
// and {allow: bool} respectively").
func decodeRule(raw any) (*Rule, error) {
	switch v := raw.(type) {
	case string:
		if _, err := regexp.Compile(v); err != nil {
			return nil, errors.Wrapf(err, "invalid properties regex %q", v)
		}
		return &Rule{Properties: v}, nil
	case bool:
		return &Rule{Allow: v, HasAllow: true}, nil
	case map[string]any:
		rule := &Rule{}
		if allow, ok := v["allow"]; ok {
			b, _ := allow.(bool)
			rule.Allow = b
			rule.HasAllow = true
		}
		if props, ok := v["properties"].(string); ok {
			if _, err := regexp.Compile(props); err != nil {
				return nil, errors.Wrapf(err, "invalid properties regex %q", props)
			}
			rule.Properties = props
		}
		if where, ok := v["where"].(string); ok {
			rule.Where = where
		}
		return rule, nil
	default:
		return nil, errors.Newf("unsupported rule shape %T", raw)
	}
}

// LoadCustomOperations parses the spec document's path_operations into
// named CustomOperationSpec templates, keyed by operationId (spec.md
// §4.4.5). A path_operation missing x-custom-sql is skipped: it is an
// ordinary entity-CRUD route, not a custom handler.
func LoadCustomOperations(doc *openapi3.T) (map[string]*CustomOperationSpec, error) {
	out := make(map[string]*CustomOperationSpec)
	if doc == nil || doc.Paths == nil {
		return out, nil
	}
	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			sqlText, ok := stringExt(op.Extensions, "x-custom-sql")
			if !ok || sqlText == "" {
				continue
			}
			name := op.OperationID
			if name == "" {
				return nil, gatewayerr.Newf(gatewayerr.SpecError, "custom path operation %s %s has x-custom-sql but no operationId", method, path)
			}
			spec, err := loadCustomOperation(name, sqlText, op.Extensions)
			if err != nil {
				return nil, gatewayerr.Wrapf(gatewayerr.SpecError, err, "custom path operation %q", name)
			}
			spec.Method = method
			spec.Path = path
			out[name] = spec
		}
	}
	return out, nil
}

func loadCustomOperation(name, sqlText string, ext map[string]any) (*CustomOperationSpec, error) {
	spec := &CustomOperationSpec{Name: name, SQL: sqlText, Params: map[string]*CustomParam{}}

	if rawParams, ok := ext["x-bind-params"]; ok {
		list, ok := rawParams.([]any)
		if !ok {
			return nil, errors.New("x-bind-params must be a list")
		}
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, errors.New("x-bind-params entries must be objects")
			}
			pname, _ := m["name"].(string)
			if pname == "" {
				return nil, errors.New("x-bind-params entry missing name")
			}
			ptypeStr, _ := m["type"].(string)
			if ptypeStr == "" {
				ptypeStr = "string"
			}
			required, _ := m["required"].(bool)
			spec.Params[pname] = &CustomParam{
				Name:     pname,
				Type:     PropertyType(ptypeStr),
				Required: required,
				Default:  m["default"],
			}
			spec.ParamOrder = append(spec.ParamOrder, pname)
		}
	}

	if rawOutputs, ok := ext["x-output-columns"]; ok {
		m, ok := rawOutputs.(map[string]any)
		if !ok {
			return nil, errors.New("x-output-columns must be an object")
		}
		spec.Outputs = make(map[string]string, len(m))
		for col, field := range m {
			f, _ := field.(string)
			spec.Outputs[col] = f
		}
	}

	return spec, nil
}

func stringExt(ext map[string]any, key string) (string, bool) {
	if ext == nil {
		return "", false
	}
	v, ok := ext[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

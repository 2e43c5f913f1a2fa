// Package apimodel is the API Model Registry (spec.md §4.1): it parses the
// declarative spec document into normalized EntitySchema values and serves
// them from an immutable, atomically-swappable snapshot.
package apimodel

import "regexp"

// KeyStrategy is a primary-key generation strategy.
type KeyStrategy string

const (
	KeyAuto     KeyStrategy = "auto"
	KeyManual   KeyStrategy = "manual"
	KeyUUID     KeyStrategy = "uuid"
	KeySequence KeyStrategy = "sequence"
)

// PropertyType is a property's semantic type.
type PropertyType string

const (
	TypeInteger  PropertyType = "integer"
	TypeNumber   PropertyType = "number"
	TypeString   PropertyType = "string"
	TypeBoolean  PropertyType = "boolean"
	TypeDateTime PropertyType = "date-time"
	TypeUUID     PropertyType = "uuid"
)

// PropertyDescriptor describes one column-backed property. Immutable after load.
type PropertyDescriptor struct {
	Name          string
	Column        string
	Type          PropertyType
	MaxLength     int
	Required      bool
	IsKey         bool
	IsConcurrency bool
}

// Cardinality is a relation's cardinality.
type Cardinality string

const (
	CardinalityObject Cardinality = "object" // 1:1
	CardinalityArray  Cardinality = "array"  // 1:many
)

// RelationDescriptor describes one declared relation to another entity.
type RelationDescriptor struct {
	Name            string
	Cardinality     Cardinality
	ReferencedEntity string
	ParentProperty  string // FK-holding property on this entity (object), or exposed key (array)
	ChildProperty   string // FK column on the referenced entity, only for array cardinality
}

// Action is a permission-table action. create/update collapse to write
// before lookup (spec.md §3 Permission Table).
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// NormalizeAction collapses create/update to write per spec.md §3.
func NormalizeAction(action string) Action {
	switch action {
	case "create", "update", "write":
		return ActionWrite
	case "delete":
		return ActionDelete
	default:
		return ActionRead
	}
}

// Rule is one permission-table entry. The normalized form is always the
// object form {properties, where}; concise forms (bare regex string, bare
// bool) decompress into this struct at load time (spec.md §3).
type Rule struct {
	Allow       bool
	HasAllow    bool // true if this rule carries an explicit allow bool (delete-style rule)
	Properties  string
	Where       string
	propertiesRe *regexp.Regexp // compiled on first CompiledProperties call
}

// CompiledProperties returns the compiled property-pattern regex, compiling
// lazily and caching on first use. A nil/empty pattern means "no properties
// permitted" (the zero Rule denies).
func (r *Rule) CompiledProperties() *regexp.Regexp {
	if r.propertiesRe != nil {
		return r.propertiesRe
	}
	if r.Properties == "" {
		return nil
	}
	re, err := regexp.Compile("^(" + r.Properties + ")$")
	if err != nil {
		return nil
	}
	r.propertiesRe = re
	return re
}

// RoleRules maps role name to Rule for one action.
type RoleRules map[string]*Rule

// ActionRules maps Action to RoleRules.
type ActionRules map[Action]RoleRules

// PermissionTable is keyed by provider -> action -> role -> Rule.
type PermissionTable map[string]ActionRules

// DefaultProvider is the provider key consulted when no provider is
// specified in claims (spec.md §4.2 step 2, "under the default provider").
const DefaultProvider = "default"

// EntitySchema is the normalized per-entity metadata the registry indexes.
type EntitySchema struct {
	Name               string
	Database           string
	Table              string
	PrimaryKey         string
	KeyStrategy        KeyStrategy
	ConcurrencyColumn  string // property name, empty if none
	Properties         map[string]*PropertyDescriptor
	PropertyOrder      []string // declaration order, for stable projection listing
	Relations          map[string]*RelationDescriptor
	Permissions        PermissionTable
}

// Property looks up a property descriptor by logical name.
func (e *EntitySchema) Property(name string) (*PropertyDescriptor, bool) {
	p, ok := e.Properties[name]
	return p, ok
}

// Relation looks up a relation descriptor by name.
func (e *EntitySchema) Relation(name string) (*RelationDescriptor, bool) {
	r, ok := e.Relations[name]
	return r, ok
}

// ConcurrencyProperty returns the concurrency-control descriptor, if any.
func (e *EntitySchema) ConcurrencyProperty() (*PropertyDescriptor, bool) {
	if e.ConcurrencyColumn == "" {
		return nil, false
	}
	return e.Property(e.ConcurrencyColumn)
}

// CustomParam describes one named bind parameter of a custom path
// operation (spec.md §4.4.5).
type CustomParam struct {
	Name     string
	Type     PropertyType
	Required bool
	// Default is applied via github.com/creasty/defaults when the caller
	// omits this parameter; nil means no default (Required governs whether
	// that is an error).
	Default any
}

// CustomOperationSpec is a pre-declared named SQL template from the spec
// document's path_operations (spec.md §4.4.5). The SQL text is author-
// controlled (came from the loaded spec document, never from a request)
// and uses `:name` tokens resolved to the active dialect's placeholder
// style at execution time; only the bound values ever come from a caller.
type CustomOperationSpec struct {
	Name       string
	SQL        string
	Params     map[string]*CustomParam
	ParamOrder []string
	// Outputs maps a SELECT output column name to the response field name;
	// absent columns pass through under their own name.
	Outputs map[string]string

	// Method and Path are the declaring path_operation's HTTP verb and
	// OpenAPI path template, used by router.Init to register this custom
	// operation as a route alongside the generated entity CRUD routes.
	Method string
	Path   string
}

// Package permission implements the Permission Resolver (spec.md §4.2):
// given an entity, action, and claim set, it returns an EffectiveRule —
// the union of every role's Rule the caller holds, with claim-templated
// WHERE predicates compiled to bound-parameter placeholders rather than
// inlined text.
package permission

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/types/claims"
)

// EffectiveRule is the per-request projection of permissions after
// unioning all roles a caller holds (GLOSSARY). Where/Args are bound to the
// specific caller's claim values and are never shared across callers, even
// though the underlying compiled template is cached (see compiled below).
type EffectiveRule struct {
	Allowed    bool
	Properties *regexp.Regexp // nil means "no properties permitted"
	// Where is the combined WHERE predicate with ${claims.PATH} tokens
	// already rewritten to `?` placeholders; Args holds the bound values in
	// placeholder order. Empty Where means "no row filtering" (a
	// permissive role dropped it per spec.md §4.2 step 5).
	Where string
	Args  []any
}

// PropertyAllowed reports whether name is permitted under this effective rule.
func (r *EffectiveRule) PropertyAllowed(name string) bool {
	if r == nil || r.Properties == nil {
		return false
	}
	return r.Properties.MatchString(name)
}

// compiled is the role-set-independent-of-claim-values part of an
// EffectiveRule: everything that depends only on (entity, action, role
// set), not on a particular caller's claim values. This is what gets
// cached; Args are re-bound fresh on every Resolve call from the compiled
// WhereTemplate's claim-path list (DESIGN NOTES: "cache a combined compiled
// form keyed by (entity, action, role-set-hash)").
type compiled struct {
	allowed       bool
	properties    *regexp.Regexp
	whereTemplate string   // already has OR-joined predicates with `?` placeholders
	claimPaths    []string // dotted claim paths in placeholder order
}

var cache *lru.Cache[string, *compiled]

func init() {
	// Sized generously: (entity, action, role-set) combinations are bounded
	// by the spec document, not by request volume.
	c, _ := lru.New[string, *compiled](4096)
	cache = c
	apimodel.InvalidatePermissionCache = InvalidateCache
}

// InvalidateCache drops every cached compiled rule. Call after the API
// Model Registry publishes a new snapshot.
func InvalidateCache() {
	cache.Purge()
}

// Resolve computes the EffectiveRule for (entity, action, claims) per the
// algorithm in spec.md §4.2, using provider apimodel.DefaultProvider. The
// role-set-dependent compilation is cached; claim values are always bound
// fresh for this specific caller.
func Resolve(entity *apimodel.EntitySchema, action string, c *claims.Claims) *EffectiveRule {
	normalized := apimodel.NormalizeAction(action)

	key := cacheKey(entity.Name, normalized, c)
	comp, ok := cache.Get(key)
	if !ok {
		comp = compile(entity, normalized, c)
		cache.Add(key, comp)
	}

	result := &EffectiveRule{Allowed: comp.allowed, Properties: comp.properties}
	if comp.whereTemplate != "" {
		result.Where = comp.whereTemplate
		result.Args = bindClaimPaths(comp.claimPaths, c)
	}
	return result
}

func compile(entity *apimodel.EntitySchema, action apimodel.Action, c *claims.Claims) *compiled {
	providerRules, ok := entity.Permissions[apimodel.DefaultProvider]
	if !ok || c == nil || len(c.Roles) == 0 {
		return &compiled{allowed: false}
	}
	roleRules, ok := providerRules[action]
	if !ok {
		return &compiled{allowed: false}
	}

	var matched []*apimodel.Rule
	for _, role := range c.Roles {
		if rule, ok := roleRules[role]; ok {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return &compiled{allowed: false}
	}

	result := &compiled{}

	// Step 3: allow is the logical OR of every matched role's allow bool.
	// A rule carrying only {properties[, where]} (no explicit allow) is
	// itself a grant: matching any such role rule permits the action.
	for _, rule := range matched {
		if (rule.HasAllow && rule.Allow) || !rule.HasAllow {
			result.allowed = true
		}
	}

	// Step 4: union property regexes: permitted iff matches ANY role's pattern.
	var patterns []string
	for _, rule := range matched {
		if rule.Properties != "" {
			patterns = append(patterns, rule.Properties)
		}
	}
	if len(patterns) > 0 {
		if re, err := regexp.Compile("^(" + strings.Join(patterns, "|") + ")$"); err == nil {
			result.properties = re
		}
	}

	// Step 5+6: OR the where predicates; a permissive role without a where
	// (but granting via bare allow:true or a bare properties pattern) drops
	// row filtering entirely for this entity/action.
	var wherePreds []string
	var claimPaths []string
	droppedFiltering := false
	for _, rule := range matched {
		if rule.Where == "" {
			if (rule.HasAllow && rule.Allow) || (!rule.HasAllow && rule.Properties != "") {
				droppedFiltering = true
			}
			continue
		}
		pred, paths := compileWhereTemplate(rule.Where)
		wherePreds = append(wherePreds, pred)
		claimPaths = append(claimPaths, paths...)
	}
	if !droppedFiltering && len(wherePreds) > 0 {
		result.whereTemplate = "(" + strings.Join(wherePreds, ") OR (") + ")"
		result.claimPaths = claimPaths
	}

	return result
}

var claimTemplateRe = regexp.MustCompile(`\$\{claims\.([a-zA-Z0-9_.]+)\}`)

// compileWhereTemplate rewrites ${claims.PATH} tokens in a WHERE template
// to `?` placeholders (internal/sqlhandler's whereBuilder.addRaw rewrites
// them to the dialect's placeholders) and returns the ordered list of claim paths to bind
// (spec.md §4.2 step 6, §8 invariant: "every user-supplied scalar appears
// as a bound parameter").
func compileWhereTemplate(template string) (string, []string) {
	var paths []string
	rewritten := claimTemplateRe.ReplaceAllStringFunc(template, func(tok string) string {
		paths = append(paths, claimTemplateRe.FindStringSubmatch(tok)[1])
		return "?"
	})
	return rewritten, paths
}

// bindClaimPaths resolves each claim path against this specific caller's
// claim set. A missing claim binds SqlNull (nil), which must never
// silently grant access: `col = NULL` never matches.
func bindClaimPaths(paths []string, c *claims.Claims) []any {
	if len(paths) == 0 {
		return nil
	}
	args := make([]any, len(paths))
	for i, path := range paths {
		if val, ok := c.Get(path); ok {
			args[i] = val
		} else {
			args[i] = nil
		}
	}
	return args
}

func cacheKey(entity string, action apimodel.Action, c *claims.Claims) string {
	var roles []string
	if c != nil {
		roles = append(roles, c.Roles...)
	}
	sort.Strings(roles)
	var b strings.Builder
	b.WriteString(entity)
	b.WriteByte('|')
	b.WriteString(string(action))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(roles)))
	for _, r := range roles {
		b.WriteByte('|')
		b.WriteString(r)
	}
	return b.String()
}

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/types/claims"
)

func albumEntity() *apimodel.EntitySchema {
	return &apimodel.EntitySchema{
		Name: "album",
		Permissions: apimodel.PermissionTable{
			apimodel.DefaultProvider: apimodel.ActionRules{
				apimodel.ActionRead: apimodel.RoleRules{
					"sales_associate": {Properties: "album_id|title"},
					"manager":         {Properties: ".*"},
				},
			},
		},
	}
}

func accountEntity() *apimodel.EntitySchema {
	return &apimodel.EntitySchema{
		Name: "account",
		Permissions: apimodel.PermissionTable{
			apimodel.DefaultProvider: apimodel.ActionRules{
				apimodel.ActionRead: apimodel.RoleRules{
					"owner": {Properties: ".*", Where: "id = ${claims.sub}"},
				},
			},
		},
	}
}

func TestResolve_PropertyUnion(t *testing.T) {
	InvalidateCache()
	entity := albumEntity()
	rule := Resolve(entity, "read", &claims.Claims{Roles: []string{"sales_associate"}})
	require.True(t, rule.Allowed)
	assert.True(t, rule.PropertyAllowed("album_id"))
	assert.True(t, rule.PropertyAllowed("title"))
	assert.False(t, rule.PropertyAllowed("unit_price"))
}

func TestResolve_NoMatchingRole(t *testing.T) {
	InvalidateCache()
	entity := albumEntity()
	rule := Resolve(entity, "read", &claims.Claims{Roles: []string{"stranger"}})
	assert.False(t, rule.Allowed)
	assert.False(t, rule.PropertyAllowed("title"))
}

func TestResolve_ClaimTemplatedWhere(t *testing.T) {
	InvalidateCache()
	entity := accountEntity()
	rule := Resolve(entity, "read", &claims.Claims{Roles: []string{"owner"}, Subject: "u-7"})
	require.True(t, rule.Allowed)
	assert.Equal(t, "(id = ?)", rule.Where)
	require.Len(t, rule.Args, 1)
	assert.Equal(t, "u-7", rule.Args[0])
}

func TestResolve_SameRoleSetDifferentSubject(t *testing.T) {
	InvalidateCache()
	entity := accountEntity()
	ruleA := Resolve(entity, "read", &claims.Claims{Roles: []string{"owner"}, Subject: "u-7"})
	ruleB := Resolve(entity, "read", &claims.Claims{Roles: []string{"owner"}, Subject: "u-9"})
	// The compiled template is cached across these two calls (same role
	// set), but the bound claim value must never leak between callers.
	assert.Equal(t, "u-7", ruleA.Args[0])
	assert.Equal(t, "u-9", ruleB.Args[0])
}

func TestResolve_ActionCollapsesCreateUpdateToWrite(t *testing.T) {
	InvalidateCache()
	entity := &apimodel.EntitySchema{
		Name: "invoice",
		Permissions: apimodel.PermissionTable{
			apimodel.DefaultProvider: apimodel.ActionRules{
				apimodel.ActionWrite: apimodel.RoleRules{
					"clerk": {Properties: "total"},
				},
			},
		},
	}
	rule := Resolve(entity, "create", &claims.Claims{Roles: []string{"clerk"}})
	assert.True(t, rule.Allowed)
	assert.True(t, rule.PropertyAllowed("total"))
}

func TestResolve_MissingClaimBindsNullNotAllow(t *testing.T) {
	InvalidateCache()
	entity := accountEntity()
	rule := Resolve(entity, "read", &claims.Claims{Roles: []string{"owner"}})
	require.Len(t, rule.Args, 1)
	assert.Nil(t, rule.Args[0])
}

package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testUser(roles ...Role) *User {
	return &User{
		ID:       "u-1",
		Username: "jdupont",
		Roles:    roles,
	}
}

func TestGate_Authorize_ExactPairMatch(t *testing.T) {
	gate := NewGate()

	user := testUser(Role{
		Name: "verif",
		Permissions: []Permission{
			{Module: ModuleAssistance, Action: ActionVerify},
		},
	})

	assert.True(t, gate.Authorize(user, PermVerify))

	// Same module, different action: no hierarchy or wildcard semantics.
	assert.False(t, gate.Authorize(user, PermAssign))
	assert.False(t, gate.Authorize(user, PermManage))

	// Same action, different module.
	assert.False(t, gate.Authorize(user, Permission{Module: ModuleUsers, Action: ActionVerify}))
}

func TestGate_Authorize_UnionAcrossRoles(t *testing.T) {
	gate := NewGate()

	user := testUser(
		Role{Name: "a", Permissions: []Permission{PermVerify}},
		Role{Name: "b", Permissions: []Permission{PermAssign}},
	)

	assert.True(t, gate.Authorize(user, PermVerify))
	assert.True(t, gate.Authorize(user, PermAssign))
	assert.False(t, gate.Authorize(user, PermValidateDEC))
}

func TestGate_Authorize_NoRoles(t *testing.T) {
	gate := NewGate()

	assert.False(t, gate.Authorize(testUser(), PermVerify))
	assert.False(t, gate.Authorize(nil, PermVerify))
}

func TestGate_EffectivePermissions_Deduplicates(t *testing.T) {
	gate := NewGate()

	user := testUser(
		Role{Name: "a", Permissions: []Permission{PermVerify, PermAssign}},
		Role{Name: "b", Permissions: []Permission{PermVerify, PermManage}},
	)

	perms := gate.EffectivePermissions(user)
	assert.Len(t, perms, 3)

	seen := make(map[string]bool)
	for _, p := range perms {
		seen[p.String()] = true
	}
	assert.True(t, seen["assistance.verify"])
	assert.True(t, seen["assistance.assign"])
	assert.True(t, seen["assistance.manage"])
}

func TestPermission_String(t *testing.T) {
	p := Permission{Module: ModuleAssistance, Action: ActionValidateBAO}
	assert.Equal(t, "assistance.validate_bao", p.String())
}

func TestBuiltInRoles_CoverWorkflowCapabilities(t *testing.T) {
	gate := NewGate()
	byName := make(map[string]Role)
	for _, r := range BuiltInRoles() {
		byName[r.Name] = r
	}

	assert.True(t, gate.Authorize(testUser(byName[RoleVerifieur]), PermVerify))
	assert.True(t, gate.Authorize(testUser(byName[RoleDelegueDEC]), PermValidateDEC))
	assert.True(t, gate.Authorize(testUser(byName[RoleBAO]), PermValidateBAO))
	assert.True(t, gate.Authorize(testUser(byName[RoleAdmin]), PermAssign))
	assert.True(t, gate.Authorize(testUser(byName[RoleAdmin]), PermManage))

	// The verifier role owns only its own stage.
	assert.False(t, gate.Authorize(testUser(byName[RoleVerifieur]), PermValidateDEC))
	assert.False(t, gate.Authorize(testUser(byName[RoleDelegueDEC]), PermValidateBAO))
}

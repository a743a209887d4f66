package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleOrder(t *testing.T) {
	assert.True(t, Meets(RoleAdmin, RoleViewer))
	assert.True(t, Meets(RoleAdmin, RoleEditor))
	assert.True(t, Meets(RoleAdmin, RoleAdmin))
	assert.True(t, Meets(RoleEditor, RoleViewer))
	assert.False(t, Meets(RoleEditor, RoleAdmin))
	assert.False(t, Meets(RoleViewer, RoleEditor))
	assert.False(t, Meets(Role("intruder"), RoleViewer))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	assert.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("superuser")
	assert.Error(t, err)
}

func TestAdminResolvesToFullEnumeration(t *testing.T) {
	caps := RoleCapabilities(RoleAdmin)
	assert.Len(t, caps, len(All()))
	for _, c := range All() {
		assert.True(t, caps.Has(c), "admin must hold %s", c)
	}
}

func TestAdminEffectiveIgnoresOverrides(t *testing.T) {
	// Overrides cannot extend beyond the closed enumeration, so admin's
	// effective set equals the full enumeration regardless of overrides.
	caps := Effective(RoleAdmin, []string{"view_users", "made_up_capability"})
	assert.Len(t, caps, len(All()))
}

func TestEffectiveIsSupersetOfRole(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleEditor, RoleViewer} {
		roleCaps := RoleCapabilities(r)
		eff := Effective(r, []string{string(DeleteUser)})
		for c := range roleCaps {
			assert.True(t, eff.Has(c), "effective set for %s must contain role capability %s", r, c)
		}
	}
}

func TestEffectiveUnionsOverrides(t *testing.T) {
	eff := Effective(RoleViewer, []string{string(DeleteUser), "bogus"})

	assert.True(t, eff.Has(DeleteUser), "override must be granted")
	assert.True(t, eff.Has(ViewResources), "role capability must remain")
	assert.False(t, eff.Has(Capability("bogus")), "unknown override strings are dropped")
	assert.False(t, eff.Has(EditUser))
}

func TestRoleTables(t *testing.T) {
	editor := RoleCapabilities(RoleEditor)
	assert.True(t, editor.HasAll(ViewUsers, ViewResources, CreateResource, EditResource, ViewSystemSettings))
	assert.False(t, editor.Has(DeleteResource))
	assert.False(t, editor.Has(ViewAuditLogs))

	viewer := RoleCapabilities(RoleViewer)
	assert.True(t, viewer.HasAll(ViewResources, ViewSystemSettings))
	assert.False(t, viewer.Has(ViewUsers))

	assert.Empty(t, RoleCapabilities(Role("ghost")))
}

func TestSetChecks(t *testing.T) {
	s := newSet(ViewUsers, EditUser)

	assert.True(t, s.HasAny(DeleteUser, ViewUsers))
	assert.False(t, s.HasAny(DeleteUser, ChangeUserRole))
	assert.False(t, s.HasAny(), "empty requirement grants nothing")

	assert.True(t, s.HasAll(ViewUsers, EditUser))
	assert.False(t, s.HasAll(ViewUsers, DeleteUser))
	assert.True(t, s.HasAll(), "vacuously true")
}

func TestRoleCapabilitiesReturnsCopy(t *testing.T) {
	caps := RoleCapabilities(RoleViewer)
	caps[DeleteUser] = struct{}{}

	assert.False(t, RoleCapabilities(RoleViewer).Has(DeleteUser), "mutating a returned set must not alter the table")
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"standard_user", RoleStandardUser},
		{"STANDARD_USER", RoleStandardUser},
		{" Administrator ", RoleAdministrator},
		{"anyone", RoleAnyone},
		{"root", RoleAnyone},
		{"", RoleAnyone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRole(tt.in), "ParseRole(%q)", tt.in)
	}
}

func TestPolicyTable(t *testing.T) {
	const me, other = "u-1", "u-2"
	tests := []struct {
		op    Operation
		role  Role
		owner string
		want  Decision
	}{
		{OpBrowseCatalog, RoleAnyone, "", Allowed},
		{OpViewGun, RoleAnyone, "", Denied},
		{OpViewGun, RoleStandardUser, "", Allowed},
		{OpEditCatalog, RoleStandardUser, "", Denied},
		{OpEditCatalog, RoleAdministrator, "", Allowed},

		{OpCreateLending, RoleAnyone, me, Denied},
		{OpCreateLending, RoleStandardUser, me, Allowed},
		{OpCreateLending, RoleStandardUser, other, Denied},
		{OpCreateLending, RoleAdministrator, other, Allowed},

		{OpCancelLending, RoleStandardUser, me, Allowed},
		{OpCancelLending, RoleStandardUser, other, Denied},
		{OpCancelLending, RoleAdministrator, other, Allowed},
		{OpAmendLending, RoleStandardUser, other, Denied},
		{OpAmendLending, RoleAdministrator, other, Allowed},

		{OpReadLending, RoleAnyone, me, Denied},
		{OpReadLending, RoleStandardUser, other, Allowed},
		{OpListAllLendings, RoleStandardUser, "", Denied},
		{OpListAllLendings, RoleAdministrator, "", Allowed},

		{OpReadUser, RoleStandardUser, other, Denied},
		{OpEditUser, RoleStandardUser, me, Allowed},
		{OpListUsers, RoleStandardUser, "", Denied},
		{OpChangeRole, RoleStandardUser, me, Denied},
		{OpChangeRole, RoleAdministrator, other, Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.op.String()+"/"+tt.role.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.role, me, tt.owner, tt.op))
		})
	}
}

func TestEveryOperationHasAPolicy(t *testing.T) {
	for op := range operationNames {
		_, ok := policy[op]
		assert.True(t, ok, "no policy row for %s", op)
	}
}

func TestOwnerRuleNeedsAnIdentity(t *testing.T) {
	assert.Equal(t, Denied, Authorize(RoleStandardUser, "", "", OpCancelLending))
}

func TestCallerContext(t *testing.T) {
	anon := Anonymous()
	assert.False(t, anon.Authenticated())
	assert.Equal(t, RoleAnyone, anon.Role())
	require.ErrorIs(t, anon.Authorize(OpCreateLending, ""), ErrUnauthenticated)

	c := NewCallerContext("u-1", "a@b.c", RoleStandardUser)
	assert.True(t, c.Authenticated())
	assert.False(t, c.IsAdmin())
	require.NoError(t, c.Authorize(OpCancelLending, "u-1"))
	require.ErrorIs(t, c.Authorize(OpCancelLending, "u-2"), ErrInsufficientPermissions)

	assert.Equal(t, RoleAnyone, NewCallerContext("", "a@b.c", RoleAdministrator).Role())
	assert.Equal(t, RoleAnyone, CallerContext{}.Role())
}

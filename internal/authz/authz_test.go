package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

func TestDefaultTableSeparatesDuties(t *testing.T) {
	table := authz.DefaultTable()
	cashier := domain.Actor{Username: "ana", Role: domain.RoleCashier}
	auditor := domain.Actor{Username: "bo", Role: domain.RoleAuditor}
	manager := domain.Actor{Username: "cy", Role: domain.RoleManager}

	assert.True(t, table.HasPermission(cashier, authz.OpenRegister))
	assert.True(t, table.HasPermission(cashier, authz.Lock))
	assert.False(t, table.HasPermission(cashier, authz.Verify))
	assert.False(t, table.HasPermission(cashier, authz.ApproveDiscrepancy))

	assert.True(t, table.HasPermission(auditor, authz.Verify))
	assert.False(t, table.HasPermission(auditor, authz.Secure))

	assert.True(t, table.HasPermission(manager, authz.Secure))
	assert.True(t, table.HasPermission(manager, authz.ApproveDiscrepancy))
}

func TestAdminHoldsEveryCapability(t *testing.T) {
	table := authz.DefaultTable()
	admin := domain.Actor{Username: "root", Role: domain.RoleAdmin}

	for _, c := range authz.Capabilities {
		assert.True(t, table.HasPermission(admin, c), "capability %s", c)
	}
	assert.Len(t, table.Grants(domain.RoleAdmin), len(authz.Capabilities))
}

func TestAnonymousOrUnknownRoleIsDenied(t *testing.T) {
	table := authz.DefaultTable()

	assert.False(t, table.HasPermission(domain.Actor{Role: domain.RoleAdmin}, authz.Lock))
	assert.False(t, table.HasPermission(domain.Actor{Username: "x", Role: "intern"}, authz.Lock))
}

func TestFromConfig(t *testing.T) {
	table, err := authz.FromConfig(map[string][]string{
		"Cashier": {"open_register", " LOCK "},
	})
	require.NoError(t, err)

	cashier := domain.Actor{Username: "ana", Role: domain.RoleCashier}
	assert.True(t, table.HasPermission(cashier, authz.Lock))
	assert.False(t, table.HasPermission(cashier, authz.CloseRegister))
}

func TestFromConfigRejectsUnknownCapability(t *testing.T) {
	_, err := authz.FromConfig(map[string][]string{"cashier": {"lock_all"}})

	assert.Error(t, err)
}

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

func userCtx(role string, permissions ...string) *envelope.UserContext {
	return &envelope.UserContext{
		UserID:      "user-1",
		Role:        role,
		Permissions: permissions,
	}
}

func TestGuard_Public(t *testing.T) {
	g := Guard{Public: true}
	assert.Equal(t, VerdictAllow, g.Check(nil))
	assert.Equal(t, VerdictAllow, g.Check(userCtx("driver")))
}

func TestGuard_MissingToken(t *testing.T) {
	g := Guard{Permission: "vehicles:read"}
	assert.Equal(t, VerdictUnauthorised, g.Check(nil))
	assert.Equal(t, VerdictUnauthorised, g.Check(&envelope.UserContext{}))
}

func TestGuard_AuthenticatedOnly(t *testing.T) {
	g := Guard{}
	assert.Equal(t, VerdictAllow, g.Check(userCtx("driver")))
	assert.Equal(t, VerdictUnauthorised, g.Check(nil))
}

func TestGuard_RoleAllowList(t *testing.T) {
	g := Guard{Roles: []string{"admin", "fleet_manager"}}

	assert.Equal(t, VerdictAllow, g.Check(userCtx("admin")))
	assert.Equal(t, VerdictAllow, g.Check(userCtx("fleet_manager")))
	assert.Equal(t, VerdictForbidden, g.Check(userCtx("driver")))
}

func TestGuard_PermissionRequirement(t *testing.T) {
	g := Guard{Permission: "vehicles:write"}

	assert.Equal(t, VerdictAllow, g.Check(userCtx("driver", "vehicles:write")))
	assert.Equal(t, VerdictAllow, g.Check(userCtx("driver", "vehicles:*")))
	assert.Equal(t, VerdictAllow, g.Check(userCtx("driver", "*")))
	assert.Equal(t, VerdictForbidden, g.Check(userCtx("driver", "vehicles:read")))
	assert.Equal(t, VerdictForbidden, g.Check(userCtx("driver")))
}

func TestGuard_RoleOverridesMissingPermission(t *testing.T) {
	// An admin passes a permission-guarded route without the literal grant.
	g := Guard{Roles: []string{"admin"}, Permission: "vehicles:write"}

	assert.Equal(t, VerdictAllow, g.Check(userCtx("admin")))
	assert.Equal(t, VerdictAllow, g.Check(userCtx("driver", "vehicles:write")))
	assert.Equal(t, VerdictForbidden, g.Check(userCtx("driver", "trips:read")))
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"exact", []string{"vehicles:read"}, "vehicles:read", true},
		{"global wildcard", []string{"*"}, "gps:write", true},
		{"service wildcard", []string{"vehicles:*"}, "vehicles:delete", true},
		{"other service", []string{"vehicles:*"}, "trips:read", false},
		{"no grants", nil, "vehicles:read", false},
		{"action mismatch", []string{"vehicles:read"}, "vehicles:write", false},
		{"wildcard not a prefix match", []string{"vehicles"}, "vehicles:read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.granted, tt.required))
		})
	}
}

func TestVerdict_Fault(t *testing.T) {
	assert.Nil(t, VerdictAllow.Fault())
	assert.Equal(t, faults.Unauthorised, VerdictUnauthorised.Fault().Kind)
	assert.Equal(t, faults.Forbidden, VerdictForbidden.Fault().Kind)
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "allow", VerdictAllow.String())
	assert.Equal(t, "unauthorised", VerdictUnauthorised.String())
	assert.Equal(t, "forbidden", VerdictForbidden.String())
}

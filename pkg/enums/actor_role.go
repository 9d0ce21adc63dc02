package enums

import "slices"

// ActorRole identifies who is performing an action.
type ActorRole string

const (
	ActorRoleSeller ActorRole = "seller"
	ActorRoleTester ActorRole = "tester"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleSystem ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleSeller,
	ActorRoleTester,
	ActorRoleAdmin,
	ActorRoleSystem,
}

// IsValid reports whether the value is a known actor role.
func (a ActorRole) IsValid() bool {
	return slices.Contains(validActorRoles, a)
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	return parse(value, validActorRoles, "actor role")
}

// Package rbac defines workspace member roles and what each may do.
package rbac

import (
	"fmt"
	"strings"
)

type Role string
type Action string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	ActionRead            Action = "read"
	ActionPost            Action = "post"
	ActionManageChannels  Action = "manage_channels"
	ActionManageMembers   Action = "manage_members"
	ActionManageWorkspace Action = "manage_workspace"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		switch action {
		case ActionRead, ActionPost, ActionManageChannels, ActionManageMembers, ActionManageWorkspace:
			return true
		}
		return false
	case RoleMember:
		return action == ActionRead || action == ActionPost
	default:
		return false
	}
}

// Parse returns the role named by value or an error for unknown roles.
func Parse(value string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleAdmin, RoleMember:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// Normalize maps stored role strings to a Role, treating unknown values as
// the least privileged role.
func Normalize(role string) Role {
	parsed, err := Parse(role)
	if err != nil {
		return RoleMember
	}
	return parsed
}

package models

import (
	"sort"
	"time"
)

// Role is a parent's standing within a family. Roles are ordered:
// owner ⊇ coParent ⊇ viewer.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleCoParent Role = "coParent"
	RoleViewer   Role = "viewer"
)

// Action is an operation a family member may attempt on shared records.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionInvite Action = "invite"
	ActionRemove Action = "remove"
)

// AllActions lists every action in capability order.
var AllActions = []Action{ActionView, ActionEdit, ActionDelete, ActionInvite, ActionRemove}

var roleCapabilities = map[Role]map[Action]bool{
	RoleOwner: {
		ActionView: true, ActionEdit: true, ActionDelete: true, ActionInvite: true, ActionRemove: true,
	},
	RoleCoParent: {
		ActionView: true, ActionEdit: true, ActionDelete: true,
	},
	RoleViewer: {
		ActionView: true,
	},
}

// Allows reports whether the role's capability set contains the action.
func (r Role) Allows(a Action) bool {
	return roleCapabilities[r][a]
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// Family is the sharing boundary: parent users plus child profiles.
// The owner is never stored in UserRoles; their role is implied.
type Family struct {
	ID              string
	Name            string
	OwnerUserID     string
	SharedWith      []string
	ChildProfileIDs []string
	UserRoles       map[string]Role
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RoleOf resolves a user's role: owner first, then the role map.
// The second return value is false for non-members.
func (f *Family) RoleOf(userID string) (Role, bool) {
	if userID == "" {
		return "", false
	}
	if userID == f.OwnerUserID {
		return RoleOwner, true
	}
	role, ok := f.UserRoles[userID]
	if !ok || !role.IsValid() {
		return "", false
	}
	return role, true
}

// MemberIDs returns the owner followed by the other members, sorted.
func (f *Family) MemberIDs() []string {
	ids := make([]string, 0, len(f.UserRoles)+1)
	for id := range f.UserRoles {
		if id != f.OwnerUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return append([]string{f.OwnerUserID}, ids...)
}

// FamilyMember represents the relationship between a user and a family
type FamilyMember struct {
	FamilyID string
	UserID   string
	Role     Role
	JoinedAt time.Time
}

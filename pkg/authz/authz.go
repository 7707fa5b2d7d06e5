// Package authz provides the static role authorization table for release actions.
package authz

// Role is a caller's role, derived from their authenticated identity by an
// external identity provider. Anything outside the closed set is denied.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleApprover Role = "APPROVER"
	RoleUser     Role = "USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleApprover || r == RoleUser
}

// Action is a lifecycle action a caller may attempt on a release.
type Action string

const (
	ActionCreate   Action = "create"
	ActionSchedule Action = "schedule"
	ActionApprove  Action = "approve"
	ActionExecute  Action = "execute"
	ActionCancel   Action = "cancel"
)

// Actor is the authenticated identity performing an action.
type Actor struct {
	ID   string
	Role Role
}

// permissions is the fixed (role, action) table. There is no configuration
// surface; changing it is a code change.
var permissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionCreate:   true,
		ActionSchedule: true,
		ActionApprove:  true,
		ActionExecute:  true,
		ActionCancel:   true,
	},
	RoleApprover: {
		ActionApprove: true,
	},
	RoleUser: {
		ActionCreate: true,
	},
}

// Permits reports whether role may perform action. Unknown roles and unknown
// actions are denied.
func Permits(role Role, action Action) bool {
	return permissions[role][action]
}

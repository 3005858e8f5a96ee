package rbac

type Role string
type Action string

const (
	RoleUser    Role = "user"
	RoleViewer  Role = "viewer"
	RoleSupport Role = "support"
	RoleEditor  Role = "editor"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionSupport Action = "support"
	ActionWrite   Action = "write"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionSupport || action == ActionWrite
	case RoleSupport:
		return action == ActionRead || action == ActionSupport
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// IsOperator reports whether the role may use the admin dashboard at all.
func IsOperator(role Role) bool {
	return Can(role, ActionRead)
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleSupport, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleUser, RoleViewer, RoleSupport, RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}

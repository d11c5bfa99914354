// Package rbac resolves a user's effective role on a doc and answers
// whether that role permits an action.
package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionEdit    Action = "edit"
	ActionPublish Action = "publish"
	ActionManage  Action = "manage"
	ActionDelete  Action = "delete"
)

// Access is the outcome of Resolve for one user and one doc.
type Access struct {
	Role  Role
	Owner bool
	// CanDelete is set for the owner and for global admins.
	CanDelete bool
}

type ResolveInput struct {
	IsOwner    bool
	GlobalRole string
	MemberRole string
}

// Resolve applies owner, global admin, then membership, in that order.
func Resolve(in ResolveInput) Access {
	if in.IsOwner {
		return Access{Role: RoleAdmin, Owner: true, CanDelete: true}
	}
	if Normalize(in.GlobalRole) == RoleAdmin {
		return Access{Role: RoleAdmin, CanDelete: true}
	}
	if in.MemberRole == "" {
		return Access{Role: RoleNone}
	}
	return Access{Role: Normalize(in.MemberRole)}
}

// HasAccess reports whether the user may see the doc at all.
func (a Access) HasAccess() bool {
	return a.Role != RoleNone
}

func (a Access) Can(action Action) bool {
	if action == ActionDelete {
		return a.CanDelete
	}
	return Can(a.Role, action)
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action == ActionRead || action == ActionEdit || action == ActionPublish || action == ActionManage
	case RoleEditor:
		return action == ActionRead || action == ActionEdit || action == ActionPublish
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Valid reports whether role is one of the assignable roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanCreateDocs reports whether a global role may create new docs.
func CanCreateDocs(globalRole string) bool {
	role := Normalize(globalRole)
	return role == RoleEditor || role == RoleAdmin
}

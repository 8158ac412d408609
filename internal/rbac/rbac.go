package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionPlan    Action = "plan"
	ActionComment Action = "comment"
	ActionMerge   Action = "merge"
	ActionExport  Action = "export"
	// ActionForce covers merges that may break existing annotations: the
	// force policy and replace-in-place.
	ActionForce Action = "force"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionPlan || action == ActionExport || action == ActionComment || action == ActionMerge
	case RoleCommenter:
		return action == ActionRead || action == ActionPlan || action == ActionExport || action == ActionComment
	case RoleViewer:
		return action == ActionRead || action == ActionPlan || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

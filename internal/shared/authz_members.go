package shared

// Membership roster permissions.
const (
	PermMemberView   = "member.view"
	PermMemberCreate = "member.create"
	PermMemberEdit   = "member.edit"
	PermMemberDelete = "member.delete"
)

// MemberScopes lists all permissions related to the membership roster.
func MemberScopes() []string {
	return []string{
		PermMemberView,
		PermMemberCreate,
		PermMemberEdit,
		PermMemberDelete,
	}
}

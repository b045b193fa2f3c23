package shared

// Event scheduling and attendance permissions.
//
// The colon-separated tokens predate the dotted convention and are kept
// verbatim: matching is byte-exact, never normalized across separators.
const (
	PermEventView   = "event.view"
	PermEventCreate = "event.create"
	PermEventEdit   = "event.edit"

	PermAttendanceMarkAll = "attendance:mark:all"
	PermAttendanceMarkOwn = "attendance:mark:own"
	PermRSVPManage        = "rsvp:manage"
)

// EventScopes lists all permissions related to events and attendance.
func EventScopes() []string {
	return []string{
		PermEventView,
		PermEventCreate,
		PermEventEdit,
		PermAttendanceMarkAll,
		PermAttendanceMarkOwn,
		PermRSVPManage,
	}
}

package audit

import (
	"encoding/json"
	"time"
)

// Entry is an immutable record of a mutation. Entries are created once and
// never updated or deleted by application code; only the retention sweep
// removes them.
type Entry struct {
	ID        int64
	ActorID   int64
	ActorName string
	IP        string
	UserAgent string
	Action    string
	Entity    string
	EntityID  string
	OldValues json.RawMessage
	NewValues json.RawMessage
	At        time.Time
}

// Change describes a mutation about to be audited. Actor identity is not
// part of a Change: the recorder re-derives it from the request session
// instead of trusting the caller.
type Change struct {
	Action   string
	Entity   string
	EntityID string
	Old      any
	New      any
}

// Actions recorded by the access-control administration surface.
const (
	ActionRoleCreate            = "role.create"
	ActionRoleUpdate            = "role.update"
	ActionRoleDelete            = "role.delete"
	ActionRolePermissionsUpdate = "role.permissions.update"
	ActionUserRoleAssign        = "user.role.assign"
	ActionUserRoleRemove        = "user.role.remove"
)

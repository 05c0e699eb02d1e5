// Shared record identity types for remote-backed entities
package models

import "time"

// LifecycleState marks whether a soft-deletable record is live or tombstoned.
type LifecycleState string

const (
	LifecycleActive  LifecycleState = "active"
	LifecycleDeleted LifecycleState = "deleted"
)

// RecordMeta carries the addressing fields every remote-backed entity needs.
//
// ID and OwnerRef are assigned by the remote table service on creation and are
// empty until the first successful persist; OwnerRef authorizes every later
// update/delete call. RecordKey is generated client-side before the create and
// never changes, so an entity stays addressable in the local cache while its
// remote identity is still unknown.
type RecordMeta struct {
	ID        string    `json:"id,omitempty"`
	OwnerRef  string    `json:"owner_ref,omitempty"`
	RecordKey string    `json:"record_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Persisted reports whether the remote store has acknowledged this record and
// handed back the fields needed to address it in update/delete calls.
func (m *RecordMeta) Persisted() bool {
	return m.ID != "" && m.OwnerRef != ""
}

// Touch bumps UpdatedAt. CreatedAt is set once and never moves.
func (m *RecordMeta) Touch(now time.Time) {
	if now.After(m.UpdatedAt) {
		m.UpdatedAt = now
	}
}

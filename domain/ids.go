// Package domain defines the persistent entities of the turn pipeline: rules,
// scenarios, templates, interlocutor profiles, sessions, episodes, entities,
// and turn/audit records. Every entity carries a tenant identifier and a
// soft-delete/timestamp triple; identifiers are 128-bit opaque values backed
// by github.com/google/uuid.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ID is the 128-bit opaque identifier used by every domain entity.
type ID = uuid.UUID

// NewID returns a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// NilID is the zero-valued identifier, used to denote "unset".
var NilID = uuid.Nil

// Timestamps is embedded by every persistent entity. DeletedAt is nil until
// the entity is soft-deleted; once non-nil the entity must be treated as
// absent by queries unless explicitly requested.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Touch stamps UpdatedAt with now. Callers must not mutate CreatedAt after
// initial creation.
func (t *Timestamps) Touch(now time.Time) {
	t.UpdatedAt = now
}

// SoftDelete stamps DeletedAt with now if not already deleted. Idempotent.
func (t *Timestamps) SoftDelete(now time.Time) {
	if t.DeletedAt != nil {
		return
	}
	at := now
	t.DeletedAt = &at
}

// IsDeleted reports whether the entity has been soft-deleted.
func (t Timestamps) IsDeleted() bool {
	return t.DeletedAt != nil
}

// TenantScope is embedded by every persistent entity to flatten the source's
// deep inheritance (AgentScopedModel : TenantScopedModel) into primitive
// fields, per spec.md §9.
type TenantScope struct {
	TenantID ID
	AgentID  ID
}

package taskvault

import "time"

// Meta carries the audit fields shared by every entity kept in a table.
// Embed it as the first field of a domain type.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// EntityID returns the entity's unique identifier
func (m *Meta) EntityID() string { return m.ID }

// IsDeleted reports whether the entity is soft-deleted
func (m *Meta) IsDeleted() bool { return m.Deleted }

func (m *Meta) meta() *Meta { return m }

// stamp assigns identity and audit fields at creation time
func (m *Meta) stamp(now time.Time) {
	m.ID = NewID()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Deleted = false
}

// touch advances UpdatedAt, keeping it monotonic non-decreasing even if
// the wall clock stepped backwards
func (m *Meta) touch(now time.Time) {
	if now.After(m.UpdatedAt) {
		m.UpdatedAt = now
	}
}

// Entity is implemented by every record type a table can hold.
// Clone must return a deep copy: the table hands out and accepts only
// copies, never aliases into its own map.
type Entity[T any] interface {
	EntityID() string
	meta() *Meta
	Clone() T
}

package durable

import "time"

// Entity carries the timestamps shared by every persisted record.
// Embed it in entity structs and initialize with NewEntity.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to the current
// UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch refreshes UpdatedAt. Stores call this on every write.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

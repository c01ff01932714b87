package models

import "time"

// PresenceUser is an ephemeral session record on the realtime channel.
// LastSeen is assigned by the backend on write; readers drop records older
// than the presence staleness threshold regardless of backend cleanup.
type PresenceUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	CursorColor string `json:"cursorColor"`

	LastSeen time.Time `json:"lastSeen"`

	// LockedShapes mirrors the lock manager's held set for UI display.
	LockedShapes []string `json:"lockedShapes,omitempty"`
}

// CursorPosition is an ephemeral per-user pointer sample.
type CursorPosition struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`

	LastSeen time.Time `json:"lastSeen"`
}

// LockRecord is one row of the per-canvas lock table on the realtime
// channel, keyed by shape id.
type LockRecord struct {
	ShapeID  string    `json:"shapeId"`
	UserID   string    `json:"userId"`
	LockedAt time.Time `json:"lockedAt"`
}

// Expired reports whether the lock has outlived ttl at the given instant.
func (r *LockRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LockedAt) > ttl
}

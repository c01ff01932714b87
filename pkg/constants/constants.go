package constants

import "time"

// Canvas coordinate space shared by every client.
const (
	CanvasWidth  = 5000.0
	CanvasHeight = 5000.0
)

// Lock protocol tunables.
const (
	// LockTTL is how long an unrenewed lock remains authoritative.
	// After this a lock is considered expired and stealable by any client.
	LockTTL = 5000 * time.Millisecond

	// LockCheckInterval is the renewal period for locks the local user
	// still holds interactively (dragging, editing).
	LockCheckInterval = 2000 * time.Millisecond
)

// Cursor broadcast tunables.
const (
	// CursorUpdateThrottle caps outgoing cursor samples at roughly 30 Hz.
	CursorUpdateThrottle = 33 * time.Millisecond

	// CursorPositionThreshold is the minimum movement in canvas pixels
	// before another cursor sample is worth sending.
	CursorPositionThreshold = 2.0

	// CursorStaleAfter is the read-side staleness cutoff for remote cursors.
	CursorStaleAfter = 10 * time.Second
)

// PresenceStaleAfter is the read-side staleness cutoff for presence records,
// independent of any backend-side cleanup.
const PresenceStaleAfter = 30 * time.Second

// PresenceHeartbeat is how often an online session refreshes its presence
// record so it stays inside PresenceStaleAfter.
const PresenceHeartbeat = 10 * time.Second

// Connector tunables.
const (
	// AnchorSnapRadius is the pixel radius within which a dragged
	// connector endpoint binds to a shape anchor on release.
	AnchorSnapRadius = 20.0

	// LiveOverrideTimeout clears a connector's in-drag endpoint override
	// if the backend never confirms the write that should replace it.
	LiveOverrideTimeout = 5 * time.Second
)

// Geometry tunables.
const (
	// GridSize is the default snapping grid in canvas pixels.
	GridSize = 20.0

	// GuideThreshold is the maximum distance between two shape edges or
	// centers for an alignment guide to be reported.
	GuideThreshold = 5.0
)

// HistoryDepth bounds the undo stack; the oldest entry is evicted first.
const HistoryDepth = 100

// NudgeCoalesceWindow batches consecutive updates to the same shapes
// (arrow-key nudges, live drags) into one history entry.
const NudgeCoalesceWindow = 500 * time.Millisecond

// RequestIDLength is the size of ids sent on channel RPC requests.
const RequestIDLength = 16

// DefaultRPCTimeout bounds waiting for a channel RPC response.
const DefaultRPCTimeout = 30 * time.Second

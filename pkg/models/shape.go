package models

import (
	"time"

	"github.com/google/uuid"
)

// ShapeType enumerates every drawable kind. The set is closed: geometry and
// anchor math dispatch over it, so unknown values are rejected at the
// document store boundary.
type ShapeType string

const (
	ShapeRectangle ShapeType = "rectangle"
	ShapeCircle    ShapeType = "circle"
	ShapeEllipse   ShapeType = "ellipse"
	ShapeText      ShapeType = "text"
	ShapeLine      ShapeType = "line"

	// Polygon variants.
	ShapeTriangle ShapeType = "triangle"
	ShapeDiamond  ShapeType = "diamond"
	ShapePentagon ShapeType = "pentagon"
	ShapeHexagon  ShapeType = "hexagon"
	ShapeStar     ShapeType = "star"

	// Flowchart variants.
	ShapeProcess    ShapeType = "process"
	ShapeDecision   ShapeType = "decision"
	ShapeTerminator ShapeType = "terminator"
	ShapeDocument   ShapeType = "document"

	// Form-control variants.
	ShapeButton   ShapeType = "button"
	ShapeInput    ShapeType = "input"
	ShapeCheckbox ShapeType = "checkbox"
)

// ShapeTypes lists every valid shape type.
var ShapeTypes = []ShapeType{
	ShapeRectangle, ShapeCircle, ShapeEllipse, ShapeText, ShapeLine,
	ShapeTriangle, ShapeDiamond, ShapePentagon, ShapeHexagon, ShapeStar,
	ShapeProcess, ShapeDecision, ShapeTerminator, ShapeDocument,
	ShapeButton, ShapeInput, ShapeCheckbox,
}

func (t ShapeType) Valid() bool {
	for _, known := range ShapeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CenterBased reports whether the shape's x,y names its center rather than
// its top-left corner. Circle, ellipse, and the polygon variants are
// center-based; rectangle-like shapes (including flowchart boxes and form
// controls) are top-left-based.
func (t ShapeType) CenterBased() bool {
	switch t {
	case ShapeCircle, ShapeEllipse, ShapeTriangle, ShapeDiamond,
		ShapePentagon, ShapeHexagon, ShapeStar, ShapeDecision:
		return true
	}
	return false
}

// Shape is a drawable object on the canvas.
//
// Lock fields mirror the lock table on the realtime channel; the invariant
// IsLocked == (LockedBy != "") holds after document store ingestion. A lock
// older than the TTL is expired and ignorable by any client.
type Shape struct {
	ID   string    `json:"id"`
	Type ShapeType `json:"type"`

	// Geometry. X,Y is the center for center-based types, otherwise the
	// top-left corner. Radius applies to circles; Points to lines and
	// freeform polygons.
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`
	Points []Point `json:"points,omitempty"`

	Text string `json:"text,omitempty"`

	// Style.
	Fill         string  `json:"fill,omitempty"`
	Stroke       string  `json:"stroke,omitempty"`
	StrokeWidth  float64 `json:"strokeWidth,omitempty"`
	Opacity      float64 `json:"opacity"` // 0-100
	CornerRadius float64 `json:"cornerRadius,omitempty"`

	// Transform.
	Rotation float64 `json:"rotation,omitempty"` // degrees
	ScaleX   float64 `json:"scaleX,omitempty"`
	ScaleY   float64 `json:"scaleY,omitempty"`

	ZIndex int `json:"zIndex"`

	// Lock state.
	IsLocked bool       `json:"isLocked,omitempty"`
	LockedBy string     `json:"lockedBy,omitempty"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`

	// Provenance.
	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	LastModifiedAt time.Time `json:"lastModifiedAt,omitempty"`

	GroupID string `json:"groupId,omitempty"`
}

// LockExpired reports whether the shape's lock, if any, is older than ttl.
func (s *Shape) LockExpired(now time.Time, ttl time.Duration) bool {
	if !s.IsLocked || s.LockedAt == nil {
		return true
	}
	return now.Sub(*s.LockedAt) > ttl
}

// ApplyLock sets the lock fields from a lock record, or clears them when
// rec is nil.
func (s *Shape) ApplyLock(rec *LockRecord) {
	if rec == nil {
		s.IsLocked = false
		s.LockedBy = ""
		s.LockedAt = nil
		return
	}
	at := rec.LockedAt
	s.IsLocked = true
	s.LockedBy = rec.UserID
	s.LockedAt = &at
}

// Clone returns a deep copy, used for history snapshots and read accessors.
func (s *Shape) Clone() *Shape {
	dup := *s
	if s.LockedAt != nil {
		at := *s.LockedAt
		dup.LockedAt = &at
	}
	if s.Points != nil {
		dup.Points = append([]Point(nil), s.Points...)
	}
	return &dup
}

// NewID returns a fresh globally unique object id.
func NewID() string {
	return uuid.NewString()
}

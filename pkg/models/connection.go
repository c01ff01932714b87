package models

import (
	"fmt"
	"time"

	"github.com/liveboard/liveboard.go/pkg/constants"
)

// ArrowType is the deprecated single-field arrow style, interpreted only
// when the ArrowStart/ArrowEnd booleans are absent from the record.
type ArrowType string

const (
	ArrowNone ArrowType = "none"
	ArrowEnd  ArrowType = "end"
	ArrowBoth ArrowType = "both"
)

// Connection is a directed visual link between two endpoints. Each endpoint
// is either bound to a shape anchor or free-floating, never both.
type Connection struct {
	ID string `json:"id"`

	FromShapeID string `json:"fromShapeId,omitempty"`
	FromAnchor  Anchor `json:"fromAnchor,omitempty"`
	FromPoint   *Point `json:"fromPoint,omitempty"`

	ToShapeID string `json:"toShapeId,omitempty"`
	ToAnchor  Anchor `json:"toAnchor,omitempty"`
	ToPoint   *Point `json:"toPoint,omitempty"`

	// ArrowStart and ArrowEnd are pointers so that records written by
	// older clients, which carry only ArrowType, can be told apart from
	// records where the booleans are explicitly false.
	ArrowStart *bool     `json:"arrowStart,omitempty"`
	ArrowEnd   *bool     `json:"arrowEnd,omitempty"`
	ArrowType  ArrowType `json:"arrowType,omitempty"` // deprecated

	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Label       string  `json:"label,omitempty"`

	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	LastModifiedAt time.Time `json:"lastModifiedAt,omitempty"`
}

// End selects one of a connection's two endpoints.
type End int

const (
	FromEnd End = iota
	ToEnd
)

func (e End) String() string {
	if e == FromEnd {
		return "from"
	}
	return "to"
}

// Endpoint returns the endpoint fields for the given end.
func (c *Connection) Endpoint(which End) (shapeID string, anchor Anchor, free *Point) {
	if which == FromEnd {
		return c.FromShapeID, c.FromAnchor, c.FromPoint
	}
	return c.ToShapeID, c.ToAnchor, c.ToPoint
}

// SetAnchored binds the given end to a shape anchor and clears any free point.
func (c *Connection) SetAnchored(which End, shapeID string, anchor Anchor) {
	if which == FromEnd {
		c.FromShapeID, c.FromAnchor, c.FromPoint = shapeID, anchor.Canonical(), nil
		return
	}
	c.ToShapeID, c.ToAnchor, c.ToPoint = shapeID, anchor.Canonical(), nil
}

// SetFree sets a free-floating point for the given end and clears the shape
// binding.
func (c *Connection) SetFree(which End, pt Point) {
	if which == FromEnd {
		c.FromShapeID, c.FromAnchor, c.FromPoint = "", "", &pt
		return
	}
	c.ToShapeID, c.ToAnchor, c.ToPoint = "", "", &pt
}

// References reports whether either endpoint is anchored to the shape.
func (c *Connection) References(shapeID string) bool {
	return c.FromShapeID == shapeID || c.ToShapeID == shapeID
}

// StartArrow reports the canonical arrow-at-start flag. Only meaningful
// after Normalize.
func (c *Connection) StartArrow() bool {
	return c.ArrowStart != nil && *c.ArrowStart
}

// EndArrow reports the canonical arrow-at-end flag. Only meaningful after
// Normalize.
func (c *Connection) EndArrow() bool {
	return c.ArrowEnd != nil && *c.ArrowEnd
}

// Normalize rewrites legacy and malformed fields into canonical form. It is
// called once at the document store boundary so that internal logic only
// ever sees the boolean arrow pair and single-form endpoints.
//
// An endpoint carrying both a shape binding and a free point is corrected by
// preferring the shape-anchored form; the violation is still reported so
// callers can log it.
func (c *Connection) Normalize() error {
	var violation error

	if c.ArrowStart == nil && c.ArrowEnd == nil {
		start := c.ArrowType == ArrowBoth
		end := c.ArrowType == ArrowBoth || c.ArrowType == ArrowEnd
		c.ArrowStart, c.ArrowEnd = &start, &end
	} else {
		// Booleans present: make the pair complete.
		if c.ArrowStart == nil {
			c.ArrowStart = new(bool)
		}
		if c.ArrowEnd == nil {
			c.ArrowEnd = new(bool)
		}
	}
	c.ArrowType = ""

	c.FromAnchor = c.FromAnchor.Canonical()
	c.ToAnchor = c.ToAnchor.Canonical()

	if c.FromShapeID != "" && c.FromPoint != nil {
		c.FromPoint = nil
		violation = fmt.Errorf("%w: connection %s from endpoint has both shape and point", constants.ErrInvariantViolation, c.ID)
	}
	if c.ToShapeID != "" && c.ToPoint != nil {
		c.ToPoint = nil
		violation = fmt.Errorf("%w: connection %s to endpoint has both shape and point", constants.ErrInvariantViolation, c.ID)
	}

	return violation
}

// Clone returns a deep copy.
func (c *Connection) Clone() *Connection {
	dup := *c
	if c.FromPoint != nil {
		pt := *c.FromPoint
		dup.FromPoint = &pt
	}
	if c.ToPoint != nil {
		pt := *c.ToPoint
		dup.ToPoint = &pt
	}
	if c.ArrowStart != nil {
		b := *c.ArrowStart
		dup.ArrowStart = &b
	}
	if c.ArrowEnd != nil {
		b := *c.ArrowEnd
		dup.ArrowEnd = &b
	}
	return &dup
}

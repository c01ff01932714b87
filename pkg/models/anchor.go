package models

// Anchor names one of the 12 fixed positions on a shape's bounding box that
// a connection endpoint can bind to: the 4 edge centers, the 4 corners, and
// the 4 legacy "middle" edge centers kept for documents written by older
// clients. The middle variants resolve to the same geometric point as their
// plain counterparts.
type Anchor string

const (
	AnchorTop    Anchor = "top"
	AnchorRight  Anchor = "right"
	AnchorBottom Anchor = "bottom"
	AnchorLeft   Anchor = "left"

	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"

	AnchorMiddleTop    Anchor = "middle-top"
	AnchorMiddleRight  Anchor = "middle-right"
	AnchorMiddleBottom Anchor = "middle-bottom"
	AnchorMiddleLeft   Anchor = "middle-left"
)

// Anchors lists every valid anchor name.
var Anchors = []Anchor{
	AnchorTop, AnchorRight, AnchorBottom, AnchorLeft,
	AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight,
	AnchorMiddleTop, AnchorMiddleRight, AnchorMiddleBottom, AnchorMiddleLeft,
}

// Canonical collapses the legacy middle variants onto the plain edge centers.
func (a Anchor) Canonical() Anchor {
	switch a {
	case AnchorMiddleTop:
		return AnchorTop
	case AnchorMiddleRight:
		return AnchorRight
	case AnchorMiddleBottom:
		return AnchorBottom
	case AnchorMiddleLeft:
		return AnchorLeft
	}
	return a
}

func (a Anchor) Valid() bool {
	switch a.Canonical() {
	case AnchorTop, AnchorRight, AnchorBottom, AnchorLeft,
		AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight:
		return true
	}
	return false
}

// Point is a position in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

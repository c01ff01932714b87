// Package geometry holds the pure spatial math of the engine: type-specific
// bounding boxes, the 12-anchor position table, grid snapping, alignment
// guide detection, and nearest-anchor search for connector drags.
//
// Everything here is a pure function over models values; no package state.
package geometry

import (
	"math"

	"github.com/liveboard/liveboard.go/pkg/models"
)

// Rect is an axis-aligned box with X,Y at its top-left corner.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (r Rect) CenterX() float64 { return r.X + r.Width/2 }
func (r Rect) CenterY() float64 { return r.Y + r.Height/2 }
func (r Rect) Right() float64   { return r.X + r.Width }
func (r Rect) Bottom() float64  { return r.Y + r.Height }

// Union returns the smallest rect containing both r and other.
func (r Rect) Union(other Rect) Rect {
	x1 := math.Min(r.X, other.X)
	y1 := math.Min(r.Y, other.Y)
	x2 := math.Max(r.Right(), other.Right())
	y2 := math.Max(r.Bottom(), other.Bottom())
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// BoundingBox returns the shape's current axis-aligned bounding box from
// live geometry. The box depends on the shape type: a circle's box comes
// from center and radius, center-based polygons from their center and
// nominal size, lines from their point set, and rectangle-like shapes from
// their top-left corner.
func BoundingBox(s *models.Shape) Rect {
	switch s.Type {
	case models.ShapeCircle:
		return Rect{
			X:      s.X - s.Radius,
			Y:      s.Y - s.Radius,
			Width:  s.Radius * 2,
			Height: s.Radius * 2,
		}
	case models.ShapeLine:
		return pointsBox(s)
	default:
		if s.Type.CenterBased() {
			return Rect{
				X:      s.X - s.Width/2,
				Y:      s.Y - s.Height/2,
				Width:  s.Width,
				Height: s.Height,
			}
		}
		return Rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
	}
}

func pointsBox(s *models.Shape) Rect {
	if len(s.Points) == 0 {
		return Rect{X: s.X, Y: s.Y}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range s.Points {
		minX = math.Min(minX, s.X+p.X)
		minY = math.Min(minY, s.Y+p.Y)
		maxX = math.Max(maxX, s.X+p.X)
		maxY = math.Max(maxY, s.Y+p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// AnchorPoint returns the world position of a named anchor on the shape,
// computed from current geometry and transformed by the shape's rotation
// and scale about its center.
func AnchorPoint(s *models.Shape, anchor models.Anchor) models.Point {
	box := BoundingBox(s)
	var pt models.Point

	switch anchor.Canonical() {
	case models.AnchorTop:
		pt = models.Point{X: box.CenterX(), Y: box.Y}
	case models.AnchorRight:
		pt = models.Point{X: box.Right(), Y: box.CenterY()}
	case models.AnchorBottom:
		pt = models.Point{X: box.CenterX(), Y: box.Bottom()}
	case models.AnchorLeft:
		pt = models.Point{X: box.X, Y: box.CenterY()}
	case models.AnchorTopLeft:
		pt = models.Point{X: box.X, Y: box.Y}
	case models.AnchorTopRight:
		pt = models.Point{X: box.Right(), Y: box.Y}
	case models.AnchorBottomLeft:
		pt = models.Point{X: box.X, Y: box.Bottom()}
	case models.AnchorBottomRight:
		pt = models.Point{X: box.Right(), Y: box.Bottom()}
	default:
		pt = models.Point{X: box.CenterX(), Y: box.CenterY()}
	}

	return transformAbout(pt, box, s.Rotation, scaleOr1(s.ScaleX), scaleOr1(s.ScaleY))
}

func scaleOr1(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// transformAbout scales then rotates pt about the box center.
func transformAbout(pt models.Point, box Rect, degrees, sx, sy float64) models.Point {
	cx, cy := box.CenterX(), box.CenterY()
	dx := (pt.X - cx) * sx
	dy := (pt.Y - cy) * sy
	if degrees != 0 {
		rad := degrees * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		dx, dy = dx*cos-dy*sin, dx*sin+dy*cos
	}
	return models.Point{X: cx + dx, Y: cy + dy}
}

// SnapToGrid rounds pt to the nearest grid intersection.
func SnapToGrid(pt models.Point, grid float64) models.Point {
	if grid <= 0 {
		return pt
	}
	return models.Point{
		X: math.Round(pt.X/grid) * grid,
		Y: math.Round(pt.Y/grid) * grid,
	}
}

// NearestAnchor scans the candidate shapes' anchors and returns the closest
// one within radius of pt. Used while dragging a connector endpoint.
func NearestAnchor(shapes []*models.Shape, pt models.Point, radius float64) (shapeID string, anchor models.Anchor, ok bool) {
	best := radius
	for _, s := range shapes {
		for _, a := range models.Anchors[:8] { // middle variants duplicate the first four
			ap := AnchorPoint(s, a)
			d := math.Hypot(ap.X-pt.X, ap.Y-pt.Y)
			if d <= best {
				best = d
				shapeID, anchor, ok = s.ID, a, true
			}
		}
	}
	return shapeID, anchor, ok
}

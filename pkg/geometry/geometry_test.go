package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveboard/liveboard.go/pkg/models"
)

func TestBoundingBoxCircleFromCenterAndRadius(t *testing.T) {
	s := &models.Shape{Type: models.ShapeCircle, X: 100, Y: 100, Radius: 30}
	box := BoundingBox(s)

	assert.Equal(t, Rect{X: 70, Y: 70, Width: 60, Height: 60}, box)
}

func TestBoundingBoxRectangleFromTopLeft(t *testing.T) {
	s := &models.Shape{Type: models.ShapeRectangle, X: 10, Y: 20, Width: 100, Height: 50}
	box := BoundingBox(s)

	assert.Equal(t, Rect{X: 10, Y: 20, Width: 100, Height: 50}, box)
}

func TestBoundingBoxCenterBasedPolygon(t *testing.T) {
	s := &models.Shape{Type: models.ShapeDiamond, X: 100, Y: 100, Width: 40, Height: 60}
	box := BoundingBox(s)

	assert.Equal(t, Rect{X: 80, Y: 70, Width: 40, Height: 60}, box)
}

func TestBoundingBoxLineFromPoints(t *testing.T) {
	s := &models.Shape{
		Type:   models.ShapeLine,
		X:      10, Y: 10,
		Points: []models.Point{{X: 0, Y: 0}, {X: 30, Y: -5}, {X: 15, Y: 20}},
	}
	box := BoundingBox(s)

	assert.Equal(t, Rect{X: 10, Y: 5, Width: 30, Height: 25}, box)
}

func TestAnchorPointCircleRight(t *testing.T) {
	s := &models.Shape{Type: models.ShapeCircle, X: 100, Y: 100, Radius: 30}

	pt := AnchorPoint(s, models.AnchorRight)
	assert.InDelta(t, 130, pt.X, 1e-9)
	assert.InDelta(t, 100, pt.Y, 1e-9)
}

func TestAnchorPointRectangleCorners(t *testing.T) {
	s := &models.Shape{Type: models.ShapeRectangle, X: 10, Y: 20, Width: 100, Height: 50}

	br := AnchorPoint(s, models.AnchorBottomRight)
	assert.Equal(t, models.Point{X: 110, Y: 70}, br)

	tl := AnchorPoint(s, models.AnchorTopLeft)
	assert.Equal(t, models.Point{X: 10, Y: 20}, tl)
}

func TestAnchorPointMiddleAliasMatchesPlain(t *testing.T) {
	s := &models.Shape{Type: models.ShapeRectangle, X: 0, Y: 0, Width: 80, Height: 40}

	for _, pair := range [][2]models.Anchor{
		{models.AnchorMiddleTop, models.AnchorTop},
		{models.AnchorMiddleRight, models.AnchorRight},
		{models.AnchorMiddleBottom, models.AnchorBottom},
		{models.AnchorMiddleLeft, models.AnchorLeft},
	} {
		assert.Equal(t, AnchorPoint(s, pair[1]), AnchorPoint(s, pair[0]), "alias %q", pair[0])
	}
}

func TestAnchorPointTracksRotation(t *testing.T) {
	s := &models.Shape{Type: models.ShapeRectangle, X: 0, Y: 0, Width: 100, Height: 100, Rotation: 90}

	// Rotating the box 90 degrees about its center moves the right-edge
	// anchor to the bottom edge.
	pt := AnchorPoint(s, models.AnchorRight)
	assert.InDelta(t, 50, pt.X, 1e-9)
	assert.InDelta(t, 100, pt.Y, 1e-9)
}

func TestAnchorPointTracksScale(t *testing.T) {
	s := &models.Shape{Type: models.ShapeRectangle, X: 0, Y: 0, Width: 100, Height: 100, ScaleX: 2, ScaleY: 1}

	pt := AnchorPoint(s, models.AnchorRight)
	assert.InDelta(t, 150, pt.X, 1e-9)
	assert.InDelta(t, 50, pt.Y, 1e-9)
}

func TestSnapToGrid(t *testing.T) {
	assert.Equal(t, models.Point{X: 20, Y: 40}, SnapToGrid(models.Point{X: 23, Y: 31}, 20))
	assert.Equal(t, models.Point{X: 23, Y: 31}, SnapToGrid(models.Point{X: 23, Y: 31}, 0))
}

func TestNearestAnchorWithinRadius(t *testing.T) {
	shapes := []*models.Shape{
		{ID: "a", Type: models.ShapeRectangle, X: 0, Y: 0, Width: 100, Height: 100},
		{ID: "b", Type: models.ShapeRectangle, X: 300, Y: 0, Width: 100, Height: 100},
	}

	id, anchor, ok := NearestAnchor(shapes, models.Point{X: 104, Y: 52}, 20)
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, models.AnchorRight, anchor)

	_, _, ok = NearestAnchor(shapes, models.Point{X: 200, Y: 200}, 20)
	assert.False(t, ok, "nothing within radius")
}

func TestRectUnion(t *testing.T) {
	u := Rect{X: 0, Y: 0, Width: 10, Height: 10}.Union(Rect{X: 20, Y: 5, Width: 10, Height: 10})
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 30, Height: 15}, u)
}

func TestAlignmentGuides(t *testing.T) {
	moving := Rect{X: 102, Y: 50, Width: 50, Height: 50}
	others := []Rect{
		{X: 0, Y: 0, Width: 100, Height: 40}, // right edge at 100
	}

	guides := AlignmentGuides(moving, others, 5)
	require.Len(t, guides, 1)
	assert.Equal(t, "x", guides[0].Axis)
	assert.InDelta(t, 100, guides[0].Position, 1e-9)
	assert.InDelta(t, -2, guides[0].Delta, 1e-9)
}

func TestAlignmentGuidesKeepsStrongestPerAxis(t *testing.T) {
	moving := Rect{X: 102, Y: 52, Width: 50, Height: 50}
	others := []Rect{
		{X: 0, Y: 0, Width: 100, Height: 40},  // x edge at 100, delta -2
		{X: 103, Y: 0, Width: 60, Height: 51}, // x edge at 103, delta +1; y edge at 51, delta -1
	}

	guides := AlignmentGuides(moving, others, 5)
	require.Len(t, guides, 2)

	byAxis := map[string]Guide{}
	for _, g := range guides {
		byAxis[g.Axis] = g
	}
	assert.InDelta(t, 1, byAxis["x"].Delta, 1e-9)
	assert.InDelta(t, -1, byAxis["y"].Delta, 1e-9)
}

func TestSnapperDefaults(t *testing.T) {
	sn := NewSnapper()

	assert.Equal(t, models.Point{X: 140, Y: 60}, sn.Snap(models.Point{X: 133, Y: 52}))

	moving := Rect{X: 102, Y: 50, Width: 50, Height: 50}
	guides := sn.Guides(moving, []Rect{{X: 0, Y: 0, Width: 100, Height: 40}})
	require.Len(t, guides, 1)
	assert.InDelta(t, -2, guides[0].Delta, 1e-9)
}

package geometry

import (
	"math"

	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// Guide is one alignment line detected between a moving box and another
// shape's box. Axis "x" means a vertical guide at Position; "y" a
// horizontal one.
type Guide struct {
	Axis     string
	Position float64
	// Delta is the correction to apply to the moving box on that axis to
	// land exactly on the guide.
	Delta float64
}

// edgesX returns the three vertical reference lines of a box.
func edgesX(r Rect) [3]float64 { return [3]float64{r.X, r.CenterX(), r.Right()} }

// edgesY returns the three horizontal reference lines of a box.
func edgesY(r Rect) [3]float64 { return [3]float64{r.Y, r.CenterY(), r.Bottom()} }

// AlignmentGuides compares the moving box against every other box and
// reports edge and center alignments within threshold. Results are sorted
// by absolute delta per axis so callers can take the strongest snap first.
func AlignmentGuides(moving Rect, others []Rect, threshold float64) []Guide {
	var guides []Guide
	bestX := threshold + 1
	bestY := threshold + 1

	for _, other := range others {
		for _, mv := range edgesX(moving) {
			for _, ov := range edgesX(other) {
				if d := ov - mv; math.Abs(d) <= threshold && math.Abs(d) < bestX {
					bestX = math.Abs(d)
					guides = appendGuide(guides, Guide{Axis: "x", Position: ov, Delta: d})
				}
			}
		}
		for _, mv := range edgesY(moving) {
			for _, ov := range edgesY(other) {
				if d := ov - mv; math.Abs(d) <= threshold && math.Abs(d) < bestY {
					bestY = math.Abs(d)
					guides = appendGuide(guides, Guide{Axis: "y", Position: ov, Delta: d})
				}
			}
		}
	}
	return guides
}

// Snapper bundles the grid size and guide threshold a canvas uses for
// drag feedback.
type Snapper struct {
	GridSize       float64
	GuideThreshold float64
}

// NewSnapper returns a Snapper with the default grid and threshold.
func NewSnapper() Snapper {
	return Snapper{
		GridSize:       constants.GridSize,
		GuideThreshold: constants.GuideThreshold,
	}
}

// Snap aligns a point to the grid.
func (sn Snapper) Snap(pt models.Point) models.Point {
	return SnapToGrid(pt, sn.GridSize)
}

// Guides reports alignment guides for a moving box against the others.
func (sn Snapper) Guides(moving Rect, others []Rect) []Guide {
	return AlignmentGuides(moving, others, sn.GuideThreshold)
}

// appendGuide keeps at most one guide per axis, replacing a weaker match.
func appendGuide(guides []Guide, g Guide) []Guide {
	for i, existing := range guides {
		if existing.Axis == g.Axis {
			guides[i] = g
			return guides
		}
	}
	return append(guides, g)
}

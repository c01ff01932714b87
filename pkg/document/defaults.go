package document

import "github.com/liveboard/liveboard.go/pkg/models"

// defaultStyle holds the per-type styling applied at AddShape before
// caller overrides.
type defaultStyle struct {
	width, height float64
	radius        float64
	fill          string
	stroke        string
	strokeWidth   float64
	cornerRadius  float64
}

var typeDefaults = map[models.ShapeType]defaultStyle{
	models.ShapeRectangle:  {width: 120, height: 80, fill: "#e8f0fe", stroke: "#1a73e8", strokeWidth: 2, cornerRadius: 4},
	models.ShapeCircle:     {radius: 50, fill: "#fce8e6", stroke: "#d93025", strokeWidth: 2},
	models.ShapeEllipse:    {width: 140, height: 90, fill: "#e6f4ea", stroke: "#188038", strokeWidth: 2},
	models.ShapeText:       {width: 160, height: 40, fill: "", stroke: "", strokeWidth: 0},
	models.ShapeLine:       {stroke: "#5f6368", strokeWidth: 2},
	models.ShapeTriangle:   {width: 100, height: 90, fill: "#fef7e0", stroke: "#f9ab00", strokeWidth: 2},
	models.ShapeDiamond:    {width: 110, height: 110, fill: "#f3e8fd", stroke: "#9334e6", strokeWidth: 2},
	models.ShapePentagon:   {width: 110, height: 110, fill: "#e4f7fb", stroke: "#12a4af", strokeWidth: 2},
	models.ShapeHexagon:    {width: 120, height: 104, fill: "#e4f7fb", stroke: "#12a4af", strokeWidth: 2},
	models.ShapeStar:       {width: 120, height: 120, fill: "#fef7e0", stroke: "#f9ab00", strokeWidth: 2},
	models.ShapeProcess:    {width: 140, height: 70, fill: "#e8f0fe", stroke: "#1a73e8", strokeWidth: 2},
	models.ShapeDecision:   {width: 120, height: 120, fill: "#f3e8fd", stroke: "#9334e6", strokeWidth: 2},
	models.ShapeTerminator: {width: 140, height: 60, fill: "#e6f4ea", stroke: "#188038", strokeWidth: 2, cornerRadius: 30},
	models.ShapeDocument:   {width: 140, height: 90, fill: "#fff", stroke: "#5f6368", strokeWidth: 2},
	models.ShapeButton:     {width: 120, height: 44, fill: "#1a73e8", stroke: "#1967d2", strokeWidth: 1, cornerRadius: 6},
	models.ShapeInput:      {width: 180, height: 40, fill: "#fff", stroke: "#dadce0", strokeWidth: 1, cornerRadius: 4},
	models.ShapeCheckbox:   {width: 24, height: 24, fill: "#fff", stroke: "#5f6368", strokeWidth: 2, cornerRadius: 3},
}

// newShape builds a shape of the given type at pos with default styling.
func newShape(typ models.ShapeType, pos models.Point) *models.Shape {
	def := typeDefaults[typ]
	return &models.Shape{
		ID:          models.NewID(),
		Type:        typ,
		X:           pos.X,
		Y:           pos.Y,
		Width:       def.width,
		Height:      def.height,
		Radius:      def.radius,
		Fill:        def.fill,
		Stroke:      def.stroke,
		StrokeWidth: def.strokeWidth,
		// Opacity is a percentage; shapes start fully opaque.
		Opacity:      100,
		CornerRadius: def.cornerRadius,
		ScaleX:       1,
		ScaleY:       1,
	}
}

package document

import "github.com/liveboard/liveboard.go/pkg/models"

// ShapePatch is a partial shape update. Nil fields are left untouched; the
// same patch drives both the local optimistic merge and the backend's
// atomic field-level write.
type ShapePatch struct {
	X      *float64
	Y      *float64
	Width  *float64
	Height *float64
	Radius *float64
	Points *[]models.Point

	Text *string

	Fill         *string
	Stroke       *string
	StrokeWidth  *float64
	Opacity      *float64
	CornerRadius *float64

	Rotation *float64
	ScaleX   *float64
	ScaleY   *float64

	ZIndex *int

	// GroupID pointing at the empty string clears group membership.
	GroupID *string
}

// Apply merges the patch into s.
func (p *ShapePatch) Apply(s *models.Shape) {
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&s.X, p.X)
	setF(&s.Y, p.Y)
	setF(&s.Width, p.Width)
	setF(&s.Height, p.Height)
	setF(&s.Radius, p.Radius)
	setF(&s.StrokeWidth, p.StrokeWidth)
	setF(&s.Opacity, p.Opacity)
	setF(&s.CornerRadius, p.CornerRadius)
	setF(&s.Rotation, p.Rotation)
	setF(&s.ScaleX, p.ScaleX)
	setF(&s.ScaleY, p.ScaleY)
	if p.Points != nil {
		s.Points = append([]models.Point(nil), (*p.Points)...)
	}
	if p.Text != nil {
		s.Text = *p.Text
	}
	if p.Fill != nil {
		s.Fill = *p.Fill
	}
	if p.Stroke != nil {
		s.Stroke = *p.Stroke
	}
	if p.ZIndex != nil {
		s.ZIndex = *p.ZIndex
	}
	if p.GroupID != nil {
		s.GroupID = *p.GroupID
	}
}

// Fields returns the patch keyed by wire field name, for the backend's
// field-level merge.
func (p *ShapePatch) Fields() map[string]any {
	fields := make(map[string]any)
	put := func(key string, v any) { fields[key] = v }

	if p.X != nil {
		put("x", *p.X)
	}
	if p.Y != nil {
		put("y", *p.Y)
	}
	if p.Width != nil {
		put("width", *p.Width)
	}
	if p.Height != nil {
		put("height", *p.Height)
	}
	if p.Radius != nil {
		put("radius", *p.Radius)
	}
	if p.Points != nil {
		put("points", *p.Points)
	}
	if p.Text != nil {
		put("text", *p.Text)
	}
	if p.Fill != nil {
		put("fill", *p.Fill)
	}
	if p.Stroke != nil {
		put("stroke", *p.Stroke)
	}
	if p.StrokeWidth != nil {
		put("strokeWidth", *p.StrokeWidth)
	}
	if p.Opacity != nil {
		put("opacity", *p.Opacity)
	}
	if p.CornerRadius != nil {
		put("cornerRadius", *p.CornerRadius)
	}
	if p.Rotation != nil {
		put("rotation", *p.Rotation)
	}
	if p.ScaleX != nil {
		put("scaleX", *p.ScaleX)
	}
	if p.ScaleY != nil {
		put("scaleY", *p.ScaleY)
	}
	if p.ZIndex != nil {
		put("zIndex", *p.ZIndex)
	}
	if p.GroupID != nil {
		if *p.GroupID == "" {
			fields["groupId"] = nil
		} else {
			put("groupId", *p.GroupID)
		}
	}
	return fields
}

// IsZero reports whether the patch changes nothing.
func (p *ShapePatch) IsZero() bool {
	return len(p.Fields()) == 0
}

// ConnectionPatch is a partial connection update for style and label
// fields. Endpoint changes go through Store.SetEndpoint instead.
type ConnectionPatch struct {
	Stroke      *string
	StrokeWidth *float64
	Label       *string
	ArrowStart  *bool
	ArrowEnd    *bool
}

// Apply merges the patch into c.
func (p *ConnectionPatch) Apply(c *models.Connection) {
	if p.Stroke != nil {
		c.Stroke = *p.Stroke
	}
	if p.StrokeWidth != nil {
		c.StrokeWidth = *p.StrokeWidth
	}
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.ArrowStart != nil {
		v := *p.ArrowStart
		c.ArrowStart = &v
	}
	if p.ArrowEnd != nil {
		v := *p.ArrowEnd
		c.ArrowEnd = &v
	}
}

// Fields returns the patch keyed by wire field name.
func (p *ConnectionPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Stroke != nil {
		fields["stroke"] = *p.Stroke
	}
	if p.StrokeWidth != nil {
		fields["strokeWidth"] = *p.StrokeWidth
	}
	if p.Label != nil {
		fields["label"] = *p.Label
	}
	if p.ArrowStart != nil {
		fields["arrowStart"] = *p.ArrowStart
	}
	if p.ArrowEnd != nil {
		fields["arrowEnd"] = *p.ArrowEnd
	}
	return fields
}

// Float returns a pointer for literal patch values.
func Float(v float64) *float64 { return &v }

// Str returns a pointer for literal patch values.
func Str(v string) *string { return &v }

// Int returns a pointer for literal patch values.
func Int(v int) *int { return &v }

// Bool returns a pointer for literal patch values.
func Bool(v bool) *bool { return &v }

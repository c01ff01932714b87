package models

import "time"

// ShapeGroup aggregates shapes (and, transitively, other groups) under one
// id. The bounding box fields are a cache recomputed by the document store
// whenever any member moves or resizes.
type ShapeGroup struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	ShapeIDs []string `json:"shapeIds"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	LastModifiedAt time.Time `json:"lastModifiedAt,omitempty"`
}

// Clone returns a deep copy.
func (g *ShapeGroup) Clone() *ShapeGroup {
	dup := *g
	dup.ShapeIDs = append([]string(nil), g.ShapeIDs...)
	return &dup
}

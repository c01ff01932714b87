package backend

import (
	"context"
	"time"

	"github.com/liveboard/liveboard.go/pkg/models"
)

// DocKind tags which collection a document event belongs to.
type DocKind string

const (
	KindShape      DocKind = "shape"
	KindConnection DocKind = "connection"
	KindGroup      DocKind = "group"
)

// DocEvent is one change on a canvas document feed. Field-level patches are
// materialized by the backend: PutAction events always carry the full
// post-write record.
type DocEvent struct {
	Kind   DocKind
	Action Action
	ID     string
	At     time.Time

	Shape      *models.Shape
	Connection *models.Connection
	Group      *models.ShapeGroup
}

// Snapshot is the full canonical state of one canvas.
type Snapshot struct {
	Shapes      []*models.Shape
	Connections []*models.Connection
	Groups      []*models.ShapeGroup
}

// Documents is the canonical-state contract: atomic field-level updates to
// shape, connection and group records with server-assigned timestamps, and
// a per-canvas change feed.
type Documents interface {
	// PutShape writes the full record, creating it if absent. The
	// returned time is the server-assigned LastModifiedAt.
	PutShape(ctx context.Context, canvasID string, s *models.Shape) (time.Time, error)

	// PatchShape merges the given fields (keyed by wire name) into the
	// record atomically with respect to concurrent patches of other
	// fields. Returns ErrNotFound via errors.Is when the record is gone.
	PatchShape(ctx context.Context, canvasID, id string, fields map[string]any) (time.Time, error)

	RemoveShape(ctx context.Context, canvasID, id string) error

	PutConnection(ctx context.Context, canvasID string, c *models.Connection) (time.Time, error)
	PatchConnection(ctx context.Context, canvasID, id string, fields map[string]any) (time.Time, error)
	RemoveConnection(ctx context.Context, canvasID, id string) error

	PutGroup(ctx context.Context, canvasID string, g *models.ShapeGroup) (time.Time, error)
	RemoveGroup(ctx context.Context, canvasID, id string) error

	// LoadSnapshot returns the current canonical state of the canvas.
	LoadSnapshot(ctx context.Context, canvasID string) (*Snapshot, error)

	// Watch streams document changes for the canvas until stop is called
	// or ctx is cancelled.
	Watch(ctx context.Context, canvasID string) (events <-chan DocEvent, stop func(), err error)
}

package document

import (
	"context"
	"errors"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// AddConnection stores the connection after boundary normalization (legacy
// arrowType interpretation, endpoint invariant repair) and returns its id.
func (st *Store) AddConnection(ctx context.Context, c *models.Connection) (string, error) {
	stored := c.Clone()
	if stored.ID == "" {
		stored.ID = models.NewID()
	}
	if err := stored.Normalize(); err != nil {
		st.log.Warn("connection normalized with violation", "connection", stored.ID, "error", err)
	}
	stored.CreatedBy = st.userID
	stored.CreatedAt = st.now()
	st.stamp(&stored.LastModifiedBy, &stored.LastModifiedAt)

	st.mu.Lock()
	st.conns[stored.ID] = stored
	clone := stored.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindConnection, Action: backend.PutAction, ID: stored.ID, Connection: clone})
	st.record(Change{Kind: ChangeAdd, Connections: []ConnectionChange{{ID: stored.ID, After: clone.Clone()}}})

	write := clone.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutConnection(ctx, st.canvasID, write); err != nil {
			st.log.Warn("connection create write failed", "connection", write.ID, "error", err)
		}
	})
	return stored.ID, nil
}

// UpdateConnection merges style and label fields.
func (st *Store) UpdateConnection(ctx context.Context, id string, patch ConnectionPatch) error {
	st.mu.Lock()
	c, ok := st.conns[id]
	if !ok {
		st.mu.Unlock()
		st.log.Debug("update dropped, connection gone", "connection", id)
		return staleErr("connection", id)
	}
	before := c.Clone()
	patch.Apply(c)
	st.stamp(&c.LastModifiedBy, &c.LastModifiedAt)
	after := c.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindConnection, Action: backend.PutAction, ID: id, Connection: after})
	st.record(Change{Kind: ChangeUpdate, Connections: []ConnectionChange{{ID: id, Before: before, After: after.Clone()}}})

	fields := patch.Fields()
	fields["lastModifiedBy"] = st.userID
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PatchConnection(ctx, st.canvasID, id, fields); err != nil {
			st.log.Warn("connection patch write failed", "connection", id, "error", err)
		}
	})
	return nil
}

// SetEndpoint rebinds one end of a connection, either to a shape anchor
// (free == nil) or to a free-floating point (shapeID == ""). This is the
// only transition between the anchored and free-floating endpoint states.
func (st *Store) SetEndpoint(ctx context.Context, id string, which models.End, shapeID string, anchor models.Anchor, free *models.Point) error {
	st.mu.Lock()
	c, ok := st.conns[id]
	if !ok {
		st.mu.Unlock()
		return staleErr("connection", id)
	}
	if shapeID != "" {
		if _, ok := st.shapes[shapeID]; !ok {
			st.mu.Unlock()
			return staleErr("shape", shapeID)
		}
	}
	before := c.Clone()
	if shapeID != "" {
		c.SetAnchored(which, shapeID, anchor)
	} else if free != nil {
		c.SetFree(which, *free)
	}
	st.stamp(&c.LastModifiedBy, &c.LastModifiedAt)
	after := c.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindConnection, Action: backend.PutAction, ID: id, Connection: after})
	st.record(Change{Kind: ChangeConnector, Connections: []ConnectionChange{{ID: id, Before: before, After: after.Clone()}}})

	write := after.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutConnection(ctx, st.canvasID, write); err != nil {
			st.log.Warn("endpoint write failed", "connection", write.ID, "error", err)
		}
	})
	return nil
}

// DeleteConnection removes the connection.
func (st *Store) DeleteConnection(ctx context.Context, id string) error {
	st.mu.Lock()
	c, ok := st.conns[id]
	if !ok {
		st.mu.Unlock()
		return staleErr("connection", id)
	}
	before := c.Clone()
	delete(st.conns, id)
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindConnection, Action: backend.RemoveAction, ID: id})
	st.record(Change{Kind: ChangeDelete, Connections: []ConnectionChange{{ID: id, Before: before}}})

	st.enqueueWrite(func(ctx context.Context) {
		if err := st.docs.RemoveConnection(ctx, st.canvasID, id); err != nil && !errors.Is(err, context.Canceled) {
			st.log.Warn("connection delete write failed", "connection", id, "error", err)
		}
	})
	return nil
}

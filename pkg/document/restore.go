package document

import (
	"context"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// Restore methods write exact object states without recording history.
// The history engine uses them to replay inverse operations; they still
// propagate to the backend and to change listeners.

// RestoreShape reinstates the exact shape state (undo of a delete, or
// rollback of an update). Lock fields are not restored: a TTL-expiring
// lock from the snapshot would be stale by replay time.
func (st *Store) RestoreShape(ctx context.Context, s *models.Shape) {
	stored := s.Clone()
	stored.ApplyLock(nil)
	st.mu.Lock()
	if rec, ok := st.locks[stored.ID]; ok {
		stored.ApplyLock(rec)
	}
	st.stamp(&stored.LastModifiedBy, &stored.LastModifiedAt)
	st.shapes[stored.ID] = stored
	clone := stored.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: stored.ID, Shape: clone})
	write := clone.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutShape(ctx, st.canvasID, write); err != nil {
			st.log.Warn("shape restore write failed", "shape", write.ID, "error", err)
		}
	})
}

// RemoveShapeState deletes the shape without cascading or history.
func (st *Store) RemoveShapeState(ctx context.Context, id string) {
	st.mu.Lock()
	_, ok := st.shapes[id]
	delete(st.shapes, id)
	st.mu.Unlock()
	if !ok {
		return
	}
	st.notify(Event{Kind: backend.KindShape, Action: backend.RemoveAction, ID: id})
	st.enqueueWrite(func(ctx context.Context) {
		if err := st.docs.RemoveShape(ctx, st.canvasID, id); err != nil {
			st.log.Warn("shape restore-delete write failed", "shape", id, "error", err)
		}
	})
}

// RestoreConnection reinstates the exact connection state.
func (st *Store) RestoreConnection(ctx context.Context, c *models.Connection) {
	stored := c.Clone()
	st.stamp(&stored.LastModifiedBy, &stored.LastModifiedAt)
	st.mu.Lock()
	st.conns[stored.ID] = stored
	clone := stored.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindConnection, Action: backend.PutAction, ID: stored.ID, Connection: clone})
	write := clone.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutConnection(ctx, st.canvasID, write); err != nil {
			st.log.Warn("connection restore write failed", "connection", write.ID, "error", err)
		}
	})
}

// RemoveConnectionState deletes the connection without history.
func (st *Store) RemoveConnectionState(ctx context.Context, id string) {
	st.mu.Lock()
	_, ok := st.conns[id]
	delete(st.conns, id)
	st.mu.Unlock()
	if !ok {
		return
	}
	st.notify(Event{Kind: backend.KindConnection, Action: backend.RemoveAction, ID: id})
	st.enqueueWrite(func(ctx context.Context) {
		if err := st.docs.RemoveConnection(ctx, st.canvasID, id); err != nil {
			st.log.Warn("connection restore-delete write failed", "connection", id, "error", err)
		}
	})
}

// RestoreGroup reinstates the exact group state.
func (st *Store) RestoreGroup(ctx context.Context, g *models.ShapeGroup) {
	stored := g.Clone()
	st.stamp(&stored.LastModifiedBy, &stored.LastModifiedAt)
	st.mu.Lock()
	st.groups[stored.ID] = stored
	clone := stored.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindGroup, Action: backend.PutAction, ID: stored.ID, Group: clone})
	write := clone.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutGroup(ctx, st.canvasID, write); err != nil {
			st.log.Warn("group restore write failed", "group", write.ID, "error", err)
		}
	})
}

// RemoveGroupState deletes the group record without touching members.
func (st *Store) RemoveGroupState(ctx context.Context, id string) {
	st.mu.Lock()
	_, ok := st.groups[id]
	delete(st.groups, id)
	st.mu.Unlock()
	if !ok {
		return
	}
	st.notify(Event{Kind: backend.KindGroup, Action: backend.RemoveAction, ID: id})
	st.enqueueWrite(func(ctx context.Context) {
		if err := st.docs.RemoveGroup(ctx, st.canvasID, id); err != nil {
			st.log.Warn("group restore-delete write failed", "group", id, "error", err)
		}
	})
}

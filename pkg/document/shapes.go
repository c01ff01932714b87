package document

import (
	"context"
	"fmt"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// AddShape creates a shape of the given type at pos with per-type default
// styling, assigns it the next z-index, applies overrides, and returns the
// new id before remote confirmation.
func (st *Store) AddShape(ctx context.Context, typ models.ShapeType, pos models.Point, overrides *ShapePatch) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: unknown shape type %q", constants.ErrInvariantViolation, typ)
	}

	s := newShape(typ, pos)
	if overrides != nil {
		overrides.Apply(s)
	}
	s.CreatedBy = st.userID
	s.CreatedAt = st.now()
	st.stamp(&s.LastModifiedBy, &s.LastModifiedAt)

	st.mu.Lock()
	s.ZIndex = st.maxZLocked() + 1
	st.shapes[s.ID] = s
	clone := s.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: s.ID, Shape: clone})
	st.record(Change{Kind: ChangeAdd, Shapes: []ShapeChange{{ID: s.ID, After: clone.Clone()}}})

	write := clone.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutShape(ctx, st.canvasID, write); err != nil {
			st.log.Warn("shape create write failed", "shape", write.ID, "error", err)
		}
	})
	return s.ID, nil
}

// maxZLocked returns the highest z-index currently in use. Caller holds mu.
func (st *Store) maxZLocked() int {
	max := -1
	for _, s := range st.shapes {
		if s.ZIndex > max {
			max = s.ZIndex
		}
	}
	return max
}

// UpdateShape merges the patch into the shape. The update is rejected as a
// loggable no-op when the shape is gone (stale) or held by another user's
// live lock.
func (st *Store) UpdateShape(ctx context.Context, id string, patch ShapePatch) error {
	st.mu.Lock()
	s, ok := st.shapes[id]
	if !ok {
		st.mu.Unlock()
		st.log.Debug("update dropped, shape gone", "shape", id)
		return staleErr("shape", id)
	}
	if st.lockedByOther(s) {
		holder := s.LockedBy
		st.mu.Unlock()
		st.log.Debug("update rejected, shape locked", "shape", id, "holder", holder)
		return lockDeniedErr(id, holder)
	}

	before := s.Clone()
	patch.Apply(s)
	st.stamp(&s.LastModifiedBy, &s.LastModifiedAt)
	after := s.Clone()
	groupID := s.GroupID
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: id, Shape: after})
	st.record(Change{Kind: ChangeUpdate, Shapes: []ShapeChange{{ID: id, Before: before, After: after.Clone()}}})
	if groupID != "" {
		st.refreshGroupBounds(groupID)
	}

	fields := patch.Fields()
	fields["lastModifiedBy"] = st.userID
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PatchShape(ctx, st.canvasID, id, fields); err != nil {
			st.log.Warn("shape patch write failed", "shape", id, "error", err)
		}
	})
	return nil
}

// MoveShapes translates the given shapes by (dx, dy) as one logical action.
// Shapes locked by another user are skipped; the rest move.
func (st *Store) MoveShapes(ctx context.Context, ids []string, dx, dy float64) error {
	st.mu.Lock()
	var changes []ShapeChange
	groupIDs := make(map[string]bool)
	for _, id := range ids {
		s, ok := st.shapes[id]
		if !ok || st.lockedByOther(s) {
			continue
		}
		before := s.Clone()
		s.X += dx
		s.Y += dy
		st.stamp(&s.LastModifiedBy, &s.LastModifiedAt)
		changes = append(changes, ShapeChange{ID: id, Before: before, After: s.Clone()})
		if s.GroupID != "" {
			groupIDs[s.GroupID] = true
		}
	}
	st.mu.Unlock()

	if len(changes) == 0 {
		return staleErr("shapes", fmt.Sprintf("%v", ids))
	}

	for _, ch := range changes {
		st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: ch.ID, Shape: ch.After.Clone()})
	}
	recorded := make([]ShapeChange, len(changes))
	for i, ch := range changes {
		recorded[i] = ShapeChange{ID: ch.ID, Before: ch.Before.Clone(), After: ch.After.Clone()}
	}
	st.record(Change{Kind: ChangeUpdate, Shapes: recorded})
	for gid := range groupIDs {
		st.refreshGroupBounds(gid)
	}

	for _, ch := range changes {
		id := ch.ID
		fields := map[string]any{
			"x": ch.After.X, "y": ch.After.Y,
			"lastModifiedBy": st.userID,
		}
		st.enqueueWrite(func(ctx context.Context) {
			if _, err := st.docs.PatchShape(ctx, st.canvasID, id, fields); err != nil {
				st.log.Warn("shape move write failed", "shape", id, "error", err)
			}
		})
	}
	return nil
}

// DeleteShape removes one shape and every connection referencing it.
func (st *Store) DeleteShape(ctx context.Context, id string) error {
	return st.DeleteMultiple(ctx, []string{id})
}

// DeleteMultiple removes shapes and cascades to connections whose endpoints
// reference them. Dependent connections are deleted outright, never
// converted to free-floating. Shapes locked by another user are skipped.
func (st *Store) DeleteMultiple(ctx context.Context, ids []string) error {
	st.mu.Lock()
	change, gone := st.deleteShapesLocked(ids)
	st.mu.Unlock()

	if len(change.Shapes) == 0 {
		return staleErr("shapes", fmt.Sprintf("%v", ids))
	}
	st.finishDelete(change, gone)
	return nil
}

// deleteShapesLocked removes the shapes plus cascading connections and
// group-membership entries, returning the change and the removed ids per
// kind. Caller holds mu.
func (st *Store) deleteShapesLocked(ids []string) (Change, map[backend.DocKind][]string) {
	change := Change{Kind: ChangeDelete}
	gone := make(map[backend.DocKind][]string)

	for _, id := range ids {
		s, ok := st.shapes[id]
		if !ok || st.lockedByOther(s) {
			continue
		}
		change.Shapes = append(change.Shapes, ShapeChange{ID: id, Before: s.Clone()})
		delete(st.shapes, id)
		gone[backend.KindShape] = append(gone[backend.KindShape], id)

		// Cascade: a connection whose anchor target disappears is
		// removed with it.
		for cid, c := range st.conns {
			if c.References(id) {
				change.Connections = append(change.Connections, ConnectionChange{ID: cid, Before: c.Clone()})
				delete(st.conns, cid)
				gone[backend.KindConnection] = append(gone[backend.KindConnection], cid)
			}
		}

		if s.GroupID != "" {
			if g, ok := st.groups[s.GroupID]; ok {
				before := g.Clone()
				g.ShapeIDs = removeID(g.ShapeIDs, id)
				change.Groups = append(change.Groups, GroupChange{ID: g.ID, Before: before, After: g.Clone()})
			}
		}
	}
	return change, gone
}

// finishDelete emits events, records history and enqueues backend removes
// for a completed delete change.
func (st *Store) finishDelete(change Change, gone map[backend.DocKind][]string) {
	for _, id := range gone[backend.KindShape] {
		st.notify(Event{Kind: backend.KindShape, Action: backend.RemoveAction, ID: id})
	}
	for _, id := range gone[backend.KindConnection] {
		st.notify(Event{Kind: backend.KindConnection, Action: backend.RemoveAction, ID: id})
	}
	for _, gc := range change.Groups {
		if gc.After != nil {
			st.notify(Event{Kind: backend.KindGroup, Action: backend.PutAction, ID: gc.ID, Group: gc.After.Clone()})
			st.refreshGroupBounds(gc.ID)
		}
	}
	st.record(change)

	for _, id := range gone[backend.KindShape] {
		shapeID := id
		st.enqueueWrite(func(ctx context.Context) {
			if err := st.docs.RemoveShape(ctx, st.canvasID, shapeID); err != nil {
				st.log.Warn("shape delete write failed", "shape", shapeID, "error", err)
			}
		})
	}
	for _, id := range gone[backend.KindConnection] {
		connID := id
		st.enqueueWrite(func(ctx context.Context) {
			if err := st.docs.RemoveConnection(ctx, st.canvasID, connID); err != nil {
				st.log.Warn("connection delete write failed", "connection", connID, "error", err)
			}
		})
	}
	for _, gc := range change.Groups {
		if gc.After == nil {
			continue
		}
		write := gc.After.Clone()
		st.enqueueWrite(func(ctx context.Context) {
			if _, err := st.docs.PutGroup(ctx, st.canvasID, write); err != nil {
				st.log.Warn("group update write failed", "group", write.ID, "error", err)
			}
		})
	}
}

// DuplicateShapes clones the given shapes with fresh ids, offset from the
// originals, stacked above everything, outside any group.
func (st *Store) DuplicateShapes(ctx context.Context, ids []string, offset models.Point) ([]string, error) {
	st.mu.Lock()
	z := st.maxZLocked()
	var change Change
	change.Kind = ChangeAdd
	var newIDs []string
	for _, id := range ids {
		src, ok := st.shapes[id]
		if !ok {
			continue
		}
		dup := src.Clone()
		dup.ID = models.NewID()
		dup.X += offset.X
		dup.Y += offset.Y
		dup.GroupID = ""
		dup.ApplyLock(nil)
		z++
		dup.ZIndex = z
		dup.CreatedBy = st.userID
		dup.CreatedAt = st.now()
		st.stamp(&dup.LastModifiedBy, &dup.LastModifiedAt)
		st.shapes[dup.ID] = dup
		newIDs = append(newIDs, dup.ID)
		change.Shapes = append(change.Shapes, ShapeChange{ID: dup.ID, After: dup.Clone()})
	}
	st.mu.Unlock()

	if len(newIDs) == 0 {
		return nil, staleErr("shapes", fmt.Sprintf("%v", ids))
	}
	for _, sc := range change.Shapes {
		st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: sc.ID, Shape: sc.After.Clone()})
	}
	st.record(change)
	for _, sc := range change.Shapes {
		write := sc.After.Clone()
		st.enqueueWrite(func(ctx context.Context) {
			if _, err := st.docs.PutShape(ctx, st.canvasID, write); err != nil {
				st.log.Warn("shape duplicate write failed", "shape", write.ID, "error", err)
			}
		})
	}
	return newIDs, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

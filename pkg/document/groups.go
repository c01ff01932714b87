package document

import (
	"context"
	"fmt"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/geometry"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// GroupShapes aggregates the given members (shape ids, or group ids for
// nesting) under a new group and returns its id. A shape already belonging
// to a group is moved: the single-parent invariant always holds. Shapes
// locked by another user are skipped.
func (st *Store) GroupShapes(ctx context.Context, memberIDs []string, name string) (string, error) {
	st.mu.Lock()
	change := Change{Kind: ChangeGroup}
	g := &models.ShapeGroup{
		ID:        models.NewID(),
		Name:      name,
		CreatedBy: st.userID,
		CreatedAt: st.now(),
	}

	for _, id := range memberIDs {
		if s, ok := st.shapes[id]; ok {
			if st.lockedByOther(s) {
				continue
			}
			before := s.Clone()
			if s.GroupID != "" {
				if prev, ok := st.groups[s.GroupID]; ok {
					prevBefore := prev.Clone()
					prev.ShapeIDs = removeID(prev.ShapeIDs, id)
					change.Groups = append(change.Groups, GroupChange{ID: prev.ID, Before: prevBefore, After: prev.Clone()})
				}
			}
			s.GroupID = g.ID
			st.stamp(&s.LastModifiedBy, &s.LastModifiedAt)
			g.ShapeIDs = append(g.ShapeIDs, id)
			change.Shapes = append(change.Shapes, ShapeChange{ID: id, Before: before, After: s.Clone()})
			continue
		}
		if _, ok := st.groups[id]; ok {
			// Nested group: referenced by id from the parent's list.
			g.ShapeIDs = append(g.ShapeIDs, id)
		}
	}

	if len(g.ShapeIDs) == 0 {
		st.mu.Unlock()
		return "", staleErr("members", fmt.Sprintf("%v", memberIDs))
	}

	box := st.groupBoxLocked(g)
	g.X, g.Y, g.Width, g.Height = box.X, box.Y, box.Width, box.Height
	st.stamp(&g.LastModifiedBy, &g.LastModifiedAt)
	st.groups[g.ID] = g
	change.Groups = append(change.Groups, GroupChange{ID: g.ID, After: g.Clone()})
	st.mu.Unlock()

	st.emitGroupChange(change)
	st.record(change)
	st.writeGroupChange(change)
	return g.ID, nil
}

// Ungroup dissolves the group, keeping its members. Direct shape members
// become ungrouped; nested member groups become top-level. A member locked
// by another user keeps its membership field until the holder's next write.
func (st *Store) Ungroup(ctx context.Context, groupID string) error {
	st.mu.Lock()
	g, ok := st.groups[groupID]
	if !ok {
		st.mu.Unlock()
		return staleErr("group", groupID)
	}
	change := Change{Kind: ChangeGroup}
	change.Groups = append(change.Groups, GroupChange{ID: groupID, Before: g.Clone()})
	for _, id := range g.ShapeIDs {
		if s, ok := st.shapes[id]; ok && s.GroupID == groupID {
			if st.lockedByOther(s) {
				continue
			}
			before := s.Clone()
			s.GroupID = ""
			st.stamp(&s.LastModifiedBy, &s.LastModifiedAt)
			change.Shapes = append(change.Shapes, ShapeChange{ID: id, Before: before, After: s.Clone()})
		}
	}
	delete(st.groups, groupID)
	st.mu.Unlock()

	st.emitGroupChange(change)
	st.record(change)
	st.writeGroupChange(change)
	return nil
}

// DeleteGroup removes the group and cascades to delete its member shapes,
// including members of nested groups, with their dependent connections.
func (st *Store) DeleteGroup(ctx context.Context, groupID string) error {
	st.mu.Lock()
	g, ok := st.groups[groupID]
	if !ok {
		st.mu.Unlock()
		return staleErr("group", groupID)
	}

	shapeIDs, groupIDs := st.collectMembersLocked(g)

	// Remove the group records first so the shape cascade below does not
	// try to update membership lists of groups that are going away.
	var groupChanges []GroupChange
	var goneGroups []string
	for _, gid := range groupIDs {
		if member, ok := st.groups[gid]; ok {
			groupChanges = append(groupChanges, GroupChange{ID: gid, Before: member.Clone()})
			delete(st.groups, gid)
			goneGroups = append(goneGroups, gid)
		}
	}

	change, gone := st.deleteShapesLocked(shapeIDs)
	change.Kind = ChangeGroup
	change.Groups = append(change.Groups, groupChanges...)
	gone[backend.KindGroup] = goneGroups
	st.mu.Unlock()

	st.finishDelete(change, gone)
	for _, gid := range gone[backend.KindGroup] {
		groupID := gid
		st.notify(Event{Kind: backend.KindGroup, Action: backend.RemoveAction, ID: groupID})
		st.enqueueWrite(func(ctx context.Context) {
			if err := st.docs.RemoveGroup(ctx, st.canvasID, groupID); err != nil {
				st.log.Warn("group delete write failed", "group", groupID, "error", err)
			}
		})
	}
	return nil
}

// collectMembersLocked walks the group tree and returns every descendant
// shape id and group id (the root included). Caller holds mu.
func (st *Store) collectMembersLocked(g *models.ShapeGroup) (shapeIDs, groupIDs []string) {
	groupIDs = append(groupIDs, g.ID)
	for _, id := range g.ShapeIDs {
		if _, ok := st.shapes[id]; ok {
			shapeIDs = append(shapeIDs, id)
			continue
		}
		if child, ok := st.groups[id]; ok {
			childShapes, childGroups := st.collectMembersLocked(child)
			shapeIDs = append(shapeIDs, childShapes...)
			groupIDs = append(groupIDs, childGroups...)
		}
	}
	return shapeIDs, groupIDs
}

// groupBoxLocked computes the union of member bounding boxes from live
// geometry. Caller holds mu.
func (st *Store) groupBoxLocked(g *models.ShapeGroup) geometry.Rect {
	var box geometry.Rect
	first := true
	for _, id := range g.ShapeIDs {
		var member geometry.Rect
		if s, ok := st.shapes[id]; ok {
			member = geometry.BoundingBox(s)
		} else if child, ok := st.groups[id]; ok {
			member = st.groupBoxLocked(child)
		} else {
			continue
		}
		if first {
			box = member
			first = false
			continue
		}
		box = box.Union(member)
	}
	return box
}

// refreshGroupBounds recomputes the cached bounding box after a member
// moved or resized, and propagates the new box to the backend.
func (st *Store) refreshGroupBounds(groupID string) {
	st.mu.Lock()
	g, ok := st.groups[groupID]
	if !ok {
		st.mu.Unlock()
		return
	}
	box := st.groupBoxLocked(g)
	if g.X == box.X && g.Y == box.Y && g.Width == box.Width && g.Height == box.Height {
		st.mu.Unlock()
		return
	}
	g.X, g.Y, g.Width, g.Height = box.X, box.Y, box.Width, box.Height
	st.stamp(&g.LastModifiedBy, &g.LastModifiedAt)
	clone := g.Clone()
	st.mu.Unlock()

	st.notify(Event{Kind: backend.KindGroup, Action: backend.PutAction, ID: groupID, Group: clone})
	write := clone.Clone()
	st.enqueueWrite(func(ctx context.Context) {
		if _, err := st.docs.PutGroup(ctx, st.canvasID, write); err != nil {
			st.log.Warn("group bounds write failed", "group", write.ID, "error", err)
		}
	})
}

func (st *Store) emitGroupChange(change Change) {
	for _, sc := range change.Shapes {
		if sc.After != nil {
			st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: sc.ID, Shape: sc.After.Clone()})
		}
	}
	for _, gc := range change.Groups {
		if gc.After != nil {
			st.notify(Event{Kind: backend.KindGroup, Action: backend.PutAction, ID: gc.ID, Group: gc.After.Clone()})
		} else {
			st.notify(Event{Kind: backend.KindGroup, Action: backend.RemoveAction, ID: gc.ID})
		}
	}
}

func (st *Store) writeGroupChange(change Change) {
	for _, sc := range change.Shapes {
		if sc.After == nil {
			continue
		}
		id := sc.ID
		groupField := any(sc.After.GroupID)
		if sc.After.GroupID == "" {
			groupField = nil
		}
		fields := map[string]any{"groupId": groupField, "lastModifiedBy": st.userID}
		st.enqueueWrite(func(ctx context.Context) {
			if _, err := st.docs.PatchShape(ctx, st.canvasID, id, fields); err != nil {
				st.log.Warn("group membership write failed", "shape", id, "error", err)
			}
		})
	}
	for _, gc := range change.Groups {
		if gc.After != nil {
			write := gc.After.Clone()
			st.enqueueWrite(func(ctx context.Context) {
				if _, err := st.docs.PutGroup(ctx, st.canvasID, write); err != nil {
					st.log.Warn("group write failed", "group", write.ID, "error", err)
				}
			})
			continue
		}
		groupID := gc.ID
		st.enqueueWrite(func(ctx context.Context) {
			if err := st.docs.RemoveGroup(ctx, st.canvasID, groupID); err != nil {
				st.log.Warn("group remove write failed", "group", groupID, "error", err)
			}
		})
	}
}

package document

import (
	"context"
	"fmt"
	"sort"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// Z-order operations renumber z-indexes relative to current siblings only.
// A selection is first expanded so that members of the same group move
// together through the stack.

// BringToFront raises the selection above everything else, preserving the
// selection's internal order.
func (st *Store) BringToFront(ctx context.Context, ids []string) error {
	return st.reorder(ids, func(order []*models.Shape, sel map[string]bool) {
		stablePartition(order, func(s *models.Shape) bool { return !sel[s.ID] })
	})
}

// SendToBack lowers the selection below everything else.
func (st *Store) SendToBack(ctx context.Context, ids []string) error {
	return st.reorder(ids, func(order []*models.Shape, sel map[string]bool) {
		stablePartition(order, func(s *models.Shape) bool { return sel[s.ID] })
	})
}

// BringForward moves each selected shape one position up past its next
// unselected sibling.
func (st *Store) BringForward(ctx context.Context, ids []string) error {
	return st.reorder(ids, func(order []*models.Shape, sel map[string]bool) {
		for i := len(order) - 2; i >= 0; i-- {
			if sel[order[i].ID] && !sel[order[i+1].ID] {
				order[i], order[i+1] = order[i+1], order[i]
			}
		}
	})
}

// SendBack moves each selected shape one position down past its next
// unselected sibling.
func (st *Store) SendBack(ctx context.Context, ids []string) error {
	return st.reorder(ids, func(order []*models.Shape, sel map[string]bool) {
		for i := 1; i < len(order); i++ {
			if sel[order[i].ID] && !sel[order[i-1].ID] {
				order[i-1], order[i] = order[i], order[i-1]
			}
		}
	})
}

func (st *Store) reorder(ids []string, permute func([]*models.Shape, map[string]bool)) error {
	st.mu.Lock()
	sel := st.expandSelectionLocked(ids)
	if len(sel) == 0 {
		st.mu.Unlock()
		return staleErr("shapes", fmt.Sprintf("%v", ids))
	}

	order := make([]*models.Shape, 0, len(st.shapes))
	for _, s := range st.shapes {
		order = append(order, s)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].ZIndex != order[j].ZIndex {
			return order[i].ZIndex < order[j].ZIndex
		}
		return order[i].ID < order[j].ID
	})

	permute(order, sel)

	var changes []ShapeChange
	for i, s := range order {
		if s.ZIndex == i {
			continue
		}
		before := s.Clone()
		s.ZIndex = i
		st.stamp(&s.LastModifiedBy, &s.LastModifiedAt)
		changes = append(changes, ShapeChange{ID: s.ID, Before: before, After: s.Clone()})
	}
	st.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	for _, ch := range changes {
		st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: ch.ID, Shape: ch.After.Clone()})
	}
	recorded := make([]ShapeChange, len(changes))
	for i, ch := range changes {
		recorded[i] = ShapeChange{ID: ch.ID, Before: ch.Before.Clone(), After: ch.After.Clone()}
	}
	st.record(Change{Kind: ChangeZOrder, Shapes: recorded})

	for _, ch := range changes {
		id := ch.ID
		fields := map[string]any{"zIndex": ch.After.ZIndex, "lastModifiedBy": st.userID}
		st.enqueueWrite(func(ctx context.Context) {
			if _, err := st.docs.PatchShape(ctx, st.canvasID, id, fields); err != nil {
				st.log.Warn("z-order write failed", "shape", id, "error", err)
			}
		})
	}
	return nil
}

// expandSelectionLocked returns the selection as a set, widened to every
// shape sharing a group with a selected shape. Shapes held by another
// user's live lock are dropped, like MoveShapes drops them. Caller holds
// mu.
func (st *Store) expandSelectionLocked(ids []string) map[string]bool {
	sel := make(map[string]bool)
	groups := make(map[string]bool)
	for _, id := range ids {
		s, ok := st.shapes[id]
		if !ok || st.lockedByOther(s) {
			continue
		}
		sel[id] = true
		if s.GroupID != "" {
			groups[s.GroupID] = true
		}
	}
	if len(groups) > 0 {
		for _, s := range st.shapes {
			if s.GroupID != "" && groups[s.GroupID] && !st.lockedByOther(s) {
				sel[s.ID] = true
			}
		}
	}
	return sel
}

// stablePartition reorders in place so elements satisfying pred come first,
// both halves keeping their relative order.
func stablePartition(order []*models.Shape, pred func(*models.Shape) bool) {
	out := make([]*models.Shape, 0, len(order))
	for _, s := range order {
		if pred(s) {
			out = append(out, s)
		}
	}
	for _, s := range order {
		if !pred(s) {
			out = append(out, s)
		}
	}
	copy(order, out)
}

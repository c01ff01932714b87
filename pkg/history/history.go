// Package history implements bounded per-user undo/redo over before/after
// snapshots of local mutations. Remote edits are never recorded; an entry
// whose targets have since been deleted, locked or edited by someone else
// is skipped entirely rather than partially applied.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/document"
	"github.com/liveboard/liveboard.go/pkg/lock"
	"github.com/liveboard/liveboard.go/pkg/logger"
)

// Params configures an Engine.
type Params struct {
	Store  *document.Store
	Logger logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Depth defaults to constants.HistoryDepth.
	Depth int
	// CoalesceWindow defaults to constants.NudgeCoalesceWindow.
	CoalesceWindow time.Duration
}

// Engine is the local user's undo/redo stack. It implements
// document.Recorder; wire it with store.SetRecorder.
type Engine struct {
	store    *document.Store
	log      logger.Logger
	now      func() time.Time
	depth    int
	coalesce time.Duration

	mu   sync.Mutex
	undo []document.Change
	redo []document.Change
}

// New creates an Engine bound to the store it will replay into.
func New(p Params) *Engine {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Depth == 0 {
		p.Depth = constants.HistoryDepth
	}
	if p.CoalesceWindow == 0 {
		p.CoalesceWindow = constants.NudgeCoalesceWindow
	}
	return &Engine{
		store:    p.Store,
		log:      p.Logger,
		now:      p.Now,
		depth:    p.Depth,
		coalesce: p.CoalesceWindow,
	}
}

// Record receives one local mutation. Any recorded change invalidates the
// redo stack. Consecutive updates to the same object set inside the
// coalescing window merge into one entry, so a drag or a run of arrow-key
// nudges undoes in one step.
func (e *Engine) Record(change document.Change) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.redo = e.redo[:0]

	if change.Kind == document.ChangeUpdate && len(e.undo) > 0 {
		last := &e.undo[len(e.undo)-1]
		if last.Kind == document.ChangeUpdate &&
			change.At.Sub(last.At) <= e.coalesce &&
			sameTargets(*last, change) {
			mergeAfter(last, change)
			last.At = change.At
			return
		}
	}

	if len(e.undo) >= e.depth {
		e.undo = append(e.undo[:0], e.undo[1:]...)
	}
	e.undo = append(e.undo, change)
}

// CanUndo reports whether an undo entry is available.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo) > 0
}

// CanRedo reports whether a redo entry is available.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo) > 0
}

// Clear drops both stacks.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.undo = e.undo[:0]
	e.redo = e.redo[:0]
	e.mu.Unlock()
}

// Undo reverses the most recent entry. A stale entry (target deleted,
// locked or edited by another user since it was recorded) is dropped
// without applying anything; undo then moves on to the next entry on the
// following call. Returns false when nothing was undone.
func (e *Engine) Undo(ctx context.Context) bool {
	e.mu.Lock()
	if len(e.undo) == 0 {
		e.mu.Unlock()
		return false
	}
	change := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	e.mu.Unlock()

	if reason := e.staleReason(change, backward); reason != "" {
		e.log.Debug("undo entry skipped", "kind", string(change.Kind), "reason", reason)
		return false
	}

	e.applyBackward(ctx, change)

	e.mu.Lock()
	e.redo = append(e.redo, change)
	e.mu.Unlock()
	return true
}

// Redo re-applies the most recently undone entry, with the same staleness
// rules as Undo. Returns false when nothing was redone.
func (e *Engine) Redo(ctx context.Context) bool {
	e.mu.Lock()
	if len(e.redo) == 0 {
		e.mu.Unlock()
		return false
	}
	change := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	e.mu.Unlock()

	if reason := e.staleReason(change, forward); reason != "" {
		e.log.Debug("redo entry skipped", "kind", string(change.Kind), "reason", reason)
		return false
	}

	e.applyForward(ctx, change)

	e.mu.Lock()
	e.undo = append(e.undo, change)
	e.mu.Unlock()
	return true
}

type direction int

const (
	backward direction = iota // undo: replay Before
	forward                   // redo: replay After
)

// staleReason checks every target of the entry against current state.
// A non-empty return names the first conflict found; the whole entry is
// then skipped so a multi-object action never half-applies.
func (e *Engine) staleReason(change document.Change, dir direction) string {
	self := e.store.UserID()
	for _, sc := range change.Shapes {
		cur, ok := e.store.Shape(sc.ID)
		target := sc.Before
		if dir == forward {
			target = sc.After
		}
		if !ok {
			// Replaying a removal or rollback needs the shape present.
			if target == nil || (dir == backward && sc.Before != nil && sc.After != nil) {
				return "shape gone: " + sc.ID
			}
			continue
		}
		if lock.IsLockedByOther(cur, self) && !cur.LockExpired(e.now(), e.store.LockTTL()) {
			return "shape locked: " + sc.ID
		}
		if cur.LastModifiedBy != "" && cur.LastModifiedBy != self &&
			cur.LastModifiedAt.After(change.At) {
			return "shape edited since: " + sc.ID
		}
	}
	for _, cc := range change.Connections {
		cur, ok := e.store.Connection(cc.ID)
		target := cc.Before
		if dir == forward {
			target = cc.After
		}
		if !ok {
			if target == nil || (dir == backward && cc.Before != nil && cc.After != nil) {
				return "connection gone: " + cc.ID
			}
			continue
		}
		if cur.LastModifiedBy != "" && cur.LastModifiedBy != self &&
			cur.LastModifiedAt.After(change.At) {
			return "connection edited since: " + cc.ID
		}
	}
	return ""
}

// applyBackward restores every Before snapshot. Shapes come back before the
// connections that reference them; removals run connections-first for the
// same reason.
func (e *Engine) applyBackward(ctx context.Context, change document.Change) {
	for _, cc := range change.Connections {
		if cc.Before == nil {
			e.store.RemoveConnectionState(ctx, cc.ID)
		}
	}
	for _, sc := range change.Shapes {
		if sc.Before == nil {
			e.store.RemoveShapeState(ctx, sc.ID)
		} else {
			e.store.RestoreShape(ctx, sc.Before)
		}
	}
	for _, cc := range change.Connections {
		if cc.Before != nil {
			e.store.RestoreConnection(ctx, cc.Before)
		}
	}
	for _, gc := range change.Groups {
		if gc.Before == nil {
			e.store.RemoveGroupState(ctx, gc.ID)
		} else {
			e.store.RestoreGroup(ctx, gc.Before)
		}
	}
}

func (e *Engine) applyForward(ctx context.Context, change document.Change) {
	for _, cc := range change.Connections {
		if cc.After == nil {
			e.store.RemoveConnectionState(ctx, cc.ID)
		}
	}
	for _, sc := range change.Shapes {
		if sc.After == nil {
			e.store.RemoveShapeState(ctx, sc.ID)
		} else {
			e.store.RestoreShape(ctx, sc.After)
		}
	}
	for _, cc := range change.Connections {
		if cc.After != nil {
			e.store.RestoreConnection(ctx, cc.After)
		}
	}
	for _, gc := range change.Groups {
		if gc.After == nil {
			e.store.RemoveGroupState(ctx, gc.ID)
		} else {
			e.store.RestoreGroup(ctx, gc.After)
		}
	}
}

func sameTargets(a, b document.Change) bool {
	if len(a.Shapes) != len(b.Shapes) ||
		len(a.Connections) != len(b.Connections) ||
		len(a.Groups) != len(b.Groups) {
		return false
	}
	ids := make(map[string]bool, len(a.Shapes)+len(a.Connections))
	for _, sc := range a.Shapes {
		ids["s:"+sc.ID] = true
	}
	for _, cc := range a.Connections {
		ids["c:"+cc.ID] = true
	}
	for _, sc := range b.Shapes {
		if !ids["s:"+sc.ID] {
			return false
		}
	}
	for _, cc := range b.Connections {
		if !ids["c:"+cc.ID] {
			return false
		}
	}
	return true
}

// mergeAfter keeps dst's Before snapshots and takes src's After, so the
// merged entry spans the whole gesture.
func mergeAfter(dst *document.Change, src document.Change) {
	after := make(map[string]document.ShapeChange, len(src.Shapes))
	for _, sc := range src.Shapes {
		after[sc.ID] = sc
	}
	for i := range dst.Shapes {
		if sc, ok := after[dst.Shapes[i].ID]; ok {
			dst.Shapes[i].After = sc.After
		}
	}
	cafter := make(map[string]document.ConnectionChange, len(src.Connections))
	for _, cc := range src.Connections {
		cafter[cc.ID] = cc
	}
	for i := range dst.Connections {
		if cc, ok := cafter[dst.Connections[i].ID]; ok {
			dst.Connections[i].After = cc.After
		}
	}
}

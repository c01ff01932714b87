package document

import (
	"context"
	"fmt"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
)

// Start loads the canvas snapshot and begins applying the remote change
// feed. A Start failure leaves the store usable on local state only; the
// caller may retry.
func (st *Store) Start(ctx context.Context) error {
	snap, err := st.docs.LoadSnapshot(ctx, st.canvasID)
	if err != nil {
		return fmt.Errorf("%w: load snapshot: %v", constants.ErrBackendUnavailable, err)
	}

	st.mu.Lock()
	for _, s := range snap.Shapes {
		clone := s.Clone()
		if rec, ok := st.locks[clone.ID]; ok {
			clone.ApplyLock(rec)
		}
		st.shapes[clone.ID] = clone
	}
	for _, c := range snap.Connections {
		clone := c.Clone()
		if err := clone.Normalize(); err != nil {
			st.log.Warn("snapshot connection normalized with violation", "connection", clone.ID, "error", err)
		}
		st.conns[clone.ID] = clone
	}
	for _, g := range snap.Groups {
		st.groups[g.ID] = g.Clone()
	}
	st.mu.Unlock()

	events, stop, err := st.docs.Watch(ctx, st.canvasID)
	if err != nil {
		return fmt.Errorf("%w: watch: %v", constants.ErrBackendUnavailable, err)
	}
	st.stopWatch = stop
	go st.reconcile(events)
	return nil
}

func (st *Store) reconcile(events <-chan backend.DocEvent) {
	for ev := range events {
		st.applyRemote(ev)
	}
}

// applyRemote merges one backend event into canonical state with
// last-snapshot-wins-per-record semantics. The local user's own echoes
// come through here too; remote edits never reach the history recorder.
func (st *Store) applyRemote(ev backend.DocEvent) {
	out := Event{Kind: ev.Kind, Action: ev.Action, ID: ev.ID, Remote: true}

	st.mu.Lock()
	switch ev.Kind {
	case backend.KindShape:
		if ev.Action == backend.RemoveAction {
			if _, ok := st.shapes[ev.ID]; !ok {
				st.mu.Unlock()
				return
			}
			delete(st.shapes, ev.ID)
			break
		}
		clone := ev.Shape.Clone()
		// The lock table on the realtime channel is authoritative for
		// lock fields; document records may carry stale copies.
		clone.ApplyLock(st.locks[clone.ID])
		st.shapes[clone.ID] = clone
		out.Shape = clone.Clone()
	case backend.KindConnection:
		if ev.Action == backend.RemoveAction {
			if _, ok := st.conns[ev.ID]; !ok {
				st.mu.Unlock()
				return
			}
			delete(st.conns, ev.ID)
			break
		}
		clone := ev.Connection.Clone()
		if err := clone.Normalize(); err != nil {
			st.log.Warn("remote connection normalized with violation", "connection", clone.ID, "error", err)
		}
		st.conns[clone.ID] = clone
		out.Connection = clone.Clone()
	case backend.KindGroup:
		if ev.Action == backend.RemoveAction {
			if _, ok := st.groups[ev.ID]; !ok {
				st.mu.Unlock()
				return
			}
			delete(st.groups, ev.ID)
			break
		}
		clone := ev.Group.Clone()
		st.groups[clone.ID] = clone
		out.Group = clone.Clone()
	}
	st.mu.Unlock()

	st.notify(out)
}

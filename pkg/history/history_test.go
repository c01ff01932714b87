package history_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveboard/liveboard.go/pkg/backend/memory"
	"github.com/liveboard/liveboard.go/pkg/document"
	"github.com/liveboard/liveboard.go/pkg/history"
	"github.com/liveboard/liveboard.go/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T) (*history.Engine, *document.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	st := document.New(document.Params{
		CanvasID:  "c1",
		UserID:    "u1",
		Documents: hub.Documents(),
		Now:       clock.Now,
	})
	t.Cleanup(st.Close)
	eng := history.New(history.Params{Store: st, Now: clock.Now})
	st.SetRecorder(eng)
	return eng, st, clock
}

func TestUndoAddRemovesShape(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100, Y: 100}, nil)
	require.NoError(t, err)
	require.True(t, eng.CanUndo())

	require.True(t, eng.Undo(ctx))
	_, ok := st.Shape(id)
	assert.False(t, ok, "undo of a create removes the shape")

	require.True(t, eng.Redo(ctx))
	s, ok := st.Shape(id)
	require.True(t, ok, "redo brings the shape back")
	assert.Equal(t, 100.0, s.X)
}

func TestUndoUpdateRestoresBefore(t *testing.T) {
	eng, st, clock := newEngine(t)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeCircle, models.Point{X: 50, Y: 60}, nil)
	require.NoError(t, err)

	clock.Advance(time.Second) // outside the coalescing window of the add
	require.NoError(t, st.UpdateShape(ctx, id, document.ShapePatch{Fill: document.Str("#ff0000")}))

	require.True(t, eng.Undo(ctx))
	s, ok := st.Shape(id)
	require.True(t, ok)
	assert.NotEqual(t, "#ff0000", s.Fill)

	require.True(t, eng.Redo(ctx))
	s, _ = st.Shape(id)
	assert.Equal(t, "#ff0000", s.Fill)
}

func TestUndoDeleteRestoresCascadedConnection(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 300, Y: 0}, nil)
	require.NoError(t, err)

	conn := &models.Connection{}
	conn.SetAnchored(models.FromEnd, a, models.AnchorRight)
	conn.SetAnchored(models.ToEnd, b, models.AnchorLeft)
	connID, err := st.AddConnection(ctx, conn)
	require.NoError(t, err)

	require.NoError(t, st.DeleteShape(ctx, a))
	_, ok := st.Connection(connID)
	require.False(t, ok, "delete cascades to the anchored connection")

	require.True(t, eng.Undo(ctx))
	s, ok := st.Shape(a)
	require.True(t, ok, "deleted shape restored")
	assert.Equal(t, 0.0, s.X)
	c, ok := st.Connection(connID)
	require.True(t, ok, "cascaded connection restored with the shape")
	assert.Equal(t, a, c.FromShapeID)

	require.True(t, eng.Redo(ctx))
	_, ok = st.Shape(a)
	assert.False(t, ok)
	_, ok = st.Connection(connID)
	assert.False(t, ok)
}

func TestNudgesCoalesceIntoOneEntry(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.MoveShapes(ctx, []string{id}, 10, 0))
	}
	s, _ := st.Shape(id)
	require.Equal(t, 50.0, s.X)

	// One undo rewinds the whole run of nudges.
	require.True(t, eng.Undo(ctx))
	s, _ = st.Shape(id)
	assert.Equal(t, 0.0, s.X)

	// The next entry is the add itself.
	require.True(t, eng.Undo(ctx))
	_, ok := st.Shape(id)
	assert.False(t, ok)
}

func TestMovesOutsideWindowStaySeparate(t *testing.T) {
	eng, st, clock := newEngine(t)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)

	require.NoError(t, st.MoveShapes(ctx, []string{id}, 10, 0))
	clock.Advance(time.Second)
	require.NoError(t, st.MoveShapes(ctx, []string{id}, 10, 0))

	require.True(t, eng.Undo(ctx))
	s, _ := st.Shape(id)
	assert.Equal(t, 10.0, s.X, "second move undone on its own")

	require.True(t, eng.Undo(ctx))
	s, _ = st.Shape(id)
	assert.Equal(t, 0.0, s.X)
}

func TestRecordClearsRedo(t *testing.T) {
	eng, st, clock := newEngine(t)
	ctx := context.Background()

	_, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	require.True(t, eng.Undo(ctx))
	require.True(t, eng.CanRedo())

	clock.Advance(time.Second)
	_, err = st.AddShape(ctx, models.ShapeCircle, models.Point{X: 10, Y: 10}, nil)
	require.NoError(t, err)

	assert.False(t, eng.CanRedo(), "a new local mutation invalidates redo")
}

func TestUndoSkipsWhenTargetGone(t *testing.T) {
	eng, st, clock := newEngine(t)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, st.MoveShapes(ctx, []string{id}, 10, 0))

	// The shape vanishes out from under the history entry, as a remote
	// delete would make it.
	st.RemoveShapeState(ctx, id)

	assert.False(t, eng.Undo(ctx), "entry for a vanished shape is skipped")
	assert.False(t, eng.CanRedo(), "skipped entry does not land on the redo stack")
}

func TestUndoSkipsWhenLockedByOther(t *testing.T) {
	eng, st, clock := newEngine(t)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, st.MoveShapes(ctx, []string{id}, 10, 0))

	st.ApplyLockEvent(id, &models.LockRecord{ShapeID: id, UserID: "u2", LockedAt: clock.Now()})

	assert.False(t, eng.Undo(ctx))
	s, _ := st.Shape(id)
	assert.Equal(t, 10.0, s.X, "locked shape left untouched")

	// Lock released: the next entry down (the add) undoes normally.
	st.ApplyLockEvent(id, nil)
	assert.True(t, eng.Undo(ctx))
	_, ok := st.Shape(id)
	assert.False(t, ok)
}

func TestStalenessUsesStoreLockTTL(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	st := document.New(document.Params{
		CanvasID:  "c1",
		UserID:    "u1",
		Documents: hub.Documents(),
		Now:       clock.Now,
		LockTTL:   time.Second,
	})
	t.Cleanup(st.Close)
	eng := history.New(history.Params{Store: st, Now: clock.Now})
	st.SetRecorder(eng)
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, st.MoveShapes(ctx, []string{id}, 10, 0))

	st.ApplyLockEvent(id, &models.LockRecord{ShapeID: id, UserID: "u2", LockedAt: clock.Now()})
	clock.Advance(2 * time.Second)

	// 2s-old lock is expired under the store's 1s TTL, even though the
	// default TTL would still consider it live.
	require.True(t, eng.Undo(ctx))
	s, _ := st.Shape(id)
	assert.Equal(t, 0.0, s.X)
}

func TestUndoSkipsAfterForeignEdit(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	ctx := context.Background()

	alice := document.New(document.Params{CanvasID: "c1", UserID: "u1", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(alice.Close)
	require.NoError(t, alice.Start(ctx))
	eng := history.New(history.Params{Store: alice, Now: clock.Now})
	alice.SetRecorder(eng)

	bob := document.New(document.Params{CanvasID: "c1", UserID: "u2", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(bob.Close)
	require.NoError(t, bob.Start(ctx))

	id, err := alice.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	alice.Flush()
	require.Eventually(t, func() bool {
		_, ok := bob.Shape(id)
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.MoveShapes(ctx, []string{id}, 10, 0))
	alice.Flush()

	clock.Advance(time.Second)
	require.NoError(t, bob.MoveShapes(ctx, []string{id}, 0, 5))
	bob.Flush()
	require.Eventually(t, func() bool {
		s, ok := alice.Shape(id)
		return ok && s.LastModifiedBy == "u2"
	}, time.Second, 5*time.Millisecond)

	assert.False(t, eng.Undo(ctx), "entry older than a foreign edit is skipped")
}

func TestDepthBoundEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	st := document.New(document.Params{CanvasID: "c1", UserID: "u1", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(st.Close)
	eng := history.New(history.Params{Store: st, Now: clock.Now, Depth: 3})
	st.SetRecorder(eng)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		_, err := st.AddShape(ctx, models.ShapeCircle, models.Point{X: float64(i), Y: 0}, nil)
		require.NoError(t, err)
	}

	undone := 0
	for eng.Undo(ctx) {
		undone++
	}
	assert.Equal(t, 3, undone, "stack is bounded")
	assert.Len(t, st.Shapes(), 2, "evicted entries stay applied")
}

func TestClearDropsBothStacks(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()

	_, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	require.True(t, eng.Undo(ctx))
	require.True(t, eng.CanRedo())

	eng.Clear()
	assert.False(t, eng.CanUndo())
	assert.False(t, eng.CanRedo())
}

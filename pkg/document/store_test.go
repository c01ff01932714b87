package document_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveboard/liveboard.go/pkg/backend/memory"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/document"
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

func newTestStore(t *testing.T, user string) (*document.Store, *memory.Hub, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	st := document.New(document.Params{
		CanvasID:  "c1",
		UserID:    user,
		Documents: hub.Documents(),
		Now:       clock.Now,
	})
	t.Cleanup(st.Close)
	return st, hub, clock
}

func TestAddShapeAppliesDefaults(t *testing.T) {
	st, hub, _ := newTestStore(t, "u1")
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100, Y: 200}, nil)
	require.NoError(t, err)

	s, ok := st.Shape(id)
	require.True(t, ok)
	assert.Equal(t, 100.0, s.X)
	assert.Equal(t, 120.0, s.Width)
	assert.Equal(t, 100.0, s.Opacity)
	assert.Equal(t, 1.0, s.ScaleX)
	assert.Equal(t, "#e8f0fe", s.Fill)
	assert.Equal(t, 0, s.ZIndex)
	assert.Equal(t, "u1", s.CreatedBy)

	st.Flush()
	snap, err := hub.LoadSnapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, snap.Shapes, 1)
	assert.Equal(t, id, snap.Shapes[0].ID)
}

func TestAddShapeAssignsNextZIndex(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeCircle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeCircle, models.Point{X: 10, Y: 10}, nil)
	require.NoError(t, err)

	sa, _ := st.Shape(a)
	sb, _ := st.Shape(b)
	assert.Equal(t, 0, sa.ZIndex)
	assert.Equal(t, 1, sb.ZIndex)
}

func TestAddShapeRejectsUnknownType(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")

	_, err := st.AddShape(context.Background(), "blob", models.Point{}, nil)
	assert.ErrorIs(t, err, constants.ErrInvariantViolation)
}

func TestUpdateShapePatchReachesBackend(t *testing.T) {
	st, hub, _ := newTestStore(t, "u1")
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10, Y: 10}, nil)
	require.NoError(t, err)

	err = st.UpdateShape(ctx, id, document.ShapePatch{X: document.Float(42), Text: document.Str("hello")})
	require.NoError(t, err)

	s, _ := st.Shape(id)
	assert.Equal(t, 42.0, s.X)
	assert.Equal(t, "hello", s.Text)
	assert.Equal(t, 10.0, s.Y, "unpatched field untouched")

	st.Flush()
	snap, err := hub.LoadSnapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, snap.Shapes, 1)
	assert.Equal(t, 42.0, snap.Shapes[0].X)
	assert.Equal(t, "hello", snap.Shapes[0].Text)
	assert.Equal(t, "u1", snap.Shapes[0].LastModifiedBy)
}

func TestUpdateShapeRejectedWhileLockedByOther(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{}, nil)
	require.NoError(t, err)

	st.ApplyLockEvent(id, &models.LockRecord{ShapeID: id, UserID: "u2", LockedAt: clock.Now()})

	err = st.UpdateShape(ctx, id, document.ShapePatch{X: document.Float(5)})
	assert.ErrorIs(t, err, constants.ErrLockDenied)

	// Past the TTL the same lock no longer blocks anyone.
	clock.Advance(constants.LockTTL + time.Second)
	err = st.UpdateShape(ctx, id, document.ShapePatch{X: document.Float(5)})
	assert.NoError(t, err)
}

func TestUpdateShapeOwnLockIsFine(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{}, nil)
	require.NoError(t, err)
	st.ApplyLockEvent(id, &models.LockRecord{ShapeID: id, UserID: "u1", LockedAt: clock.Now()})

	assert.NoError(t, st.UpdateShape(ctx, id, document.ShapePatch{X: document.Float(5)}))
}

func TestUpdateMissingShapeIsStale(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	err := st.UpdateShape(context.Background(), "gone", document.ShapePatch{X: document.Float(1)})
	assert.ErrorIs(t, err, constants.ErrStaleMutation)
}

func TestDeleteShapeCascadesConnections(t *testing.T) {
	st, hub, _ := newTestStore(t, "u1")
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

	free := &models.Connection{}
	free.SetFree(models.FromEnd, models.Point{X: 1, Y: 1})
	free.SetFree(models.ToEnd, models.Point{X: 2, Y: 2})
	freeID, err := st.AddConnection(ctx, free)
	require.NoError(t, err)

	require.NoError(t, st.DeleteShape(ctx, a))

	_, ok := st.Shape(a)
	assert.False(t, ok)
	_, ok = st.Connection(connID)
	assert.False(t, ok, "dependent connection removed with its shape")
	_, ok = st.Connection(freeID)
	assert.True(t, ok, "unrelated connection survives")

	st.Flush()
	snap, err := hub.LoadSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, snap.Shapes, 1)
	assert.Len(t, snap.Connections, 1)
}

func TestDeleteSkipsShapesLockedByOther(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10}, nil)
	require.NoError(t, err)

	st.ApplyLockEvent(a, &models.LockRecord{ShapeID: a, UserID: "u2", LockedAt: clock.Now()})

	require.NoError(t, st.DeleteMultiple(ctx, []string{a, b}))
	_, ok := st.Shape(a)
	assert.True(t, ok, "locked shape stays")
	_, ok = st.Shape(b)
	assert.False(t, ok)
}

func TestMoveShapesSkipsLocked(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100, Y: 0}, nil)
	require.NoError(t, err)
	st.ApplyLockEvent(b, &models.LockRecord{ShapeID: b, UserID: "u2", LockedAt: clock.Now()})

	require.NoError(t, st.MoveShapes(ctx, []string{a, b}, 10, 20))

	sa, _ := st.Shape(a)
	sb, _ := st.Shape(b)
	assert.Equal(t, 10.0, sa.X)
	assert.Equal(t, 20.0, sa.Y)
	assert.Equal(t, 100.0, sb.X, "locked shape did not move")
}

func TestOnChangeNotifiesEveryListener(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	var got []string
	st.OnChange(func(ev document.Event) { got = append(got, "first:"+ev.ID) })
	st.OnChange(func(ev document.Event) { got = append(got, "second:"+ev.ID) })

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "first:"+id, got[0])
	assert.Equal(t, "second:"+id, got[1])
}

func TestZOrderSkipsShapesLockedByOther(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100, Y: 0}, nil)
	require.NoError(t, err)
	_, err = st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 200, Y: 0}, nil)
	require.NoError(t, err)
	st.ApplyLockEvent(a, &models.LockRecord{ShapeID: a, UserID: "u2", LockedAt: clock.Now()})

	err = st.BringToFront(ctx, []string{a})
	assert.ErrorIs(t, err, constants.ErrStaleMutation, "selection of only locked shapes is rejected")
	sa, _ := st.Shape(a)
	assert.Equal(t, 0, sa.ZIndex, "locked shape not reordered")

	require.NoError(t, st.BringToFront(ctx, []string{a, b}))
	sa, _ = st.Shape(a)
	sb, _ := st.Shape(b)
	assert.Equal(t, 0, sa.ZIndex, "locked shape dropped from the selection")
	assert.Equal(t, 2, sb.ZIndex, "unlocked shape still raised")
}

func TestGroupShapesSkipsLockedMembers(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100, Y: 0}, nil)
	require.NoError(t, err)
	st.ApplyLockEvent(a, &models.LockRecord{ShapeID: a, UserID: "u2", LockedAt: clock.Now()})

	gid, err := st.GroupShapes(ctx, []string{a, b}, "pair")
	require.NoError(t, err)

	sa, _ := st.Shape(a)
	sb, _ := st.Shape(b)
	assert.Empty(t, sa.GroupID, "locked shape not regrouped")
	assert.Equal(t, gid, sb.GroupID)
	g, ok := st.Group(gid)
	require.True(t, ok)
	assert.Equal(t, []string{b}, g.ShapeIDs)

	_, err = st.GroupShapes(ctx, []string{a}, "solo")
	assert.ErrorIs(t, err, constants.ErrStaleMutation, "only-locked selection groups nothing")
}

func TestUngroupLeavesLockedMemberAlone(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	b, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100, Y: 0}, nil)
	require.NoError(t, err)
	gid, err := st.GroupShapes(ctx, []string{a, b}, "pair")
	require.NoError(t, err)
	st.ApplyLockEvent(a, &models.LockRecord{ShapeID: a, UserID: "u2", LockedAt: clock.Now()})

	require.NoError(t, st.Ungroup(ctx, gid))

	sa, _ := st.Shape(a)
	sb, _ := st.Shape(b)
	assert.Equal(t, gid, sa.GroupID, "locked member's record untouched")
	assert.Empty(t, sb.GroupID)
	_, ok := st.Group(gid)
	assert.False(t, ok)
}

func TestZOrderOperations(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: float64(i * 10)}, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	zOf := func(id string) int {
		s, ok := st.Shape(id)
		require.True(t, ok)
		return s.ZIndex
	}

	require.NoError(t, st.BringToFront(ctx, []string{ids[0]}))
	assert.Equal(t, 3, zOf(ids[0]))
	assert.Equal(t, 0, zOf(ids[1]))

	require.NoError(t, st.SendToBack(ctx, []string{ids[0]}))
	assert.Equal(t, 0, zOf(ids[0]))

	require.NoError(t, st.BringForward(ctx, []string{ids[0]}))
	assert.Equal(t, 1, zOf(ids[0]))
	assert.Equal(t, 0, zOf(ids[1]))

	require.NoError(t, st.SendBack(ctx, []string{ids[0]}))
	assert.Equal(t, 0, zOf(ids[0]))
}

func TestZOrderMovesWholeGroup(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	a, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0}, nil)
	b, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10}, nil)
	c, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 20}, nil)
	_, err := st.GroupShapes(ctx, []string{a, b}, "pair")
	require.NoError(t, err)

	// Selecting one grouped member lifts the whole group above c.
	require.NoError(t, st.BringToFront(ctx, []string{a}))

	sa, _ := st.Shape(a)
	sb, _ := st.Shape(b)
	sc, _ := st.Shape(c)
	assert.Greater(t, sa.ZIndex, sc.ZIndex)
	assert.Greater(t, sb.ZIndex, sc.ZIndex)
}

func TestGroupShapesSingleParent(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	a, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0}, nil)
	b, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10}, nil)

	g1, err := st.GroupShapes(ctx, []string{a, b}, "first")
	require.NoError(t, err)

	// Regrouping a moves it out of g1.
	c, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 20}, nil)
	g2, err := st.GroupShapes(ctx, []string{a, c}, "second")
	require.NoError(t, err)

	sa, _ := st.Shape(a)
	assert.Equal(t, g2, sa.GroupID)

	first, ok := st.Group(g1)
	require.True(t, ok)
	assert.Equal(t, []string{b}, first.ShapeIDs)
}

func TestGroupBoundsFromMembers(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	a, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	b, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 200, Y: 100}, nil)

	gid, err := st.GroupShapes(ctx, []string{a, b}, "")
	require.NoError(t, err)

	g, ok := st.Group(gid)
	require.True(t, ok)
	assert.Equal(t, 0.0, g.X)
	assert.Equal(t, 0.0, g.Y)
	assert.Equal(t, 320.0, g.Width) // 200 + default width 120
	assert.Equal(t, 180.0, g.Height)

	// Moving a member refreshes the cached box.
	require.NoError(t, st.MoveShapes(ctx, []string{b}, 100, 0))
	g, _ = st.Group(gid)
	assert.Equal(t, 420.0, g.Width)
}

func TestUngroupKeepsMembers(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	a, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{}, nil)
	b, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10}, nil)
	gid, err := st.GroupShapes(ctx, []string{a, b}, "")
	require.NoError(t, err)

	require.NoError(t, st.Ungroup(ctx, gid))

	_, ok := st.Group(gid)
	assert.False(t, ok)
	sa, _ := st.Shape(a)
	assert.Empty(t, sa.GroupID)
	_, ok = st.Shape(b)
	assert.True(t, ok)
}

func TestDeleteGroupCascades(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	a, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{}, nil)
	b, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10}, nil)
	inner, err := st.GroupShapes(ctx, []string{a, b}, "inner")
	require.NoError(t, err)

	c, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 20}, nil)
	outer, err := st.GroupShapes(ctx, []string{inner, c}, "outer")
	require.NoError(t, err)

	require.NoError(t, st.DeleteGroup(ctx, outer))

	for _, id := range []string{a, b, c} {
		_, ok := st.Shape(id)
		assert.False(t, ok, "member shape %s deleted", id)
	}
	_, ok := st.Group(inner)
	assert.False(t, ok, "nested group deleted")
	_, ok = st.Group(outer)
	assert.False(t, ok)
}

func TestDuplicateShapes(t *testing.T) {
	st, _, clock := newTestStore(t, "u1")
	ctx := context.Background()

	a, _ := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 10, Y: 10}, nil)
	_, err := st.GroupShapes(ctx, []string{a}, "")
	require.NoError(t, err)
	st.ApplyLockEvent(a, &models.LockRecord{ShapeID: a, UserID: "u2", LockedAt: clock.Now()})

	dups, err := st.DuplicateShapes(ctx, []string{a}, models.Point{X: 20, Y: 20})
	require.NoError(t, err)
	require.Len(t, dups, 1)

	d, ok := st.Shape(dups[0])
	require.True(t, ok)
	assert.Equal(t, 30.0, d.X)
	assert.Equal(t, 30.0, d.Y)
	assert.Empty(t, d.GroupID, "duplicate starts outside any group")
	assert.False(t, d.IsLocked, "duplicate never inherits the source's lock")
	src, _ := st.Shape(a)
	assert.Greater(t, d.ZIndex, src.ZIndex)
}

func TestConnectionNormalizedAtBoundary(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	id, err := st.AddConnection(ctx, &models.Connection{ArrowType: models.ArrowEnd})
	require.NoError(t, err)

	c, ok := st.Connection(id)
	require.True(t, ok)
	assert.False(t, c.StartArrow())
	assert.True(t, c.EndArrow())
	assert.Empty(t, c.ArrowType)
}

func TestSetEndpointValidatesTargetShape(t *testing.T) {
	st, _, _ := newTestStore(t, "u1")
	ctx := context.Background()

	conn := &models.Connection{}
	conn.SetFree(models.FromEnd, models.Point{X: 0, Y: 0})
	conn.SetFree(models.ToEnd, models.Point{X: 10, Y: 10})
	id, err := st.AddConnection(ctx, conn)
	require.NoError(t, err)

	err = st.SetEndpoint(ctx, id, models.ToEnd, "ghost", models.AnchorLeft, nil)
	assert.ErrorIs(t, err, constants.ErrStaleMutation)

	target, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 100}, nil)
	require.NoError(t, err)
	require.NoError(t, st.SetEndpoint(ctx, id, models.ToEnd, target, models.AnchorLeft, nil))

	c, _ := st.Connection(id)
	assert.Equal(t, target, c.ToShapeID)
	assert.Nil(t, c.ToPoint)
}

func TestRemoteEventsReachSecondStore(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	ctx := context.Background()

	a := document.New(document.Params{CanvasID: "c1", UserID: "u1", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(a.Close)
	b := document.New(document.Params{CanvasID: "c1", UserID: "u2", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(b.Close)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	id, err := a.AddShape(ctx, models.ShapeCircle, models.Point{X: 50, Y: 50}, nil)
	require.NoError(t, err)
	a.Flush()

	require.Eventually(t, func() bool {
		_, ok := b.Shape(id)
		return ok
	}, time.Second, 5*time.Millisecond, "remote store should converge")
}

func TestRemoteShapeKeepsLocalLockTable(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	ctx := context.Background()

	st := document.New(document.Params{CanvasID: "c1", UserID: "u1", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(st.Close)
	require.NoError(t, st.Start(ctx))

	id, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{}, nil)
	require.NoError(t, err)
	st.Flush()
	st.ApplyLockEvent(id, &models.LockRecord{ShapeID: id, UserID: "u2", LockedAt: clock.Now()})

	// A document write arriving without lock fields must not clear the
	// lock table's view.
	_, err = hub.PatchShape(ctx, "c1", id, map[string]any{"x": 77.0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := st.Shape(id)
		return ok && s.X == 77.0
	}, time.Second, 5*time.Millisecond)

	s, _ := st.Shape(id)
	assert.True(t, s.IsLocked)
	assert.Equal(t, "u2", s.LockedBy)
}

func TestSnapshotLoadedOnStart(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	ctx := context.Background()

	_, err := hub.PutShape(ctx, "c1", &models.Shape{ID: "pre", Type: models.ShapeRectangle, X: 5, ZIndex: 0})
	require.NoError(t, err)
	_, err = hub.PutConnection(ctx, "c1", &models.Connection{ID: "legacy", ArrowType: models.ArrowBoth})
	require.NoError(t, err)

	st := document.New(document.Params{CanvasID: "c1", UserID: "u1", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(st.Close)
	require.NoError(t, st.Start(ctx))

	s, ok := st.Shape("pre")
	require.True(t, ok)
	assert.Equal(t, 5.0, s.X)

	c, ok := st.Connection("legacy")
	require.True(t, ok)
	assert.True(t, c.StartArrow(), "snapshot connections normalized on load")
	assert.True(t, c.EndArrow())
}

package connector_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveboard/liveboard.go/pkg/backend/memory"
	"github.com/liveboard/liveboard.go/pkg/connector"
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

// fixture: two default rectangles (120x80) joined right-to-left.
func newFixture(t *testing.T) (*connector.Resolver, *document.Store, *fakeClock, string, string, string) {
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
	r := connector.New(connector.Params{Store: st, Now: clock.Now})
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
	return r, st, clock, connID, a, b
}

func TestAnchoredEndpointTracksMove(t *testing.T) {
	r, st, _, connID, a, _ := newFixture(t)
	ctx := context.Background()

	from, to, ok := r.ResolvePath(connID)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 120, Y: 40}, from)
	assert.Equal(t, models.Point{X: 300, Y: 40}, to)

	require.NoError(t, st.MoveShapes(ctx, []string{a}, 10, 20))
	from, _, ok = r.ResolvePath(connID)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 130, Y: 60}, from, "anchored endpoint follows the shape")
}

func TestAnchoredEndpointTracksRotation(t *testing.T) {
	r, st, _, connID, a, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, st.UpdateShape(ctx, a, document.ShapePatch{Rotation: document.Float(90)}))

	from, ok := r.ResolveEndpoint(connID, models.FromEnd)
	require.True(t, ok)
	// Right anchor of a 120x80 rectangle, rotated a quarter turn about (60,40).
	assert.InDelta(t, 60.0, from.X, 1e-9)
	assert.InDelta(t, 100.0, from.Y, 1e-9)
}

func TestFreeEndpointStaysPut(t *testing.T) {
	r, st, _, _, a, _ := newFixture(t)
	ctx := context.Background()

	conn := &models.Connection{}
	conn.SetAnchored(models.FromEnd, a, models.AnchorBottom)
	conn.SetFree(models.ToEnd, models.Point{X: 500, Y: 500})
	connID, err := st.AddConnection(ctx, conn)
	require.NoError(t, err)

	require.NoError(t, st.MoveShapes(ctx, []string{a}, 50, 50))

	to, ok := r.ResolveEndpoint(connID, models.ToEnd)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 500, Y: 500}, to)
}

func TestDanglingEndpointUnresolvable(t *testing.T) {
	r, st, _, connID, _, b := newFixture(t)

	st.RemoveShapeState(context.Background(), b)

	_, ok := r.ResolveEndpoint(connID, models.ToEnd)
	assert.False(t, ok, "anchored endpoint with no shape and no fallback point")
	_, okFrom := r.ResolveEndpoint(connID, models.FromEnd)
	assert.True(t, okFrom, "other end unaffected")
}

func TestDragOverrideWinsDuringGesture(t *testing.T) {
	r, _, _, connID, _, _ := newFixture(t)

	r.BeginEndpointDrag(connID, models.FromEnd)
	_, snapped := r.MoveEndpointDrag(connID, models.FromEnd, models.Point{X: 777, Y: 777})
	assert.False(t, snapped, "nothing to snap to out there")

	from, ok := r.ResolveEndpoint(connID, models.FromEnd)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 777, Y: 777}, from, "override beats the stored binding")

	r.CancelEndpointDrag(connID, models.FromEnd)
	from, ok = r.ResolveEndpoint(connID, models.FromEnd)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 120, Y: 40}, from, "cancel falls back to the binding")
}

func TestSnapCandidateWithinRadius(t *testing.T) {
	r, st, _, connID, _, _ := newFixture(t)
	ctx := context.Background()

	c, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 600, Y: 0}, nil)
	require.NoError(t, err)

	// Left anchor of c is (600, 40); 15px away is inside the snap radius.
	cand, ok := r.MoveEndpointDrag(connID, models.ToEnd, models.Point{X: 590, Y: 50})
	require.True(t, ok)
	assert.Equal(t, c, cand.ShapeID)
	assert.Equal(t, models.AnchorLeft, cand.Anchor)
	assert.Equal(t, models.Point{X: 600, Y: 40}, cand.Point)
}

func TestSnapExcludesOtherEndSameAnchor(t *testing.T) {
	r, _, _, connID, a, _ := newFixture(t)

	// The from end already sits on a's right anchor (120, 40); snapping the
	// to end onto the very same anchor would collapse the connector.
	_, ok := r.MoveEndpointDrag(connID, models.ToEnd, models.Point{X: 125, Y: 42})
	assert.False(t, ok)

	// A different anchor on the same shape is fine.
	cand, ok := r.MoveEndpointDrag(connID, models.ToEnd, models.Point{X: 60, Y: 82})
	require.True(t, ok)
	assert.Equal(t, a, cand.ShapeID)
	assert.Equal(t, models.AnchorBottom, cand.Anchor)
}

func TestReleaseBindsToSnappedAnchor(t *testing.T) {
	r, st, _, connID, _, _ := newFixture(t)
	ctx := context.Background()

	c, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 600, Y: 0}, nil)
	require.NoError(t, err)

	require.NoError(t, r.ReleaseEndpointDrag(ctx, connID, models.ToEnd, models.Point{X: 595, Y: 45}))

	stored, ok := st.Connection(connID)
	require.True(t, ok)
	assert.Equal(t, c, stored.ToShapeID)
	assert.Equal(t, models.AnchorLeft, stored.ToAnchor)
	assert.Nil(t, stored.ToPoint)
}

func TestReleaseFarFromAnchorsGoesFree(t *testing.T) {
	r, st, _, connID, _, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, r.ReleaseEndpointDrag(ctx, connID, models.ToEnd, models.Point{X: 900, Y: 900}))

	stored, ok := st.Connection(connID)
	require.True(t, ok)
	assert.Empty(t, stored.ToShapeID)
	require.NotNil(t, stored.ToPoint)
	assert.Equal(t, models.Point{X: 900, Y: 900}, *stored.ToPoint)
}

func TestOverrideClearedByConfirmedWrite(t *testing.T) {
	clock := newFakeClock()
	hub := memory.NewWithClock(clock.Now)
	st := document.New(document.Params{CanvasID: "c1", UserID: "u1", Documents: hub.Documents(), Now: clock.Now})
	t.Cleanup(st.Close)
	ctx := context.Background()
	require.NoError(t, st.Start(ctx))
	r := connector.New(connector.Params{Store: st, Now: clock.Now})

	a, err := st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 0, Y: 0}, nil)
	require.NoError(t, err)
	// Snap target for the release below; its left anchor sits at (600, 40).
	_, err = st.AddShape(ctx, models.ShapeRectangle, models.Point{X: 600, Y: 0}, nil)
	require.NoError(t, err)

	conn := &models.Connection{}
	conn.SetAnchored(models.FromEnd, a, models.AnchorRight)
	conn.SetFree(models.ToEnd, models.Point{X: 400, Y: 40})
	connID, err := st.AddConnection(ctx, conn)
	require.NoError(t, err)

	// Release near b's left anchor; the override holds the raw pointer
	// position until the write echoes back.
	require.NoError(t, r.ReleaseEndpointDrag(ctx, connID, models.ToEnd, models.Point{X: 595, Y: 45}))
	to, ok := r.ResolveEndpoint(connID, models.ToEnd)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 595, Y: 45}, to)

	st.Flush()
	require.Eventually(t, func() bool {
		to, ok := r.ResolveEndpoint(connID, models.ToEnd)
		return ok && to == (models.Point{X: 600, Y: 40})
	}, time.Second, 5*time.Millisecond, "confirmed write clears the override")
}

func TestOverrideExpires(t *testing.T) {
	r, _, clock, connID, _, _ := newFixture(t)

	r.BeginEndpointDrag(connID, models.FromEnd)
	r.MoveEndpointDrag(connID, models.FromEnd, models.Point{X: 777, Y: 777})

	clock.Advance(6 * time.Second)
	from, ok := r.ResolveEndpoint(connID, models.FromEnd)
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 120, Y: 40}, from, "expired override falls back to the binding")
}

// Package connector turns connection endpoint bindings into concrete
// canvas points. Anchored endpoints are recomputed from the bound shape's
// live geometry on every resolve, so connectors track moves, resizes,
// rotation and scale without storing derived positions anywhere.
//
// During a local endpoint drag the resolver carries a live override: the
// endpoint renders at the pointer until the rebinding write round-trips.
// Overrides self-expire so a lost write can never freeze an endpoint.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/document"
	"github.com/liveboard/liveboard.go/pkg/geometry"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// SnapCandidate is the anchor a dragged endpoint would bind to on release.
type SnapCandidate struct {
	ShapeID string
	Anchor  models.Anchor
	Point   models.Point
}

// Params configures a Resolver.
type Params struct {
	Store  *document.Store
	Logger logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// SnapRadius defaults to constants.AnchorSnapRadius.
	SnapRadius float64
	// OverrideTimeout defaults to constants.LiveOverrideTimeout.
	OverrideTimeout time.Duration
}

// Resolver resolves connection endpoints against the document store.
type Resolver struct {
	store      *document.Store
	log        logger.Logger
	now        func() time.Time
	snapRadius float64
	timeout    time.Duration

	mu        sync.Mutex
	overrides map[overrideKey]override
}

type overrideKey struct {
	connID string
	end    models.End
}

type override struct {
	pt models.Point
	at time.Time
}

// New creates a Resolver and registers it on the store's change feed so a
// confirmed endpoint write clears its live override.
func New(p Params) *Resolver {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.SnapRadius == 0 {
		p.SnapRadius = constants.AnchorSnapRadius
	}
	if p.OverrideTimeout == 0 {
		p.OverrideTimeout = constants.LiveOverrideTimeout
	}
	r := &Resolver{
		store:      p.Store,
		log:        p.Logger,
		now:        p.Now,
		snapRadius: p.SnapRadius,
		timeout:    p.OverrideTimeout,
		overrides:  make(map[overrideKey]override),
	}
	r.store.OnChange(func(ev document.Event) {
		if ev.Kind != backend.KindConnection || !ev.Remote {
			return
		}
		r.mu.Lock()
		delete(r.overrides, overrideKey{connID: ev.ID, end: models.FromEnd})
		delete(r.overrides, overrideKey{connID: ev.ID, end: models.ToEnd})
		r.mu.Unlock()
	})
	return r
}

// ResolveEndpoint returns the current canvas point of one endpoint. ok is
// false when the connection does not exist or an anchored endpoint's shape
// is gone and no fallback point is available.
func (r *Resolver) ResolveEndpoint(connID string, which models.End) (models.Point, bool) {
	if pt, ok := r.liveOverride(connID, which); ok {
		return pt, true
	}
	c, ok := r.store.Connection(connID)
	if !ok {
		return models.Point{}, false
	}
	return r.resolve(c, which)
}

// ResolvePath returns both endpoints of the connection.
func (r *Resolver) ResolvePath(connID string) (from, to models.Point, ok bool) {
	c, found := r.store.Connection(connID)
	if !found {
		return models.Point{}, models.Point{}, false
	}
	var fromOK, toOK bool
	if from, fromOK = r.liveOverride(connID, models.FromEnd); !fromOK {
		from, fromOK = r.resolve(c, models.FromEnd)
	}
	if to, toOK = r.liveOverride(connID, models.ToEnd); !toOK {
		to, toOK = r.resolve(c, models.ToEnd)
	}
	return from, to, fromOK && toOK
}

func (r *Resolver) resolve(c *models.Connection, which models.End) (models.Point, bool) {
	shapeID, anchor, free := c.Endpoint(which)
	if shapeID != "" {
		s, ok := r.store.Shape(shapeID)
		if !ok {
			// Dangling binding; the cascade that removes it may still be in
			// flight. Fall back to the free point if one survived.
			if free != nil {
				return *free, true
			}
			return models.Point{}, false
		}
		return geometry.AnchorPoint(s, anchor), true
	}
	if free != nil {
		return *free, true
	}
	return models.Point{}, false
}

func (r *Resolver) liveOverride(connID string, which models.End) (models.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := overrideKey{connID: connID, end: which}
	ov, ok := r.overrides[key]
	if !ok {
		return models.Point{}, false
	}
	if r.now().Sub(ov.at) > r.timeout {
		delete(r.overrides, key)
		return models.Point{}, false
	}
	return ov.pt, true
}

// BeginEndpointDrag pins the endpoint at its current resolved position so
// rendering switches to the override for the whole gesture.
func (r *Resolver) BeginEndpointDrag(connID string, which models.End) {
	pt, ok := r.ResolveEndpoint(connID, which)
	if !ok {
		return
	}
	r.setOverride(connID, which, pt)
}

// MoveEndpointDrag moves the dragged endpoint to pt and reports the anchor
// it would snap to on release, if any is within the snap radius.
func (r *Resolver) MoveEndpointDrag(connID string, which models.End, pt models.Point) (SnapCandidate, bool) {
	r.setOverride(connID, which, pt)
	return r.snapCandidate(connID, which, pt)
}

// ReleaseEndpointDrag ends the gesture: the endpoint binds to the nearest
// in-radius anchor, or becomes free-floating at pt. The override stays
// until the store confirms the write or it times out.
func (r *Resolver) ReleaseEndpointDrag(ctx context.Context, connID string, which models.End, pt models.Point) error {
	r.setOverride(connID, which, pt)
	if cand, ok := r.snapCandidate(connID, which, pt); ok {
		return r.store.SetEndpoint(ctx, connID, which, cand.ShapeID, cand.Anchor, nil)
	}
	return r.store.SetEndpoint(ctx, connID, which, "", "", &pt)
}

// CancelEndpointDrag drops the override without rebinding.
func (r *Resolver) CancelEndpointDrag(connID string, which models.End) {
	r.mu.Lock()
	delete(r.overrides, overrideKey{connID: connID, end: which})
	r.mu.Unlock()
}

func (r *Resolver) setOverride(connID string, which models.End, pt models.Point) {
	r.mu.Lock()
	r.overrides[overrideKey{connID: connID, end: which}] = override{pt: pt, at: r.now()}
	r.mu.Unlock()
}

// snapCandidate excludes the shape the other end is bound to only when it
// would produce a self-loop onto the same anchor point.
func (r *Resolver) snapCandidate(connID string, which models.End, pt models.Point) (SnapCandidate, bool) {
	shapeID, anchor, ok := geometry.NearestAnchor(r.store.Shapes(), pt, r.snapRadius)
	if !ok {
		return SnapCandidate{}, false
	}
	if c, found := r.store.Connection(connID); found {
		otherID, otherAnchor, _ := c.Endpoint(1 - which)
		if otherID == shapeID && otherAnchor.Canonical() == anchor.Canonical() {
			return SnapCandidate{}, false
		}
	}
	s, found := r.store.Shape(shapeID)
	if !found {
		return SnapCandidate{}, false
	}
	return SnapCandidate{ShapeID: shapeID, Anchor: anchor, Point: geometry.AnchorPoint(s, anchor)}, true
}

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/models"
)

var backendClosedErr = fmt.Errorf("%w: channel session", constants.ErrClosed)

type docSub struct {
	canvasID string
	events   chan backend.DocEvent
}

type docState struct {
	mu      sync.RWMutex
	shapes  map[string]map[string]*models.Shape
	conns   map[string]map[string]*models.Connection
	groups  map[string]map[string]*models.ShapeGroup
	subs    map[int]*docSub
	nextSub int
}

func newDocState() docState {
	return docState{
		shapes: make(map[string]map[string]*models.Shape),
		conns:  make(map[string]map[string]*models.Connection),
		groups: make(map[string]map[string]*models.ShapeGroup),
		subs:   make(map[int]*docSub),
	}
}

var _ backend.Documents = (*Hub)(nil)

// Documents returns the hub's document-store side. All sessions share it.
func (h *Hub) Documents() backend.Documents { return h }

func (h *Hub) emitDoc(ev backend.DocEvent, canvasID string) {
	for _, sub := range h.docs.subs {
		if sub.canvasID != canvasID {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

func (h *Hub) PutShape(ctx context.Context, canvasID string, s *models.Shape) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	at := h.now()
	stored := s.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = at
	}
	stored.LastModifiedAt = at

	if h.docs.shapes[canvasID] == nil {
		h.docs.shapes[canvasID] = make(map[string]*models.Shape)
	}
	h.docs.shapes[canvasID][stored.ID] = stored
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindShape, Action: backend.PutAction,
		ID: stored.ID, At: at, Shape: stored.Clone(),
	}, canvasID)
	return at, nil
}

func (h *Hub) PatchShape(ctx context.Context, canvasID, id string, fields map[string]any) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	current, ok := h.docs.shapes[canvasID][id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: shape %s", constants.ErrNotFound, id)
	}
	patched := new(models.Shape)
	if err := mergeFields(current, fields, patched); err != nil {
		return time.Time{}, err
	}
	at := h.now()
	patched.LastModifiedAt = at
	h.docs.shapes[canvasID][id] = patched
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindShape, Action: backend.PutAction,
		ID: id, At: at, Shape: patched.Clone(),
	}, canvasID)
	return at, nil
}

func (h *Hub) RemoveShape(ctx context.Context, canvasID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	if _, ok := h.docs.shapes[canvasID][id]; !ok {
		return nil
	}
	delete(h.docs.shapes[canvasID], id)
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindShape, Action: backend.RemoveAction, ID: id, At: h.now(),
	}, canvasID)
	return nil
}

func (h *Hub) PutConnection(ctx context.Context, canvasID string, c *models.Connection) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	at := h.now()
	stored := c.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = at
	}
	stored.LastModifiedAt = at

	if h.docs.conns[canvasID] == nil {
		h.docs.conns[canvasID] = make(map[string]*models.Connection)
	}
	h.docs.conns[canvasID][stored.ID] = stored
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindConnection, Action: backend.PutAction,
		ID: stored.ID, At: at, Connection: stored.Clone(),
	}, canvasID)
	return at, nil
}

func (h *Hub) PatchConnection(ctx context.Context, canvasID, id string, fields map[string]any) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	current, ok := h.docs.conns[canvasID][id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: connection %s", constants.ErrNotFound, id)
	}
	patched := new(models.Connection)
	if err := mergeFields(current, fields, patched); err != nil {
		return time.Time{}, err
	}
	at := h.now()
	patched.LastModifiedAt = at
	h.docs.conns[canvasID][id] = patched
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindConnection, Action: backend.PutAction,
		ID: id, At: at, Connection: patched.Clone(),
	}, canvasID)
	return at, nil
}

func (h *Hub) RemoveConnection(ctx context.Context, canvasID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	if _, ok := h.docs.conns[canvasID][id]; !ok {
		return nil
	}
	delete(h.docs.conns[canvasID], id)
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindConnection, Action: backend.RemoveAction, ID: id, At: h.now(),
	}, canvasID)
	return nil
}

func (h *Hub) PutGroup(ctx context.Context, canvasID string, g *models.ShapeGroup) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	at := h.now()
	stored := g.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = at
	}
	stored.LastModifiedAt = at

	if h.docs.groups[canvasID] == nil {
		h.docs.groups[canvasID] = make(map[string]*models.ShapeGroup)
	}
	h.docs.groups[canvasID][stored.ID] = stored
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindGroup, Action: backend.PutAction,
		ID: stored.ID, At: at, Group: stored.Clone(),
	}, canvasID)
	return at, nil
}

func (h *Hub) RemoveGroup(ctx context.Context, canvasID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.docs.mu.Lock()
	defer h.docs.mu.Unlock()

	if _, ok := h.docs.groups[canvasID][id]; !ok {
		return nil
	}
	delete(h.docs.groups[canvasID], id)
	h.emitDoc(backend.DocEvent{
		Kind: backend.KindGroup, Action: backend.RemoveAction, ID: id, At: h.now(),
	}, canvasID)
	return nil
}

func (h *Hub) LoadSnapshot(ctx context.Context, canvasID string) (*backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.docs.mu.RLock()
	defer h.docs.mu.RUnlock()

	snap := &backend.Snapshot{}
	for _, s := range h.docs.shapes[canvasID] {
		snap.Shapes = append(snap.Shapes, s.Clone())
	}
	for _, c := range h.docs.conns[canvasID] {
		snap.Connections = append(snap.Connections, c.Clone())
	}
	for _, g := range h.docs.groups[canvasID] {
		snap.Groups = append(snap.Groups, g.Clone())
	}
	return snap, nil
}

func (h *Hub) Watch(ctx context.Context, canvasID string) (<-chan backend.DocEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sub := &docSub{canvasID: canvasID, events: make(chan backend.DocEvent, subBuffer)}

	h.docs.mu.Lock()
	id := h.docs.nextSub
	h.docs.nextSub++
	h.docs.subs[id] = sub
	h.docs.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.docs.mu.Lock()
			delete(h.docs.subs, id)
			h.docs.mu.Unlock()
			close(sub.events)
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			stop()
		}()
	}
	return sub.events, stop, nil
}

// mergeFields overlays fields (keyed by wire name) onto the CBOR encoding
// of current and decodes the result into dst. Going through the wire
// encoding keeps patch semantics identical across backends.
func mergeFields(current any, fields map[string]any, dst any) error {
	raw, err := cbor.Marshal(current)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return err
	}
	for k, v := range fields {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	merged, err := cbor.Marshal(m)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(merged, dst)
}

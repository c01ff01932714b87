// Package document owns the canonical in-memory canvas state: shapes,
// connections and groups. Local mutations apply optimistically and are
// written to the backend asynchronously; remote snapshots reconcile with
// last-snapshot-wins per record.
//
// The store is the single place where legacy field formats are normalized
// and where lock state from the realtime channel is merged into shape
// records, so every consumer sees canonical data.
package document

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
)

const writeQueueSize = 1024

// ShapeChange is one shape's before/after pair inside a Change. A nil
// Before means the shape was created; a nil After means it was deleted.
type ShapeChange struct {
	ID     string
	Before *models.Shape
	After  *models.Shape
}

// ConnectionChange mirrors ShapeChange for connections.
type ConnectionChange struct {
	ID     string
	Before *models.Connection
	After  *models.Connection
}

// GroupChange mirrors ShapeChange for groups.
type GroupChange struct {
	ID     string
	Before *models.ShapeGroup
	After  *models.ShapeGroup
}

// ChangeKind labels a Change for history coalescing.
type ChangeKind string

const (
	ChangeAdd       ChangeKind = "add"
	ChangeDelete    ChangeKind = "delete"
	ChangeUpdate    ChangeKind = "update"
	ChangeZOrder    ChangeKind = "zorder"
	ChangeGroup     ChangeKind = "group"
	ChangeConnector ChangeKind = "connector"
)

// Change captures one logical local user action as before/after snapshots,
// enough to reverse it.
type Change struct {
	Kind ChangeKind
	At   time.Time

	Shapes      []ShapeChange
	Connections []ConnectionChange
	Groups      []GroupChange
}

// Recorder receives every local mutation. The history engine implements it;
// remote reconciliation never goes through here.
type Recorder interface {
	Record(change Change)
}

// Event notifies listeners (connector resolver, render layer) of a state
// change. Remote marks changes that arrived via subscription rather than
// local calls.
type Event struct {
	Kind   backend.DocKind
	Action backend.Action
	ID     string
	Remote bool

	Shape      *models.Shape
	Connection *models.Connection
	Group      *models.ShapeGroup
}

// Params configures a Store.
type Params struct {
	CanvasID  string
	UserID    string
	Documents backend.Documents
	Logger    logger.Logger
	// Now is the store's clock; defaults to time.Now.
	Now func() time.Time
	// LockTTL defaults to constants.LockTTL.
	LockTTL time.Duration
}

// Store is the canonical client-side document state for one canvas.
type Store struct {
	canvasID string
	userID   string
	docs     backend.Documents
	log      logger.Logger
	now      func() time.Time
	lockTTL  time.Duration

	mu     sync.RWMutex
	shapes map[string]*models.Shape
	conns  map[string]*models.Connection
	groups map[string]*models.ShapeGroup
	locks  map[string]*models.LockRecord

	recorder  Recorder
	listeners []func(Event)

	writeQueue chan func(context.Context)
	writerDone chan struct{}
	stopWatch  func()
	closeOnce  sync.Once
}

// New creates a Store. Call Start to load the snapshot and begin remote
// reconciliation; a store without Start works purely locally.
func New(p Params) *Store {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.LockTTL == 0 {
		p.LockTTL = constants.LockTTL
	}
	st := &Store{
		canvasID:   p.CanvasID,
		userID:     p.UserID,
		docs:       p.Documents,
		log:        p.Logger,
		now:        p.Now,
		lockTTL:    p.LockTTL,
		shapes:     make(map[string]*models.Shape),
		conns:      make(map[string]*models.Connection),
		groups:     make(map[string]*models.ShapeGroup),
		locks:      make(map[string]*models.LockRecord),
		writeQueue: make(chan func(context.Context), writeQueueSize),
		writerDone: make(chan struct{}),
	}
	go st.runWriter()
	return st
}

// SetRecorder wires the history engine. Pass nil to stop recording.
func (st *Store) SetRecorder(r Recorder) {
	st.mu.Lock()
	st.recorder = r
	st.mu.Unlock()
}

// OnChange registers a listener for state-change events. Listeners are
// called synchronously with store-internal locks released.
func (st *Store) OnChange(fn func(Event)) {
	st.mu.Lock()
	st.listeners = append(st.listeners, fn)
	st.mu.Unlock()
}

// UserID returns the local user this store mutates on behalf of.
func (st *Store) UserID() string { return st.userID }

// CanvasID returns the canvas this store is bound to.
func (st *Store) CanvasID() string { return st.canvasID }

// LockTTL returns the lock lifetime this store treats as live.
func (st *Store) LockTTL() time.Duration { return st.lockTTL }

func (st *Store) notify(ev Event) {
	st.mu.RLock()
	listeners := append([]func(Event){}, st.listeners...)
	st.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (st *Store) record(change Change) {
	st.mu.RLock()
	r := st.recorder
	st.mu.RUnlock()
	if r != nil {
		change.At = st.now()
		r.Record(change)
	}
}

// enqueueWrite hands a backend write to the serialized writer so writes
// leave in mutation order without blocking the caller.
func (st *Store) enqueueWrite(fn func(context.Context)) {
	select {
	case st.writeQueue <- fn:
	default:
		st.log.Warn("backend write queue full, dropping write")
	}
}

func (st *Store) runWriter() {
	defer close(st.writerDone)
	for fn := range st.writeQueue {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRPCTimeout)
		fn(ctx)
		cancel()
	}
}

// Flush blocks until every write enqueued so far has been attempted.
func (st *Store) Flush() {
	done := make(chan struct{})
	st.writeQueue <- func(context.Context) { close(done) }
	<-done
}

// Close stops remote reconciliation and the write queue, draining pending
// writes first.
func (st *Store) Close() {
	st.closeOnce.Do(func() {
		if st.stopWatch != nil {
			st.stopWatch()
		}
		close(st.writeQueue)
		<-st.writerDone
	})
}

// lockedByOther reports whether the shape is held by a live (non-expired)
// lock belonging to someone else. Expired locks never block.
func (st *Store) lockedByOther(s *models.Shape) bool {
	if !s.IsLocked || s.LockedBy == "" || s.LockedBy == st.userID {
		return false
	}
	return !s.LockExpired(st.now(), st.lockTTL)
}

// ApplyLockEvent merges one lock-table change from the realtime channel
// into the matching shape's lock fields. rec nil means the lock was
// released.
func (st *Store) ApplyLockEvent(shapeID string, rec *models.LockRecord) {
	st.mu.Lock()
	if rec == nil {
		delete(st.locks, shapeID)
	} else {
		st.locks[shapeID] = rec
	}
	s, ok := st.shapes[shapeID]
	var clone *models.Shape
	if ok {
		s.ApplyLock(rec)
		clone = s.Clone()
	}
	st.mu.Unlock()

	// A lock on a deleted shape is a dangling reference; tolerated.
	if ok {
		st.notify(Event{Kind: backend.KindShape, Action: backend.PutAction, ID: shapeID, Remote: true, Shape: clone})
	}
}

// Shape returns a copy of the shape, if present.
func (st *Store) Shape(id string) (*models.Shape, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.shapes[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Shapes returns copies of all shapes sorted by z-index.
func (st *Store) Shapes() []*models.Shape {
	st.mu.RLock()
	out := make([]*models.Shape, 0, len(st.shapes))
	for _, s := range st.shapes {
		out = append(out, s.Clone())
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Connection returns a copy of the connection, if present.
func (st *Store) Connection(id string) (*models.Connection, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, ok := st.conns[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Connections returns copies of all connections.
func (st *Store) Connections() []*models.Connection {
	st.mu.RLock()
	out := make([]*models.Connection, 0, len(st.conns))
	for _, c := range st.conns {
		out = append(out, c.Clone())
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group returns a copy of the group, if present.
func (st *Store) Group(id string) (*models.ShapeGroup, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	g, ok := st.groups[id]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// Groups returns copies of all groups.
func (st *Store) Groups() []*models.ShapeGroup {
	st.mu.RLock()
	out := make([]*models.ShapeGroup, 0, len(st.groups))
	for _, g := range st.groups {
		out = append(out, g.Clone())
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *Store) stamp(by *string, at *time.Time) {
	*by = st.userID
	*at = st.now()
}

func staleErr(kind, id string) error {
	return fmt.Errorf("%w: %s %s", constants.ErrStaleMutation, kind, id)
}

func lockDeniedErr(id, holder string) error {
	return fmt.Errorf("%w: shape %s held by %s", constants.ErrLockDenied, id, holder)
}

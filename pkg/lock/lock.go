// Package lock implements the per-shape optimistic locking protocol:
// exclusive locks with a TTL, periodic renewal while the holder keeps
// interactive focus, and stealing of expired locks. Lock state lives in a
// per-canvas table on the realtime channel.
//
// Acquire is best-effort, not a consistency guarantee: concurrent acquires
// within one network round trip can both succeed briefly. The TTL plus
// last-snapshot-wins reconciliation bound the damage.
package lock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// IsLockedByOther is the pure gating predicate used by drag and edit
// affordances everywhere: true iff the shape carries a lock owned by
// someone other than currentUserID. TTL expiry is not part of the
// predicate; expired locks are cleared on merge or stolen on acquire.
func IsLockedByOther(s *models.Shape, currentUserID string) bool {
	return s.IsLocked && s.LockedBy != "" && s.LockedBy != currentUserID
}

// Params configures a Manager.
type Params struct {
	CanvasID string
	UserID   string
	Channel  backend.Channel
	Logger   logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// TTL defaults to constants.LockTTL.
	TTL time.Duration
	// RenewEvery defaults to constants.LockCheckInterval.
	RenewEvery time.Duration
}

// Manager owns this session's locks on one canvas.
type Manager struct {
	canvasID   string
	userID     string
	ch         backend.Channel
	log        logger.Logger
	now        func() time.Time
	ttl        time.Duration
	renewEvery time.Duration

	mu       sync.Mutex
	held     map[string]bool
	retained map[string]bool
	onChange func(shapeID string, rec *models.LockRecord)

	stopOnce sync.Once
	stop     chan struct{}
	stopSub  func()
	wg       sync.WaitGroup
}

// New creates a Manager. Call Start to begin watching the lock table and
// renewing retained locks.
func New(p Params) *Manager {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.TTL == 0 {
		p.TTL = constants.LockTTL
	}
	if p.RenewEvery == 0 {
		p.RenewEvery = constants.LockCheckInterval
	}
	return &Manager{
		canvasID:   p.CanvasID,
		userID:     p.UserID,
		ch:         p.Channel,
		log:        p.Logger,
		now:        p.Now,
		ttl:        p.TTL,
		renewEvery: p.RenewEvery,
		held:       make(map[string]bool),
		retained:   make(map[string]bool),
		stop:       make(chan struct{}),
	}
}

func (m *Manager) prefix() string {
	return "canvases/" + m.canvasID + "/locks/"
}

func (m *Manager) path(shapeID string) string {
	return m.prefix() + shapeID
}

// OnChange registers the sink for lock-table changes (the document store's
// lock merge, the presence mirror). Must be called before Start.
func (m *Manager) OnChange(fn func(shapeID string, rec *models.LockRecord)) {
	m.onChange = fn
}

// Start subscribes to the canvas lock table, replays its current contents,
// and starts the renewal ticker.
func (m *Manager) Start(ctx context.Context) error {
	events, stopSub, err := m.ch.Subscribe(ctx, m.prefix())
	if err != nil {
		return err
	}
	m.stopSub = stopSub

	// Replay after subscribing so no transition is missed in between.
	initial, err := m.ch.List(ctx, m.prefix())
	if err != nil {
		stopSub()
		return err
	}
	for _, ev := range initial {
		m.deliver(ev)
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		for ev := range events {
			m.deliver(ev)
		}
	}()
	go m.renewLoop(ctx)
	return nil
}

func (m *Manager) deliver(ev backend.Event) {
	if m.onChange == nil {
		return
	}
	shapeID := strings.TrimPrefix(ev.Path, m.prefix())
	if ev.Action == backend.RemoveAction {
		m.onChange(shapeID, nil)
		return
	}
	var rec models.LockRecord
	if err := ev.Decode(&rec); err != nil {
		m.log.Warn("bad lock record", "path", ev.Path, "error", err)
		return
	}
	rec.LockedAt = ev.At
	m.onChange(shapeID, &rec)
}

// Acquire takes the lock on a shape. It succeeds when the shape is
// unlocked, already ours, or held by a lock past its TTL (steal). A failed
// acquire returns false, never an error: the caller shows the shape as
// read-only.
func (m *Manager) Acquire(ctx context.Context, shapeID string) bool {
	var current models.LockRecord
	_, ok, err := m.ch.Get(ctx, m.path(shapeID), &current)
	if err != nil {
		m.log.Warn("lock read failed, acquiring optimistically", "shape", shapeID, "error", err)
	} else if ok && current.UserID != m.userID && !current.Expired(m.now(), m.ttl) {
		return false
	}

	rec := models.LockRecord{ShapeID: shapeID, UserID: m.userID, LockedAt: m.now()}
	if _, err := m.ch.Put(ctx, m.path(shapeID), rec); err != nil {
		// Optimistic-apply policy: the lock counts locally and the next
		// renewal retries the write.
		m.log.Warn("lock write failed, holding locally", "shape", shapeID, "error", err)
	}
	if err := m.ch.OnDisconnectRemove(ctx, m.path(shapeID)); err != nil {
		m.log.Warn("lock disconnect-cleanup registration failed", "shape", shapeID, "error", err)
	}

	m.mu.Lock()
	m.held[shapeID] = true
	m.retained[shapeID] = true
	m.mu.Unlock()
	return true
}

// Release clears the lock only if this session is the current holder; a
// straggling release never clobbers a newer lock.
func (m *Manager) Release(ctx context.Context, shapeID string) {
	m.mu.Lock()
	delete(m.held, shapeID)
	delete(m.retained, shapeID)
	m.mu.Unlock()

	var current models.LockRecord
	_, ok, err := m.ch.Get(ctx, m.path(shapeID), &current)
	if err != nil {
		m.log.Warn("lock read failed on release", "shape", shapeID, "error", err)
		return
	}
	if ok && current.UserID != m.userID {
		return
	}
	if err := m.ch.Remove(ctx, m.path(shapeID)); err != nil {
		m.log.Warn("lock release failed", "shape", shapeID, "error", err)
	}
}

// Unretain stops renewing the lock while keeping it until TTL expiry or
// release. Called when interactive focus ends without a clean release.
func (m *Manager) Unretain(shapeID string) {
	m.mu.Lock()
	delete(m.retained, shapeID)
	m.mu.Unlock()
}

// ReleaseAll releases every lock this session holds.
func (m *Manager) ReleaseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Release(ctx, id)
	}
}

// Held returns the shapes this session currently holds locks on, for the
// presence mirror.
func (m *Manager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) renewLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewRetained(ctx)
		}
	}
}

func (m *Manager) renewRetained(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.retained))
	for id := range m.retained {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		rec := models.LockRecord{ShapeID: id, UserID: m.userID, LockedAt: m.now()}
		if _, err := m.ch.Put(ctx, m.path(id), rec); err != nil {
			m.log.Warn("lock renewal failed", "shape", id, "error", err)
		}
	}
}

// Stop halts renewal and the lock-table subscription. Held locks are left
// to the disconnect hook or TTL expiry.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.stopSub != nil {
			m.stopSub()
		}
		m.wg.Wait()
	})
}

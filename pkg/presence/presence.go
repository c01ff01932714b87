// Package presence tracks who is on a canvas. Each session keeps one
// ephemeral record on the realtime channel, refreshed by a heartbeat and
// removed on clean exit or by the channel's disconnect hook. Readers apply
// their own staleness cutoff so a backend that misses a cleanup cannot
// leave ghosts behind.
package presence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/identity"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// Params configures a Tracker.
type Params struct {
	CanvasID    string
	UserID      string
	DisplayName string
	Channel     backend.Channel
	Logger      logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Heartbeat defaults to constants.PresenceHeartbeat.
	Heartbeat time.Duration
	// StaleAfter defaults to constants.PresenceStaleAfter.
	StaleAfter time.Duration
}

// Tracker maintains this session's presence record and observes the
// records of everyone else on the canvas.
type Tracker struct {
	canvasID   string
	channel    backend.Channel
	log        logger.Logger
	now        func() time.Time
	heartbeat  time.Duration
	staleAfter time.Duration

	mu     sync.Mutex
	self   models.PresenceUser
	online bool
	seen   map[string]models.PresenceUser

	stopHeartbeat chan struct{}
	stopSub       func()
	wg            sync.WaitGroup
}

// New creates a Tracker. The session is offline until SetOnline.
func New(p Params) *Tracker {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Heartbeat == 0 {
		p.Heartbeat = constants.PresenceHeartbeat
	}
	if p.StaleAfter == 0 {
		p.StaleAfter = constants.PresenceStaleAfter
	}
	name := identity.DisplayName(p.DisplayName, p.UserID)
	return &Tracker{
		canvasID:   p.CanvasID,
		channel:    p.Channel,
		log:        p.Logger,
		now:        p.Now,
		heartbeat:  p.Heartbeat,
		staleAfter: p.StaleAfter,
		self: models.PresenceUser{
			UserID:      p.UserID,
			DisplayName: name,
			CursorColor: identity.ColorFor(p.UserID),
		},
		seen: make(map[string]models.PresenceUser),
	}
}

func (t *Tracker) prefix() string {
	return "canvases/" + t.canvasID + "/presence/"
}

func (t *Tracker) selfPath() string {
	return t.prefix() + t.self.UserID
}

// Self returns this session's presence identity (stable id, name, color).
func (t *Tracker) Self() models.PresenceUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// SetOnline publishes this session's presence record, registers its
// removal on disconnect, and starts the heartbeat.
func (t *Tracker) SetOnline(ctx context.Context) error {
	t.mu.Lock()
	if t.online {
		t.mu.Unlock()
		return nil
	}
	t.online = true
	t.stopHeartbeat = make(chan struct{})
	rec := t.self
	t.mu.Unlock()

	if _, err := t.channel.Put(ctx, t.selfPath(), rec); err != nil {
		return err
	}
	if err := t.channel.OnDisconnectRemove(ctx, t.selfPath()); err != nil {
		t.log.Warn("presence disconnect-cleanup registration failed", "error", err)
	}

	t.wg.Add(1)
	go t.heartbeatLoop(ctx)
	return nil
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	t.mu.Lock()
	stop := t.stopHeartbeat
	t.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			rec := t.self
			t.mu.Unlock()
			if _, err := t.channel.Put(ctx, t.selfPath(), rec); err != nil {
				t.log.Warn("presence heartbeat failed", "error", err)
			}
		}
	}
}

// SetLockedShapes updates the lock mirror on this session's presence
// record so collaborators can see who holds which shape.
func (t *Tracker) SetLockedShapes(ctx context.Context, shapeIDs []string) {
	ids := append([]string(nil), shapeIDs...)
	sort.Strings(ids)

	t.mu.Lock()
	t.self.LockedShapes = ids
	online := t.online
	rec := t.self
	t.mu.Unlock()

	if !online {
		return
	}
	if _, err := t.channel.Put(ctx, t.selfPath(), rec); err != nil {
		t.log.Warn("presence lock-mirror write failed", "error", err)
	}
}

// Subscribe watches presence for the canvas and invokes fn with the full
// fresh set after every change. Records older than the staleness cutoff
// are dropped at delivery time. Call the returned stop to unsubscribe.
func (t *Tracker) Subscribe(ctx context.Context, fn func(users []models.PresenceUser)) (stop func(), err error) {
	events, stopSub, err := t.channel.Subscribe(ctx, t.prefix())
	if err != nil {
		return nil, err
	}
	t.stopSub = stopSub

	initial, err := t.channel.List(ctx, t.prefix())
	if err != nil {
		stopSub()
		return nil, err
	}
	for _, ev := range initial {
		t.absorb(ev)
	}
	fn(t.fresh())

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for ev := range events {
			t.absorb(ev)
			fn(t.fresh())
		}
	}()
	return stopSub, nil
}

func (t *Tracker) absorb(ev backend.Event) {
	userID := strings.TrimPrefix(ev.Path, t.prefix())
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Action == backend.RemoveAction {
		delete(t.seen, userID)
		return
	}
	var rec models.PresenceUser
	if err := ev.Decode(&rec); err != nil {
		t.log.Warn("bad presence record", "path", ev.Path, "error", err)
		return
	}
	rec.LastSeen = ev.At
	t.seen[userID] = rec
}

// fresh returns the non-stale presence set, sorted by user id for stable
// callbacks.
func (t *Tracker) fresh() []models.PresenceUser {
	cutoff := t.now().Add(-t.staleAfter)
	t.mu.Lock()
	users := make([]models.PresenceUser, 0, len(t.seen))
	for _, rec := range t.seen {
		if rec.LastSeen.Before(cutoff) {
			continue
		}
		users = append(users, rec)
	}
	t.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// SetOffline stops the heartbeat and removes this session's record.
func (t *Tracker) SetOffline(ctx context.Context) {
	t.mu.Lock()
	if !t.online {
		t.mu.Unlock()
		return
	}
	t.online = false
	close(t.stopHeartbeat)
	t.mu.Unlock()

	if err := t.channel.Remove(ctx, t.selfPath()); err != nil {
		t.log.Warn("presence removal failed", "error", err)
	}
}

// Stop tears down subscriptions and the heartbeat without touching the
// backend record; the disconnect hook handles cleanup.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.online {
		t.online = false
		close(t.stopHeartbeat)
	}
	stopSub := t.stopSub
	t.stopSub = nil
	t.mu.Unlock()
	if stopSub != nil {
		stopSub()
	}
	t.wg.Wait()
}

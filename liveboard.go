// Package liveboard is the concurrent-editing engine for a shared canvas:
// canonical shape, connection and group state with optimistic local apply,
// per-shape TTL locks, presence and cursor broadcast, bounded undo/redo,
// and connector endpoints that track live shape geometry.
//
// A Session wires the engine onto two backend contracts, a realtime
// Channel for ephemeral state and a Documents store for canonical records:
//
//	ch := ...  // e.g. wschan.New or redischan.New
//	docs := ... // e.g. mongodoc.New or the memory hub
//	session, err := liveboard.Join(ctx, liveboard.Config{
//		CanvasID:  "canvas-1",
//		UserID:    "user-a",
//		Channel:   ch,
//		Documents: docs,
//	})
package liveboard

import (
	"context"
	"errors"
	"time"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/connector"
	"github.com/liveboard/liveboard.go/pkg/cursor"
	"github.com/liveboard/liveboard.go/pkg/document"
	"github.com/liveboard/liveboard.go/pkg/history"
	"github.com/liveboard/liveboard.go/pkg/lock"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
	"github.com/liveboard/liveboard.go/pkg/presence"
)

// Config describes one editing session.
type Config struct {
	CanvasID string
	UserID   string
	// DisplayName defaults to a name derived from UserID.
	DisplayName string

	Channel   backend.Channel
	Documents backend.Documents

	Logger logger.Logger
	// Now is the session clock; defaults to time.Now.
	Now func() time.Time
}

// Session is one user's live connection to a canvas. All exported
// components are safe for concurrent use.
type Session struct {
	cfg Config
	log logger.Logger

	Store      *document.Store
	Locks      *lock.Manager
	History    *history.Engine
	Presence   *presence.Tracker
	Cursor     *cursor.Publisher
	Cursors    *cursor.Subscriber
	Connectors *connector.Resolver
}

// Join builds the engine, loads the canvas snapshot, announces presence
// and starts every background feed. The returned session is ready for
// editing; Close releases everything.
func Join(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.CanvasID == "" || cfg.UserID == "" {
		return nil, errors.New("liveboard: CanvasID and UserID are required")
	}
	if cfg.Channel == nil || cfg.Documents == nil {
		return nil, errors.New("liveboard: Channel and Documents are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	store := document.New(document.Params{
		CanvasID:  cfg.CanvasID,
		UserID:    cfg.UserID,
		Documents: cfg.Documents,
		Logger:    cfg.Logger,
		Now:       cfg.Now,
	})

	hist := history.New(history.Params{
		Store:  store,
		Logger: cfg.Logger,
		Now:    cfg.Now,
	})
	store.SetRecorder(hist)

	resolver := connector.New(connector.Params{
		Store:  store,
		Logger: cfg.Logger,
		Now:    cfg.Now,
	})

	locks := lock.New(lock.Params{
		CanvasID: cfg.CanvasID,
		UserID:   cfg.UserID,
		Channel:  cfg.Channel,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})
	locks.OnChange(store.ApplyLockEvent)

	pres := presence.New(presence.Params{
		CanvasID:    cfg.CanvasID,
		UserID:      cfg.UserID,
		DisplayName: cfg.DisplayName,
		Channel:     cfg.Channel,
		Logger:      cfg.Logger,
		Now:         cfg.Now,
	})

	pub := cursor.NewPublisher(cursor.PublisherParams{
		CanvasID: cfg.CanvasID,
		UserID:   cfg.UserID,
		Channel:  cfg.Channel,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})
	sub := cursor.NewSubscriber(cursor.SubscriberParams{
		CanvasID: cfg.CanvasID,
		SelfID:   cfg.UserID,
		Channel:  cfg.Channel,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})

	s := &Session{
		cfg:        cfg,
		log:        cfg.Logger,
		Store:      store,
		Locks:      locks,
		History:    hist,
		Presence:   pres,
		Cursor:     pub,
		Cursors:    sub,
		Connectors: resolver,
	}

	if err := store.Start(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := locks.Start(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := pres.SetOnline(ctx); err != nil {
		locks.Stop()
		store.Close()
		return nil, err
	}
	if err := pub.Register(ctx); err != nil {
		s.log.Warn("cursor disconnect-cleanup registration failed", "error", err)
	}
	return s, nil
}

// LockShape acquires the editing lock on a shape and mirrors the held set
// onto this user's presence record. Returns false when another session
// holds a live lock; the caller treats the shape as read-only.
func (s *Session) LockShape(ctx context.Context, shapeID string) bool {
	if !s.Locks.Acquire(ctx, shapeID) {
		return false
	}
	s.Presence.SetLockedShapes(ctx, s.Locks.Held())
	return true
}

// UnlockShape releases the editing lock and updates the presence mirror.
func (s *Session) UnlockShape(ctx context.Context, shapeID string) {
	s.Locks.Release(ctx, shapeID)
	s.Presence.SetLockedShapes(ctx, s.Locks.Held())
}

// MoveCursor reports the local pointer position; throttling and the
// movement threshold are applied before anything goes on the wire.
func (s *Session) MoveCursor(ctx context.Context, x, y float64) {
	s.Cursor.Move(ctx, x, y)
}

// Undo reverses the local user's most recent action.
func (s *Session) Undo(ctx context.Context) bool { return s.History.Undo(ctx) }

// Redo re-applies the most recently undone action.
func (s *Session) Redo(ctx context.Context) bool { return s.History.Redo(ctx) }

// WatchPresence streams the fresh presence set to fn after every change.
func (s *Session) WatchPresence(ctx context.Context, fn func([]models.PresenceUser)) (stop func(), err error) {
	return s.Presence.Subscribe(ctx, fn)
}

// WatchCursors streams remote cursor positions to fn after every change.
func (s *Session) WatchCursors(ctx context.Context, fn func(map[string]models.CursorPosition)) (stop func(), err error) {
	return s.Cursors.Subscribe(ctx, fn)
}

// Close leaves the canvas: locks released, presence withdrawn, feeds
// stopped, pending document writes drained, and the channel closed.
func (s *Session) Close(ctx context.Context) error {
	s.Locks.ReleaseAll(ctx)
	s.Locks.Stop()
	s.Cursor.Close(ctx)
	s.Cursors.Stop()
	s.Presence.SetOffline(ctx)
	s.Presence.Stop()
	s.Store.Close()
	return s.cfg.Channel.Close(ctx)
}

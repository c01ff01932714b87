// Package cursor broadcasts and observes pointer positions. Outgoing
// samples are throttled to one per window with a trailing send so the
// final resting position always goes out; sub-threshold movement is
// dropped entirely. Incoming cursors are filtered by a read-side
// staleness cutoff.
package cursor

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/identity"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
)

// PublisherParams configures a Publisher.
type PublisherParams struct {
	CanvasID string
	UserID   string
	Channel  backend.Channel
	Logger   logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Throttle defaults to constants.CursorUpdateThrottle.
	Throttle time.Duration
	// Threshold defaults to constants.CursorPositionThreshold.
	Threshold float64
}

// Publisher sends this session's cursor position upstream.
type Publisher struct {
	canvasID  string
	userID    string
	color     string
	channel   backend.Channel
	log       logger.Logger
	now       func() time.Time
	throttle  time.Duration
	threshold float64

	mu       sync.Mutex
	lastSent models.Point
	sentAny  bool
	lastAt   time.Time
	pending  *models.Point
	timer    *time.Timer
	closed   bool
}

// NewPublisher creates a Publisher. The cursor color is derived from the
// user id the same way presence derives it.
func NewPublisher(p PublisherParams) *Publisher {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Throttle == 0 {
		p.Throttle = constants.CursorUpdateThrottle
	}
	if p.Threshold == 0 {
		p.Threshold = constants.CursorPositionThreshold
	}
	return &Publisher{
		canvasID:  p.CanvasID,
		userID:    p.UserID,
		color:     identity.ColorFor(p.UserID),
		channel:   p.Channel,
		log:       p.Logger,
		now:       p.Now,
		throttle:  p.Throttle,
		threshold: p.Threshold,
	}
}

func (p *Publisher) path() string {
	return "canvases/" + p.canvasID + "/cursors/" + p.userID
}

// Move reports a pointer position. At most one write per throttle window
// goes out; a position arriving mid-window is held and flushed when the
// window ends, with later positions replacing earlier ones.
func (p *Publisher) Move(ctx context.Context, x, y float64) {
	pt := models.Point{X: x, Y: y}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.sentAny && math.Hypot(pt.X-p.lastSent.X, pt.Y-p.lastSent.Y) <= p.threshold {
		p.mu.Unlock()
		return
	}
	elapsed := p.now().Sub(p.lastAt)
	if !p.sentAny || elapsed >= p.throttle {
		p.lastSent = pt
		p.sentAny = true
		p.lastAt = p.now()
		p.mu.Unlock()
		p.send(ctx, pt)
		return
	}
	// Mid-window: hold the latest position and arm one trailing flush.
	p.pending = &pt
	if p.timer == nil {
		p.timer = time.AfterFunc(p.throttle-elapsed, func() { p.flush(ctx) })
	}
	p.mu.Unlock()
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	p.timer = nil
	if p.closed || p.pending == nil {
		p.mu.Unlock()
		return
	}
	pt := *p.pending
	p.pending = nil
	p.lastSent = pt
	p.lastAt = p.now()
	p.mu.Unlock()
	p.send(ctx, pt)
}

func (p *Publisher) send(ctx context.Context, pt models.Point) {
	rec := models.CursorPosition{UserID: p.userID, X: pt.X, Y: pt.Y, Color: p.color}
	if _, err := p.channel.Put(ctx, p.path(), rec); err != nil {
		p.log.Debug("cursor write failed", "error", err)
	}
}

// Register arranges removal of this session's cursor on disconnect.
func (p *Publisher) Register(ctx context.Context) error {
	return p.channel.OnDisconnectRemove(ctx, p.path())
}

// Close cancels any pending trailing send and removes the cursor record.
func (p *Publisher) Close(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = nil
	p.mu.Unlock()
	if err := p.channel.Remove(ctx, p.path()); err != nil {
		p.log.Debug("cursor removal failed", "error", err)
	}
}

// SubscriberParams configures a Subscriber.
type SubscriberParams struct {
	CanvasID string
	// SelfID is excluded from delivered sets; the local pointer is not a
	// remote cursor.
	SelfID  string
	Channel backend.Channel
	Logger  logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// StaleAfter defaults to constants.CursorStaleAfter.
	StaleAfter time.Duration
}

// Subscriber observes remote cursors on a canvas.
type Subscriber struct {
	canvasID   string
	selfID     string
	channel    backend.Channel
	log        logger.Logger
	now        func() time.Time
	staleAfter time.Duration

	mu   sync.Mutex
	seen map[string]models.CursorPosition

	stopSub func()
	wg      sync.WaitGroup
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(p SubscriberParams) *Subscriber {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.StaleAfter == 0 {
		p.StaleAfter = constants.CursorStaleAfter
	}
	return &Subscriber{
		canvasID:   p.CanvasID,
		selfID:     p.SelfID,
		channel:    p.Channel,
		log:        p.Logger,
		now:        p.Now,
		staleAfter: p.StaleAfter,
		seen:       make(map[string]models.CursorPosition),
	}
}

func (s *Subscriber) prefix() string {
	return "canvases/" + s.canvasID + "/cursors/"
}

// Subscribe invokes fn with the fresh remote-cursor set after every
// change. Cursors older than the staleness cutoff are dropped at delivery.
func (s *Subscriber) Subscribe(ctx context.Context, fn func(cursors map[string]models.CursorPosition)) (stop func(), err error) {
	events, stopSub, err := s.channel.Subscribe(ctx, s.prefix())
	if err != nil {
		return nil, err
	}
	s.stopSub = stopSub

	initial, err := s.channel.List(ctx, s.prefix())
	if err != nil {
		stopSub()
		return nil, err
	}
	for _, ev := range initial {
		s.absorb(ev)
	}
	fn(s.fresh())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range events {
			s.absorb(ev)
			fn(s.fresh())
		}
	}()
	return stopSub, nil
}

func (s *Subscriber) absorb(ev backend.Event) {
	userID := strings.TrimPrefix(ev.Path, s.prefix())
	if userID == s.selfID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Action == backend.RemoveAction {
		delete(s.seen, userID)
		return
	}
	var rec models.CursorPosition
	if err := ev.Decode(&rec); err != nil {
		s.log.Warn("bad cursor record", "path", ev.Path, "error", err)
		return
	}
	rec.LastSeen = ev.At
	s.seen[userID] = rec
}

func (s *Subscriber) fresh() map[string]models.CursorPosition {
	cutoff := s.now().Add(-s.staleAfter)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.CursorPosition, len(s.seen))
	for id, rec := range s.seen {
		if rec.LastSeen.Before(cutoff) {
			continue
		}
		out[id] = rec
	}
	return out
}

// Stop unsubscribes.
func (s *Subscriber) Stop() {
	if s.stopSub != nil {
		s.stopSub()
	}
	s.wg.Wait()
}

// Package memory implements both backend contracts in process. A single Hub
// plays the role of the hosted backend; each client session gets its own
// Channel from Hub.Channel, so multi-client behavior (lock contention,
// presence fan-out, disconnect cleanup) can be exercised without a network.
//
// The hub is also the engine's test double.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/liveboard/liveboard.go/pkg/backend"
)

const subBuffer = 1024

type record struct {
	at   time.Time
	data []byte
}

type channelSub struct {
	prefix string
	events chan backend.Event
}

// Hub is the shared in-process backend state.
type Hub struct {
	mu  sync.RWMutex
	now func() time.Time

	records map[string]record
	subs    map[int]*channelSub
	nextSub int

	docs docState
}

// New returns a Hub using the wall clock for server timestamps.
func New() *Hub {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Hub whose server-assigned timestamps come from
// now. Tests inject a fake clock here to exercise TTL and staleness paths.
func NewWithClock(now func() time.Time) *Hub {
	return &Hub{
		now:     now,
		records: make(map[string]record),
		subs:    make(map[int]*channelSub),
		docs:    newDocState(),
	}
}

// Channel opens a new client session on the hub.
func (h *Hub) Channel() *Channel {
	return &Channel{hub: h}
}

func (h *Hub) put(path string, data []byte) time.Time {
	h.mu.Lock()
	at := h.now()
	h.records[path] = record{at: at, data: data}
	h.fanout(backend.Event{Action: backend.PutAction, Path: path, At: at, Value: data})
	h.mu.Unlock()
	return at
}

func (h *Hub) remove(path string) {
	h.mu.Lock()
	if _, ok := h.records[path]; ok {
		delete(h.records, path)
		h.fanout(backend.Event{Action: backend.RemoveAction, Path: path, At: h.now()})
	}
	h.mu.Unlock()
}

// fanout is called with h.mu held. Sends never block: a subscriber that
// falls subBuffer events behind loses the newest event.
func (h *Hub) fanout(ev backend.Event) {
	for _, sub := range h.subs {
		if !strings.HasPrefix(ev.Path, sub.prefix) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Channel is one client session on the hub.
type Channel struct {
	hub *Hub

	mu       sync.Mutex
	closed   bool
	cleanups []string
}

var _ backend.Channel = (*Channel)(nil)

func (c *Channel) Put(ctx context.Context, path string, value any) (time.Time, error) {
	if err := c.check(ctx); err != nil {
		return time.Time{}, err
	}
	data, err := cbor.Marshal(value)
	if err != nil {
		return time.Time{}, err
	}
	return c.hub.put(path, data), nil
}

func (c *Channel) Get(ctx context.Context, path string, dst any) (time.Time, bool, error) {
	if err := c.check(ctx); err != nil {
		return time.Time{}, false, err
	}
	c.hub.mu.RLock()
	rec, ok := c.hub.records[path]
	c.hub.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if dst != nil {
		if err := cbor.Unmarshal(rec.data, dst); err != nil {
			return time.Time{}, false, err
		}
	}
	return rec.at, true, nil
}

func (c *Channel) List(ctx context.Context, prefix string) ([]backend.Event, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.hub.mu.RLock()
	var events []backend.Event
	for path, rec := range c.hub.records {
		if strings.HasPrefix(path, prefix) {
			events = append(events, backend.Event{
				Action: backend.PutAction,
				Path:   path,
				At:     rec.at,
				Value:  rec.data,
			})
		}
	}
	c.hub.mu.RUnlock()
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events, nil
}

func (c *Channel) Remove(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.hub.remove(path)
	return nil
}

func (c *Channel) Subscribe(ctx context.Context, prefix string) (<-chan backend.Event, func(), error) {
	if err := c.check(ctx); err != nil {
		return nil, nil, err
	}
	sub := &channelSub{prefix: prefix, events: make(chan backend.Event, subBuffer)}

	c.hub.mu.Lock()
	id := c.hub.nextSub
	c.hub.nextSub++
	c.hub.subs[id] = sub
	c.hub.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.hub.mu.Lock()
			delete(c.hub.subs, id)
			c.hub.mu.Unlock()
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

func (c *Channel) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.cleanups = append(c.cleanups, path)
	c.mu.Unlock()
	return nil
}

// Close ends the session and fires the registered disconnect removals,
// mirroring the backend's behavior on a dropped connection.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for _, path := range cleanups {
		c.hub.remove(path)
	}
	return nil
}

// Drop simulates an unclean disconnect: same cleanup, no clean shutdown.
func (c *Channel) Drop() {
	_ = c.Close(context.Background())
}

func (c *Channel) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return backendClosedErr
	}
	return nil
}

// Package redischan implements backend.Channel on redis: records are keys
// holding CBOR envelopes, change fan-out rides pub/sub with one pattern
// subscription per prefix.
//
// Redis has no per-connection disconnect hook, so disconnect cleanup is
// emulated with TTLs: every registered path carries an expiry that a
// heartbeat goroutine keeps refreshing. A session that dies stops
// refreshing and its records age out within the presence staleness window;
// readers already tolerate removals that arrive without an event.
package redischan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/logger"
)

const (
	keyPrefix     = "lb:"
	eventPrefix   = "lbev:"
	ephemeralTTL  = constants.PresenceStaleAfter
	refreshPeriod = constants.PresenceHeartbeat
)

// envelope is the stored record: server write time plus the raw payload.
type envelope struct {
	At    time.Time       `json:"at"`
	Value cbor.RawMessage `json:"value"`
}

// wireEvent is the pub/sub payload.
type wireEvent struct {
	Action backend.Action  `json:"action"`
	Path   string          `json:"path"`
	At     time.Time       `json:"at"`
	Value  cbor.RawMessage `json:"value,omitempty"`
}

// Params configures a Client.
type Params struct {
	// Redis is an already-configured go-redis client (single node,
	// sentinel or cluster via the universal interface).
	Redis  redis.UniversalClient
	Logger logger.Logger
}

// Client is a backend.Channel on redis.
type Client struct {
	rdb redis.UniversalClient
	log logger.Logger

	mu        sync.Mutex
	ephemeral map[string]bool
	pubsubs   map[*redis.PubSub]bool
	closed    bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

var _ backend.Channel = (*Client)(nil)

// New creates a Client and starts the TTL-refresh heartbeat.
func New(p Params) *Client {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	c := &Client{
		rdb:       p.Redis,
		log:       p.Logger,
		ephemeral: make(map[string]bool),
		pubsubs:   make(map[*redis.PubSub]bool),
		stop:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.refreshLoop()
	return c
}

func key(path string) string       { return keyPrefix + path }
func eventChan(path string) string { return eventPrefix + path }

// globEscape backslash-escapes redis glob metacharacters so a path prefix
// only ever matches literally in SCAN and PSUBSCRIBE patterns.
func globEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// serverTime reads the redis server clock so every session stamps records
// from the same clock.
func (c *Client) serverTime(ctx context.Context) (time.Time, error) {
	at, err := c.rdb.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time: %v", constants.ErrBackendUnavailable, err)
	}
	return at, nil
}

// Put implements backend.Channel.
func (c *Client) Put(ctx context.Context, path string, value any) (time.Time, error) {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return time.Time{}, err
	}
	at, err := c.serverTime(ctx)
	if err != nil {
		return time.Time{}, err
	}
	env, err := cbor.Marshal(envelope{At: at, Value: raw})
	if err != nil {
		return time.Time{}, err
	}
	evb, err := cbor.Marshal(wireEvent{Action: backend.PutAction, Path: path, At: at, Value: raw})
	if err != nil {
		return time.Time{}, err
	}

	c.mu.Lock()
	ttl := time.Duration(0)
	if c.ephemeral[path] {
		ttl = ephemeralTTL
	}
	c.mu.Unlock()

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, key(path), env, ttl)
	pipe.Publish(ctx, eventChan(path), evb)
	if _, err := pipe.Exec(ctx); err != nil {
		return time.Time{}, fmt.Errorf("%w: put %s: %v", constants.ErrBackendUnavailable, path, err)
	}
	return at, nil
}

// Get implements backend.Channel.
func (c *Client) Get(ctx context.Context, path string, dst any) (time.Time, bool, error) {
	data, err := c.rdb.Get(ctx, key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: get %s: %v", constants.ErrBackendUnavailable, path, err)
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return time.Time{}, false, err
	}
	if dst != nil {
		if err := cbor.Unmarshal(env.Value, dst); err != nil {
			return time.Time{}, false, err
		}
	}
	return env.At, true, nil
}

// List implements backend.Channel.
func (c *Client) List(ctx context.Context, prefix string) ([]backend.Event, error) {
	var events []backend.Event
	iter := c.rdb.Scan(ctx, 0, key(globEscape(prefix))+"*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := c.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", constants.ErrBackendUnavailable, prefix, err)
		}
		var env envelope
		if err := cbor.Unmarshal(data, &env); err != nil {
			c.log.Warn("undecodable record skipped", "key", k, "error", err)
			continue
		}
		events = append(events, backend.Event{
			Action: backend.PutAction,
			Path:   k[len(keyPrefix):],
			At:     env.At,
			Value:  env.Value,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", constants.ErrBackendUnavailable, prefix, err)
	}
	return events, nil
}

// Remove implements backend.Channel.
func (c *Client) Remove(ctx context.Context, path string) error {
	at, err := c.serverTime(ctx)
	if err != nil {
		return err
	}
	evb, err := cbor.Marshal(wireEvent{Action: backend.RemoveAction, Path: path, At: at})
	if err != nil {
		return err
	}
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, key(path))
	pipe.Publish(ctx, eventChan(path), evb)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: remove %s: %v", constants.ErrBackendUnavailable, path, err)
	}
	c.mu.Lock()
	delete(c.ephemeral, path)
	c.mu.Unlock()
	return nil
}

const subBuffer = 1024

// Subscribe implements backend.Channel via one pattern subscription.
func (c *Client) Subscribe(ctx context.Context, prefix string) (<-chan backend.Event, func(), error) {
	pubsub := c.rdb.PSubscribe(ctx, eventChan(globEscape(prefix))+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("%w: subscribe %s: %v", constants.ErrBackendUnavailable, prefix, err)
	}

	c.mu.Lock()
	c.pubsubs[pubsub] = true
	c.mu.Unlock()

	events := make(chan backend.Event, subBuffer)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(events)
		for msg := range pubsub.Channel() {
			var ev wireEvent
			if err := cbor.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.log.Warn("undecodable event skipped", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case events <- backend.Event{Action: ev.Action, Path: ev.Path, At: ev.At, Value: ev.Value}:
			default:
				c.log.Warn("subscriber too slow, event dropped", "path", ev.Path)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.pubsubs, pubsub)
			c.mu.Unlock()
			if err := pubsub.Close(); err != nil {
				c.log.Warn("pubsub close failed", "error", err)
			}
		})
	}
	return events, stop, nil
}

// OnDisconnectRemove implements backend.Channel by marking the path
// ephemeral: its key carries a TTL refreshed by the heartbeat and ages out
// when this session dies.
func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return constants.ErrClosed
	}
	c.ephemeral[path] = true
	c.mu.Unlock()
	if err := c.rdb.Expire(ctx, key(path), ephemeralTTL).Err(); err != nil {
		return fmt.Errorf("%w: expire %s: %v", constants.ErrBackendUnavailable, path, err)
	}
	return nil
}

func (c *Client) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			paths := make([]string, 0, len(c.ephemeral))
			for p := range c.ephemeral {
				paths = append(paths, p)
			}
			c.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRPCTimeout)
			for _, p := range paths {
				if err := c.rdb.Expire(ctx, key(p), ephemeralTTL).Err(); err != nil {
					c.log.Warn("ttl refresh failed", "path", p, "error", err)
				}
			}
			cancel()
		}
	}
}

// Close removes this session's ephemeral records eagerly, then stops the
// heartbeat. The redis client itself belongs to the caller.
func (c *Client) Close(ctx context.Context) error {
	var firstErr error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		paths := make([]string, 0, len(c.ephemeral))
		for p := range c.ephemeral {
			paths = append(paths, p)
		}
		c.ephemeral = make(map[string]bool)
		open := make([]*redis.PubSub, 0, len(c.pubsubs))
		for ps := range c.pubsubs {
			open = append(open, ps)
		}
		c.pubsubs = make(map[*redis.PubSub]bool)
		c.mu.Unlock()

		for _, p := range paths {
			if err := c.Remove(ctx, p); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		for _, ps := range open {
			_ = ps.Close()
		}

		close(c.stop)
		c.wg.Wait()
	})
	return firstErr
}

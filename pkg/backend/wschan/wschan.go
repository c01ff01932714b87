// Package wschan implements backend.Channel over a websocket RPC
// connection with CBOR framing. Requests carry a random id and are matched
// to responses through per-request channels; server-initiated pushes carry
// a subscription id instead of a request id and fan out to the matching
// subscriber.
package wschan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/liveboard/liveboard.go/internal/rand"
	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/logger"
)

// DefaultDialer is the gorilla dialer used by Connect: compression on and
// the cbor subprotocol announced.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// RPCError is a server-reported request failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     string          `json:"id,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Result cbor.RawMessage `json:"result,omitempty"`
}

// push is a server-initiated message on an active subscription.
type push struct {
	SubscriptionID string          `json:"subscriptionId"`
	Action         backend.Action  `json:"action"`
	Path           string          `json:"path"`
	At             time.Time       `json:"at"`
	Value          cbor.RawMessage `json:"value,omitempty"`
}

type wireEvent struct {
	Action backend.Action  `json:"action"`
	Path   string          `json:"path"`
	At     time.Time       `json:"at"`
	Value  cbor.RawMessage `json:"value,omitempty"`
}

type putResult struct {
	At time.Time `json:"at"`
}

type getResult struct {
	At    time.Time       `json:"at"`
	Value cbor.RawMessage `json:"value"`
}

type subscribeResult struct {
	SubscriptionID string `json:"subscriptionId"`
}

// Params configures a Client.
type Params struct {
	// BaseURL is the ws:// or wss:// endpoint; "/rpc" is appended.
	BaseURL     string
	Logger      logger.Logger
	Marshaler   backend.Marshaler
	Unmarshaler backend.Unmarshaler
	// Timeout bounds each RPC round trip; defaults to
	// constants.DefaultRPCTimeout. Zero relies on the caller's context.
	Timeout time.Duration
}

// Client is a backend.Channel speaking the websocket RPC protocol.
type Client struct {
	baseURL     string
	log         logger.Logger
	marshaler   backend.Marshaler
	unmarshaler backend.Unmarshaler
	timeout     time.Duration

	conn     *gorilla.Conn
	connLock sync.Mutex

	chanLock      sync.RWMutex
	responses     map[string]chan rpcResponse
	subscriptions map[string]chan backend.Event

	closeOnce  sync.Once
	closeChan  chan struct{}
	closeError error
}

var _ backend.Channel = (*Client)(nil)

// New creates a Client. Call Connect before use.
func New(p Params) *Client {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	if p.Marshaler == nil {
		p.Marshaler = backend.CborMarshaler{}
	}
	if p.Unmarshaler == nil {
		p.Unmarshaler = backend.CborUnmarshaler{}
	}
	if p.Timeout == 0 {
		p.Timeout = constants.DefaultRPCTimeout
	}
	return &Client{
		baseURL:       p.BaseURL,
		log:           p.Logger,
		marshaler:     p.Marshaler,
		unmarshaler:   p.Unmarshaler,
		timeout:       p.Timeout,
		responses:     make(map[string]chan rpcResponse),
		subscriptions: make(map[string]chan backend.Event),
		closeChan:     make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, res, err := DefaultDialer.DialContext(ctx, c.baseURL+"/rpc", nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", constants.ErrBackendUnavailable, c.baseURL, err)
	}
	defer res.Body.Close()

	c.conn = conn
	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.closeChan:
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.failRead(err)
			return
		}
		c.handleMessage(data)
	}
}

// failRead records the terminal read failure and tears the session down.
// gorilla marks the connection failed after any read error, so the loop
// never retries a read.
func (c *Client) failRead(err error) {
	select {
	case <-c.closeChan:
		// Clean shutdown already in progress.
		return
	default:
	}
	switch {
	case errors.Is(err, net.ErrClosed):
		c.closeError = net.ErrClosed
	case gorilla.IsUnexpectedCloseError(err):
		c.closeError = io.ErrClosedPipe
	default:
		c.closeError = fmt.Errorf("%w: read: %v", constants.ErrBackendUnavailable, err)
		c.log.Error("websocket read failed", "error", err)
	}
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.connLock.Lock()
		defer c.connLock.Unlock()
		if cerr := c.conn.Close(); cerr != nil {
			c.log.Debug("connection close after read failure", "error", cerr)
		}
	})
}

func (c *Client) handleMessage(data []byte) {
	var res rpcResponse
	if err := c.unmarshaler.Unmarshal(data, &res); err != nil {
		c.log.Error("undecodable frame", "error", err)
		return
	}

	if res.ID != "" {
		c.chanLock.RLock()
		ch, ok := c.responses[res.ID]
		c.chanLock.RUnlock()
		if !ok {
			c.log.Warn("response for unknown request", "id", res.ID)
			return
		}
		ch <- res
		return
	}

	// No request id: a subscription push.
	var p push
	if err := cbor.Unmarshal(data, &p); err != nil {
		c.log.Error("undecodable push", "error", err)
		return
	}
	// The send happens under the read lock so an unsubscribe (which closes
	// the channel under the write lock) cannot race it.
	c.chanLock.RLock()
	defer c.chanLock.RUnlock()
	sub, ok := c.subscriptions[p.SubscriptionID]
	if !ok {
		// Push raced our unsubscribe.
		return
	}
	select {
	case sub <- backend.Event{Action: p.Action, Path: p.Path, At: p.At, Value: p.Value}:
	default:
		c.log.Warn("subscriber too slow, event dropped", "path", p.Path)
	}
}

func (c *Client) write(v any) error {
	data, err := c.marshaler.Marshal(v)
	if err != nil {
		return err
	}
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.conn.WriteMessage(gorilla.BinaryMessage, data)
}

// send performs one RPC round trip, decoding the result into dest when
// dest is non-nil.
func (c *Client) send(ctx context.Context, dest any, method string, params ...any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case <-c.closeChan:
		if c.closeError != nil {
			return c.closeError
		}
		return constants.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	ch := make(chan rpcResponse, 1)
	c.chanLock.Lock()
	c.responses[id] = ch
	c.chanLock.Unlock()
	defer func() {
		c.chanLock.Lock()
		delete(c.responses, id)
		c.chanLock.Unlock()
	}()

	if err := c.write(&rpcRequest{ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%w: %s: %v", constants.ErrBackendUnavailable, method, err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return ctx.Err()
	case res := <-ch:
		if res.Error != nil {
			return res.Error
		}
		if dest == nil || res.Result == nil {
			return nil
		}
		if err := c.unmarshaler.Unmarshal(res.Result, dest); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

// Put implements backend.Channel.
func (c *Client) Put(ctx context.Context, path string, value any) (time.Time, error) {
	raw, err := c.marshaler.Marshal(value)
	if err != nil {
		return time.Time{}, err
	}
	var res putResult
	if err := c.send(ctx, &res, "put", path, cbor.RawMessage(raw)); err != nil {
		return time.Time{}, err
	}
	return res.At, nil
}

// Get implements backend.Channel.
func (c *Client) Get(ctx context.Context, path string, dst any) (time.Time, bool, error) {
	var res *getResult
	if err := c.send(ctx, &res, "get", path); err != nil {
		return time.Time{}, false, err
	}
	if res == nil || res.Value == nil {
		return time.Time{}, false, nil
	}
	if dst != nil {
		if err := c.unmarshaler.Unmarshal(res.Value, dst); err != nil {
			return time.Time{}, false, err
		}
	}
	return res.At, true, nil
}

// List implements backend.Channel.
func (c *Client) List(ctx context.Context, prefix string) ([]backend.Event, error) {
	var res []wireEvent
	if err := c.send(ctx, &res, "list", prefix); err != nil {
		return nil, err
	}
	events := make([]backend.Event, 0, len(res))
	for _, ev := range res {
		events = append(events, backend.Event{
			Action: backend.PutAction,
			Path:   ev.Path,
			At:     ev.At,
			Value:  ev.Value,
		})
	}
	return events, nil
}

// Remove implements backend.Channel.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.send(ctx, nil, "remove", path)
}

const subBuffer = 1024

// Subscribe implements backend.Channel.
func (c *Client) Subscribe(ctx context.Context, prefix string) (<-chan backend.Event, func(), error) {
	var res subscribeResult
	if err := c.send(ctx, &res, "subscribe", prefix); err != nil {
		return nil, nil, err
	}

	events := make(chan backend.Event, subBuffer)
	c.chanLock.Lock()
	c.subscriptions[res.SubscriptionID] = events
	c.chanLock.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.chanLock.Lock()
			delete(c.subscriptions, res.SubscriptionID)
			c.chanLock.Unlock()
			close(events)

			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.send(ctx, nil, "unsubscribe", res.SubscriptionID); err != nil &&
				!errors.Is(err, constants.ErrClosed) {
				c.log.Warn("unsubscribe failed", "subscription", res.SubscriptionID, "error", err)
			}
		})
	}
	return events, stop, nil
}

// OnDisconnectRemove implements backend.Channel. The server tracks the
// registration per connection and deletes the path when the socket drops.
func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	return c.send(ctx, nil, "onDisconnectRemove", path)
}

// Close sends the websocket close frame, then tears the connection down
// regardless of whether the server acknowledged it.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)

		c.connLock.Lock()
		defer c.connLock.Unlock()
		if c.conn == nil {
			return
		}

		writeErr := make(chan error, 1)
		go func() {
			writeErr <- c.conn.WriteMessage(gorilla.CloseMessage,
				gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		}()
		select {
		case werr := <-writeErr:
			if werr != nil {
				c.log.Error("close frame write failed", "error", werr)
			}
		case <-ctx.Done():
		}

		err = c.conn.Close()
	})
	return err
}

// Package backend defines the two collaborator contracts the engine is
// built against: a realtime Channel for ephemeral fan-out state (presence,
// cursors, locks) and a Documents store for canonical shape, connection and
// group records.
//
// Implementations live in subpackages: memory (in-process hub, also the
// test double), wschan (websocket RPC client), redischan (redis), and
// mongodoc (mongo document store). The engine never depends on a concrete
// backend.
package backend

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Action tags a channel event.
type Action string

const (
	PutAction    Action = "PUT"
	RemoveAction Action = "REMOVE"
)

// Event is one change delivered on a channel subscription.
type Event struct {
	Action Action
	// Path is the slash-separated record path, e.g.
	// "canvases/<canvas>/locks/<shape>".
	Path string
	// At is the server-assigned write time of the record.
	At time.Time
	// Value holds the record payload for PutAction events.
	Value cbor.RawMessage
}

// Decode unmarshals the event payload into dst.
func (e *Event) Decode(dst any) error {
	return cbor.Unmarshal(e.Value, dst)
}

// Channel is the realtime fan-out contract: path-scoped writes, reads and
// subscriptions, plus registration of cleanup to run if this session's
// connection drops without clean shutdown.
//
// A Channel value represents one client session; Close tears the session
// down and fires its registered disconnect removals.
type Channel interface {
	// Put writes value at path and returns the server-assigned write time.
	Put(ctx context.Context, path string, value any) (time.Time, error)

	// Get reads the record at path into dst. ok is false when the record
	// does not exist.
	Get(ctx context.Context, path string, dst any) (at time.Time, ok bool, err error)

	// List returns every record under the path prefix as PutAction events.
	List(ctx context.Context, prefix string) ([]Event, error)

	Remove(ctx context.Context, path string) error

	// Subscribe streams changes under prefix until stop is called or ctx
	// is cancelled. Events arrive in write order per path.
	Subscribe(ctx context.Context, prefix string) (events <-chan Event, stop func(), err error)

	// OnDisconnectRemove registers path for removal when this session
	// ends without an explicit Remove.
	OnDisconnectRemove(ctx context.Context, path string) error

	Close(ctx context.Context) error
}

// Marshaler encodes values for the wire.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
}

// Unmarshaler decodes wire payloads.
type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
}

// CborMarshaler is the default codec.
type CborMarshaler struct{}

func (CborMarshaler) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

// CborUnmarshaler is the default codec.
type CborUnmarshaler struct{}

func (CborUnmarshaler) Unmarshal(data []byte, dst any) error { return cbor.Unmarshal(data, dst) }

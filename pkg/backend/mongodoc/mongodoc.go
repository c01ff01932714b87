// Package mongodoc implements backend.Documents on MongoDB. Each object
// kind lives in its own collection; the model payload is stored as CBOR
// bytes next to bookkeeping fields, so the wire format stays identical
// across backends. Field-level patches use a compare-and-swap loop on a
// version counter, and the change feed rides MongoDB change streams.
package mongodoc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/liveboard/liveboard.go/pkg/backend"
	"github.com/liveboard/liveboard.go/pkg/constants"
	"github.com/liveboard/liveboard.go/pkg/logger"
	"github.com/liveboard/liveboard.go/pkg/models"
)

const (
	shapesColl      = "shapes"
	connectionsColl = "connections"
	groupsColl      = "groups"

	// casRetries bounds the patch compare-and-swap loop.
	casRetries = 5
)

// record is the stored document shape for every collection.
type record struct {
	ID        string    `bson:"_id"` // "<canvasID>/<objectID>"
	CanvasID  string    `bson:"canvasId"`
	ObjectID  string    `bson:"objectId"`
	Version   int64     `bson:"version"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// Params configures a Store.
type Params struct {
	// Database is an already-connected mongo database handle.
	Database *mongo.Database
	Logger   logger.Logger
}

// Store is a backend.Documents on MongoDB.
type Store struct {
	db  *mongo.Database
	log logger.Logger
}

var _ backend.Documents = (*Store)(nil)

// New creates a Store.
func New(p Params) *Store {
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
	return &Store{db: p.Database, log: p.Logger}
}

func docID(canvasID, objectID string) string {
	return canvasID + "/" + objectID
}

// put upserts the full record and returns the server-assigned write time.
func (s *Store) put(ctx context.Context, coll, canvasID, objectID string, model any) (time.Time, error) {
	data, err := cbor.Marshal(model)
	if err != nil {
		return time.Time{}, err
	}
	update := bson.M{
		"$set": bson.M{
			"canvasId": canvasID,
			"objectId": objectID,
			"data":     data,
		},
		"$inc":         bson.M{"version": 1},
		"$currentDate": bson.M{"updatedAt": true},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var rec record
	err = s.db.Collection(coll).
		FindOneAndUpdate(ctx, bson.M{"_id": docID(canvasID, objectID)}, update, opts).
		Decode(&rec)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: put %s/%s: %v", constants.ErrBackendUnavailable, coll, objectID, err)
	}
	return rec.UpdatedAt, nil
}

// patch merges fields into the stored payload with a CAS loop on the
// version counter, so concurrent patches of different fields both land.
func (s *Store) patch(ctx context.Context, coll, canvasID, objectID string, fields map[string]any) (time.Time, error) {
	id := docID(canvasID, objectID)
	for attempt := 0; attempt < casRetries; attempt++ {
		var cur record
		err := s.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Decode(&cur)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, coll, objectID)
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: patch read %s/%s: %v", constants.ErrBackendUnavailable, coll, objectID, err)
		}

		merged, err := mergeData(cur.Data, fields)
		if err != nil {
			return time.Time{}, err
		}

		update := bson.M{
			"$set":         bson.M{"data": merged},
			"$inc":         bson.M{"version": 1},
			"$currentDate": bson.M{"updatedAt": true},
		}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var rec record
		err = s.db.Collection(coll).
			FindOneAndUpdate(ctx, bson.M{"_id": id, "version": cur.Version}, update, opts).
			Decode(&rec)
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Version moved under us, or the record vanished: loop decides.
			continue
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: patch %s/%s: %v", constants.ErrBackendUnavailable, coll, objectID, err)
		}
		return rec.UpdatedAt, nil
	}
	return time.Time{}, fmt.Errorf("patch %s/%s: version conflict persisted after %d attempts", coll, objectID, casRetries)
}

// mergeData applies wire-keyed fields to the CBOR payload; a nil value
// deletes the key.
func mergeData(data []byte, fields map[string]any) ([]byte, error) {
	doc := make(map[string]any)
	if len(data) > 0 {
		if err := cbor.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return cbor.Marshal(doc)
}

func (s *Store) remove(ctx context.Context, coll, canvasID, objectID string) error {
	_, err := s.db.Collection(coll).DeleteOne(ctx, bson.M{"_id": docID(canvasID, objectID)})
	if err != nil {
		return fmt.Errorf("%w: remove %s/%s: %v", constants.ErrBackendUnavailable, coll, objectID, err)
	}
	return nil
}

// PutShape implements backend.Documents.
func (s *Store) PutShape(ctx context.Context, canvasID string, sh *models.Shape) (time.Time, error) {
	return s.put(ctx, shapesColl, canvasID, sh.ID, sh)
}

// PatchShape implements backend.Documents.
func (s *Store) PatchShape(ctx context.Context, canvasID, id string, fields map[string]any) (time.Time, error) {
	return s.patch(ctx, shapesColl, canvasID, id, fields)
}

// RemoveShape implements backend.Documents.
func (s *Store) RemoveShape(ctx context.Context, canvasID, id string) error {
	return s.remove(ctx, shapesColl, canvasID, id)
}

// PutConnection implements backend.Documents.
func (s *Store) PutConnection(ctx context.Context, canvasID string, c *models.Connection) (time.Time, error) {
	return s.put(ctx, connectionsColl, canvasID, c.ID, c)
}

// PatchConnection implements backend.Documents.
func (s *Store) PatchConnection(ctx context.Context, canvasID, id string, fields map[string]any) (time.Time, error) {
	return s.patch(ctx, connectionsColl, canvasID, id, fields)
}

// RemoveConnection implements backend.Documents.
func (s *Store) RemoveConnection(ctx context.Context, canvasID, id string) error {
	return s.remove(ctx, connectionsColl, canvasID, id)
}

// PutGroup implements backend.Documents.
func (s *Store) PutGroup(ctx context.Context, canvasID string, g *models.ShapeGroup) (time.Time, error) {
	return s.put(ctx, groupsColl, canvasID, g.ID, g)
}

// RemoveGroup implements backend.Documents.
func (s *Store) RemoveGroup(ctx context.Context, canvasID, id string) error {
	return s.remove(ctx, groupsColl, canvasID, id)
}

// LoadSnapshot implements backend.Documents.
func (s *Store) LoadSnapshot(ctx context.Context, canvasID string) (*backend.Snapshot, error) {
	snap := &backend.Snapshot{}

	if err := loadAll(ctx, s.db.Collection(shapesColl), canvasID, func(data []byte) error {
		var sh models.Shape
		if err := cbor.Unmarshal(data, &sh); err != nil {
			return err
		}
		snap.Shapes = append(snap.Shapes, &sh)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadAll(ctx, s.db.Collection(connectionsColl), canvasID, func(data []byte) error {
		var c models.Connection
		if err := cbor.Unmarshal(data, &c); err != nil {
			return err
		}
		snap.Connections = append(snap.Connections, &c)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadAll(ctx, s.db.Collection(groupsColl), canvasID, func(data []byte) error {
		var g models.ShapeGroup
		if err := cbor.Unmarshal(data, &g); err != nil {
			return err
		}
		snap.Groups = append(snap.Groups, &g)
		return nil
	}); err != nil {
		return nil, err
	}

	return snap, nil
}

func loadAll(ctx context.Context, coll *mongo.Collection, canvasID string, each func(data []byte) error) error {
	cur, err := coll.Find(ctx, bson.M{"canvasId": canvasID})
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", constants.ErrBackendUnavailable, coll.Name(), err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return err
		}
		if err := each(rec.Data); err != nil {
			return err
		}
	}
	return cur.Err()
}

const watchBuffer = 1024

// Watch implements backend.Documents with one change stream per
// collection, merged into a single feed.
func (s *Store) Watch(ctx context.Context, canvasID string) (<-chan backend.DocEvent, func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	kinds := []struct {
		coll string
		kind backend.DocKind
	}{
		{shapesColl, backend.KindShape},
		{connectionsColl, backend.KindConnection},
		{groupsColl, backend.KindGroup},
	}

	events := make(chan backend.DocEvent, watchBuffer)
	var wg sync.WaitGroup
	var streams []*mongo.ChangeStream

	// Deletes carry no fullDocument, so the match covers both the payload's
	// canvasId and the _id prefix.
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{
		"$or": bson.A{
			bson.M{"fullDocument.canvasId": canvasID},
			bson.M{"documentKey._id": bson.M{"$regex": "^" + regexp.QuoteMeta(canvasID) + "/"}},
		},
	}}}}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	for _, k := range kinds {
		stream, err := s.db.Collection(k.coll).Watch(watchCtx, pipeline, opts)
		if err != nil {
			cancel()
			for _, st := range streams {
				_ = st.Close(context.Background())
			}
			return nil, nil, fmt.Errorf("%w: watch %s: %v", constants.ErrBackendUnavailable, k.coll, err)
		}
		streams = append(streams, stream)

		wg.Add(1)
		go func(stream *mongo.ChangeStream, kind backend.DocKind) {
			defer wg.Done()
			s.pump(watchCtx, stream, kind, canvasID, events)
		}(stream, k.kind)
	}

	go func() {
		wg.Wait()
		close(events)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			for _, st := range streams {
				_ = st.Close(context.Background())
			}
		})
	}
	return events, stop, nil
}

func (s *Store) pump(ctx context.Context, stream *mongo.ChangeStream, kind backend.DocKind, canvasID string, out chan<- backend.DocEvent) {
	for stream.Next(ctx) {
		var ce struct {
			OperationType string  `bson:"operationType"`
			FullDocument  *record `bson:"fullDocument"`
			DocumentKey   struct {
				ID string `bson:"_id"`
			} `bson:"documentKey"`
		}
		if err := stream.Decode(&ce); err != nil {
			s.log.Warn("undecodable change event", "kind", string(kind), "error", err)
			continue
		}

		ev := backend.DocEvent{Kind: kind}
		switch ce.OperationType {
		case "delete":
			ev.Action = backend.RemoveAction
			ev.ID = strings.TrimPrefix(ce.DocumentKey.ID, canvasID+"/")
			ev.At = time.Now()
		case "insert", "update", "replace":
			if ce.FullDocument == nil {
				// updateLookup lost the race with a delete.
				continue
			}
			ev.Action = backend.PutAction
			ev.ID = ce.FullDocument.ObjectID
			ev.At = ce.FullDocument.UpdatedAt
			if err := decodeModel(&ev, ce.FullDocument.Data); err != nil {
				s.log.Warn("undecodable document payload", "kind", string(kind), "id", ev.ID, "error", err)
				continue
			}
		default:
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.log.Error("change stream failed", "kind", string(kind), "error", err)
	}
}

func decodeModel(ev *backend.DocEvent, data []byte) error {
	switch ev.Kind {
	case backend.KindShape:
		var sh models.Shape
		if err := cbor.Unmarshal(data, &sh); err != nil {
			return err
		}
		ev.Shape = &sh
	case backend.KindConnection:
		var c models.Connection
		if err := cbor.Unmarshal(data, &c); err != nil {
			return err
		}
		ev.Connection = &c
	case backend.KindGroup:
		var g models.ShapeGroup
		if err := cbor.Unmarshal(data, &g); err != nil {
			return err
		}
		ev.Group = &g
	}
	return nil
}

package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of MongoDB.
//
// Collection schema:
//
//	{
//	  _id:        string,    // task ID
//	  payload:    []byte,    // gob-encoded Task
//	  not_before: int64,     // unix nanoseconds
//	}
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "pedidoflow", collName to "queue_tasks".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "pedidoflow"
	}
	if collName == "" {
		collName = "queue_tasks"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection(collName),
		pollInterval: 100 * time.Millisecond,
	}
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoQueueDoc struct {
	ID        string `bson:"_id"`
	Payload   []byte `bson:"payload"`
	NotBefore int64  `bson:"not_before"`
}

// Enqueue inserts a document for the given Task. The task ID is the
// document _id, so a task that is still queued is not inserted twice.
func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	t = stamp(t, time.Now())
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.coll.InsertOne(ctx, mongoQueueDoc{
		ID:        t.ID,
		Payload:   data,
		NotBefore: t.NotBefore.UnixNano(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Dequeue blocks (via polling) until a task is available or ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle poll.
	// Initialize stopped; reset only when needed.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var doc mongoQueueDoc
		err := q.coll.FindOneAndDelete(
			ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UnixNano()}},
			options.FindOneAndDelete().SetSort(bson.D{{Key: "not_before", Value: 1}}),
		).Decode(&doc)

		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// No tasks yet, wait a bit using a reusable timer.
				tmr.Reset(q.pollInterval)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-tmr.C:
				}
				continue
			}
			return nil, err
		}

		return DecodeTask(doc.Payload)
	}
}

// Len returns an approximate number of queued tasks.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		slog.Warn("mongo queue: length failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}

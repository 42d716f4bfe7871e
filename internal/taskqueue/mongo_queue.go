package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue is a task queue stored in a MongoDB collection. A task is
// claimed by atomically deleting the oldest due document.
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

type mongoQueueDoc struct {
	ID         string `bson:"_id"`
	Payload    []byte `bson:"payload"`
	NotBefore  int64  `bson:"not_before"`
	EnqueuedAt int64  `bson:"enqueued_at"`
}

// NewMongoQueue returns a queue over dbName.collName. Empty names select
// "taskgraph" and "queue".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "taskgraph"
	}
	if collName == "" {
		collName = "queue"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection(collName),
		pollInterval: 100 * time.Millisecond,
	}
}

var _ Queue = (*MongoQueue)(nil)

func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	notBefore := t.NotBefore
	if notBefore.IsZero() {
		notBefore = t.EnqueuedAt
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	// Task ids repeat when a task is requeued, so documents get their own.
	_, err = q.coll.InsertOne(ctx, mongoQueueDoc{
		ID:         uuid.NewString(),
		Payload:    data,
		NotBefore:  notBefore.UnixNano(),
		EnqueuedAt: t.EnqueuedAt.UnixNano(),
	})
	return err
}

// Dequeue polls until a due task is claimed or ctx is done.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := time.NewTimer(q.pollInterval)
	defer tmr.Stop()

	opts := options.FindOneAndDelete().
		SetSort(bson.D{{Key: "not_before", Value: 1}, {Key: "enqueued_at", Value: 1}})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var doc mongoQueueDoc
		err := q.coll.FindOneAndDelete(ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UnixNano()}}, opts).Decode(&doc)
		switch {
		case err == nil:
			task, err := DecodeTask(doc.Payload)
			if err != nil {
				return nil, fmt.Errorf("decode queued task %s: %w", doc.ID, err)
			}
			task.Attempts++
			return task, nil
		case !errors.Is(err, mongo.ErrNoDocuments):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

// Len counts queued tasks, including ones not yet due.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		slog.Warn("mongo queue length failed", "error", err)
		return 0
	}
	return int(n)
}

package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// MongoStore is an InstanceStore and HistoryStore backed by MongoDB.
//
// Each history event is its own document. Unique indexes on
// (instance_id, seq) and (instance_id, task_id, slot) reject a second
// writer; the loser re-reads the history and validates again.
type MongoStore struct {
	instances *mongo.Collection
	history   *mongo.Collection
}

var (
	_ InstanceStore = (*MongoStore)(nil)
	_ HistoryStore  = (*MongoStore)(nil)
)

// NewMongoStore creates a Mongo-backed store and ensures its indexes.
// dbName defaults to "pedidoflow" if empty.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "pedidoflow"
	}
	db := client.Database(dbName)
	s := &MongoStore{
		instances: db.Collection("instances"),
		history:   db.Collection("history_events"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMongoPersistence returns a Persistence whose stores share one MongoStore.
func NewMongoPersistence(ctx context.Context, client *mongo.Client, dbName string) (Persistence, error) {
	s, err := NewMongoStore(ctx, client, dbName)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{
		Instances: s,
		History:   s,
		Close:     func() error { return client.Disconnect(context.Background()) },
	}, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.history.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "instance_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "instance_id", Value: 1}, {Key: "task_id", Value: 1}, {Key: "slot", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"task_id": bson.M{"$gt": 0}}),
		},
	})
	if err != nil {
		return err
	}
	_, err = s.instances.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}, {Key: "status", Value: 1}},
	})
	return err
}

type mongoInstanceDoc struct {
	ID             string `bson:"_id"`
	Name           string `bson:"name"`
	Status         string `bson:"status"`
	CustomStatus   string `bson:"custom_status"`
	Input          []byte `bson:"input,omitempty"`
	Output         []byte `bson:"output,omitempty"`
	Error          string `bson:"error,omitempty"`
	CreatedAt      int64  `bson:"created_at"`
	UpdatedAt      int64  `bson:"updated_at"`
	LeaseOwner     string `bson:"lease_owner"`
	LeaseExpiresAt int64  `bson:"lease_expires_at"`
}

func (d mongoInstanceDoc) instance() *api.Instance {
	return instanceRecord{
		ID:           d.ID,
		Name:         d.Name,
		Status:       d.Status,
		CustomStatus: d.CustomStatus,
		Input:        d.Input,
		Output:       d.Output,
		Error:        d.Error,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}.instance()
}

type mongoEventDoc struct {
	InstanceID string `bson:"instance_id"`
	Seq        int    `bson:"seq"`
	At         int64  `bson:"at"`
	Type       string `bson:"type"`
	TaskID     int    `bson:"task_id"`
	Slot       string `bson:"slot"`
	Name       string `bson:"name,omitempty"`
	Payload    []byte `bson:"payload,omitempty"`
	Error      string `bson:"error,omitempty"`
}

func (s *MongoStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	rec := toInstanceRecord(inst)
	doc := mongoInstanceDoc{
		ID:           rec.ID,
		Name:         rec.Name,
		Status:       rec.Status,
		CustomStatus: rec.CustomStatus,
		Input:        rec.Input,
		Output:       rec.Output,
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	_, err := s.instances.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	rec := toInstanceRecord(inst)
	update := bson.M{
		"$set": bson.M{
			"name":          rec.Name,
			"status":        rec.Status,
			"custom_status": rec.CustomStatus,
			"input":         rec.Input,
			"output":        rec.Output,
			"error":         rec.Error,
			"updated_at":    rec.UpdatedAt,
		},
	}

	res, err := s.instances.UpdateByID(ctx, inst.ID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *MongoStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	var doc mongoInstanceDoc
	err := s.instances.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return doc.instance(), nil
}

func (s *MongoStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	bfilter := bson.M{}
	if filter.Name != "" {
		bfilter["name"] = filter.Name
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.instances.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.Instance
	for cur.Next(ctx) {
		var doc mongoInstanceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, doc.instance())
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MongoStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.instances.UpdateOne(ctx,
		bson.M{
			"_id": instanceID,
			"$or": bson.A{
				bson.M{"lease_owner": ""},
				bson.M{"lease_expires_at": bson.M{"$lte": now.UnixNano()}},
				bson.M{"lease_owner": owner},
			},
		},
		bson.M{"$set": bson.M{"lease_owner": owner, "lease_expires_at": now.Add(ttl).UnixNano()}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MongoStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	_, err := s.instances.UpdateOne(ctx,
		bson.M{"_id": instanceID, "lease_owner": owner},
		bson.M{"$set": bson.M{"lease_owner": "", "lease_expires_at": int64(0)}},
	)
	return err
}

func (s *MongoStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		existing, err := s.ListEvents(ctx, ev.InstanceID)
		if err != nil {
			return api.HistoryEvent{}, err
		}
		stored, err := prepareAppend(existing, ev)
		if err != nil {
			return api.HistoryEvent{}, err
		}

		rec := toEventRecord(stored)
		_, err = s.history.InsertOne(ctx, mongoEventDoc{
			InstanceID: rec.InstanceID,
			Seq:        rec.Seq,
			At:         rec.At,
			Type:       rec.Type,
			TaskID:     rec.TaskID,
			Slot:       taskSlot(stored.Type),
			Name:       rec.Name,
			Payload:    rec.Payload,
			Error:      rec.Error,
		})
		if err == nil {
			return stored, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return api.HistoryEvent{}, err
		}
		lastErr = err
	}
	return api.HistoryEvent{}, lastErr
}

func (s *MongoStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.history.Find(ctx, bson.M{"instance_id": instanceID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.HistoryEvent
	for cur.Next(ctx) {
		var doc mongoEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, eventRecord{
			InstanceID: doc.InstanceID,
			Seq:        doc.Seq,
			At:         doc.At,
			Type:       doc.Type,
			TaskID:     doc.TaskID,
			Name:       doc.Name,
			Payload:    doc.Payload,
			Error:      doc.Error,
		}.event())
	}
	return out, cur.Err()
}

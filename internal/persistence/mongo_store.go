package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/taskgraph/pkg/api"
)

// MongoStore is a Store backed by MongoDB. Runs are updated with a filter on
// their version field, which gives SaveRun its compare-and-swap semantics.
type MongoStore struct {
	definitions *mongo.Collection
	runs        *mongo.Collection
	approvals   *mongo.Collection
	timeout     time.Duration
}

// Ensure it implements Store.
var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed store. dbName defaults to "taskgraph".
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "taskgraph"
	}
	db := client.Database(dbName)
	return &MongoStore{
		definitions: db.Collection("definitions"),
		runs:        db.Collection("runs"),
		approvals:   db.Collection("approvals"),
		timeout:     5 * time.Second,
	}
}

type mongoDefinitionDoc struct {
	ID           string `bson:"_id"`
	DefinitionID string `bson:"definition_id"`
	Version      string `bson:"version"`
	Seq          int64  `bson:"seq"`
	Body         []byte `bson:"body"`
}

type mongoRunDoc struct {
	ID              string `bson:"_id"`
	DefinitionID    string `bson:"definition_id"`
	Status          string `bson:"status"`
	Version         int64  `bson:"version"`
	CancelRequested bool   `bson:"cancel_requested"`
	CreatedAt       int64  `bson:"created_at"`
	Body            []byte `bson:"body"`
}

type mongoApprovalDoc struct {
	ID        string `bson:"_id"`
	RunID     string `bson:"run_id"`
	Decision  string `bson:"decision"`
	CreatedAt int64  `bson:"created_at"`
	Body      []byte `bson:"body"`
}

func (s *MongoStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *MongoStore) SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	def.Version = versionOf(def)
	body, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	_, err = s.definitions.InsertOne(ctx, mongoDefinitionDoc{
		ID:           def.ID + "@" + def.Version,
		DefinitionID: def.ID,
		Version:      def.Version,
		Seq:          time.Now().UnixNano(),
		Body:         body,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *MongoStore) GetDefinition(ctx context.Context, id, version string) (api.WorkflowDefinition, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	filter := bson.M{"definition_id": id}
	opts := options.FindOne()
	if version != "" {
		filter["version"] = version
	} else {
		opts.SetSort(bson.D{{Key: "seq", Value: -1}})
	}

	var doc mongoDefinitionDoc
	if err := s.definitions.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return api.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
		}
		return api.WorkflowDefinition{}, err
	}
	return decodeDefinition(doc.Body)
}

func (s *MongoStore) ListDefinitionVersions(ctx context.Context, id string) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	cur, err := s.definitions.Find(ctx, bson.M{"definition_id": id},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc mongoDefinitionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Version)
	}
	return out, cur.Err()
}

func (s *MongoStore) CreateRun(ctx context.Context, run *api.WorkflowRun) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	run.Version = 1
	body, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.runs.InsertOne(ctx, mongoRunDoc{
		ID:           run.ID,
		DefinitionID: run.DefinitionID,
		Status:       string(run.Status),
		Version:      run.Version,
		CreatedAt:    run.CreatedAt.UnixNano(),
		Body:         body,
	})
	return err
}

func (s *MongoStore) LoadRun(ctx context.Context, id string) (*api.WorkflowRun, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var doc mongoRunDoc
	if err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return decodeRun(doc.Body)
}

func (s *MongoStore) SaveRun(ctx context.Context, run *api.WorkflowRun) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	expected := run.Version
	run.Version = expected + 1
	body, err := encodeRun(run)
	if err != nil {
		run.Version = expected
		return err
	}

	res, err := s.runs.UpdateOne(ctx,
		bson.M{"_id": run.ID, "version": expected},
		bson.M{"$set": bson.M{
			"status":  string(run.Status),
			"version": run.Version,
			"body":    body,
		}},
	)
	if err != nil {
		run.Version = expected
		return err
	}
	if res.MatchedCount == 0 {
		run.Version = expected
		n, err := s.runs.CountDocuments(ctx, bson.M{"_id": run.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrRunNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *MongoStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.WorkflowRun, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*s.timeout)
	defer cancel()

	bfilter := bson.M{}
	if filter.DefinitionID != "" {
		bfilter["definition_id"] = filter.DefinitionID
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	cur, err := s.runs.Find(ctx, bfilter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.WorkflowRun
	for cur.Next(ctx) {
		var doc mongoRunDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		run, err := decodeRun(doc.Body)
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	return results, cur.Err()
}

func (s *MongoStore) RequestCancel(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.runs.UpdateByID(ctx, id, bson.M{"$set": bson.M{"cancel_requested": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *MongoStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var doc mongoRunDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"cancel_requested": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, ErrRunNotFound
		}
		return false, err
	}
	return doc.CancelRequested, nil
}

func (s *MongoStore) CreateApproval(ctx context.Context, req *api.ApprovalRequest) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	body, err := encodeApproval(req)
	if err != nil {
		return err
	}
	_, err = s.approvals.InsertOne(ctx, mongoApprovalDoc{
		ID:        req.ID,
		RunID:     req.RunID,
		Decision:  string(req.Decision),
		CreatedAt: req.CreatedAt.UnixNano(),
		Body:      body,
	})
	return err
}

func (s *MongoStore) GetApproval(ctx context.Context, id string) (*api.ApprovalRequest, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var doc mongoApprovalDoc
	if err := s.approvals.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return decodeApproval(doc.Body)
}

func (s *MongoStore) DecideApproval(ctx context.Context, id string, res api.ApprovalResolution) (*api.ApprovalRequest, bool, error) {
	req, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if req.Decision.Resolved() {
		return req, false, nil
	}

	applyDecision(req, res)
	body, err := encodeApproval(req)
	if err != nil {
		return nil, false, err
	}

	uctx, cancel := s.ctx(ctx)
	defer cancel()
	result, err := s.approvals.UpdateOne(uctx,
		bson.M{"_id": id, "decision": string(api.DecisionPending)},
		bson.M{"$set": bson.M{"decision": string(req.Decision), "body": body}},
	)
	if err != nil {
		return nil, false, err
	}
	if result.MatchedCount == 0 {
		current, err := s.GetApproval(ctx, id)
		return current, false, err
	}
	return req, true, nil
}

func (s *MongoStore) ListPendingApprovals(ctx context.Context) ([]*api.ApprovalRequest, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	cur, err := s.approvals.Find(ctx, bson.M{"decision": string(api.DecisionPending)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*api.ApprovalRequest
	for cur.Next(ctx) {
		var doc mongoApprovalDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		req, err := decodeApproval(doc.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, cur.Err()
}

package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/flowtick/pkg/api"
)

// MongoRunStore is a RunStore backed by a MongoDB collection. Runs are
// stored as native documents keyed by run ID; ConditionalUpdate is a single
// UpdateOne whose filter carries the guard.
type MongoRunStore struct {
	coll *mongo.Collection
}

var _ RunStore = (*MongoRunStore)(nil)

// NewMongoRunStore creates a Mongo-backed run store.
// dbName defaults to "flowtick" if empty, collName defaults to "workflow_runs".
func NewMongoRunStore(client *mongo.Client, dbName, collName string) *MongoRunStore {
	if dbName == "" {
		dbName = "flowtick"
	}
	if collName == "" {
		collName = "workflow_runs"
	}
	return &MongoRunStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

// EnsureIndexes creates the index FindDue relies on.
func (s *MongoRunStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextRunnableAt", Value: 1}},
	})
	return err
}

func (s *MongoRunStore) Create(ctx context.Context, run *api.Run) error {
	_, err := s.coll.InsertOne(ctx, run)
	if mongo.IsDuplicateKeyError(err) {
		return ErrRunExists
	}
	return err
}

func (s *MongoRunStore) Get(ctx context.Context, id string) (*api.Run, error) {
	var run api.Run
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *MongoRunStore) FindDue(ctx context.Context, statuses []api.Status, before time.Time, limit int) ([]*api.Run, error) {
	filter := bson.M{
		"status":         bson.M{"$in": statuses},
		"nextRunnableAt": bson.M{"$lte": before},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "nextRunnableAt", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var runs []*api.Run
	for cur.Next(ctx) {
		var run api.Run
		if err := cur.Decode(&run); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *MongoRunStore) ConditionalUpdate(ctx context.Context, id string, guard Guard, update RunUpdate) error {
	filter, err := mongoGuardFilter(guard)
	if err != nil {
		return err
	}
	filter["_id"] = id

	doc := mongoUpdateDoc(update)
	if len(doc) == 0 {
		// The server rejects empty update documents; only check the guard.
		err := s.coll.FindOne(ctx, filter).Err()
		if err == nil {
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}
	} else {
		res, err := s.coll.UpdateOne(ctx, filter, doc)
		if err != nil {
			return err
		}
		if res.MatchedCount > 0 {
			return nil
		}
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return ErrConflict
}

func mongoGuardFilter(g Guard) (bson.M, error) {
	switch g.kind {
	case guardFree:
		return bson.M{
			"$or": bson.A{
				bson.M{"lock": nil},
				bson.M{"lock.expiresAt": bson.M{"$lte": g.At}},
			},
			"status": bson.M{"$in": activeStatuses},
		}, nil
	case guardHeld:
		return bson.M{
			"lock.ownerId":   g.Owner,
			"lock.expiresAt": bson.M{"$gt": g.At},
			"status":         bson.M{"$in": activeStatuses},
		}, nil
	case guardOwned:
		return bson.M{"lock.ownerId": g.Owner}, nil
	}
	return nil, errors.New("unknown guard kind")
}

func mongoUpdateDoc(u RunUpdate) bson.M {
	set := bson.M{}
	unset := bson.M{}

	if u.Status != "" {
		set["status"] = u.Status
	}
	if u.Steps != nil {
		set["steps"] = u.Steps
	}
	if u.NextStepIndex != nil {
		set["nextStepIndex"] = *u.NextStepIndex
	}
	if u.Context != nil {
		set["context"] = u.Context
	}
	switch {
	case u.ClearNextRunnableAt:
		unset["nextRunnableAt"] = ""
	case u.NextRunnableAt != nil:
		set["nextRunnableAt"] = *u.NextRunnableAt
	}
	switch {
	case u.ClearLease:
		unset["lock"] = ""
	case u.Lease != nil:
		set["lock"] = *u.Lease
	}
	if u.LastError != nil {
		set["lastError"] = *u.LastError
	}
	if !u.UpdatedAt.IsZero() {
		set["updatedAt"] = u.UpdatedAt
	}

	doc := bson.M{}
	if len(set) > 0 {
		doc["$set"] = set
	}
	if len(unset) > 0 {
		doc["$unset"] = unset
	}
	return doc
}

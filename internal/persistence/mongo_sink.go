package persistence

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/flowtick/pkg/api"
)

// MongoSink writes audit events and failure records into three collections
// of one database: audit_events, workflow_failures and agent_failures.
type MongoSink struct {
	events           *mongo.Collection
	workflowFailures *mongo.Collection
	agentFailures    *mongo.Collection
}

var _ api.Sink = (*MongoSink)(nil)

// NewMongoSink creates a MongoSink. dbName defaults to "flowtick".
func NewMongoSink(client *mongo.Client, dbName string) *MongoSink {
	if dbName == "" {
		dbName = "flowtick"
	}
	db := client.Database(dbName)
	return &MongoSink{
		events:           db.Collection("audit_events"),
		workflowFailures: db.Collection("workflow_failures"),
		agentFailures:    db.Collection("agent_failures"),
	}
}

func (s *MongoSink) WriteAuditEvent(ctx context.Context, ev api.AuditEvent) error {
	_, err := s.events.InsertOne(ctx, ev)
	return err
}

func (s *MongoSink) LogWorkflowFailure(ctx context.Context, f api.WorkflowFailure) error {
	_, err := s.workflowFailures.InsertOne(ctx, f)
	return err
}

func (s *MongoSink) LogAgentFailure(ctx context.Context, f api.AgentFailure) error {
	_, err := s.agentFailures.InsertOne(ctx, f)
	return err
}

// ListAuditEvents returns the audit trail of one entity in insertion order.
func (s *MongoSink) ListAuditEvents(ctx context.Context, entityID string) ([]api.AuditEvent, error) {
	cur, err := s.events.Find(ctx,
		bson.M{"entityId": entityID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.AuditEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

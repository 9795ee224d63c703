package persistence

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/flowstate/pkg/api"
)

// MongoPartitionStore is a PartitionStore backed by MongoDB. Node states,
// overrides and run outputs live in three collections keyed by flow_id.
type MongoPartitionStore struct {
	nodes     *mongo.Collection
	overrides *mongo.Collection
	outputs   *mongo.Collection
	timeout   time.Duration
}

// Ensure it implements PartitionStore.
var _ PartitionStore = (*MongoPartitionStore)(nil)

// NewMongoPartitionStore creates a Mongo-backed partition store.
// dbName defaults to "flowstate" if empty.
func NewMongoPartitionStore(client *mongo.Client, dbName string) *MongoPartitionStore {
	if dbName == "" {
		dbName = "flowstate"
	}
	db := client.Database(dbName)
	return &MongoPartitionStore{
		nodes:     db.Collection("node_states"),
		overrides: db.Collection("node_overrides"),
		outputs:   db.Collection("run_outputs"),
		timeout:   5 * time.Second,
	}
}

type mongoMessageDoc struct {
	Status    string `bson:"status"`
	Ticker    string `bson:"ticker"`
	Message   string `bson:"message"`
	Timestamp int64  `bson:"timestamp"`
}

type mongoNodeDoc struct {
	Flow        string            `bson:"flow_id"`
	Node        string            `bson:"node_id"`
	Status      string            `bson:"status"`
	Ticker      *string           `bson:"ticker,omitempty"`
	Message     string            `bson:"message"`
	LastUpdated int64             `bson:"last_updated"`
	Messages    []mongoMessageDoc `bson:"messages,omitempty"`
}

type mongoOverrideDoc struct {
	Flow        string `bson:"flow_id"`
	Node        string `bson:"node_id"`
	DisplayName string `bson:"display_name"`
	ModelName   string `bson:"model_name"`
	Provider    string `bson:"provider"`
}

type mongoOutputDoc struct {
	Flow        string `bson:"flow_id"`
	Data        []byte `bson:"data,omitempty"`
	Error       string `bson:"error,omitempty"`
	CompletedAt int64  `bson:"completed_at"`
}

func nodeFilter(key api.Key) bson.M {
	return bson.M{"flow_id": string(key.Flow), "node_id": string(key.Node)}
}

func flowFilter(flow api.FlowID) bson.M {
	return bson.M{"flow_id": string(flow)}
}

func (s *MongoPartitionStore) SaveNodeState(ctx context.Context, key api.Key, st api.NodeState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := mongoNodeDoc{
		Flow:        string(key.Flow),
		Node:        string(key.Node),
		Status:      string(st.Status),
		Ticker:      st.Ticker,
		Message:     st.Message,
		LastUpdated: st.LastUpdated,
	}
	for _, m := range st.Messages {
		doc.Messages = append(doc.Messages, mongoMessageDoc{
			Status:    string(m.Status),
			Ticker:    m.Ticker,
			Message:   m.Message,
			Timestamp: m.Timestamp,
		})
	}

	_, err := s.nodes.ReplaceOne(ctx, nodeFilter(key), doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoPartitionStore) SaveOverride(ctx context.Context, key api.Key, model *api.Model) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if model == nil {
		_, err := s.overrides.DeleteOne(ctx, nodeFilter(key))
		return err
	}
	doc := mongoOverrideDoc{
		Flow:        string(key.Flow),
		Node:        string(key.Node),
		DisplayName: model.DisplayName,
		ModelName:   model.ModelName,
		Provider:    string(model.Provider),
	}
	_, err := s.overrides.ReplaceOne(ctx, nodeFilter(key), doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoPartitionStore) SaveOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := mongoOutputDoc{
		Flow:        string(flow),
		Data:        out.Data,
		Error:       out.Error,
		CompletedAt: out.CompletedAt,
	}
	_, err := s.outputs.ReplaceOne(ctx, flowFilter(flow), doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoPartitionStore) LoadPartition(ctx context.Context, flow api.FlowID) (Partition, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*s.timeout)
	defer cancel()

	p := newPartition(flow)

	var nodes []mongoNodeDoc
	if err := findAll(ctx, s.nodes, flowFilter(flow), &nodes); err != nil {
		return p, err
	}
	for _, doc := range nodes {
		st := api.NodeState{
			Status:      api.Status(doc.Status),
			Ticker:      doc.Ticker,
			Message:     doc.Message,
			LastUpdated: doc.LastUpdated,
		}
		for _, m := range doc.Messages {
			st.Messages = append(st.Messages, api.MessageEntry{
				Status:    api.Status(m.Status),
				Ticker:    m.Ticker,
				Message:   m.Message,
				Timestamp: m.Timestamp,
			})
		}
		p.Nodes[api.NodeID(doc.Node)] = st
	}

	var overrides []mongoOverrideDoc
	if err := findAll(ctx, s.overrides, flowFilter(flow), &overrides); err != nil {
		return p, err
	}
	for _, doc := range overrides {
		p.Overrides[api.NodeID(doc.Node)] = api.Model{
			DisplayName: doc.DisplayName,
			ModelName:   doc.ModelName,
			Provider:    api.Provider(doc.Provider),
		}
	}

	var out mongoOutputDoc
	err := s.outputs.FindOne(ctx, flowFilter(flow)).Decode(&out)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return p, err
	default:
		p.Output = &api.RunOutput{Data: out.Data, Error: out.Error, CompletedAt: out.CompletedAt}
	}

	return p, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, out *[]T) error {
	cur, err := coll.Find(ctx, filter)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	return cur.All(ctx, out)
}

func (s *MongoPartitionStore) DeletePartition(ctx context.Context, flow api.FlowID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, coll := range []*mongo.Collection{s.nodes, s.overrides, s.outputs} {
		if _, err := coll.DeleteMany(ctx, flowFilter(flow)); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoPartitionStore) ListPartitions(ctx context.Context) ([]api.FlowID, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*s.timeout)
	defer cancel()

	seen := make(map[api.FlowID]struct{})
	for _, coll := range []*mongo.Collection{s.nodes, s.overrides, s.outputs} {
		ids, err := coll.Distinct(ctx, "flow_id", bson.M{})
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if str, ok := id.(string); ok {
				seen[api.FlowID(str)] = struct{}{}
			}
		}
	}

	result := make([]api.FlowID, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	slices.Sort(result)
	return result, nil
}

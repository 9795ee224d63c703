package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/flowstate/internal/testutil"
	"github.com/petrijr/flowstate/pkg/api"
)

const redisPrefix = "flowstate:test:"

type RedisStoreTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	client *redis.Client
	store  *RedisPartitionStore
	ctx    context.Context
}

func TestRedisTestSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreTestSuite))
}

func (r *RedisStoreTestSuite) SetupTest() {
	r.server, r.client = testutil.NewMiniRedis(r.T())
	r.ctx = context.Background()
	r.store = NewRedisPartitionStore(r.client, redisPrefix)
}

func (r *RedisStoreTestSuite) TestPartitionStoreBehaviour() {
	exercisePartitionStore(r.T(), r.store)
}

func (r *RedisStoreTestSuite) TestDefaultFlow() {
	exerciseDefaultFlow(r.T(), r.store)
}

func (r *RedisStoreTestSuite) TestKeyLayout() {
	key := api.Key{Flow: "f1", Node: "n1"}
	r.Require().NoError(r.store.SaveNodeState(r.ctx, key, api.NodeState{Status: api.StatusIdle}))

	r.True(r.server.Exists(redisPrefix + "flow:f1:nodes"))
	members, err := r.server.SMembers(redisPrefix + "idx:flows")
	r.Require().NoError(err)
	r.Equal([]string{"f1"}, members)
}

func (r *RedisStoreTestSuite) TestListPrunesStaleIndexEntries() {
	key := api.Key{Flow: "f1", Node: "n1"}
	m := api.Model{ModelName: "gpt-4.1", Provider: api.ProviderOpenAI}
	r.Require().NoError(r.store.SaveOverride(r.ctx, key, &m))
	r.Require().NoError(r.store.SaveOverride(r.ctx, key, nil))

	flows, err := r.store.ListPartitions(r.ctx)
	r.Require().NoError(err)
	r.Empty(flows)

	members, err := r.client.SMembers(r.ctx, redisPrefix+"idx:flows").Result()
	r.Require().NoError(err)
	r.Empty(members)
}

func (r *RedisStoreTestSuite) TestDefaultPrefix() {
	store := NewRedisPartitionStore(r.client, "")
	r.Require().NoError(store.SaveOutput(r.ctx, "f", api.RunOutput{Error: "boom"}))
	r.True(r.server.Exists("flowstate:flow:f:output"))
}

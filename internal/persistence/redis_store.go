package persistence

import (
	"context"
	"errors"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowstate/pkg/api"
)

// RedisPartitionStore is a PartitionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>flow:<id>:nodes      => HASH node ID -> gob-encoded NodeState
//	<prefix>flow:<id>:overrides  => HASH node ID -> gob-encoded Model
//	<prefix>flow:<id>:output     => gob-encoded RunOutput
//	<prefix>idx:flows            => SET of flow IDs with stored data
//
// The index is best-effort; it is updated on every save and
// ListPartitions drops entries whose keys have gone.
type RedisPartitionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ PartitionStore = (*RedisPartitionStore)(nil)

// NewRedisPartitionStore creates a RedisPartitionStore.
// prefix is optional but recommended (e.g. "flowstate:").
func NewRedisPartitionStore(client redis.UniversalClient, prefix string) *RedisPartitionStore {
	if prefix == "" {
		prefix = "flowstate:"
	}
	return &RedisPartitionStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisPartitionStore) keyNodes(flow api.FlowID) string {
	return s.prefix + "flow:" + string(flow) + ":nodes"
}

func (s *RedisPartitionStore) keyOverrides(flow api.FlowID) string {
	return s.prefix + "flow:" + string(flow) + ":overrides"
}

func (s *RedisPartitionStore) keyOutput(flow api.FlowID) string {
	return s.prefix + "flow:" + string(flow) + ":output"
}

func (s *RedisPartitionStore) keyIndex() string {
	return s.prefix + "idx:flows"
}

func (s *RedisPartitionStore) SaveNodeState(ctx context.Context, key api.Key, st api.NodeState) error {
	data, err := EncodeValue(st)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keyNodes(key.Flow), string(key.Node), data)
	pipe.SAdd(ctx, s.keyIndex(), string(key.Flow))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisPartitionStore) SaveOverride(ctx context.Context, key api.Key, model *api.Model) error {
	if model == nil {
		return s.client.HDel(ctx, s.keyOverrides(key.Flow), string(key.Node)).Err()
	}

	data, err := EncodeValue(*model)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keyOverrides(key.Flow), string(key.Node), data)
	pipe.SAdd(ctx, s.keyIndex(), string(key.Flow))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisPartitionStore) SaveOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) error {
	data, err := EncodeValue(out)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyOutput(flow), data, 0)
	pipe.SAdd(ctx, s.keyIndex(), string(flow))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisPartitionStore) LoadPartition(ctx context.Context, flow api.FlowID) (Partition, error) {
	p := newPartition(flow)

	nodes, err := s.client.HGetAll(ctx, s.keyNodes(flow)).Result()
	if err != nil {
		return p, err
	}
	for id, raw := range nodes {
		st, err := DecodeValue[api.NodeState]([]byte(raw))
		if err != nil {
			return p, err
		}
		p.Nodes[api.NodeID(id)] = st
	}

	overrides, err := s.client.HGetAll(ctx, s.keyOverrides(flow)).Result()
	if err != nil {
		return p, err
	}
	for id, raw := range overrides {
		m, err := DecodeValue[api.Model]([]byte(raw))
		if err != nil {
			return p, err
		}
		p.Overrides[api.NodeID(id)] = m
	}

	data, err := s.client.Get(ctx, s.keyOutput(flow)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return p, err
	default:
		out, err := DecodeValue[api.RunOutput](data)
		if err != nil {
			return p, err
		}
		p.Output = &out
	}

	return p, nil
}

func (s *RedisPartitionStore) DeletePartition(ctx context.Context, flow api.FlowID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyNodes(flow), s.keyOverrides(flow), s.keyOutput(flow))
	pipe.SRem(ctx, s.keyIndex(), string(flow))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisPartitionStore) ListPartitions(ctx context.Context) ([]api.FlowID, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, err
	}

	var result []api.FlowID
	for _, id := range ids {
		flow := api.FlowID(id)
		n, err := s.client.Exists(ctx, s.keyNodes(flow), s.keyOverrides(flow), s.keyOutput(flow)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// A removed override may have emptied the last key.
			_ = s.client.SRem(ctx, s.keyIndex(), id).Err()
			continue
		}
		result = append(result, flow)
	}
	slices.Sort(result)
	return result, nil
}

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFlowStateStore keeps flow states in redis so several instances can share sign-ins.
type RedisFlowStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisFlowStateStore creates a redis-backed flow state store.
func NewRedisFlowStateStore(client *redis.Client, ttl time.Duration) *RedisFlowStateStore {
	return &RedisFlowStateStore{
		client: client,
		prefix: "auth_flow:",
		ttl:    ttl,
	}
}

func (store *RedisFlowStateStore) key(state string) string {
	return store.prefix + state
}

// Issue stores the flow under a fresh state token with the configured TTL.
func (store *RedisFlowStateStore) Issue(ctx context.Context, flow FlowState) (string, error) {
	state, err := randomStateToken()
	if err != nil {
		return "", fmt.Errorf("flow_state.redis.issue: %w", err)
	}
	data, marshalErr := json.Marshal(flow)
	if marshalErr != nil {
		return "", fmt.Errorf("flow_state.redis.issue: %w", marshalErr)
	}
	if setErr := store.client.Set(ctx, store.key(state), data, store.ttl).Err(); setErr != nil {
		return "", fmt.Errorf("flow_state.redis.issue: %w", setErr)
	}
	return state, nil
}

// Consume atomically reads and deletes the flow. Expired keys are already gone in redis.
func (store *RedisFlowStateStore) Consume(ctx context.Context, state string) (FlowState, error) {
	value, err := store.client.GetDel(ctx, store.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return FlowState{}, ErrFlowStateNotFound
	}
	if err != nil {
		return FlowState{}, fmt.Errorf("flow_state.redis.consume: %w", err)
	}
	var flow FlowState
	if unmarshalErr := json.Unmarshal([]byte(value), &flow); unmarshalErr != nil {
		return FlowState{}, fmt.Errorf("flow_state.redis.consume: %w", unmarshalErr)
	}
	return flow, nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("flow_state.redis.parse_url: %w", parseErr)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("flow_state.redis.ping: %w", pingErr)
	}
	return client, nil
}

package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript atomically claims a slot unless the limit is reached.
var acquireScript = redis.NewScript(`
local held = redis.call("INCR", KEYS[1])
if held > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return 0
end
return 1
`)

// releaseScript frees a slot, clamping the counter at zero so duplicate
// releases under redelivery cannot corrupt accounting.
var releaseScript = redis.NewScript(`
local held = redis.call("DECR", KEYS[1])
if held < 0 then
  redis.call("SET", KEYS[1], 0)
end
return held
`)

// RedisSlotStore shares slot accounting across executor replicas.
type RedisSlotStore struct {
	client *redis.Client
}

func NewRedisSlotStore(client *redis.Client) *RedisSlotStore {
	return &RedisSlotStore{client: client}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func slotKey(flowUID string) string {
	return "kestrel:slots:" + flowUID
}

func (s *RedisSlotStore) Acquire(ctx context.Context, flowUID string, limit int) (bool, error) {
	result, err := acquireScript.Run(ctx, s.client, []string{slotKey(flowUID)}, limit).Int()
	if err != nil {
		return false, fmt.Errorf("acquiring slot: %w", err)
	}

	return result == 1, nil
}

func (s *RedisSlotStore) Release(ctx context.Context, flowUID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{slotKey(flowUID)}).Err(); err != nil {
		return fmt.Errorf("releasing slot: %w", err)
	}

	return nil
}

func (s *RedisSlotStore) Count(ctx context.Context, flowUID string) (int, error) {
	count, err := s.client.Get(ctx, slotKey(flowUID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading slot count: %w", err)
	}

	return count, nil
}

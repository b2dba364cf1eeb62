package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the shared, expiring counter backend used for the
// tenant-daily budget scope. Implementations must make every operation
// atomic: concurrent jobs for the same tenant hammer the same keys.
type CounterStore interface {
	// IncrBy atomically adds n to key, creating it with the given TTL
	// when absent, and returns the new value.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	// DecrBy atomically subtracts n from key only if it still exists.
	// The bool reports whether the key existed; decrementing an expired
	// key is a no-op rather than an error.
	DecrBy(ctx context.Context, key string, n int64) (int64, bool, error)
	// Get returns the current value, 0 when the key is absent.
	Get(ctx context.Context, key string) (int64, error)
}

// decrIfExists avoids resurrecting an expired counter with a negative
// value: refunds that cross the day boundary must become no-ops.
var decrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return {redis.call("DECRBY", KEYS[1], ARGV[1]), 1}
end
return {0, 0}
`)

// RedisCounterStore backs the tenant-daily scope with Redis so multiple
// processes share one quota view.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(ctx context.Context, addr, password string, db int) (*RedisCounterStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCounterStore{client: client}, nil
}

func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}

func (s *RedisCounterStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) DecrBy(ctx context.Context, key string, n int64) (int64, bool, error) {
	result, err := decrIfExists.Run(ctx, s.client, []string{key}, n).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("decr counter %s: %w", key, err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("decr counter %s: unexpected reply %v", key, result)
	}
	value, _ := result[0].(int64)
	existed, _ := result[1].(int64)
	return value, existed == 1, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return value, nil
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryCounterStore is the local fallback used when Redis is not
// configured, and the backend of choice in tests.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryCounterStore) IncrBy(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || s.now().After(counter.expiresAt) {
		counter = &memoryCounter{expiresAt: s.now().Add(ttl)}
		s.counters[key] = counter
	}
	counter.value += n
	return counter.value, nil
}

func (s *MemoryCounterStore) DecrBy(_ context.Context, key string, n int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || s.now().After(counter.expiresAt) {
		delete(s.counters, key)
		return 0, false, nil
	}
	counter.value -= n
	return counter.value, true, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || s.now().After(counter.expiresAt) {
		return 0, nil
	}
	return counter.value, nil
}

// SetClock overrides the time source. Tests use it to cross day
// boundaries without sleeping.
func (s *MemoryCounterStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

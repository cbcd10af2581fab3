// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list that carries session event records.
const DefaultQueueName = "quiz_events"

// Recorder accepts session events for the historian.
type Recorder interface {
	Record(ctx context.Context, rec models.EventRecord) error
}

// NopRecorder drops every record.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, models.EventRecord) error { return nil }

// RedisRecorder pushes records onto a Redis list.
type RedisRecorder struct {
	Rdb   *redis.Client
	Queue string
}

// ConnectRedis creates a client for addr/db and verifies it with a ping.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func NewRedisRecorder(rdb *redis.Client, queue string) *RedisRecorder {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &RedisRecorder{Rdb: rdb, Queue: queue}
}

// Record serializes rec to JSON and pushes it to the queue.
func (r *RedisRecorder) Record(ctx context.Context, rec models.EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal EventRecord: %w", err)
	}
	if err := r.Rdb.RPush(ctx, r.Queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", r.Queue, err)
	}
	return nil
}

// MemoryRecorder keeps records in memory. Tests use it to observe the event log.
type MemoryRecorder struct {
	ch chan models.EventRecord
}

func NewMemoryRecorder(buffer int) *MemoryRecorder {
	return &MemoryRecorder{ch: make(chan models.EventRecord, buffer)}
}

// Record never blocks; records beyond the buffer are dropped.
func (m *MemoryRecorder) Record(_ context.Context, rec models.EventRecord) error {
	select {
	case m.ch <- rec:
	default:
	}
	return nil
}

// Records exposes the received records.
func (m *MemoryRecorder) Records() <-chan models.EventRecord { return m.ch }

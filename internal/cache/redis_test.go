package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecorderDropsWhenFull(t *testing.T) {
	m := NewMemoryRecorder(1)
	require.NoError(t, m.Record(context.Background(), models.EventRecord{Type: "first"}))
	require.NoError(t, m.Record(context.Background(), models.EventRecord{Type: "second"}))

	rec := <-m.Records()
	assert.Equal(t, "first", rec.Type)
	select {
	case extra := <-m.Records():
		t.Fatalf("unexpected record %q", extra.Type)
	default:
	}
}

// Needs a disposable Redis at TEST_REDIS_ADDR.
func TestRedisRecorderPushes(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := ConnectRedis(ctx, addr, 0)
	require.NoError(t, err)
	defer rdb.Close()

	queue := "quiz_events_test_" + uuid.NewString()
	defer rdb.Del(ctx, queue)

	rec := models.EventRecord{GameID: uuid.New(), Seq: 1, Type: "answer", Timestamp: time.Now().UnixMilli()}
	require.NoError(t, NewRedisRecorder(rdb, queue).Record(ctx, rec))

	raw, err := rdb.LPop(ctx, queue).Result()
	require.NoError(t, err)
	var got models.EventRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, rec.GameID, got.GameID)
	assert.Equal(t, "answer", got.Type)
}

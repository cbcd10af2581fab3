// internal/historian/historian.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// backlogBatches bounds the buffer to this many batches. Past that, intake
// stops and events wait in Redis until a flush succeeds.
const backlogBatches = 10

// Sink persists batches of event records.
type Sink interface {
	InsertEvents(ctx context.Context, records []models.EventRecord) error
}

// Service pops session events from a Redis list and writes them to the sink in batches.
type Service struct {
	rdb        *redis.Client
	sink       Sink
	queue      string
	batchSize  int
	maxPending int
	flushDelay time.Duration
	log        logrus.FieldLogger

	batchMu sync.Mutex
	batch   []models.EventRecord
}

func New(rdb *redis.Client, sink Sink, queue string, batchSize int, flushDelay time.Duration, log logrus.FieldLogger) *Service {
	if batchSize <= 0 {
		batchSize = 20
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	return &Service{
		rdb:        rdb,
		sink:       sink,
		queue:      queue,
		batchSize:  batchSize,
		maxPending: batchSize * backlogBatches,
		flushDelay: flushDelay,
		log:        log,
		batch:      make([]models.EventRecord, 0, batchSize),
	}
}

// Run blocks until ctx is cancelled, then flushes whatever is buffered.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	s.log.WithField("queue", s.queue).Info("historian started")
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			s.log.Info("historian stopped")
			return nil
		case <-ticker.C:
			s.Flush(ctx)
		default:
			if s.Backlogged() {
				select {
				case <-ctx.Done():
				case <-ticker.C:
					s.Flush(ctx)
				}
				continue
			}
			// Short BLPop timeout so the ticker and ctx are still serviced.
			res, err := s.rdb.BLPop(ctx, time.Second, s.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					s.log.WithError(err).Warn("BLPop failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}
			s.Handle(ctx, []byte(res[1]))
		}
	}
}

// Handle decodes one queue entry and buffers it.
func (s *Service) Handle(ctx context.Context, payload []byte) {
	var rec models.EventRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.log.WithError(err).Warn("invalid event record")
		return
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the buffered batch. A failed batch is put back in front of the buffer.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]models.EventRecord, 0, s.batchSize)
	s.batchMu.Unlock()

	if err := s.sink.InsertEvents(ctx, pending); err != nil {
		s.log.WithError(err).WithField("count", len(pending)).Error("flush failed")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.log.WithField("count", len(pending)).Debug("flushed events")
}

// Pending reports how many records are buffered.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Backlogged reports whether the buffer is full and intake is paused.
func (s *Service) Backlogged() bool {
	return s.Pending() >= s.maxPending
}

package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker drains the monitoring event queue into PostgreSQL in
// batches. Bulk CopyFrom is the fast path; on failure it degrades to
// row-by-row inserts and requeues what still fails.
type EventWorker struct {
	eventRepo *repository.EventRepository
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(eventRepo *repository.EventRepository, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		eventRepo: eventRepo,
		rdb:       rdb,
		log:       log.With().Str("component", "event_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]model.StoredEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlush = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var event model.StoredEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			// Malformed JSON can never succeed on retry. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}

		buffer = append(buffer, event)
	}
}

// flushSafe attempts bulk insert, then falls back to row-by-row.
func (w *EventWorker) flushSafe(ctx context.Context, batch []model.StoredEvent) {
	if _, err := w.eventRepo.BulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []model.StoredEvent) {
	var requeueList []model.StoredEvent

	for i := range batch {
		if err := w.eventRepo.Insert(ctx, &batch[i]); err != nil {
			w.log.Error().Err(err).
				Int("student_id", batch[i].StudentID).
				Str("exam_id", batch[i].ExamID.String()).
				Msg("Insert failed, requeueing")
			requeueList = append(requeueList, batch[i])
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, events []model.StoredEvent) {
	pipe := w.rdb.Pipeline()
	for i := range events {
		data, _ := json.Marshal(events[i])
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(events)).Msg("Requeued failed events back to Redis")
		// Avoid thrashing while the database is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *EventWorker) shutdown(buffer []model.StoredEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

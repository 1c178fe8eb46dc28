package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// MonitorService owns the durable side of proctoring: getting classified
// violations into the persistence queue and serving history and
// aggregates back to teachers.
type MonitorService struct {
	eventRepo *repository.EventRepository
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(eventRepo *repository.EventRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		eventRepo: eventRepo,
		rdb:       rdb,
		log:       log.With().Str("component", "monitor_service").Logger(),
	}
}

// Send implements the violation transport. The Redis queue is the fast
// path; if Redis is down the event goes straight to Postgres. Only a
// double failure surfaces as an error, and the caller treats even that
// as non-fatal.
func (s *MonitorService) Send(ctx context.Context, event model.StoredEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Event queue unavailable, writing directly")
		if dbErr := s.eventRepo.Insert(ctx, &event); dbErr != nil {
			return fmt.Errorf("queue failed (%v), direct insert failed: %w", err, dbErr)
		}
	}
	return nil
}

// History returns persisted events for an exam, newest first.
func (s *MonitorService) History(ctx context.Context, examID uuid.UUID, limit int) ([]model.StoredEvent, error) {
	return s.eventRepo.ListByExam(ctx, examID, limit)
}

// AttemptHistory returns persisted events for one attempt, oldest first.
func (s *MonitorService) AttemptHistory(ctx context.Context, attemptID uuid.UUID, limit int) ([]model.StoredEvent, error) {
	return s.eventRepo.ListByAttempt(ctx, attemptID, limit)
}

// ViolationCounts aggregates intentional violations per student for an
// exam, for the teacher dashboard.
func (s *MonitorService) ViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int, error) {
	return s.eventRepo.ViolationCounts(ctx, examID)
}

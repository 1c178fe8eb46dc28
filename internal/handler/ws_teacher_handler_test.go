package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/model"
	ws "github.com/invigilo/invigilo-backend/internal/websocket"
)

type fakeExamLoader struct {
	exam *model.Exam
	err  error
}

func (f *fakeExamLoader) Get(_ context.Context, _ uuid.UUID) (*model.Exam, error) {
	return f.exam, f.err
}

// The attempt service is left nil in these tests: reaching it past a
// failed ownership check would panic, so a clean error write proves the
// request was rejected before any state change.

func TestTerminateRejectsForeignExam(t *testing.T) {
	examID := uuid.New()
	h := &WSTeacherHandler{
		exams: &fakeExamLoader{exam: &model.Exam{ID: examID, TeacherID: 42}},
		log:   zerolog.Nop(),
	}

	var writes []interface{}
	write := func(v interface{}) { writes = append(writes, v) }

	h.handleTerminate(write, zerolog.Nop(), examID, 7, &ws.RequestPayload{StudentID: 5})

	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	resp, ok := writes[0].(ws.ErrorResponse)
	if !ok || resp.Event != ws.EventError {
		t.Fatalf("response = %+v, want an error", writes[0])
	}
}

func TestTerminateRejectsUnknownExam(t *testing.T) {
	examID := uuid.New()
	h := &WSTeacherHandler{
		exams: &fakeExamLoader{err: errors.New("no rows in result set")},
		log:   zerolog.Nop(),
	}

	var writes []interface{}
	write := func(v interface{}) { writes = append(writes, v) }

	h.handleTerminate(write, zerolog.Nop(), examID, 7, &ws.RequestPayload{StudentID: 5})

	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	if resp, ok := writes[0].(ws.ErrorResponse); !ok || resp.Event != ws.EventError {
		t.Fatalf("response = %+v, want an error", writes[0])
	}
}

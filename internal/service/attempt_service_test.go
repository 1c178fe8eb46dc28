package service

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/shuffle"
)

func scoredQuestion(points, correct int, options ...string) model.Question {
	raw, _ := json.Marshal(options)
	return model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeMCQ,
		Options:       raw,
		CorrectOption: correct,
		Points:        points,
	}
}

func TestScoreAttemptWithShuffledOptions(t *testing.T) {
	q1 := scoredQuestion(10, 2, "a", "b", "c", "d")
	q2 := scoredQuestion(10, 0, "x", "y", "z")
	questions := []model.Question{q1, q2}

	// q1's correct source index 2 is shown at index 0; q2's source 0 at 2.
	layout := shuffle.Layout{
		QuestionOrder: []uuid.UUID{q2.ID, q1.ID},
		OptionLayouts: map[string][]int{
			q1.ID.String(): {2, 3, 0, 1},
			q2.ID.String(): {1, 2, 0},
		},
	}

	answers := map[string]string{
		q1.ID.String(): "0", // shown 0 → source 2, correct
		q2.ID.String(): "1", // shown 1 → source 2, wrong
	}

	if got := scoreAttempt(questions, answers, layout); got != 50 {
		t.Fatalf("score = %v, want 50", got)
	}

	answers[q2.ID.String()] = "2" // shown 2 → source 0, correct
	if got := scoreAttempt(questions, answers, layout); got != 100 {
		t.Fatalf("score = %v, want 100", got)
	}
}

func TestScoreAttemptIgnoresMissingAndMalformedAnswers(t *testing.T) {
	q1 := scoredQuestion(10, 0, "a", "b")
	q2 := scoredQuestion(10, 1, "c", "d")
	q3 := scoredQuestion(10, 0, "e", "f")
	questions := []model.Question{q1, q2, q3}
	layout := shuffle.Identity(questions)

	answers := map[string]string{
		q1.ID.String(): "0",         // correct
		q2.ID.String(): "not a num", // malformed, skipped
		// q3 unanswered
	}

	// Unanswered and malformed questions still count toward the total.
	want := float64(10) / float64(30) * 100
	if got := scoreAttempt(questions, answers, layout); got != want {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestScoreAttemptSkipsShortAnswerQuestions(t *testing.T) {
	mcq := scoredQuestion(10, 1, "a", "b")
	short := model.Question{
		ID:     uuid.New(),
		Type:   model.QuestionTypeShortAnswer,
		Points: 50,
	}
	questions := []model.Question{mcq, short}
	layout := shuffle.Identity(questions)

	answers := map[string]string{
		mcq.ID.String():   "1",
		short.ID.String(): "free text, graded by hand",
	}

	// Short-answer points never enter the denominator.
	if got := scoreAttempt(questions, answers, layout); got != 100 {
		t.Fatalf("score = %v, want 100 (short answer excluded)", got)
	}
}

func TestScoreAttemptZeroGradablePoints(t *testing.T) {
	short := model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, Points: 50}
	questions := []model.Question{short}

	if got := scoreAttempt(questions, nil, shuffle.Identity(questions)); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}
	if got := scoreAttempt(nil, nil, shuffle.Layout{}); got != 0 {
		t.Fatalf("score of empty exam = %v, want 0", got)
	}
}

func TestScoreAttemptTrimsWhitespace(t *testing.T) {
	q := scoredQuestion(10, 1, "a", "b")
	questions := []model.Question{q}
	answers := map[string]string{q.ID.String(): " 1 "}

	if got := scoreAttempt(questions, answers, shuffle.Identity(questions)); got != 100 {
		t.Fatalf("score = %v, want 100", got)
	}
}

func TestLayoutForFallsBackOnBadMetadata(t *testing.T) {
	s := &AttemptService{log: zerolog.Nop()}
	q1 := scoredQuestion(10, 0, "a", "b")
	q2 := scoredQuestion(10, 0, "c", "d")
	questions := []model.Question{q1, q2}

	cases := []json.RawMessage{
		nil,
		json.RawMessage(`{not json`),
		json.RawMessage(`{"question_order":[]}`),
		// Permutation sized wrong for a live question.
		json.RawMessage(`{"question_order":["` + q1.ID.String() + `","` + q2.ID.String() + `"],` +
			`"option_layouts":{"` + q1.ID.String() + `":[0,1,2]}}`),
	}
	for i, meta := range cases {
		attempt := &model.Attempt{ID: uuid.New(), Metadata: meta}
		layout := s.layoutFor(attempt, questions)
		if len(layout.QuestionOrder) != 2 || layout.QuestionOrder[0] != q1.ID || layout.QuestionOrder[1] != q2.ID {
			t.Fatalf("case %d: fallback layout = %+v, want source order", i, layout)
		}
		if layout.OptionLayouts != nil {
			t.Fatalf("case %d: fallback layout carries option permutations", i)
		}
	}
}

func TestLayoutForReplaysStoredLayout(t *testing.T) {
	s := &AttemptService{log: zerolog.Nop()}
	q1 := scoredQuestion(10, 0, "a", "b")
	q2 := scoredQuestion(10, 0, "c", "d")
	questions := []model.Question{q1, q2}

	stored := shuffle.Layout{
		QuestionOrder: []uuid.UUID{q2.ID, q1.ID},
		OptionLayouts: map[string][]int{q1.ID.String(): {1, 0}},
	}
	meta, _ := json.Marshal(stored)
	attempt := &model.Attempt{ID: uuid.New(), Metadata: meta}

	layout := s.layoutFor(attempt, questions)
	if layout.QuestionOrder[0] != q2.ID || layout.QuestionOrder[1] != q1.ID {
		t.Fatal("stored question order not replayed")
	}
	if got := layout.OriginalOptionIndex(q1.ID, 0); got != 1 {
		t.Fatalf("stored option permutation not replayed: got %d", got)
	}
}

func TestStripAnswers(t *testing.T) {
	questions := []model.Question{
		scoredQuestion(10, 2, "a", "b", "c"),
		scoredQuestion(5, 0, "x", "y"),
	}
	stripped := stripAnswers(questions)

	for i, q := range stripped {
		if q.CorrectOption != -1 {
			t.Fatalf("question %d still exposes correct option %d", i, q.CorrectOption)
		}
	}
	// The source slice is untouched.
	if questions[0].CorrectOption != 2 {
		t.Fatal("stripAnswers mutated the source questions")
	}
}

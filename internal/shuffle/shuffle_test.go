package shuffle

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

func mcq(options ...string) model.Question {
	raw, _ := json.Marshal(options)
	return model.Question{
		ID:      uuid.New(),
		Type:    model.QuestionTypeMCQ,
		Options: raw,
	}
}

func shortAnswer() model.Question {
	return model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer}
}

func testQuestions() []model.Question {
	return []model.Question{
		mcq("a", "b", "c", "d"),
		mcq("x", "y", "z"),
		shortAnswer(),
		mcq("only"),
		mcq("p", "q"),
	}
}

func TestPlanIsDeterministicForSeed(t *testing.T) {
	questions := testQuestions()

	l1 := Plan(rand.New(rand.NewSource(42)), questions, true, true)
	l2 := Plan(rand.New(rand.NewSource(42)), questions, true, true)

	if len(l1.QuestionOrder) != len(l2.QuestionOrder) {
		t.Fatal("order lengths differ for identical seed")
	}
	for i := range l1.QuestionOrder {
		if l1.QuestionOrder[i] != l2.QuestionOrder[i] {
			t.Fatalf("question order diverged at %d", i)
		}
	}
	for id, perm := range l1.OptionLayouts {
		other := l2.OptionLayouts[id]
		if len(perm) != len(other) {
			t.Fatalf("option layout lengths differ for %s", id)
		}
		for i := range perm {
			if perm[i] != other[i] {
				t.Fatalf("option layout for %s diverged at %d", id, i)
			}
		}
	}
}

func TestPlanPermutationsAreBijections(t *testing.T) {
	questions := testQuestions()

	for seed := int64(0); seed < 20; seed++ {
		l := Plan(rand.New(rand.NewSource(seed)), questions, true, true)

		if len(l.QuestionOrder) != len(questions) {
			t.Fatalf("seed %d: order has %d entries, want %d", seed, len(l.QuestionOrder), len(questions))
		}
		seen := make(map[uuid.UUID]bool)
		for _, id := range l.QuestionOrder {
			if seen[id] {
				t.Fatalf("seed %d: duplicate question %s in order", seed, id)
			}
			seen[id] = true
		}
		for id, perm := range l.OptionLayouts {
			if !IsPermutation(perm) {
				t.Fatalf("seed %d: option layout for %s is not a permutation: %v", seed, id, perm)
			}
		}
	}
}

func TestPlanSkipsQuestionsWithFewerThanTwoOptions(t *testing.T) {
	questions := testQuestions()
	l := Plan(rand.New(rand.NewSource(1)), questions, true, true)

	// The short answer (no options) and the single-option MCQ must have
	// no entry at all.
	for _, q := range questions {
		_, ok := l.OptionLayouts[q.ID.String()]
		if len(q.OptionList()) < 2 && ok {
			t.Fatalf("question with %d options got a layout entry", len(q.OptionList()))
		}
		if len(q.OptionList()) >= 2 && !ok {
			t.Fatalf("question with %d options missing a layout entry", len(q.OptionList()))
		}
	}
}

func TestPlanWithoutShuffleFlags(t *testing.T) {
	questions := testQuestions()
	l := Plan(rand.New(rand.NewSource(1)), questions, false, false)

	for i, q := range questions {
		if l.QuestionOrder[i] != q.ID {
			t.Fatal("question order changed with shuffling disabled")
		}
	}
	if l.OptionLayouts != nil {
		t.Fatal("option layouts generated with shuffling disabled")
	}
}

func TestArrangeRoundTripsWithOriginalOptionIndex(t *testing.T) {
	questions := testQuestions()
	l := Plan(rand.New(rand.NewSource(7)), questions, true, true)

	arranged := l.Arrange(questions)
	byID := make(map[uuid.UUID]model.Question)
	for _, q := range questions {
		byID[q.ID] = q
	}

	for _, shown := range arranged {
		source := byID[shown.ID]
		shownOpts := shown.OptionList()
		sourceOpts := source.OptionList()
		for shownIdx, opt := range shownOpts {
			origIdx := l.OriginalOptionIndex(shown.ID, shownIdx)
			if sourceOpts[origIdx] != opt {
				t.Fatalf("question %s shown[%d]=%q maps to source[%d]=%q",
					shown.ID, shownIdx, opt, origIdx, sourceOpts[origIdx])
			}
		}
	}
}

func TestOriginalOptionIndexPassThrough(t *testing.T) {
	l := Layout{QuestionOrder: []uuid.UUID{uuid.New()}}

	// No stored permutation: shown index is the source index.
	if got := l.OriginalOptionIndex(uuid.New(), 2); got != 2 {
		t.Fatalf("pass-through = %d, want 2", got)
	}
	// Out-of-range indexes on a stored permutation also pass through.
	id := uuid.New()
	l.OptionLayouts = map[string][]int{id.String(): {1, 0}}
	if got := l.OriginalOptionIndex(id, 5); got != 5 {
		t.Fatalf("out-of-range = %d, want 5", got)
	}
	if got := l.OriginalOptionIndex(id, 0); got != 1 {
		t.Fatalf("mapped index = %d, want 1", got)
	}
}

func TestArrangeSkipsUnresolvableIDs(t *testing.T) {
	questions := testQuestions()
	l := Plan(rand.New(rand.NewSource(3)), questions, true, false)
	l.QuestionOrder = append([]uuid.UUID{uuid.New()}, l.QuestionOrder...)

	arranged := l.Arrange(questions)
	if len(arranged) != len(questions) {
		t.Fatalf("arranged %d questions, want %d", len(arranged), len(questions))
	}
}

func TestIdentityPreservesSourceOrder(t *testing.T) {
	questions := testQuestions()
	l := Identity(questions)

	arranged := l.Arrange(questions)
	for i := range questions {
		if arranged[i].ID != questions[i].ID {
			t.Fatal("identity layout reordered questions")
		}
	}
	if l.OptionLayouts != nil {
		t.Fatal("identity layout carries option permutations")
	}
}

func TestInvert(t *testing.T) {
	perm := []int{2, 0, 3, 1}
	inv := Invert(perm)
	for newIdx, origIdx := range perm {
		if inv[origIdx] != newIdx {
			t.Fatalf("inv[%d] = %d, want %d", origIdx, inv[origIdx], newIdx)
		}
	}
}

func TestIsPermutation(t *testing.T) {
	if !IsPermutation([]int{1, 0, 2}) {
		t.Error("valid permutation rejected")
	}
	if !IsPermutation(nil) {
		t.Error("empty permutation rejected")
	}
	if IsPermutation([]int{0, 0, 1}) {
		t.Error("duplicate accepted")
	}
	if IsPermutation([]int{0, 3}) {
		t.Error("out-of-range accepted")
	}
	if IsPermutation([]int{-1, 0}) {
		t.Error("negative accepted")
	}
}

func TestValid(t *testing.T) {
	questions := testQuestions()
	l := Plan(rand.New(rand.NewSource(9)), questions, true, true)

	if !l.Valid(questions) {
		t.Fatal("freshly planned layout reported invalid")
	}

	// Empty order is invalid.
	if (Layout{}).Valid(questions) {
		t.Fatal("empty layout reported valid")
	}

	// Wrong-sized permutation for a live question is invalid.
	bad := Layout{
		QuestionOrder: l.QuestionOrder,
		OptionLayouts: map[string][]int{questions[0].ID.String(): {0, 1}},
	}
	if bad.Valid(questions) {
		t.Fatal("wrong-sized permutation reported valid")
	}

	// Permutations for drifted (deleted) questions are tolerated.
	drifted := Layout{
		QuestionOrder: l.QuestionOrder,
		OptionLayouts: map[string][]int{uuid.New().String(): {1, 0}},
	}
	if !drifted.Valid(questions) {
		t.Fatal("drifted permutation reported invalid")
	}
}

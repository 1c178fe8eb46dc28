package shuffle

import (
	"encoding/json"
	"math/rand"

	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// Layout captures one attempt's randomized ordering. It is computed
// exactly once at attempt creation, persisted as attempt metadata, and
// replayed verbatim on every resume.
//
// OptionLayouts maps question ID → permutation where perm[newIndex] =
// originalIndex. A question with fewer than two options has NO entry;
// absence means "not shuffled", which downstream must not confuse with
// an identity permutation.
type Layout struct {
	QuestionOrder []uuid.UUID      `json:"question_order"`
	OptionLayouts map[string][]int `json:"option_layouts,omitempty"`
}

// Plan computes a fresh layout for an attempt. The rand source is
// injected so tests can seed it; production uses a time-seeded source.
func Plan(r *rand.Rand, questions []model.Question, shuffleQuestions, shuffleOptions bool) Layout {
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	if shuffleQuestions {
		r.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	layout := Layout{QuestionOrder: order}

	if shuffleOptions {
		layout.OptionLayouts = make(map[string][]int)
		for _, q := range questions {
			n := len(q.OptionList())
			if n < 2 {
				continue
			}
			perm := r.Perm(n) // perm[newIndex] = originalIndex
			layout.OptionLayouts[q.ID.String()] = perm
		}
		if len(layout.OptionLayouts) == 0 {
			layout.OptionLayouts = nil
		}
	}

	return layout
}

// Identity returns the no-shuffle layout for the given questions, used
// as the resume fallback when persisted metadata is missing or invalid.
func Identity(questions []model.Question) Layout {
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	return Layout{QuestionOrder: order}
}

// Arrange applies the layout to the source questions, producing the
// client-visible ordering. Question IDs present in the order but no
// longer resolvable are skipped; questions missing from the order are
// dropped (the order is authoritative for the attempt).
func (l Layout) Arrange(questions []model.Question) []model.Question {
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	out := make([]model.Question, 0, len(l.QuestionOrder))
	for _, id := range l.QuestionOrder {
		q, ok := byID[id]
		if !ok {
			continue
		}
		if perm, ok := l.OptionLayouts[id.String()]; ok {
			q = arrangeOptions(q, perm)
		}
		out = append(out, q)
	}
	return out
}

// OriginalOptionIndex maps the option index the student saw back to the
// source index, for scoring. Questions without a stored permutation pass
// through unchanged.
func (l Layout) OriginalOptionIndex(questionID uuid.UUID, shownIndex int) int {
	perm, ok := l.OptionLayouts[questionID.String()]
	if !ok {
		return shownIndex
	}
	if shownIndex < 0 || shownIndex >= len(perm) {
		return shownIndex
	}
	return perm[shownIndex]
}

// Invert returns the inverse permutation: given perm[newIndex] =
// originalIndex, the result maps originalIndex → newIndex.
func Invert(perm []int) []int {
	inv := make([]int, len(perm))
	for newIdx, origIdx := range perm {
		inv[origIdx] = newIdx
	}
	return inv
}

// IsPermutation reports whether perm is a bijection over [0..n-1].
func IsPermutation(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, v := range perm {
		if v < 0 || v >= len(perm) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Valid checks the structural invariants of a persisted layout against
// the current question set: every stored permutation must be a bijection
// sized to its question's option count.
func (l Layout) Valid(questions []model.Question) bool {
	if len(l.QuestionOrder) == 0 {
		return false
	}
	byID := make(map[string]int, len(questions))
	for _, q := range questions {
		byID[q.ID.String()] = len(q.OptionList())
	}
	for id, perm := range l.OptionLayouts {
		n, ok := byID[id]
		if !ok {
			continue // drifted question, tolerated
		}
		if len(perm) != n || !IsPermutation(perm) {
			return false
		}
	}
	return true
}

// arrangeOptions reorders a question's options per the permutation. The
// source question is not mutated.
func arrangeOptions(q model.Question, perm []int) model.Question {
	opts := q.OptionList()
	if len(perm) != len(opts) {
		return q
	}
	shuffled := make([]string, len(opts))
	for newIdx, origIdx := range perm {
		shuffled[newIdx] = opts[origIdx]
	}
	raw, err := json.Marshal(shuffled)
	if err != nil {
		return q
	}
	q.Options = raw
	return q
}

package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "MCQ"
	QuestionTypeShortAnswer QuestionType = "SHORT_ANSWER"
)

// Question represents a single exam question. Options is a JSON array of
// option strings; CorrectOption indexes into it in SOURCE order, even when
// the student saw a shuffled arrangement.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Text          string          `json:"text"`
	Type          QuestionType    `json:"type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectOption int             `json:"correct_option"`
	Points        int             `json:"points"`
	OrderNum      int             `json:"order_num"`
}

// OptionList decodes the raw options array. Returns nil for questions
// without options (short answer).
func (q *Question) OptionList() []string {
	if len(q.Options) == 0 {
		return nil
	}
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil
	}
	return opts
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	Text          string          `json:"text" binding:"required,min=1,max=2000"`
	Type          string          `json:"type" binding:"required,oneof=MCQ SHORT_ANSWER"`
	Options       json.RawMessage `json:"options"`
	CorrectOption int             `json:"correct_option" binding:"min=0"`
	Points        int             `json:"points" binding:"min=0"`
	OrderNum      int             `json:"order_num" binding:"min=0"`
}

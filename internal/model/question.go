package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Question belongs to one exam. CorrectOption and Keywords form the
// answer key and must never reach a student client.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Text          string          `json:"text"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectOption *int            `json:"correct_option,omitempty"`
	Keywords      []string        `json:"keywords,omitempty"`
	Marks         float64         `json:"marks"`
	OrderNum      int             `json:"order_num"`
	CreatedAt     time.Time       `json:"created_at"`
}

// QuestionForStudent is a question with the answer-key fields stripped.
type QuestionForStudent struct {
	ID       uuid.UUID       `json:"id"`
	Text     string          `json:"text"`
	Options  json.RawMessage `json:"options,omitempty"`
	Marks    float64         `json:"marks"`
	OrderNum int             `json:"order_num"`
}

// ForStudent strips the answer key from a question.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:       q.ID,
		Text:     q.Text,
		Options:  q.Options,
		Marks:    q.Marks,
		OrderNum: q.OrderNum,
	}
}

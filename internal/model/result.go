package model

import (
	"time"

	"github.com/google/uuid"
)

// Result is the permanent per-student, per-session, per-term academic
// record, independent of any single exam. Publishing a submission upserts
// exactly the item for that submission's subject and recomputes Total.
type Result struct {
	ID        uuid.UUID    `json:"id"`
	StudentID int          `json:"student_id"`
	SchoolID  int          `json:"school_id"`
	Session   string       `json:"session"`
	Term      int          `json:"term"`
	Total     float64      `json:"total"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Items     []ResultItem `json:"items,omitempty"`
}

// ResultItem is one subject's entry inside a Result; unique per
// (result, subject).
type ResultItem struct {
	ID           uuid.UUID `json:"id"`
	ResultID     uuid.UUID `json:"result_id"`
	SubjectID    uuid.UUID `json:"subject_id"`
	SourceExamID uuid.UUID `json:"source_exam_id"`
	Score        float64   `json:"score"`
	MaxScore     float64   `json:"max_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

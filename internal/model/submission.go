package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates the submission lifecycle. Legal transitions:
// READY → IN_PROGRESS ⇄ PAUSED → SUBMITTED → MARKED. IsPublished is an
// orthogonal flag set only once a submission is MARKED.
type SubmissionStatus string

const (
	SubmissionReady      SubmissionStatus = "READY"
	SubmissionInProgress SubmissionStatus = "IN_PROGRESS"
	SubmissionPaused     SubmissionStatus = "PAUSED"
	SubmissionSubmitted  SubmissionStatus = "SUBMITTED"
	SubmissionMarked     SubmissionStatus = "MARKED"
)

// Submission is a student's attempt record for one exam; exactly one
// exists per (exam, student) pair. Timer fields stay nil until the
// explicit begin transition so a slow page load never consumes exam time.
type Submission struct {
	ID          uuid.UUID        `json:"id"`
	ExamID      uuid.UUID        `json:"exam_id"`
	StudentID   int              `json:"student_id"`
	Session     string           `json:"session"`
	Term        int              `json:"term"`
	Status      SubmissionStatus `json:"status"`
	StartTime   *time.Time       `json:"start_time,omitempty"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	// PauseRemainingSeconds is set only while PAUSED.
	PauseRemainingSeconds *int64     `json:"time_remaining_on_pause_seconds,omitempty"`
	TotalScore            float64    `json:"total_score"`
	IsLate                bool       `json:"is_late"`
	IsPublished           bool       `json:"is_published"`
	PublishedAt           *time.Time `json:"published_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`

	Answers []Answer `json:"answers,omitempty"`
}

// Answer is one student's response to one question; unique per
// (submission, question) with upsert semantics at the write path.
type Answer struct {
	ID             uuid.UUID  `json:"id"`
	SubmissionID   uuid.UUID  `json:"submission_id"`
	QuestionID     uuid.UUID  `json:"question_id"`
	AnswerText     *string    `json:"answer_text,omitempty"`
	SelectedOption *int       `json:"selected_option,omitempty"`
	AwardedMarks   float64    `json:"awarded_marks"`
	IsOverridden   bool       `json:"is_overridden"`
	OverriddenBy   *int       `json:"overridden_by,omitempty"`
	OverrideReason *string    `json:"override_reason,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SubmitAnswerRequest upserts one answer while a submission is in
// progress. Either answer_text or selected_option is expected.
type SubmitAnswerRequest struct {
	QuestionID     uuid.UUID `json:"question_id" binding:"required"`
	AnswerText     *string   `json:"answer_text" binding:"omitempty,max=10000"`
	SelectedOption *int      `json:"selected_option" binding:"omitempty,min=0"`
}

// OverrideScoreRequest manually overrides one answer's awarded marks on a
// marked submission. The upper bound (the question's marks) is enforced
// by the service.
type OverrideScoreRequest struct {
	Score  float64 `json:"score" binding:"min=0"`
	Reason string  `json:"reason" binding:"required,min=3,max=500"`
}

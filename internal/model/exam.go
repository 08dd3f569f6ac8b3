package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam identifies a scheduled, proctored assessment. Once students have
// started submissions only DurationMinutes (extendable) and TotalMarks
// may change.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	SchoolID        int        `json:"school_id"`
	ClassroomID     int        `json:"classroom_id"`
	SubjectID       *uuid.UUID `json:"subject_id,omitempty"`
	Session         string     `json:"session"`
	Term            int        `json:"term"`
	Title           string     `json:"title"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"` // nil = untimed
	MaxPauses       int        `json:"max_pauses"`
	ScheduledStart  *time.Time `json:"scheduled_start_at,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end_at,omitempty"`
	TotalMarks      float64    `json:"total_marks"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Timed reports whether the exam carries a duration.
func (e *Exam) Timed() bool { return e.DurationMinutes != nil }

// AdjustTimeRequest is the payload for extending an exam's duration.
type AdjustTimeRequest struct {
	AdditionalMinutes int `json:"additional_minutes" binding:"required"`
}

// AnnounceRequest is the payload for broadcasting an announcement to an
// exam room.
type AnnounceRequest struct {
	Message string `json:"message" binding:"required,min=1,max=500"`
}

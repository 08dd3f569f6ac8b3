package model

import (
	"time"

	"github.com/google/uuid"
)

// InvigilatorAssignment authorizes a teacher to manage one exam's live
// session. AssignedByRole records the assigner's role at assignment time:
// only an administrative assigner makes the assignment effective for
// privileged actions.
type InvigilatorAssignment struct {
	ID             uuid.UUID `json:"id"`
	ExamID         uuid.UUID `json:"exam_id"`
	StaffID        int       `json:"staff_id"`
	AssignedBy     int       `json:"assigned_by"`
	AssignedByRole StaffRole `json:"assigned_by_role"`
	CreatedAt      time.Time `json:"created_at"`
}

// AssignInvigilatorRequest is the payload for assigning a staff member
// as an exam's invigilator.
type AssignInvigilatorRequest struct {
	StaffID int `json:"staff_id" binding:"required"`
}

package model

import "time"

// Student is an enrolled learner. ClassroomID drives the start()
// enrollment precondition.
type Student struct {
	ID           int       `json:"id"`
	SchoolID     int       `json:"school_id"`
	ClassroomID  int       `json:"classroom_id"`
	Name         string    `json:"name"`
	RegNumber    string    `json:"reg_number"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StudentLoginRequest is the student login payload.
type StudentLoginRequest struct {
	RegNumber string `json:"reg_number" binding:"required"`
	Password  string `json:"password" binding:"required,min=6"`
}

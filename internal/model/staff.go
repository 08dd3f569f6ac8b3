package model

import "time"

// StaffRole orders the staff hierarchy. SUPER_ADMIN is the cross-school
// top role and bypasses school-scope checks; PRINCIPAL administers one
// school; TEACHER needs an administrative invigilator assignment for
// privileged exam-session actions.
type StaffRole string

const (
	RoleSuperAdmin StaffRole = "SUPER_ADMIN"
	RolePrincipal  StaffRole = "PRINCIPAL"
	RoleTeacher    StaffRole = "TEACHER"
)

// Administrative reports whether the role may assign invigilators and
// override exam schedules.
func (r StaffRole) Administrative() bool {
	return r == RoleSuperAdmin || r == RolePrincipal
}

// Staff is a school employee account.
type Staff struct {
	ID           int       `json:"id"`
	SchoolID     int       `json:"school_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         StaffRole `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StaffLoginRequest is the staff login payload.
type StaffLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

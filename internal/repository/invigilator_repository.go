package repository

import (
	"context"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InvigilatorRepository handles invigilator assignment rows.
type InvigilatorRepository struct {
	pool *pgxpool.Pool
}

// NewInvigilatorRepository creates a new InvigilatorRepository.
func NewInvigilatorRepository(pool *pgxpool.Pool) *InvigilatorRepository {
	return &InvigilatorRepository{pool: pool}
}

// GetAssignment retrieves a teacher's assignment for an exam, if any.
func (r *InvigilatorRepository) GetAssignment(ctx context.Context, examID uuid.UUID, staffID int) (*model.InvigilatorAssignment, error) {
	a := &model.InvigilatorAssignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, staff_id, assigned_by, assigned_by_role, created_at
		 FROM invigilator_assignments
		 WHERE exam_id = $1 AND staff_id = $2`, examID, staffID,
	).Scan(&a.ID, &a.ExamID, &a.StaffID, &a.AssignedBy, &a.AssignedByRole, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Assign records an invigilator assignment with the assigner's role at
// assignment time. Re-assigning refreshes the provenance.
func (r *InvigilatorRepository) Assign(ctx context.Context, a *model.InvigilatorAssignment) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO invigilator_assignments (exam_id, staff_id, assigned_by, assigned_by_role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, staff_id) DO UPDATE
		 SET assigned_by = EXCLUDED.assigned_by,
		     assigned_by_role = EXCLUDED.assigned_by_role
		 RETURNING id, created_at`,
		a.ExamID, a.StaffID, a.AssignedBy, a.AssignedByRole,
	).Scan(&a.ID, &a.CreatedAt)
}

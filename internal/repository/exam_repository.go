package repository

import (
	"context"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const examColumns = `id, school_id, classroom_id, subject_id, session, term, title,
	duration_minutes, max_pauses, scheduled_start_at, scheduled_end_at,
	total_marks, created_at, updated_at`

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.SchoolID, &e.ClassroomID, &e.SubjectID, &e.Session, &e.Term, &e.Title,
		&e.DurationMinutes, &e.MaxPauses, &e.ScheduledStart, &e.ScheduledEnd,
		&e.TotalMarks, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// IncrementDuration atomically extends a timed exam's duration and
// returns the new value. Untimed exams (duration IS NULL) do not match,
// surfacing as pgx.ErrNoRows. Never read-modify-write: concurrent
// adjustments must both land.
func (r *ExamRepository) IncrementDuration(ctx context.Context, id uuid.UUID, additionalMinutes int) (int, error) {
	var newDuration int
	err := r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET duration_minutes = duration_minutes + $1, updated_at = NOW()
		 WHERE id = $2 AND duration_minutes IS NOT NULL
		 RETURNING duration_minutes`,
		additionalMinutes, id,
	).Scan(&newDuration)
	return newDuration, err
}

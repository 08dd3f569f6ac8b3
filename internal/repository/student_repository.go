package repository

import (
	"context"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StudentRepository handles student data access; the state machine uses
// it only for the enrollment precondition and school-scope checks.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// GetByID retrieves a student by id.
func (r *StudentRepository) GetByID(ctx context.Context, id int) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, classroom_id, name, reg_number, password_hash, created_at
		 FROM students WHERE id = $1`, id,
	).Scan(&s.ID, &s.SchoolID, &s.ClassroomID, &s.Name, &s.RegNumber, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByRegNumber retrieves a student by registration number (login).
func (r *StudentRepository) GetByRegNumber(ctx context.Context, regNumber string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, classroom_id, name, reg_number, password_hash, created_at
		 FROM students WHERE reg_number = $1`, regNumber,
	).Scan(&s.ID, &s.SchoolID, &s.ClassroomID, &s.Name, &s.RegNumber, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

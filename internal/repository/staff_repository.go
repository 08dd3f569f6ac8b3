package repository

import (
	"context"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaffRepository handles staff account data access.
type StaffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository creates a new StaffRepository.
func NewStaffRepository(pool *pgxpool.Pool) *StaffRepository {
	return &StaffRepository{pool: pool}
}

// GetByID retrieves a staff member by id.
func (r *StaffRepository) GetByID(ctx context.Context, id int) (*model.Staff, error) {
	s := &model.Staff{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, name, email, role, password_hash, created_at
		 FROM staff WHERE id = $1`, id,
	).Scan(&s.ID, &s.SchoolID, &s.Name, &s.Email, &s.Role, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByEmail retrieves a staff member by email (login).
func (r *StaffRepository) GetByEmail(ctx context.Context, email string) (*model.Staff, error) {
	s := &model.Staff{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, name, email, role, password_hash, created_at
		 FROM staff WHERE email = $1`, email,
	).Scan(&s.ID, &s.SchoolID, &s.Name, &s.Email, &s.Role, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a staff account; used by the bootstrap CLI.
func (r *StaffRepository) Create(ctx context.Context, s *model.Staff) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO staff (school_id, name, email, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		s.SchoolID, s.Name, s.Email, s.Role, s.PasswordHash,
	).Scan(&s.ID, &s.CreatedAt)
}

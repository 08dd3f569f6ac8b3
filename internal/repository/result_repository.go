package repository

import (
	"context"
	"errors"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultUpsertRow is one bulk-publish item: a submission's score destined
// for a student's Result record.
type ResultUpsertRow struct {
	StudentID int
	SchoolID  int
	Session   string
	Term      int
	SubjectID uuid.UUID
	ExamID    uuid.UUID
	Score     float64
	MaxScore  float64
}

// ResultRepository handles the permanent per-student academic record.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// GetByStudent retrieves one student's Result with its subject items.
func (r *ResultRepository) GetByStudent(ctx context.Context, studentID int, session string, term int) (*model.Result, error) {
	res := &model.Result{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, school_id, session, term, total, created_at, updated_at
		 FROM results
		 WHERE student_id = $1 AND session = $2 AND term = $3`,
		studentID, session, term,
	).Scan(&res.ID, &res.StudentID, &res.SchoolID, &res.Session, &res.Term,
		&res.Total, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, result_id, subject_id, source_exam_id, score, max_score, updated_at
		 FROM result_items WHERE result_id = $1`, res.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it model.ResultItem
		if err := rows.Scan(&it.ID, &it.ResultID, &it.SubjectID, &it.SourceExamID,
			&it.Score, &it.MaxScore, &it.UpdatedAt); err != nil {
			return nil, err
		}
		res.Items = append(res.Items, it)
	}
	return res, rows.Err()
}

// GetManyByStudents fetches the Result records for a set of students in
// one pass, keyed by student id. Missing students are simply absent from
// the map.
func (r *ResultRepository) GetManyByStudents(ctx context.Context, studentIDs []int, session string, term int) (map[int]*model.Result, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, school_id, session, term, total, created_at, updated_at
		 FROM results
		 WHERE student_id = ANY($1::int[]) AND session = $2 AND term = $3`,
		studentIDs, session, term)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]*model.Result, len(studentIDs))
	for rows.Next() {
		res := &model.Result{}
		if err := rows.Scan(&res.ID, &res.StudentID, &res.SchoolID, &res.Session, &res.Term,
			&res.Total, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out[res.StudentID] = res
	}
	return out, rows.Err()
}

// EnsureResult creates the student's Result row if absent and reports
// whether it was newly created. Safe to re-run: the insert is a no-op on
// conflict.
func (r *ResultRepository) EnsureResult(ctx context.Context, q store.Querier, studentID, schoolID int, session string, term int) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx,
		`INSERT INTO results (student_id, school_id, session, term)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (student_id, session, term) DO NOTHING
		 RETURNING id`,
		studentID, schoolID, session, term,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	// DO NOTHING suppresses RETURNING on conflict, surfacing ErrNoRows.
	// Anything else is a real failure.
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, err
	}

	// Conflict path: the row already existed.
	err = q.QueryRow(ctx,
		`SELECT id FROM results WHERE student_id = $1 AND session = $2 AND term = $3`,
		studentID, session, term,
	).Scan(&id)
	return id, false, err
}

// UpsertItem writes exactly the subject item for the posted submission.
func (r *ResultRepository) UpsertItem(ctx context.Context, q store.Querier, resultID, subjectID, examID uuid.UUID, score, maxScore float64) error {
	_, err := q.Exec(ctx,
		`INSERT INTO result_items (result_id, subject_id, source_exam_id, score, max_score)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (result_id, subject_id) DO UPDATE
		 SET score = EXCLUDED.score,
		     max_score = EXCLUDED.max_score,
		     source_exam_id = EXCLUDED.source_exam_id,
		     updated_at = NOW()`,
		resultID, subjectID, examID, score, maxScore)
	return err
}

// RecomputeTotal rewrites the Result's derived total as the full sum of
// its items, never an incremental patch.
func (r *ResultRepository) RecomputeTotal(ctx context.Context, q store.Querier, resultID uuid.UUID) error {
	_, err := q.Exec(ctx,
		`UPDATE results
		 SET total = (
		     SELECT COALESCE(SUM(score), 0) FROM result_items WHERE result_id = $1
		 ), updated_at = NOW()
		 WHERE id = $1`, resultID)
	return err
}

// BulkUpsert merges a batch of submission scores into the Result store in
// three UNNEST-batched statements: ensure Result rows, upsert subject
// items, recompute derived totals. One round-trip set per batch instead
// of two per student.
func (r *ResultRepository) BulkUpsert(ctx context.Context, rows []ResultUpsertRow) error {
	if len(rows) == 0 {
		return nil
	}

	n := len(rows)
	studentIDs := make([]int, n)
	schoolIDs := make([]int, n)
	sessions := make([]string, n)
	terms := make([]int, n)
	subjectIDs := make([]uuid.UUID, n)
	examIDs := make([]uuid.UUID, n)
	scores := make([]float64, n)
	maxScores := make([]float64, n)

	for i, row := range rows {
		studentIDs[i] = row.StudentID
		schoolIDs[i] = row.SchoolID
		sessions[i] = row.Session
		terms[i] = row.Term
		subjectIDs[i] = row.SubjectID
		examIDs[i] = row.ExamID
		scores[i] = row.Score
		maxScores[i] = row.MaxScore
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO results (student_id, school_id, session, term)
		 SELECT DISTINCT u.student_id, u.school_id, u.session, u.term
		 FROM UNNEST($1::int[], $2::int[], $3::text[], $4::int[])
		      AS u (student_id, school_id, session, term)
		 ON CONFLICT (student_id, session, term) DO NOTHING`,
		studentIDs, schoolIDs, sessions, terms)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO result_items (result_id, subject_id, source_exam_id, score, max_score)
		 SELECT res.id, u.subject_id, u.exam_id, u.score, u.max_score
		 FROM UNNEST($1::int[], $2::text[], $3::int[], $4::uuid[], $5::uuid[], $6::float8[], $7::float8[])
		      AS u (student_id, session, term, subject_id, exam_id, score, max_score)
		 JOIN results res
		   ON res.student_id = u.student_id AND res.session = u.session AND res.term = u.term
		 ON CONFLICT (result_id, subject_id) DO UPDATE
		 SET score = EXCLUDED.score,
		     max_score = EXCLUDED.max_score,
		     source_exam_id = EXCLUDED.source_exam_id,
		     updated_at = NOW()`,
		studentIDs, sessions, terms, subjectIDs, examIDs, scores, maxScores)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE results res
		 SET total = (
		     SELECT COALESCE(SUM(score), 0) FROM result_items ri WHERE ri.result_id = res.id
		 ), updated_at = NOW()
		 FROM UNNEST($1::int[], $2::text[], $3::int[]) AS u (student_id, session, term)
		 WHERE res.student_id = u.student_id AND res.session = u.session AND res.term = u.term`,
		studentIDs, sessions, terms)
	return err
}

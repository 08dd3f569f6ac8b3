package repository

import (
	"context"
	"time"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const submissionColumns = `id, exam_id, student_id, session, term, status,
	start_time, end_time, pause_remaining_seconds, total_score,
	is_late, is_published, published_at, created_at, updated_at`

// txRunner runs multi-statement writes with the best consistency the
// store offers.
type txRunner interface {
	WithTxFallback(ctx context.Context, fn func(q store.Querier) error) error
}

// SubmissionRepository handles submission data access. Every status
// transition is a single conditional UPDATE with the expected status in
// the filter, so two concurrent requests can never both observe the same
// pre-state and both win.
type SubmissionRepository struct {
	pool   *pgxpool.Pool
	runner txRunner
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool, runner txRunner) *SubmissionRepository {
	return &SubmissionRepository{pool: pool, runner: runner}
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Session, &s.Term, &s.Status,
		&s.StartTime, &s.EndTime, &s.PauseRemainingSeconds, &s.TotalScore,
		&s.IsLate, &s.IsPublished, &s.PublishedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the submission for an (exam, student) pair.
func (r *SubmissionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID))
}

// Create inserts a submission in READY state. Session and term are copied
// from the exam, never from the client. ON CONFLICT DO NOTHING keeps the
// (exam, student) pair unique under concurrent start calls; a concurrent
// insert surfaces as pgx.ErrNoRows.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, student_id, session, term, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		s.ExamID, s.StudentID, s.Session, s.Term, model.SubmissionReady,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// Begin starts the timer: READY → IN_PROGRESS with ownership enforced in
// the filter. endTime is nil for untimed exams. pgx.ErrNoRows means the
// submission was not READY, not owned by the student, or missing.
func (r *SubmissionRepository) Begin(ctx context.Context, id uuid.UUID, studentID int, startTime time.Time, endTime *time.Time) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, start_time = $2, end_time = $3, updated_at = NOW()
		 WHERE id = $4 AND student_id = $5 AND status = $6
		 RETURNING `+submissionColumns,
		model.SubmissionInProgress, startTime, endTime, id, studentID, model.SubmissionReady))
}

// Pause freezes the timer: IN_PROGRESS → PAUSED. The remaining allowance
// is computed inside the statement from end_time so pause never races a
// concurrent finalize. Untimed submissions (end_time IS NULL) do not match.
func (r *SubmissionRepository) Pause(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1,
		     pause_remaining_seconds = GREATEST(0, EXTRACT(EPOCH FROM (end_time - NOW()))::bigint),
		     updated_at = NOW()
		 WHERE id = $2 AND status = $3 AND end_time IS NOT NULL
		 RETURNING `+submissionColumns,
		model.SubmissionPaused, id, model.SubmissionInProgress))
}

// Resume re-bases the deadline: PAUSED → IN_PROGRESS with
// end_time = NOW() + remaining, so wall-clock time spent paused never
// counts against the student.
func (r *SubmissionRepository) Resume(ctx context.Context, id uuid.UUID, studentID int) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1,
		     end_time = NOW() + make_interval(secs => pause_remaining_seconds),
		     pause_remaining_seconds = NULL,
		     updated_at = NOW()
		 WHERE id = $2 AND student_id = $3 AND status = $4
		 RETURNING `+submissionColumns,
		model.SubmissionInProgress, id, studentID, model.SubmissionPaused))
}

// Finalize closes the attempt: IN_PROGRESS → SUBMITTED in one conditional
// update (ownership + status in the filter, closing the double-submit
// race). Lateness relative to end_time + grace is recorded, not rejected.
func (r *SubmissionRepository) Finalize(ctx context.Context, id uuid.UUID, studentID int, grace time.Duration) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1,
		     is_late = (end_time IS NOT NULL AND NOW() > end_time + make_interval(secs => $2)),
		     updated_at = NOW()
		 WHERE id = $3 AND student_id = $4 AND status = $5
		 RETURNING `+submissionColumns,
		model.SubmissionSubmitted, grace.Seconds(), id, studentID, model.SubmissionInProgress))
}

// MarkScored records the scorer's output: SUBMITTED → MARKED.
func (r *SubmissionRepository) MarkScored(ctx context.Context, id uuid.UUID, totalScore float64) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, total_score = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4
		 RETURNING `+submissionColumns,
		model.SubmissionMarked, totalScore, id, model.SubmissionSubmitted))
}

// ForceSubmitInProgress transitions every IN_PROGRESS submission of an
// exam to SUBMITTED in one batched statement and returns how many were
// force-submitted.
func (r *SubmissionRepository) ForceSubmitInProgress(ctx context.Context, examID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = $1, end_time = NOW(), pause_remaining_seconds = NULL, updated_at = NOW()
		 WHERE exam_id = $2 AND status = $3`,
		model.SubmissionSubmitted, examID, model.SubmissionInProgress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertAnswer writes one answer by (submission, question) key in a
// single atomic statement. The EXISTS guard enforces the IN_PROGRESS
// precondition inside the same statement, so overlapping autosave calls
// cannot slip past a concurrent finalize. Returns false when the
// submission is not in progress (or missing).
func (r *SubmissionRepository) UpsertAnswer(ctx context.Context, submissionID, questionID uuid.UUID, answerText *string, selectedOption *int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO submission_answers (submission_id, question_id, answer_text, selected_option)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (
		     SELECT 1 FROM submissions WHERE id = $1 AND status = $5
		 )
		 ON CONFLICT (submission_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     selected_option = EXCLUDED.selected_option,
		     updated_at = NOW()`,
		submissionID, questionID, answerText, selectedOption, model.SubmissionInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListAnswers returns a submission's answers in question order.
func (r *SubmissionRepository) ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.submission_id, a.question_id, a.answer_text, a.selected_option,
		        a.awarded_marks, a.is_overridden, a.overridden_by, a.override_reason, a.updated_at
		 FROM submission_answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.submission_id = $1
		 ORDER BY q.order_num ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.AnswerText, &a.SelectedOption,
			&a.AwardedMarks, &a.IsOverridden, &a.OverriddenBy, &a.OverrideReason, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// GetAnswer retrieves one answer scoped to its submission.
func (r *SubmissionRepository) GetAnswer(ctx context.Context, submissionID, answerID uuid.UUID) (*model.Answer, error) {
	a := &model.Answer{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, submission_id, question_id, answer_text, selected_option,
		        awarded_marks, is_overridden, overridden_by, override_reason, updated_at
		 FROM submission_answers
		 WHERE id = $1 AND submission_id = $2`, answerID, submissionID,
	).Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.AnswerText, &a.SelectedOption,
		&a.AwardedMarks, &a.IsOverridden, &a.OverriddenBy, &a.OverrideReason, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// OverrideAnswer sets an answer's awarded marks with the override audit
// fields, then recomputes the submission total as the full sum — never an
// incremental patch — so repeated overrides cannot drift. Both statements
// run through the transactional runner so a failure between them cannot
// leave total_score out of step with the answers.
func (r *SubmissionRepository) OverrideAnswer(ctx context.Context, submissionID, answerID uuid.UUID, score float64, actorID int, reason string) (float64, error) {
	var total float64
	err := r.runner.WithTxFallback(ctx, func(q store.Querier) error {
		tag, err := q.Exec(ctx,
			`UPDATE submission_answers
			 SET awarded_marks = $1, is_overridden = true, overridden_by = $2,
			     override_reason = $3, updated_at = NOW()
			 WHERE id = $4 AND submission_id = $5`,
			score, actorID, reason, answerID, submissionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}

		return q.QueryRow(ctx,
			`UPDATE submissions
			 SET total_score = (
			     SELECT COALESCE(SUM(awarded_marks), 0)
			     FROM submission_answers WHERE submission_id = $1
			 ), updated_at = NOW()
			 WHERE id = $1
			 RETURNING total_score`, submissionID,
		).Scan(&total)
	})
	return total, err
}

// SaveAwardedMarks persists per-answer marks produced by the scorer in
// one UNNEST-batched statement.
func (r *SubmissionRepository) SaveAwardedMarks(ctx context.Context, submissionID uuid.UUID, questionIDs []uuid.UUID, marks []float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submission_answers AS a
		 SET awarded_marks = u.marks, updated_at = NOW()
		 FROM UNNEST($2::uuid[], $3::float8[]) AS u (question_id, marks)
		 WHERE a.submission_id = $1 AND a.question_id = u.question_id`,
		submissionID, questionIDs, marks)
	return err
}

// ListMarkedUnpublished returns every submission of an exam eligible for
// publishing.
func (r *SubmissionRepository) ListMarkedUnpublished(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1 AND status = $2 AND is_published = false
		 ORDER BY student_id ASC`, examID, model.SubmissionMarked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s := model.Submission{}
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Session, &s.Term, &s.Status,
			&s.StartTime, &s.EndTime, &s.PauseRemainingSeconds, &s.TotalScore,
			&s.IsLate, &s.IsPublished, &s.PublishedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListByExam returns every submission of an exam, newest activity first.
// Feeds the live monitor snapshot.
func (r *SubmissionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1
		 ORDER BY updated_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s := model.Submission{}
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Session, &s.Term, &s.Status,
			&s.StartTime, &s.EndTime, &s.PauseRemainingSeconds, &s.TotalScore,
			&s.IsLate, &s.IsPublished, &s.PublishedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// BulkMarkPublished flips is_published on the given submissions in one
// statement. The MARKED filter keeps the flip idempotent and safe to
// re-run after a partial failure.
func (r *SubmissionRepository) BulkMarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET is_published = true, published_at = $1, updated_at = NOW()
		 WHERE id = ANY($2::uuid[]) AND status = $3 AND is_published = false`,
		at, ids, model.SubmissionMarked)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetPublishedTx flips is_published on one submission through the given
// querier so the single-submission posting path can run it inside (or,
// on fallback, outside) a transaction. The flip is the less reversible
// write and is therefore ordered last by the caller.
func (r *SubmissionRepository) SetPublishedTx(ctx context.Context, q store.Querier, id uuid.UUID, at time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE submissions
		 SET is_published = true, published_at = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3 AND is_published = false`,
		at, id, model.SubmissionMarked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edukita/examhall-backend/internal/apperr"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/repository"
	"github.com/edukita/examhall-backend/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// PublishService merges marked submissions into the permanent Result
// store. PostSingle wraps the dual write in a transaction with a
// non-transactional fallback; PostBulk trades per-item transactions for
// batched upserts with per-item failure accounting.
type PublishService struct {
	submissions submissionStore
	results     resultStore
	exams       examStore
	students    studentStore
	staff       staffStore
	cache       resultCache
	runner      txRunner
	batchSize   int
	batchDelay  time.Duration
	log         zerolog.Logger
}

// NewPublishService creates a new PublishService.
func NewPublishService(
	submissions submissionStore,
	results resultStore,
	exams examStore,
	students studentStore,
	staff staffStore,
	cache resultCache,
	runner txRunner,
	batchSize int,
	batchDelay time.Duration,
	log zerolog.Logger,
) *PublishService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &PublishService{
		submissions: submissions,
		results:     results,
		exams:       exams,
		students:    students,
		staff:       staff,
		cache:       cache,
		runner:      runner,
		batchSize:   batchSize,
		batchDelay:  batchDelay,
		log:         log.With().Str("component", "publish_service").Logger(),
	}
}

// PostSingle publishes one marked submission's score into its student's
// Result. Preconditions are checked in order before any write, each with
// a distinct failure. The Result upsert and the isPublished flip run in
// one transaction where the store supports it; otherwise the same
// statements re-run unwrapped, with the flip ordered last because it is
// the least reversible write. Returns whether the Result record was newly
// created.
func (s *PublishService) PostSingle(ctx context.Context, submissionID uuid.UUID, actor Actor) (bool, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperr.NotFound("submission not found")
		}
		return false, fmt.Errorf("get submission: %w", err)
	}
	if sub.Status != model.SubmissionMarked {
		return false, apperr.Validation("cannot publish a submission in status %s", sub.Status)
	}
	if sub.IsPublished {
		return false, apperr.Conflict("submission is already published")
	}

	exam, err := s.exams.GetByID(ctx, sub.ExamID)
	if err != nil {
		return false, fmt.Errorf("get exam: %w", err)
	}
	if exam.SubjectID == nil {
		return false, apperr.Validation("exam is not linked to a subject")
	}

	student, err := s.students.GetByID(ctx, sub.StudentID)
	if err != nil {
		return false, fmt.Errorf("get student: %w", err)
	}
	if actor.Role != model.RoleSuperAdmin && actor.SchoolID != student.SchoolID {
		return false, apperr.Authorization("student belongs to another school")
	}

	var created bool
	err = s.runner.WithTxFallback(ctx, func(q store.Querier) error {
		resultID, isNew, err := s.results.EnsureResult(ctx, q, sub.StudentID, student.SchoolID, sub.Session, sub.Term)
		if err != nil {
			return fmt.Errorf("ensure result: %w", err)
		}
		created = isNew

		if err := s.results.UpsertItem(ctx, q, resultID, *exam.SubjectID, exam.ID, sub.TotalScore, exam.TotalMarks); err != nil {
			return fmt.Errorf("upsert result item: %w", err)
		}
		if err := s.results.RecomputeTotal(ctx, q, resultID); err != nil {
			return fmt.Errorf("recompute total: %w", err)
		}
		return s.submissions.SetPublishedTx(ctx, q, sub.ID, time.Now())
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperr.Conflict("submission is already published")
		}
		return false, fmt.Errorf("publish submission: %w", err)
	}

	s.cache.Invalidate(ctx, sub.StudentID, sub.Session, sub.Term)
	return created, nil
}

// PublishOutcome is one submission's result inside a bulk-publish run.
type PublishOutcome struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	StudentID    int       `json:"student_id"`
	Success      bool      `json:"success"`
	Reason       string    `json:"reason,omitempty"`
}

// BatchTiming reports one batch's size and duration.
type BatchTiming struct {
	Index      int   `json:"index"`
	Size       int   `json:"size"`
	DurationMS int64 `json:"duration_ms"`
}

// PublishReport is the multi-status summary of a bulk publish: callers
// can retry exactly the failed subset.
type PublishReport struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Batches   []BatchTiming    `json:"batches"`
	Details   []PublishOutcome `json:"details"`
}

// PostBulk publishes every marked, unpublished submission of an exam:
// warm the Result cache for the involved students, upsert scores in
// fixed-size batches, account each item's outcome individually, then flip
// isPublished on the successes in one statement and invalidate only the
// affected cache entries. A failing item never aborts the batch or the
// run; only a store failure on the final flip does.
func (s *PublishService) PostBulk(ctx context.Context, examID uuid.UUID, actor Actor) (*PublishReport, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("exam not found")
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if actor.Role != model.RoleSuperAdmin && actor.SchoolID != exam.SchoolID {
		return nil, apperr.Authorization("exam belongs to another school")
	}

	subs, err := s.submissions.ListMarkedUnpublished(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list publishable submissions: %w", err)
	}

	report := &PublishReport{Total: len(subs)}
	if len(subs) == 0 {
		return report, nil
	}

	s.preloadResults(ctx, subs, exam.Session, exam.Term)

	// Exams are resolved per submission so a mixed working set (retries,
	// merged runs) still classifies each item against its own exam.
	examsByID := map[uuid.UUID]*model.Exam{exam.ID: exam}

	var successIDs []uuid.UUID
	var successStudents []int

	for start := 0; start < len(subs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(subs) {
			end = len(subs)
		}
		batch := subs[start:end]
		batchStart := time.Now()

		var rows []repository.ResultUpsertRow
		// Indices into report.Details, not pointers: the slice still grows
		// while the batch is being classified.
		var rowOutcomes []int

		for i := range batch {
			sub := &batch[i]
			outcome := PublishOutcome{SubmissionID: sub.ID, StudentID: sub.StudentID}

			subExam, ok := examsByID[sub.ExamID]
			if !ok {
				subExam, err = s.exams.GetByID(ctx, sub.ExamID)
				if err != nil {
					subExam = nil
				}
				examsByID[sub.ExamID] = subExam
			}

			switch {
			case subExam == nil:
				outcome.Reason = "exam not found"
				report.Details = append(report.Details, outcome)
			case subExam.SubjectID == nil:
				outcome.Reason = "exam is not linked to a subject"
				report.Details = append(report.Details, outcome)
			default:
				rows = append(rows, repository.ResultUpsertRow{
					StudentID: sub.StudentID,
					SchoolID:  subExam.SchoolID,
					Session:   sub.Session,
					Term:      sub.Term,
					SubjectID: *subExam.SubjectID,
					ExamID:    subExam.ID,
					Score:     sub.TotalScore,
					MaxScore:  subExam.TotalMarks,
				})
				report.Details = append(report.Details, outcome)
				rowOutcomes = append(rowOutcomes, len(report.Details)-1)
			}
		}

		if len(rows) > 0 {
			if err := s.results.BulkUpsert(ctx, rows); err != nil {
				s.log.Error().Err(err).Int("batch", len(report.Batches)).Msg("Bulk upsert failed")
				for _, idx := range rowOutcomes {
					report.Details[idx].Reason = "bulk update failed"
				}
			} else {
				for i, idx := range rowOutcomes {
					report.Details[idx].Success = true
					successIDs = append(successIDs, report.Details[idx].SubmissionID)
					successStudents = append(successStudents, rows[i].StudentID)
				}
			}
		}

		report.Batches = append(report.Batches, BatchTiming{
			Index:      len(report.Batches),
			Size:       len(batch),
			DurationMS: time.Since(batchStart).Milliseconds(),
		})

		if end < len(subs) && s.batchDelay > 0 {
			time.Sleep(s.batchDelay)
		}
	}

	if len(successIDs) > 0 {
		if _, err := s.submissions.BulkMarkPublished(ctx, successIDs, time.Now()); err != nil {
			return nil, fmt.Errorf("mark published: %w", err)
		}
		s.cache.InvalidateMany(ctx, successStudents, exam.Session, exam.Term)
	}

	for i := range report.Details {
		if report.Details[i].Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// GetResult serves one student's Result, cache first with a store
// fallback that repopulates the cache.
func (s *PublishService) GetResult(ctx context.Context, studentID int, session string, term int) (*model.Result, error) {
	if cached := s.cache.GetMany(ctx, []int{studentID}, session, term); cached[studentID] != nil {
		return cached[studentID], nil
	}

	fetched, err := s.results.GetManyByStudents(ctx, []int{studentID}, session, term)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	res, ok := fetched[studentID]
	if !ok {
		return nil, apperr.NotFound("no result recorded for this student")
	}
	s.cache.SetMany(ctx, []*model.Result{res})
	return res, nil
}

// preloadResults warms the cache for every student touched by a bulk run:
// existing entries are kept, misses are fetched from the store in one
// pass and written back.
func (s *PublishService) preloadResults(ctx context.Context, subs []model.Submission, session string, term int) {
	studentIDs := make([]int, 0, len(subs))
	seen := make(map[int]bool, len(subs))
	for i := range subs {
		if !seen[subs[i].StudentID] {
			seen[subs[i].StudentID] = true
			studentIDs = append(studentIDs, subs[i].StudentID)
		}
	}

	cached := s.cache.GetMany(ctx, studentIDs, session, term)
	var misses []int
	for _, id := range studentIDs {
		if cached[id] == nil {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return
	}

	fetched, err := s.results.GetManyByStudents(ctx, misses, session, term)
	if err != nil {
		s.log.Warn().Err(err).Msg("Result preload failed, continuing without cache warmup")
		return
	}
	toCache := make([]*model.Result, 0, len(fetched))
	for _, res := range fetched {
		toCache = append(toCache, res)
	}
	s.cache.SetMany(ctx, toCache)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edukita/examhall-backend/internal/apperr"
	"github.com/edukita/examhall-backend/internal/examtime"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/notifier"
	"github.com/edukita/examhall-backend/internal/scorer"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// SubmissionService is the submission state machine. Transitions only
// advance along READY → IN_PROGRESS ⇄ PAUSED → SUBMITTED → MARKED; every
// guarded transition is a single conditional update at the store, and the
// service's job on a miss is diagnosing which precondition actually
// failed.
type SubmissionService struct {
	submissions submissionStore
	exams       examStore
	questions   questionStore
	students    studentStore
	authorizer  sessionAuthorizer
	scorer      scorer.Scorer
	events      eventSink
	grace       time.Duration
	log         zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	submissions submissionStore,
	exams examStore,
	questions questionStore,
	students studentStore,
	authorizer sessionAuthorizer,
	sc scorer.Scorer,
	events eventSink,
	grace time.Duration,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		submissions: submissions,
		exams:       exams,
		questions:   questions,
		students:    students,
		authorizer:  authorizer,
		scorer:      sc,
		events:      events,
		grace:       grace,
		log:         log.With().Str("component", "submission_service").Logger(),
	}
}

// StartResult is the Start response: the (possibly existing) submission
// plus the exam's questions with answer-key fields stripped.
type StartResult struct {
	Submission *model.Submission          `json:"submission"`
	Questions  []model.QuestionForStudent `json:"questions"`
}

// Start loads the exam for a student, creating the READY submission on
// first call. Idempotent: repeat calls return the same submission, and
// the question set is returned for READY, IN_PROGRESS and PAUSED alike so
// re-fetching before beginning is legal. Timer fields are never touched
// here; only Begin starts the clock.
func (s *SubmissionService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*StartResult, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("exam not found")
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("student not found")
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	if student.ClassroomID != exam.ClassroomID {
		return nil, apperr.Authorization("student is not enrolled in the exam's classroom")
	}

	sub, err := s.submissions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get submission: %w", err)
		}
		// Session and term come from the exam, never from the client.
		sub = &model.Submission{
			ExamID:    examID,
			StudentID: studentID,
			Session:   exam.Session,
			Term:      exam.Term,
			Status:    model.SubmissionReady,
		}
		if err := s.submissions.Create(ctx, sub); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("create submission: %w", err)
			}
			// Lost a concurrent create; the winner's row is ours too.
			sub, err = s.submissions.GetByExamAndStudent(ctx, examID, studentID)
			if err != nil {
				return nil, fmt.Errorf("get submission after concurrent create: %w", err)
			}
		}
	}

	if sub.Status == model.SubmissionSubmitted || sub.Status == model.SubmissionMarked {
		return nil, apperr.Conflict("exam already submitted")
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	stripped := make([]model.QuestionForStudent, 0, len(questions))
	for i := range questions {
		stripped = append(stripped, questions[i].ForStudent())
	}

	return &StartResult{Submission: sub, Questions: stripped}, nil
}

// Begin starts the timer: READY → IN_PROGRESS, startTime = now, and for
// timed exams endTime = startTime + duration.
func (s *SubmissionService) Begin(ctx context.Context, submissionID uuid.UUID, studentID int) (*model.Submission, error) {
	sub, err := s.getOwned(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}

	exam, err := s.exams.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	startTime := time.Now()
	var endTime *time.Time
	if exam.Timed() {
		et := examtime.EndTime(startTime, *exam.DurationMinutes)
		endTime = &et
	}

	updated, err := s.submissions.Begin(ctx, submissionID, studentID, startTime, endTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.diagnose(ctx, submissionID, studentID, "begin", model.SubmissionReady)
		}
		return nil, fmt.Errorf("begin submission: %w", err)
	}
	return updated, nil
}

// Pause is a staff-only administrative action: IN_PROGRESS → PAUSED with
// the remaining allowance frozen. Untimed submissions cannot be paused.
// Broadcasts the status change to the exam room and a targeted event to
// the paused student.
func (s *SubmissionService) Pause(ctx context.Context, submissionID uuid.UUID, actor Actor) (*model.Submission, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("submission not found")
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}

	exam, err := s.exams.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := s.authorizer.Authorize(ctx, exam, actor); err != nil {
		return nil, err
	}

	updated, err := s.submissions.Pause(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, gerr := s.submissions.GetByID(ctx, submissionID)
			if gerr != nil {
				return nil, fmt.Errorf("get submission: %w", gerr)
			}
			if current.Status != model.SubmissionInProgress {
				return nil, apperr.Validation("cannot pause a submission in status %s", current.Status)
			}
			return nil, apperr.Validation("an untimed submission cannot be paused")
		}
		return nil, fmt.Errorf("pause submission: %w", err)
	}

	s.events.BroadcastRoom(ctx, exam.ID, notifier.EventStudentPaused, map[string]any{
		"submission_id": updated.ID,
		"student_id":    updated.StudentID,
	})
	s.events.NotifyStudent(ctx, updated.StudentID, notifier.EventExamPaused, map[string]any{
		"submission_id": updated.ID,
	})
	return updated, nil
}

// Resume is student-initiated: PAUSED → IN_PROGRESS with the deadline
// re-based to now + frozen remainder, so time spent paused never counts
// against the student.
func (s *SubmissionService) Resume(ctx context.Context, submissionID uuid.UUID, studentID int) (*model.Submission, error) {
	updated, err := s.submissions.Resume(ctx, submissionID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.diagnose(ctx, submissionID, studentID, "resume", model.SubmissionPaused)
		}
		return nil, fmt.Errorf("resume submission: %w", err)
	}

	s.events.BroadcastRoom(ctx, updated.ExamID, notifier.EventExamResumed, map[string]any{
		"submission_id": updated.ID,
		"student_id":    updated.StudentID,
	})
	return updated, nil
}

// SubmitAnswer upserts one answer by question id while the submission is
// IN_PROGRESS. The write is a single atomic statement so overlapping
// autosave calls from one client cannot lose updates.
func (s *SubmissionService) SubmitAnswer(ctx context.Context, submissionID uuid.UUID, studentID int, req *model.SubmitAnswerRequest) error {
	sub, err := s.getOwned(ctx, submissionID, studentID)
	if err != nil {
		return err
	}

	ok, err := s.submissions.UpsertAnswer(ctx, submissionID, req.QuestionID, req.AnswerText, req.SelectedOption)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	if !ok {
		// The guard in the statement saw a status other than IN_PROGRESS;
		// re-read for the message.
		current, gerr := s.submissions.GetByID(ctx, submissionID)
		if gerr != nil {
			current = sub
		}
		return apperr.Validation("cannot submit an answer to a submission in status %s", current.Status)
	}
	return nil
}

// Finalize closes the attempt: IN_PROGRESS → SUBMITTED via one
// conditional update, so two racing finalize calls cannot both win. A
// submission past endTime + grace is still accepted but flagged late.
func (s *SubmissionService) Finalize(ctx context.Context, submissionID uuid.UUID, studentID int) (*model.Submission, error) {
	updated, err := s.submissions.Finalize(ctx, submissionID, studentID, s.grace)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.diagnose(ctx, submissionID, studentID, "finalize", model.SubmissionInProgress)
		}
		return nil, fmt.Errorf("finalize submission: %w", err)
	}

	if updated.IsLate {
		s.log.Warn().
			Str("submission_id", updated.ID.String()).
			Int("student_id", updated.StudentID).
			Msg("Late submission accepted")
	}
	return updated, nil
}

// Mark grades a SUBMITTED submission: every answer goes through the
// scorer, awarded marks are persisted in one batch, and the submission
// moves to MARKED with the summed total.
func (s *SubmissionService) Mark(ctx context.Context, submissionID uuid.UUID, actor Actor) (*model.Submission, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("submission not found")
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}

	exam, err := s.exams.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if actor.Role != model.RoleSuperAdmin && actor.SchoolID != exam.SchoolID {
		return nil, apperr.Authorization("exam belongs to another school")
	}

	if sub.Status == model.SubmissionMarked {
		return nil, apperr.Conflict("submission is already marked")
	}
	if sub.Status != model.SubmissionSubmitted {
		return nil, apperr.Validation("cannot mark a submission in status %s", sub.Status)
	}

	questions, err := s.questions.ListByExam(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byQuestion := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byQuestion[questions[i].ID] = &questions[i]
	}

	answers, err := s.submissions.ListAnswers(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	questionIDs := make([]uuid.UUID, 0, len(answers))
	marks := make([]float64, 0, len(answers))
	var total float64
	for i := range answers {
		q, ok := byQuestion[answers[i].QuestionID]
		if !ok {
			continue
		}
		awarded := s.scorer.Score(q, &answers[i])
		questionIDs = append(questionIDs, answers[i].QuestionID)
		marks = append(marks, awarded)
		total += awarded
	}

	if len(questionIDs) > 0 {
		if err := s.submissions.SaveAwardedMarks(ctx, submissionID, questionIDs, marks); err != nil {
			return nil, fmt.Errorf("save awarded marks: %w", err)
		}
	}

	updated, err := s.submissions.MarkScored(ctx, submissionID, total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("submission is already marked")
		}
		return nil, fmt.Errorf("mark submission: %w", err)
	}
	return updated, nil
}

// OverrideAnswerScore manually re-awards one answer on a MARKED
// submission, bounded by the question's marks, then recomputes the total
// as the full sum.
func (s *SubmissionService) OverrideAnswerScore(ctx context.Context, submissionID, answerID uuid.UUID, req *model.OverrideScoreRequest, actor Actor) (float64, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("submission not found")
		}
		return 0, fmt.Errorf("get submission: %w", err)
	}

	exam, err := s.exams.GetByID(ctx, sub.ExamID)
	if err != nil {
		return 0, fmt.Errorf("get exam: %w", err)
	}
	if actor.Role != model.RoleSuperAdmin && actor.SchoolID != exam.SchoolID {
		return 0, apperr.Authorization("exam belongs to another school")
	}

	if sub.Status != model.SubmissionMarked {
		return 0, apperr.Validation("cannot override a score on a submission in status %s", sub.Status)
	}

	answer, err := s.submissions.GetAnswer(ctx, submissionID, answerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("answer not found")
		}
		return 0, fmt.Errorf("get answer: %w", err)
	}

	question, err := s.questions.GetByID(ctx, answer.QuestionID)
	if err != nil {
		return 0, fmt.Errorf("get question: %w", err)
	}
	if req.Score < 0 || req.Score > question.Marks {
		return 0, apperr.Validation("score must be between 0 and %g", question.Marks)
	}

	total, err := s.submissions.OverrideAnswer(ctx, submissionID, answerID, req.Score, actor.ID, req.Reason)
	if err != nil {
		return 0, fmt.Errorf("override answer: %w", err)
	}
	return total, nil
}

// EndExam force-submits every IN_PROGRESS submission of an exam in one
// batched update and broadcasts the count. The force-submitted
// submissions stay SUBMITTED; marking remains a separate step.
func (s *SubmissionService) EndExam(ctx context.Context, examID uuid.UUID, actor Actor) (int64, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("exam not found")
		}
		return 0, fmt.Errorf("get exam: %w", err)
	}
	if err := s.authorizer.AuthorizeEnd(ctx, exam, actor); err != nil {
		return 0, err
	}

	count, err := s.submissions.ForceSubmitInProgress(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("force submit: %w", err)
	}

	s.events.BroadcastRoom(ctx, examID, notifier.EventExamEnded, map[string]any{
		"force_submitted": count,
	})
	return count, nil
}

// State reports a submission's live timer view: status and, for a timed
// in-progress attempt, the seconds remaining.
func (s *SubmissionService) State(ctx context.Context, submissionID uuid.UUID, studentID int) (*SubmissionState, error) {
	sub, err := s.getOwned(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}

	state := &SubmissionState{Submission: sub}
	switch {
	case sub.Status == model.SubmissionPaused && sub.PauseRemainingSeconds != nil:
		state.RemainingSeconds = float64(*sub.PauseRemainingSeconds)
	case sub.Status == model.SubmissionInProgress && sub.EndTime != nil:
		state.RemainingSeconds = examtime.RemainingOnPause(*sub.EndTime, time.Now()).Seconds()
	}
	return state, nil
}

// SubmissionState is the live timer view returned by State.
type SubmissionState struct {
	Submission       *model.Submission `json:"submission"`
	RemainingSeconds float64           `json:"remaining_seconds"`
}

// getOwned fetches a submission and enforces that the caller owns it.
func (s *SubmissionService) getOwned(ctx context.Context, submissionID uuid.UUID, studentID int) (*model.Submission, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("submission not found")
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub.StudentID != studentID {
		return nil, apperr.Authorization("submission belongs to another student")
	}
	return sub, nil
}

// diagnose turns a conditional-update miss into the precise precondition
// failure: missing row, wrong owner, or an illegal source status (named,
// so the caller can display it).
func (s *SubmissionService) diagnose(ctx context.Context, submissionID uuid.UUID, studentID int, action string, want model.SubmissionStatus) error {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("submission not found")
		}
		return fmt.Errorf("get submission: %w", err)
	}
	if sub.StudentID != studentID {
		return apperr.Authorization("submission belongs to another student")
	}
	if sub.Status != want {
		return apperr.Validation("cannot %s a submission in status %s", action, sub.Status)
	}
	return fmt.Errorf("%s submission: conditional update matched no rows", action)
}

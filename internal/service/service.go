// Package service holds the exam-session business logic: the submission
// state machine, the score posting pipeline, and the invigilator
// authorization chain. Store dependencies are narrow interfaces so the
// state machine can be exercised without a database.
package service

import (
	"context"
	"time"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/repository"
	"github.com/edukita/examhall-backend/internal/store"
	"github.com/google/uuid"
)

// Actor identifies the staff member behind a privileged call.
type Actor struct {
	ID       int
	SchoolID int
	Role     model.StaffRole
}

type examStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	IncrementDuration(ctx context.Context, id uuid.UUID, additionalMinutes int) (int, error)
}

type questionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
}

type studentStore interface {
	GetByID(ctx context.Context, id int) (*model.Student, error)
}

type staffStore interface {
	GetByID(ctx context.Context, id int) (*model.Staff, error)
}

type invigilatorStore interface {
	GetAssignment(ctx context.Context, examID uuid.UUID, staffID int) (*model.InvigilatorAssignment, error)
	Assign(ctx context.Context, a *model.InvigilatorAssignment) error
}

type submissionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Submission, error)
	Create(ctx context.Context, s *model.Submission) error
	Begin(ctx context.Context, id uuid.UUID, studentID int, startTime time.Time, endTime *time.Time) (*model.Submission, error)
	Pause(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	Resume(ctx context.Context, id uuid.UUID, studentID int) (*model.Submission, error)
	Finalize(ctx context.Context, id uuid.UUID, studentID int, grace time.Duration) (*model.Submission, error)
	MarkScored(ctx context.Context, id uuid.UUID, totalScore float64) (*model.Submission, error)
	ForceSubmitInProgress(ctx context.Context, examID uuid.UUID) (int64, error)
	UpsertAnswer(ctx context.Context, submissionID, questionID uuid.UUID, answerText *string, selectedOption *int) (bool, error)
	ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error)
	GetAnswer(ctx context.Context, submissionID, answerID uuid.UUID) (*model.Answer, error)
	OverrideAnswer(ctx context.Context, submissionID, answerID uuid.UUID, score float64, actorID int, reason string) (float64, error)
	SaveAwardedMarks(ctx context.Context, submissionID uuid.UUID, questionIDs []uuid.UUID, marks []float64) error
	ListMarkedUnpublished(ctx context.Context, examID uuid.UUID) ([]model.Submission, error)
	BulkMarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
	SetPublishedTx(ctx context.Context, q store.Querier, id uuid.UUID, at time.Time) error
}

type resultStore interface {
	EnsureResult(ctx context.Context, q store.Querier, studentID, schoolID int, session string, term int) (uuid.UUID, bool, error)
	UpsertItem(ctx context.Context, q store.Querier, resultID, subjectID, examID uuid.UUID, score, maxScore float64) error
	RecomputeTotal(ctx context.Context, q store.Querier, resultID uuid.UUID) error
	GetManyByStudents(ctx context.Context, studentIDs []int, session string, term int) (map[int]*model.Result, error)
	BulkUpsert(ctx context.Context, rows []repository.ResultUpsertRow) error
}

type resultCache interface {
	GetMany(ctx context.Context, studentIDs []int, session string, term int) map[int]*model.Result
	SetMany(ctx context.Context, results []*model.Result)
	Invalidate(ctx context.Context, studentID int, session string, term int)
	InvalidateMany(ctx context.Context, studentIDs []int, session string, term int)
}

// eventSink is the fire-and-forget notification channel; implementations
// must never surface delivery failures to the caller.
type eventSink interface {
	BroadcastRoom(ctx context.Context, examID uuid.UUID, event string, payload any)
	NotifyStudent(ctx context.Context, studentID int, event string, payload any)
}

type txRunner interface {
	WithTxFallback(ctx context.Context, fn func(q store.Querier) error) error
}

// sessionAuthorizer gates privileged exam-session actions (pause, end,
// adjust-time, announce).
type sessionAuthorizer interface {
	Authorize(ctx context.Context, exam *model.Exam, actor Actor) error
	AuthorizeEnd(ctx context.Context, exam *model.Exam, actor Actor) error
}

package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/edukita/examhall-backend/internal/examtime"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/repository"
	"github.com/edukita/examhall-backend/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-memory stores mirroring the repositories' conditional-update
// semantics: guarded transitions return pgx.ErrNoRows when the filter
// would not have matched.

type fakeSubmissionStore struct {
	subs    map[uuid.UUID]*model.Submission
	answers map[uuid.UUID][]*model.Answer
	now     func() time.Time
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{
		subs:    make(map[uuid.UUID]*model.Submission),
		answers: make(map[uuid.UUID][]*model.Answer),
		now:     time.Now,
	}
}

func (f *fakeSubmissionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissionStore) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int) (*model.Submission, error) {
	for _, sub := range f.subs {
		if sub.ExamID == examID && sub.StudentID == studentID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSubmissionStore) Create(_ context.Context, s *model.Submission) error {
	for _, sub := range f.subs {
		if sub.ExamID == s.ExamID && sub.StudentID == s.StudentID {
			return pgx.ErrNoRows
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = f.now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	f.subs[s.ID] = &cp
	return nil
}

func (f *fakeSubmissionStore) Begin(_ context.Context, id uuid.UUID, studentID int, startTime time.Time, endTime *time.Time) (*model.Submission, error) {
	sub, ok := f.subs[id]
	if !ok || sub.StudentID != studentID || sub.Status != model.SubmissionReady {
		return nil, pgx.ErrNoRows
	}
	sub.Status = model.SubmissionInProgress
	sub.StartTime = &startTime
	sub.EndTime = endTime
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissionStore) Pause(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	sub, ok := f.subs[id]
	if !ok || sub.Status != model.SubmissionInProgress || sub.EndTime == nil {
		return nil, pgx.ErrNoRows
	}
	remaining := int64(examtime.RemainingOnPause(*sub.EndTime, f.now()).Seconds())
	sub.Status = model.SubmissionPaused
	sub.PauseRemainingSeconds = &remaining
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissionStore) Resume(_ context.Context, id uuid.UUID, studentID int) (*model.Submission, error) {
	sub, ok := f.subs[id]
	if !ok || sub.StudentID != studentID || sub.Status != model.SubmissionPaused {
		return nil, pgx.ErrNoRows
	}
	end := examtime.ResumeEndTime(f.now(), time.Duration(*sub.PauseRemainingSeconds)*time.Second)
	sub.Status = model.SubmissionInProgress
	sub.EndTime = &end
	sub.PauseRemainingSeconds = nil
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissionStore) Finalize(_ context.Context, id uuid.UUID, studentID int, grace time.Duration) (*model.Submission, error) {
	sub, ok := f.subs[id]
	if !ok || sub.StudentID != studentID || sub.Status != model.SubmissionInProgress {
		return nil, pgx.ErrNoRows
	}
	sub.Status = model.SubmissionSubmitted
	sub.IsLate = sub.EndTime != nil && examtime.Expired(*sub.EndTime, f.now(), grace)
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissionStore) MarkScored(_ context.Context, id uuid.UUID, totalScore float64) (*model.Submission, error) {
	sub, ok := f.subs[id]
	if !ok || sub.Status != model.SubmissionSubmitted {
		return nil, pgx.ErrNoRows
	}
	sub.Status = model.SubmissionMarked
	sub.TotalScore = totalScore
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissionStore) ForceSubmitInProgress(_ context.Context, examID uuid.UUID) (int64, error) {
	var count int64
	now := f.now()
	for _, sub := range f.subs {
		if sub.ExamID == examID && sub.Status == model.SubmissionInProgress {
			sub.Status = model.SubmissionSubmitted
			sub.EndTime = &now
			sub.PauseRemainingSeconds = nil
			count++
		}
	}
	return count, nil
}

func (f *fakeSubmissionStore) UpsertAnswer(_ context.Context, submissionID, questionID uuid.UUID, answerText *string, selectedOption *int) (bool, error) {
	sub, ok := f.subs[submissionID]
	if !ok || sub.Status != model.SubmissionInProgress {
		return false, nil
	}
	for _, a := range f.answers[submissionID] {
		if a.QuestionID == questionID {
			a.AnswerText = answerText
			a.SelectedOption = selectedOption
			return true, nil
		}
	}
	f.answers[submissionID] = append(f.answers[submissionID], &model.Answer{
		ID:             uuid.New(),
		SubmissionID:   submissionID,
		QuestionID:     questionID,
		AnswerText:     answerText,
		SelectedOption: selectedOption,
	})
	return true, nil
}

func (f *fakeSubmissionStore) ListAnswers(_ context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	var out []model.Answer
	for _, a := range f.answers[submissionID] {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeSubmissionStore) GetAnswer(_ context.Context, submissionID, answerID uuid.UUID) (*model.Answer, error) {
	for _, a := range f.answers[submissionID] {
		if a.ID == answerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSubmissionStore) OverrideAnswer(_ context.Context, submissionID, answerID uuid.UUID, score float64, actorID int, reason string) (float64, error) {
	var target *model.Answer
	for _, a := range f.answers[submissionID] {
		if a.ID == answerID {
			target = a
			break
		}
	}
	if target == nil {
		return 0, pgx.ErrNoRows
	}
	target.AwardedMarks = score
	target.IsOverridden = true
	target.OverriddenBy = &actorID
	target.OverrideReason = &reason

	var total float64
	for _, a := range f.answers[submissionID] {
		total += a.AwardedMarks
	}
	if sub, ok := f.subs[submissionID]; ok {
		sub.TotalScore = total
	}
	return total, nil
}

func (f *fakeSubmissionStore) SaveAwardedMarks(_ context.Context, submissionID uuid.UUID, questionIDs []uuid.UUID, marks []float64) error {
	for i, qid := range questionIDs {
		for _, a := range f.answers[submissionID] {
			if a.QuestionID == qid {
				a.AwardedMarks = marks[i]
			}
		}
	}
	return nil
}

// ListMarkedUnpublished returns the whole staged working set, sorted by
// student for determinism; exam scoping is the repository's concern, and
// returning a mixed set exercises the per-item exam resolution in the
// bulk publisher.
func (f *fakeSubmissionStore) ListMarkedUnpublished(_ context.Context, _ uuid.UUID) ([]model.Submission, error) {
	var out []model.Submission
	for _, sub := range f.subs {
		if sub.Status == model.SubmissionMarked && !sub.IsPublished {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (f *fakeSubmissionStore) BulkMarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	var count int64
	for _, id := range ids {
		sub, ok := f.subs[id]
		if ok && sub.Status == model.SubmissionMarked && !sub.IsPublished {
			sub.IsPublished = true
			sub.PublishedAt = &at
			count++
		}
	}
	return count, nil
}

func (f *fakeSubmissionStore) SetPublishedTx(_ context.Context, _ store.Querier, id uuid.UUID, at time.Time) error {
	sub, ok := f.subs[id]
	if !ok || sub.Status != model.SubmissionMarked || sub.IsPublished {
		return pgx.ErrNoRows
	}
	sub.IsPublished = true
	sub.PublishedAt = &at
	return nil
}

type fakeExamStore struct {
	exams map[uuid.UUID]*model.Exam
}

func newFakeExamStore(exams ...*model.Exam) *fakeExamStore {
	f := &fakeExamStore{exams: make(map[uuid.UUID]*model.Exam)}
	for _, e := range exams {
		f.exams[e.ID] = e
	}
	return f
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) IncrementDuration(_ context.Context, id uuid.UUID, additionalMinutes int) (int, error) {
	e, ok := f.exams[id]
	if !ok || e.DurationMinutes == nil {
		return 0, pgx.ErrNoRows
	}
	*e.DurationMinutes += additionalMinutes
	return *e.DurationMinutes, nil
}

type fakeQuestionStore struct {
	questions []*model.Question
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	var out []model.Question
	for _, q := range f.questions {
		if q.ExamID == examID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (f *fakeQuestionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	for _, q := range f.questions {
		if q.ID == id {
			cp := *q
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeStudentStore struct {
	students map[int]*model.Student
}

func (f *fakeStudentStore) GetByID(_ context.Context, id int) (*model.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

type fakeStaffStore struct {
	staff map[int]*model.Staff
}

func (f *fakeStaffStore) GetByID(_ context.Context, id int) (*model.Staff, error) {
	s, ok := f.staff[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

type invKey struct {
	examID  uuid.UUID
	staffID int
}

type fakeInvigilatorStore struct {
	assignments map[invKey]*model.InvigilatorAssignment
}

func newFakeInvigilatorStore() *fakeInvigilatorStore {
	return &fakeInvigilatorStore{assignments: make(map[invKey]*model.InvigilatorAssignment)}
}

func (f *fakeInvigilatorStore) GetAssignment(_ context.Context, examID uuid.UUID, staffID int) (*model.InvigilatorAssignment, error) {
	a, ok := f.assignments[invKey{examID, staffID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeInvigilatorStore) Assign(_ context.Context, a *model.InvigilatorAssignment) error {
	a.ID = uuid.New()
	cp := *a
	f.assignments[invKey{a.ExamID, a.StaffID}] = &cp
	return nil
}

type resultKey struct {
	studentID int
	session   string
	term      int
}

type fakeResultStore struct {
	results  map[resultKey]*model.Result
	failBulk bool
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{results: make(map[resultKey]*model.Result)}
}

func (f *fakeResultStore) EnsureResult(_ context.Context, _ store.Querier, studentID, schoolID int, session string, term int) (uuid.UUID, bool, error) {
	key := resultKey{studentID, session, term}
	if res, ok := f.results[key]; ok {
		return res.ID, false, nil
	}
	res := &model.Result{
		ID:        uuid.New(),
		StudentID: studentID,
		SchoolID:  schoolID,
		Session:   session,
		Term:      term,
	}
	f.results[key] = res
	return res.ID, true, nil
}

func (f *fakeResultStore) UpsertItem(_ context.Context, _ store.Querier, resultID, subjectID, examID uuid.UUID, score, maxScore float64) error {
	res := f.byID(resultID)
	if res == nil {
		return errors.New("result not found")
	}
	for i := range res.Items {
		if res.Items[i].SubjectID == subjectID {
			res.Items[i].Score = score
			res.Items[i].MaxScore = maxScore
			res.Items[i].SourceExamID = examID
			return nil
		}
	}
	res.Items = append(res.Items, model.ResultItem{
		ID:           uuid.New(),
		ResultID:     resultID,
		SubjectID:    subjectID,
		SourceExamID: examID,
		Score:        score,
		MaxScore:     maxScore,
	})
	return nil
}

func (f *fakeResultStore) RecomputeTotal(_ context.Context, _ store.Querier, resultID uuid.UUID) error {
	res := f.byID(resultID)
	if res == nil {
		return errors.New("result not found")
	}
	res.Total = 0
	for i := range res.Items {
		res.Total += res.Items[i].Score
	}
	return nil
}

func (f *fakeResultStore) GetManyByStudents(_ context.Context, studentIDs []int, session string, term int) (map[int]*model.Result, error) {
	out := make(map[int]*model.Result)
	for _, id := range studentIDs {
		if res, ok := f.results[resultKey{id, session, term}]; ok {
			cp := *res
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeResultStore) BulkUpsert(ctx context.Context, rows []repository.ResultUpsertRow) error {
	if f.failBulk {
		return errors.New("bulk write rejected")
	}
	for _, row := range rows {
		id, _, err := f.EnsureResult(ctx, nil, row.StudentID, row.SchoolID, row.Session, row.Term)
		if err != nil {
			return err
		}
		if err := f.UpsertItem(ctx, nil, id, row.SubjectID, row.ExamID, row.Score, row.MaxScore); err != nil {
			return err
		}
		if err := f.RecomputeTotal(ctx, nil, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeResultStore) byID(id uuid.UUID) *model.Result {
	for _, res := range f.results {
		if res.ID == id {
			return res
		}
	}
	return nil
}

type fakeResultCache struct {
	entries     map[resultKey]*model.Result
	invalidated []int
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{entries: make(map[resultKey]*model.Result)}
}

func (f *fakeResultCache) GetMany(_ context.Context, studentIDs []int, session string, term int) map[int]*model.Result {
	out := make(map[int]*model.Result)
	for _, id := range studentIDs {
		if res, ok := f.entries[resultKey{id, session, term}]; ok {
			out[id] = res
		}
	}
	return out
}

func (f *fakeResultCache) SetMany(_ context.Context, results []*model.Result) {
	for _, res := range results {
		f.entries[resultKey{res.StudentID, res.Session, res.Term}] = res
	}
}

func (f *fakeResultCache) Invalidate(_ context.Context, studentID int, session string, term int) {
	delete(f.entries, resultKey{studentID, session, term})
	f.invalidated = append(f.invalidated, studentID)
}

func (f *fakeResultCache) InvalidateMany(ctx context.Context, studentIDs []int, session string, term int) {
	for _, id := range studentIDs {
		f.Invalidate(ctx, id, session, term)
	}
}

type sinkEvent struct {
	examID    uuid.UUID
	studentID int
	event     string
}

type fakeEventSink struct {
	events []sinkEvent
}

func (f *fakeEventSink) BroadcastRoom(_ context.Context, examID uuid.UUID, event string, _ any) {
	f.events = append(f.events, sinkEvent{examID: examID, event: event})
}

func (f *fakeEventSink) NotifyStudent(_ context.Context, studentID int, event string, _ any) {
	f.events = append(f.events, sinkEvent{studentID: studentID, event: event})
}

func (f *fakeEventSink) has(event string) bool {
	for _, e := range f.events {
		if e.event == event {
			return true
		}
	}
	return false
}

type fakeRunner struct{}

func (fakeRunner) WithTxFallback(_ context.Context, fn func(q store.Querier) error) error {
	return fn(nil)
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/edukita/examhall-backend/internal/apperr"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/notifier"
	"github.com/edukita/examhall-backend/internal/scorer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	testStudentID = 7
	testSchoolID  = 1
	testClassID   = 3
)

type fixture struct {
	subs      *fakeSubmissionStore
	exams     *fakeExamStore
	questions *fakeQuestionStore
	students  *fakeStudentStore
	staff     *fakeStaffStore
	inv       *fakeInvigilatorStore
	sink      *fakeEventSink
	auth      *InvigilatorService
	svc       *SubmissionService
	exam      *model.Exam
}

func newFixture(t *testing.T, durationMinutes *int) *fixture {
	t.Helper()

	subjectID := uuid.New()
	exam := &model.Exam{
		ID:              uuid.New(),
		SchoolID:        testSchoolID,
		ClassroomID:     testClassID,
		SubjectID:       &subjectID,
		Session:         "2026/2027",
		Term:            1,
		Title:           "Midterm Biology",
		DurationMinutes: durationMinutes,
		TotalMarks:      20,
	}

	f := &fixture{
		subs:      newFakeSubmissionStore(),
		exams:     newFakeExamStore(exam),
		questions: &fakeQuestionStore{},
		students: &fakeStudentStore{students: map[int]*model.Student{
			testStudentID: {ID: testStudentID, SchoolID: testSchoolID, ClassroomID: testClassID, Name: "Ade"},
		}},
		staff: &fakeStaffStore{staff: map[int]*model.Staff{}},
		inv:   newFakeInvigilatorStore(),
		sink:  &fakeEventSink{},
		exam:  exam,
	}
	f.auth = NewInvigilatorService(f.exams, f.staff, f.inv, f.sink, zerolog.Nop())
	f.svc = NewSubmissionService(
		f.subs, f.exams, f.questions, f.students, f.auth,
		scorer.NewAutoScorer(), f.sink, 30*time.Second, zerolog.Nop(),
	)
	return f
}

func (f *fixture) addQuestion(marks float64, correct int) *model.Question {
	q := &model.Question{ID: uuid.New(), ExamID: f.exam.ID, Marks: marks, CorrectOption: &correct}
	f.questions.questions = append(f.questions.questions, q)
	return q
}

func (f *fixture) principal() Actor {
	return Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal}
}

func minutes(v int) *int { return &v }

func TestStartIdempotent(t *testing.T) {
	f := newFixture(t, minutes(60))
	f.addQuestion(5, 1)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.Submission.Status != model.SubmissionReady {
		t.Fatalf("status = %s, want READY", first.Submission.Status)
	}
	if first.Submission.StartTime != nil {
		t.Fatal("start must not touch timer fields")
	}
	if len(first.Questions) != 1 {
		t.Fatalf("questions = %d, want 1", len(first.Questions))
	}

	second, err := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Submission.ID != first.Submission.ID {
		t.Fatal("repeat start created a second submission")
	}
	if len(f.subs.subs) != 1 {
		t.Fatalf("submissions stored = %d, want 1", len(f.subs.subs))
	}
}

func TestStartCopiesSessionFromExam(t *testing.T) {
	f := newFixture(t, minutes(60))
	res, err := f.svc.Start(context.Background(), f.exam.ID, testStudentID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Submission.Session != f.exam.Session || res.Submission.Term != f.exam.Term {
		t.Fatalf("session/term = %s/%d, want %s/%d",
			res.Submission.Session, res.Submission.Term, f.exam.Session, f.exam.Term)
	}
}

func TestStartRejectsUnenrolledStudent(t *testing.T) {
	f := newFixture(t, minutes(60))
	f.students.students[8] = &model.Student{ID: 8, SchoolID: testSchoolID, ClassroomID: testClassID + 1}

	_, err := f.svc.Start(context.Background(), f.exam.ID, 8)
	if !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("err = %v, want authorization error", err)
	}
}

func TestStartAfterSubmitConflicts(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.svc.Finalize(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, err := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestBeginSetsTimer(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	sub, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if sub.Status != model.SubmissionInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", sub.Status)
	}
	if sub.StartTime == nil || sub.EndTime == nil {
		t.Fatal("timed begin must set both start and end time")
	}
	if got := sub.EndTime.Sub(*sub.StartTime); got != 60*time.Minute {
		t.Fatalf("end - start = %v, want 60m", got)
	}
}

func TestBeginUntimedLeavesEndTimeNil(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	sub, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if sub.EndTime != nil {
		t.Fatal("untimed begin must leave end time nil")
	}
}

func TestBeginFromIllegalStatusNamesIt(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), string(model.SubmissionInProgress)) {
		t.Fatalf("message %q must name the current status", err.Error())
	}
}

func TestBeginOwnershipEnforced(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	_, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID+1)
	if !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("err = %v, want authorization error", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	paused, err := f.svc.Pause(ctx, res.Submission.ID, f.principal())
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != model.SubmissionPaused {
		t.Fatalf("status = %s, want PAUSED", paused.Status)
	}
	if paused.PauseRemainingSeconds == nil || *paused.PauseRemainingSeconds <= 0 {
		t.Fatal("pause must freeze a positive remaining allowance")
	}
	if !f.sink.has(notifier.EventStudentPaused) || !f.sink.has(notifier.EventExamPaused) {
		t.Fatal("pause must broadcast to the room and notify the student")
	}

	resumed, err := f.svc.Resume(ctx, res.Submission.ID, testStudentID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != model.SubmissionInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", resumed.Status)
	}
	if resumed.PauseRemainingSeconds != nil {
		t.Fatal("resume must clear the frozen remainder")
	}
	if resumed.EndTime == nil {
		t.Fatal("resume must re-base the deadline")
	}
}

func TestPauseUntimedRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := f.svc.Pause(ctx, res.Submission.ID, f.principal())
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestPauseRequiresAuthorization(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	unassignedTeacher := Actor{ID: 50, SchoolID: testSchoolID, Role: model.RoleTeacher}
	_, err := f.svc.Pause(ctx, res.Submission.ID, unassignedTeacher)
	if !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("err = %v, want authorization error", err)
	}
}

func TestSubmitAnswerUpsertLaw(t *testing.T) {
	f := newFixture(t, minutes(60))
	q1 := f.addQuestion(5, 1)
	q2 := f.addQuestion(5, 0)
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	first, second := 0, 1
	if err := f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q1.ID, SelectedOption: &first}); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if err := f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q1.ID, SelectedOption: &second}); err != nil {
		t.Fatalf("second answer: %v", err)
	}

	answers, _ := f.subs.ListAnswers(ctx, res.Submission.ID)
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1 after double submit to same question", len(answers))
	}
	if *answers[0].SelectedOption != second {
		t.Fatalf("selected = %d, want the later value %d", *answers[0].SelectedOption, second)
	}

	if err := f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q2.ID, SelectedOption: &first}); err != nil {
		t.Fatalf("distinct question: %v", err)
	}
	answers, _ = f.subs.ListAnswers(ctx, res.Submission.ID)
	if len(answers) != 2 {
		t.Fatalf("answers = %d, want 2 after distinct questions", len(answers))
	}
}

func TestSubmitAnswerOutsideInProgressRejected(t *testing.T) {
	f := newFixture(t, minutes(60))
	q := f.addQuestion(5, 1)
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	opt := 1
	err := f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q.ID, SelectedOption: &opt})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), string(model.SubmissionReady)) {
		t.Fatalf("message %q must name the current status", err.Error())
	}
}

func TestFinalizeDoubleSubmit(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	sub, err := f.svc.Finalize(ctx, res.Submission.ID, testStudentID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if sub.Status != model.SubmissionSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", sub.Status)
	}
	if sub.IsLate {
		t.Fatal("on-time finalize must not be flagged late")
	}

	_, err = f.svc.Finalize(ctx, res.Submission.ID, testStudentID)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), string(model.SubmissionSubmitted)) {
		t.Fatalf("message %q must name the current status", err.Error())
	}
}

func TestMarkScoresAndTransitions(t *testing.T) {
	f := newFixture(t, minutes(60))
	q1 := f.addQuestion(5, 1)
	q2 := f.addQuestion(3, 2)
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	right, wrong := 1, 0
	_ = f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q1.ID, SelectedOption: &right})
	_ = f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q2.ID, SelectedOption: &wrong})
	if _, err := f.svc.Finalize(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	marked, err := f.svc.Mark(ctx, res.Submission.ID, f.principal())
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if marked.Status != model.SubmissionMarked {
		t.Fatalf("status = %s, want MARKED", marked.Status)
	}
	if marked.TotalScore != 5 {
		t.Fatalf("total = %v, want 5 (one correct of 5 marks)", marked.TotalScore)
	}

	_, err = f.svc.Mark(ctx, res.Submission.ID, f.principal())
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict on re-mark", err)
	}
}

func TestMarkBeforeSubmitRejected(t *testing.T) {
	f := newFixture(t, minutes(60))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	_, err := f.svc.Mark(ctx, res.Submission.ID, f.principal())
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), string(model.SubmissionReady)) {
		t.Fatalf("message %q must name the current status", err.Error())
	}
}

func TestOverrideRecomputesFullSum(t *testing.T) {
	f := newFixture(t, minutes(60))
	qs := []*model.Question{f.addQuestion(10, 1), f.addQuestion(10, 1), f.addQuestion(10, 1)}
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	opt := 0
	for _, q := range qs {
		_ = f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
			&model.SubmitAnswerRequest{QuestionID: q.ID, SelectedOption: &opt})
	}
	if _, err := f.svc.Finalize(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := f.svc.Mark(ctx, res.Submission.ID, f.principal()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	// Seed awarded marks [5, 3, 8] as if graded that way.
	answers, _ := f.subs.ListAnswers(ctx, res.Submission.ID)
	seed := []float64{5, 3, 8}
	ids := make([]uuid.UUID, len(answers))
	for i := range answers {
		ids[i] = answers[i].QuestionID
	}
	_ = f.subs.SaveAwardedMarks(ctx, res.Submission.ID, ids, seed)

	answers, _ = f.subs.ListAnswers(ctx, res.Submission.ID)
	total, err := f.svc.OverrideAnswerScore(ctx, res.Submission.ID, answers[1].ID,
		&model.OverrideScoreRequest{Score: 7, Reason: "partial credit for working"}, f.principal())
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if total != 20 {
		t.Fatalf("total = %v, want 20 (5+7+8), not an incremental patch", total)
	}

	overridden, _ := f.subs.GetAnswer(ctx, res.Submission.ID, answers[1].ID)
	if !overridden.IsOverridden || overridden.OverriddenBy == nil {
		t.Fatal("override must record the audit fields")
	}
}

func TestOverrideOutOfRangeRejected(t *testing.T) {
	f := newFixture(t, minutes(60))
	q := f.addQuestion(10, 1)
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	opt := 1
	_ = f.svc.SubmitAnswer(ctx, res.Submission.ID, testStudentID,
		&model.SubmitAnswerRequest{QuestionID: q.ID, SelectedOption: &opt})
	if _, err := f.svc.Finalize(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := f.svc.Mark(ctx, res.Submission.ID, f.principal()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	answers, _ := f.subs.ListAnswers(ctx, res.Submission.ID)
	_, err := f.svc.OverrideAnswerScore(ctx, res.Submission.ID, answers[0].ID,
		&model.OverrideScoreRequest{Score: 11, Reason: "too generous"}, f.principal())
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "10") {
		t.Fatalf("message %q must name the bound", err.Error())
	}
}

func TestEndExamForceSubmitsAndBroadcasts(t *testing.T) {
	f := newFixture(t, minutes(90))
	ctx := context.Background()

	// Three students: two in progress, one still ready.
	for i := 0; i < 3; i++ {
		id := testStudentID + i
		f.students.students[id] = &model.Student{ID: id, SchoolID: testSchoolID, ClassroomID: testClassID}
		res, err := f.svc.Start(ctx, f.exam.ID, id)
		if err != nil {
			t.Fatalf("start %d: %v", id, err)
		}
		if i < 2 {
			if _, err := f.svc.Begin(ctx, res.Submission.ID, id); err != nil {
				t.Fatalf("begin %d: %v", id, err)
			}
		}
	}

	count, err := f.svc.EndExam(ctx, f.exam.ID, f.principal())
	if err != nil {
		t.Fatalf("end exam: %v", err)
	}
	if count != 2 {
		t.Fatalf("force submitted = %d, want 2", count)
	}
	if !f.sink.has(notifier.EventExamEnded) {
		t.Fatal("end exam must broadcast to the room")
	}
}

func TestEndExamInvigilatorProvenance(t *testing.T) {
	f := newFixture(t, minutes(90))
	ctx := context.Background()

	res, _ := f.svc.Start(ctx, f.exam.ID, testStudentID)
	if _, err := f.svc.Begin(ctx, res.Submission.ID, testStudentID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	teacher := Actor{ID: 50, SchoolID: testSchoolID, Role: model.RoleTeacher}

	// Unassigned teacher is denied.
	if _, err := f.svc.EndExam(ctx, f.exam.ID, teacher); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("err = %v, want authorization error for unassigned teacher", err)
	}

	// Assigned by another teacher: still denied.
	f.inv.assignments[invKey{f.exam.ID, teacher.ID}] = &model.InvigilatorAssignment{
		ExamID: f.exam.ID, StaffID: teacher.ID, AssignedBy: 51, AssignedByRole: model.RoleTeacher,
	}
	if _, err := f.svc.EndExam(ctx, f.exam.ID, teacher); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("err = %v, want authorization error for teacher-assigned invigilator", err)
	}

	// Assigned by the principal: authorized.
	f.inv.assignments[invKey{f.exam.ID, teacher.ID}] = &model.InvigilatorAssignment{
		ExamID: f.exam.ID, StaffID: teacher.ID, AssignedBy: 100, AssignedByRole: model.RolePrincipal,
	}
	count, err := f.svc.EndExam(ctx, f.exam.ID, teacher)
	if err != nil {
		t.Fatalf("end exam: %v", err)
	}
	if count != 1 {
		t.Fatalf("force submitted = %d, want 1", count)
	}
}

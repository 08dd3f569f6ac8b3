package service

import (
	"context"
	"strings"
	"testing"

	"github.com/edukita/examhall-backend/internal/apperr"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type publishFixture struct {
	subs    *fakeSubmissionStore
	exams   *fakeExamStore
	results *fakeResultStore
	cache   *fakeResultCache
	stud    *fakeStudentStore
	svc     *PublishService
	examA   *model.Exam // linked to a subject
	examB   *model.Exam // no subject link
}

func newPublishFixture(t *testing.T, batchSize int) *publishFixture {
	t.Helper()

	subjectID := uuid.New()
	examA := &model.Exam{
		ID: uuid.New(), SchoolID: testSchoolID, ClassroomID: testClassID,
		SubjectID: &subjectID, Session: "2026/2027", Term: 1, TotalMarks: 100,
	}
	examB := &model.Exam{
		ID: uuid.New(), SchoolID: testSchoolID, ClassroomID: testClassID,
		Session: "2026/2027", Term: 1, TotalMarks: 100,
	}

	f := &publishFixture{
		subs:    newFakeSubmissionStore(),
		exams:   newFakeExamStore(examA, examB),
		results: newFakeResultStore(),
		cache:   newFakeResultCache(),
		stud:    &fakeStudentStore{students: map[int]*model.Student{}},
		examA:   examA,
		examB:   examB,
	}
	f.svc = NewPublishService(
		f.subs, f.results, f.exams, f.stud, &fakeStaffStore{},
		f.cache, fakeRunner{}, batchSize, 0, zerolog.Nop(),
	)
	return f
}

// stageMarked inserts a MARKED, unpublished submission ready to publish.
func (f *publishFixture) stageMarked(exam *model.Exam, studentID int, score float64) *model.Submission {
	sub := &model.Submission{
		ID:         uuid.New(),
		ExamID:     exam.ID,
		StudentID:  studentID,
		Session:    exam.Session,
		Term:       exam.Term,
		Status:     model.SubmissionMarked,
		TotalScore: score,
	}
	f.subs.subs[sub.ID] = sub
	f.stud.students[studentID] = &model.Student{
		ID: studentID, SchoolID: exam.SchoolID, ClassroomID: exam.ClassroomID,
	}
	return sub
}

func TestPostSinglePublishes(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()
	sub := f.stageMarked(f.examA, 7, 82)

	created, err := f.svc.PostSingle(ctx, sub.ID, Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal})
	if err != nil {
		t.Fatalf("post single: %v", err)
	}
	if !created {
		t.Fatal("first publish must create the result record")
	}

	stored := f.subs.subs[sub.ID]
	if !stored.IsPublished || stored.PublishedAt == nil {
		t.Fatal("publish must flip is_published with a timestamp")
	}

	res := f.results.results[resultKey{7, f.examA.Session, f.examA.Term}]
	if res == nil {
		t.Fatal("result record not created")
	}
	if len(res.Items) != 1 || res.Items[0].Score != 82 || res.Items[0].MaxScore != 100 {
		t.Fatalf("result item = %+v, want score 82 / max 100", res.Items)
	}
	if res.Total != 82 {
		t.Fatalf("total = %v, want 82", res.Total)
	}
}

func TestPostSingleMergesIntoExistingResult(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()
	sub := f.stageMarked(f.examA, 7, 82)

	// The student already has a result with another subject's item.
	otherSubject := uuid.New()
	resultID, _, _ := f.results.EnsureResult(ctx, nil, 7, testSchoolID, f.examA.Session, f.examA.Term)
	_ = f.results.UpsertItem(ctx, nil, resultID, otherSubject, uuid.New(), 60, 100)
	_ = f.results.RecomputeTotal(ctx, nil, resultID)

	created, err := f.svc.PostSingle(ctx, sub.ID, Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal})
	if err != nil {
		t.Fatalf("post single: %v", err)
	}
	if created {
		t.Fatal("existing result must not be reported as created")
	}

	res := f.results.results[resultKey{7, f.examA.Session, f.examA.Term}]
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2 (merge, not replace)", len(res.Items))
	}
	if res.Total != 142 {
		t.Fatalf("total = %v, want 142 (60 + 82)", res.Total)
	}
}

func TestPostSinglePreconditionOrder(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()
	principal := Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal}

	t.Run("missing submission", func(t *testing.T) {
		_, err := f.svc.PostSingle(ctx, uuid.New(), principal)
		if !apperr.IsKind(err, apperr.KindNotFound) {
			t.Fatalf("err = %v, want not found", err)
		}
	})

	t.Run("not yet marked", func(t *testing.T) {
		sub := f.stageMarked(f.examA, 20, 50)
		f.subs.subs[sub.ID].Status = model.SubmissionSubmitted
		_, err := f.svc.PostSingle(ctx, sub.ID, principal)
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("err = %v, want validation", err)
		}
		if !strings.Contains(err.Error(), string(model.SubmissionSubmitted)) {
			t.Fatalf("message %q must name the status", err.Error())
		}
	})

	t.Run("already published", func(t *testing.T) {
		sub := f.stageMarked(f.examA, 21, 50)
		f.subs.subs[sub.ID].IsPublished = true
		_, err := f.svc.PostSingle(ctx, sub.ID, principal)
		if !apperr.IsKind(err, apperr.KindConflict) {
			t.Fatalf("err = %v, want conflict", err)
		}
	})

	t.Run("exam without subject", func(t *testing.T) {
		sub := f.stageMarked(f.examB, 22, 50)
		_, err := f.svc.PostSingle(ctx, sub.ID, principal)
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("err = %v, want validation", err)
		}
		if !strings.Contains(err.Error(), "not linked to a subject") {
			t.Fatalf("message %q must name the missing subject link", err.Error())
		}
	})

	t.Run("actor from another school", func(t *testing.T) {
		sub := f.stageMarked(f.examA, 23, 50)
		outsider := Actor{ID: 200, SchoolID: 9, Role: model.RolePrincipal}
		_, err := f.svc.PostSingle(ctx, sub.ID, outsider)
		if !apperr.IsKind(err, apperr.KindAuthorization) {
			t.Fatalf("err = %v, want authorization", err)
		}
	})
}

func TestPostSingleRepublishConflicts(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()
	sub := f.stageMarked(f.examA, 7, 82)
	principal := Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal}

	if _, err := f.svc.PostSingle(ctx, sub.ID, principal); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	_, err := f.svc.PostSingle(ctx, sub.ID, principal)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict on republish", err)
	}
}

func TestPostBulkPartialFailure(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()

	// Eight publishable submissions plus two whose exam has no subject.
	for i := 1; i <= 8; i++ {
		f.stageMarked(f.examA, i, float64(50+i))
	}
	for i := 9; i <= 10; i++ {
		f.stageMarked(f.examB, i, 40)
	}

	report, err := f.svc.PostBulk(ctx, f.examA.ID, Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal})
	if err != nil {
		t.Fatalf("post bulk: %v", err)
	}

	if report.Total != 10 || report.Succeeded != 8 || report.Failed != 2 {
		t.Fatalf("report = %d/%d/%d (total/ok/failed), want 10/8/2",
			report.Total, report.Succeeded, report.Failed)
	}

	for _, d := range report.Details {
		if d.StudentID >= 9 {
			if d.Success || !strings.Contains(d.Reason, "not linked to a subject") {
				t.Fatalf("student %d outcome = %+v, want subject-link failure", d.StudentID, d)
			}
		} else if !d.Success {
			t.Fatalf("student %d outcome = %+v, want success", d.StudentID, d)
		}
	}

	// isPublished flipped only on the successes.
	for _, sub := range f.subs.subs {
		wantPublished := sub.StudentID <= 8
		if sub.IsPublished != wantPublished {
			t.Fatalf("student %d published = %v, want %v", sub.StudentID, sub.IsPublished, wantPublished)
		}
	}

	// Cache invalidated for exactly the affected students.
	if len(f.cache.invalidated) != 8 {
		t.Fatalf("invalidated = %d students, want 8", len(f.cache.invalidated))
	}
}

func TestPostBulkBatching(t *testing.T) {
	f := newPublishFixture(t, 3)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		f.stageMarked(f.examA, i, 60)
	}

	report, err := f.svc.PostBulk(ctx, f.examA.ID, Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal})
	if err != nil {
		t.Fatalf("post bulk: %v", err)
	}
	if len(report.Batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(report.Batches))
	}
	sizes := []int{report.Batches[0].Size, report.Batches[1].Size, report.Batches[2].Size}
	if sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("batch sizes = %v, want [3 3 1]", sizes)
	}
	if report.Succeeded != 7 {
		t.Fatalf("succeeded = %d, want 7", report.Succeeded)
	}
}

func TestPostBulkStoreFailureIsolated(t *testing.T) {
	f := newPublishFixture(t, 50)
	f.results.failBulk = true
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		f.stageMarked(f.examA, i, 60)
	}

	report, err := f.svc.PostBulk(ctx, f.examA.ID, Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal})
	if err != nil {
		t.Fatalf("post bulk must not abort on a failing batch: %v", err)
	}
	if report.Succeeded != 0 || report.Failed != 4 {
		t.Fatalf("report = %d ok / %d failed, want 0/4", report.Succeeded, report.Failed)
	}
	for _, d := range report.Details {
		if d.Reason != "bulk update failed" {
			t.Fatalf("reason = %q, want bulk update failed", d.Reason)
		}
	}
	for _, sub := range f.subs.subs {
		if sub.IsPublished {
			t.Fatal("no submission may be flipped when its batch failed")
		}
	}
}

func TestPostBulkEmpty(t *testing.T) {
	f := newPublishFixture(t, 50)
	report, err := f.svc.PostBulk(context.Background(), f.examA.ID,
		Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal})
	if err != nil {
		t.Fatalf("post bulk: %v", err)
	}
	if report.Total != 0 || len(report.Details) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
}

func TestPostBulkRetryFailedSubset(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()
	principal := Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal}

	for i := 1; i <= 3; i++ {
		f.stageMarked(f.examA, i, 60)
	}
	f.results.failBulk = true
	if _, err := f.svc.PostBulk(ctx, f.examA.ID, principal); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The failed subset stays publishable and succeeds on retry.
	f.results.failBulk = false
	report, err := f.svc.PostBulk(ctx, f.examA.ID, principal)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if report.Total != 3 || report.Succeeded != 3 {
		t.Fatalf("retry report = %d/%d, want 3/3", report.Total, report.Succeeded)
	}
}

func TestGetResultCacheFallback(t *testing.T) {
	f := newPublishFixture(t, 50)
	ctx := context.Background()
	sub := f.stageMarked(f.examA, 7, 82)
	principal := Actor{ID: 100, SchoolID: testSchoolID, Role: model.RolePrincipal}

	if _, err := f.svc.PostSingle(ctx, sub.ID, principal); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// First read misses the cache (invalidated by publish) and repopulates it.
	res, err := f.svc.GetResult(ctx, 7, f.examA.Session, f.examA.Term)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if res.Total != 82 {
		t.Fatalf("total = %v, want 82", res.Total)
	}
	if f.cache.entries[resultKey{7, f.examA.Session, f.examA.Term}] == nil {
		t.Fatal("store fallback must repopulate the cache")
	}

	_, err = f.svc.GetResult(ctx, 99, f.examA.Session, f.examA.Term)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found for student without results", err)
	}
}

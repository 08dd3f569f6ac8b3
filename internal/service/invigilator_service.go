package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edukita/examhall-backend/internal/apperr"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/notifier"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// InvigilatorService gates privileged exam-session actions. The chain:
// SUPER_ADMIN bypasses everything; the exam's own school's PRINCIPAL is
// authorized outright; a TEACHER needs an invigilator assignment for the
// exam whose assigner held an administrative role. A teacher assigned by
// another teacher is not enough.
type InvigilatorService struct {
	exams       examStore
	staff       staffStore
	assignments invigilatorStore
	events      eventSink
	log         zerolog.Logger
}

// NewInvigilatorService creates a new InvigilatorService.
func NewInvigilatorService(
	exams examStore,
	staff staffStore,
	assignments invigilatorStore,
	events eventSink,
	log zerolog.Logger,
) *InvigilatorService {
	return &InvigilatorService{
		exams:       exams,
		staff:       staff,
		assignments: assignments,
		events:      events,
		log:         log.With().Str("component", "invigilator_service").Logger(),
	}
}

// Authorize implements the chain for pause/adjust-time/announce.
func (s *InvigilatorService) Authorize(ctx context.Context, exam *model.Exam, actor Actor) error {
	if actor.Role == model.RoleSuperAdmin {
		return nil
	}
	if actor.SchoolID != exam.SchoolID {
		return apperr.Authorization("exam belongs to another school")
	}
	if actor.Role == model.RolePrincipal {
		return nil
	}

	assignment, err := s.assignments.GetAssignment(ctx, exam.ID, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Authorization("not assigned as an invigilator for this exam")
		}
		return fmt.Errorf("get invigilator assignment: %w", err)
	}
	if !assignment.AssignedByRole.Administrative() {
		return apperr.Authorization("invigilator assignment was not made by an administrative role")
	}
	return nil
}

// AuthorizeEnd adds the scheduling guard on top of Authorize: a
// teacher-invigilator cannot end an exam before its declared
// scheduledEndAt; only roles above teacher may override the schedule.
func (s *InvigilatorService) AuthorizeEnd(ctx context.Context, exam *model.Exam, actor Actor) error {
	if err := s.Authorize(ctx, exam, actor); err != nil {
		return err
	}
	if actor.Role == model.RoleTeacher && exam.ScheduledEnd != nil && exam.ScheduledEnd.After(time.Now()) {
		return apperr.Authorization("exam is scheduled until %s and cannot be ended early by an invigilator",
			exam.ScheduledEnd.Format(time.RFC3339))
	}
	return nil
}

// Assign records a teacher as invigilator for an exam. Only
// administrative roles may assign, and the assigner's role is stored with
// the row so later authorization can check provenance.
func (s *InvigilatorService) Assign(ctx context.Context, examID uuid.UUID, staffID int, actor Actor) (*model.InvigilatorAssignment, error) {
	if !actor.Role.Administrative() {
		return nil, apperr.Authorization("only administrative roles may assign invigilators")
	}

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

	target, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("staff member not found")
		}
		return nil, fmt.Errorf("get staff: %w", err)
	}
	if target.SchoolID != exam.SchoolID {
		return nil, apperr.Validation("staff member belongs to another school")
	}

	assignment := &model.InvigilatorAssignment{
		ExamID:         examID,
		StaffID:        staffID,
		AssignedBy:     actor.ID,
		AssignedByRole: actor.Role,
	}
	if err := s.assignments.Assign(ctx, assignment); err != nil {
		return nil, fmt.Errorf("assign invigilator: %w", err)
	}
	return assignment, nil
}

// AdjustExamTime atomically extends a timed exam's duration and
// broadcasts the new value. In-flight submission end times are not
// retroactively changed; individual deadlines remain a pause/resume
// concern.
func (s *InvigilatorService) AdjustExamTime(ctx context.Context, examID uuid.UUID, additionalMinutes int, actor Actor) (int, error) {
	if additionalMinutes <= 0 {
		return 0, apperr.Validation("additional minutes must be positive, got %d", additionalMinutes)
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("exam not found")
		}
		return 0, fmt.Errorf("get exam: %w", err)
	}
	if err := s.Authorize(ctx, exam, actor); err != nil {
		return 0, err
	}
	if !exam.Timed() {
		return 0, apperr.Validation("an untimed exam cannot be adjusted")
	}

	newDuration, err := s.exams.IncrementDuration(ctx, examID, additionalMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.Validation("an untimed exam cannot be adjusted")
		}
		return 0, fmt.Errorf("increment duration: %w", err)
	}

	s.events.BroadcastRoom(ctx, examID, notifier.EventTimeAdjusted, map[string]any{
		"duration_minutes":   newDuration,
		"additional_minutes": additionalMinutes,
	})
	return newDuration, nil
}

// Announce broadcasts a free-form message to the exam room.
func (s *InvigilatorService) Announce(ctx context.Context, examID uuid.UUID, message string, actor Actor) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("exam not found")
		}
		return fmt.Errorf("get exam: %w", err)
	}
	if err := s.Authorize(ctx, exam, actor); err != nil {
		return err
	}

	s.events.BroadcastRoom(ctx, examID, notifier.EventAnnouncement, map[string]any{
		"message": message,
	})
	return nil
}

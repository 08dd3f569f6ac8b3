package handler

import (
	"net/http"

	"github.com/edukita/examhall-backend/internal/middleware"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/response"
	"github.com/edukita/examhall-backend/internal/service"
	"github.com/edukita/examhall-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InvigilatorHandler handles staff actions over live exam sessions:
// pausing, marking, overrides, ending, time adjustment, announcements,
// and invigilator assignment.
type InvigilatorHandler struct {
	submissionService  *service.SubmissionService
	invigilatorService *service.InvigilatorService
}

// NewInvigilatorHandler creates a new InvigilatorHandler.
func NewInvigilatorHandler(
	submissionService *service.SubmissionService,
	invigilatorService *service.InvigilatorService,
) *InvigilatorHandler {
	return &InvigilatorHandler{
		submissionService:  submissionService,
		invigilatorService: invigilatorService,
	}
}

func staffActor(c *gin.Context) (service.Actor, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return service.Actor{}, false
	}
	return claims.Actor(), true
}

// PauseSubmission godoc
// POST /api/v1/staff/submissions/:submission_id/pause
// Freezes one student's countdown.
func (h *InvigilatorHandler) PauseSubmission(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, err := h.submissionService.Pause(c.Request.Context(), submissionID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

// MarkSubmission godoc
// POST /api/v1/staff/submissions/:submission_id/mark
// Runs the auto scorer over every answer: SUBMITTED → MARKED.
func (h *InvigilatorHandler) MarkSubmission(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, err := h.submissionService.Mark(c.Request.Context(), submissionID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

// OverrideAnswerScore godoc
// PUT /api/v1/staff/submissions/:submission_id/answers/:answer_id/score
// Manually overrides one answer's awarded marks on a MARKED submission.
func (h *InvigilatorHandler) OverrideAnswerScore(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	answerID, err := uuid.Parse(c.Param("answer_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.OverrideScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	total, err := h.submissionService.OverrideAnswerScore(c.Request.Context(), submissionID, answerID, &req, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"total_score": total})
}

// EndExam godoc
// POST /api/v1/staff/exams/:exam_id/end
// Force-submits every in-progress submission of the exam.
func (h *InvigilatorHandler) EndExam(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	forced, err := h.submissionService.EndExam(c.Request.Context(), examID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"force_submitted": forced})
}

// AdjustExamTime godoc
// POST /api/v1/staff/exams/:exam_id/adjust-time
// Extends the exam duration for all takers mid-session.
func (h *InvigilatorHandler) AdjustExamTime(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AdjustTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	newDuration, err := h.invigilatorService.AdjustExamTime(c.Request.Context(), examID, req.AdditionalMinutes, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"duration_minutes": newDuration})
}

// Announce godoc
// POST /api/v1/staff/exams/:exam_id/announce
// Broadcasts a message to every connection in the exam room.
func (h *InvigilatorHandler) Announce(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AnnounceRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.invigilatorService.Announce(c.Request.Context(), examID, req.Message, actor); err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "sent"})
}

// AssignInvigilator godoc
// POST /api/v1/staff/exams/:exam_id/invigilators
// Records an invigilator assignment with the assigner's role.
func (h *InvigilatorHandler) AssignInvigilator(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AssignInvigilatorRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assignment, err := h.invigilatorService.Assign(c.Request.Context(), examID, req.StaffID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assignment": assignment})
}

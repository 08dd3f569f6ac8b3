package handler

import (
	"net/http"
	"strconv"

	"github.com/edukita/examhall-backend/internal/middleware"
	"github.com/edukita/examhall-backend/internal/response"
	"github.com/edukita/examhall-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PublishHandler handles posting marked submissions into the permanent
// result records and reading those records back.
type PublishHandler struct {
	publishService *service.PublishService
}

// NewPublishHandler creates a new PublishHandler.
func NewPublishHandler(publishService *service.PublishService) *PublishHandler {
	return &PublishHandler{publishService: publishService}
}

// PostSingle godoc
// POST /api/v1/staff/submissions/:submission_id/publish
// Posts one marked submission into the student's result record. Returns
// 201 when the result record was created by this call, 200 otherwise.
func (h *PublishHandler) PostSingle(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	created, err := h.publishService.PostSingle(c.Request.Context(), submissionID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"result_created": created})
}

// PostBulk godoc
// POST /api/v1/staff/exams/:exam_id/publish
// Posts every marked, unpublished submission of the exam in batches and
// returns a per-submission report. Failed rows can be retried by calling
// again.
func (h *PublishHandler) PostBulk(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	report, err := h.publishService.PostBulk(c.Request.Context(), examID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	status := http.StatusOK
	if report.Failed > 0 {
		status = http.StatusMultiStatus
	}
	response.Success(c, status, report)
}

// GetStudentResult godoc
// GET /api/v1/staff/students/:student_id/results?session=...&term=...
func (h *PublishHandler) GetStudentResult(c *gin.Context) {
	if _, ok := staffActor(c); !ok {
		return
	}

	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, term, ok := resultScope(c)
	if !ok {
		return
	}

	result, err := h.publishService.GetResult(c.Request.Context(), studentID, session, term)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetMyResult godoc
// GET /api/v1/student/results?session=...&term=...
// A student reads their own published record.
func (h *PublishHandler) GetMyResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	session, term, ok := resultScope(c)
	if !ok {
		return
	}

	result, err := h.publishService.GetResult(c.Request.Context(), claims.UserID, session, term)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// resultScope parses the mandatory session and term query params.
func resultScope(c *gin.Context) (string, int, bool) {
	session := c.Query("session")
	term, err := strconv.Atoi(c.Query("term"))
	if session == "" || err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"session": "session and term query parameters are required",
		})
		return "", 0, false
	}
	return session, term, true
}

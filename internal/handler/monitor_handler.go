package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/notifier"
	"github.com/edukita/examhall-backend/internal/repository"
	"github.com/edukita/examhall-backend/internal/response"
	"github.com/edukita/examhall-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams a live view of one exam's submissions to an
// invigilator over SSE.
type MonitorHandler struct {
	exams              *repository.ExamRepository
	submissions        *repository.SubmissionRepository
	invigilatorService *service.InvigilatorService
	events             *notifier.Notifier
	log                zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	exams *repository.ExamRepository,
	submissions *repository.SubmissionRepository,
	invigilatorService *service.InvigilatorService,
	events *notifier.Notifier,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		exams:              exams,
		submissions:        submissions,
		invigilatorService: invigilatorService,
		events:             events,
		log:                log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/staff/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.exams.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	// The monitor exposes every student's progress, so the full
	// invigilator chain applies.
	if err := h.invigilatorService.Authorize(c.Request.Context(), exam, actor); err != nil {
		response.FailError(c, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, exam, "snapshot")

	pubsub := h.events.SubscribeRoom(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Int("staff_id", actor.ID).Msg("Invigilator attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Invigilator disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, exam, "refresh")

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot queries the exam's submissions and writes one SSE event
// with per-student rows and aggregate counts.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, exam *model.Exam, kind string) {
	// Scoped timeout prevents a slow query from stalling the SSE loop.
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	subs, err := h.submissions.ListByExam(ctx, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch submissions for monitor snapshot")
		return
	}

	byStatus := map[model.SubmissionStatus]int{}
	rows := make([]map[string]interface{}, 0, len(subs))
	for _, s := range subs {
		byStatus[s.Status]++
		rows = append(rows, map[string]interface{}{
			"submission_id": s.ID,
			"student_id":    s.StudentID,
			"status":        s.Status,
			"start_time":    s.StartTime,
			"end_time":      s.EndTime,
			"is_late":       s.IsLate,
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type": kind,
		"data": map[string]interface{}{
			"exam": map[string]interface{}{
				"id":               exam.ID,
				"title":            exam.Title,
				"duration_minutes": exam.DurationMinutes,
			},
			"stats": map[string]interface{}{
				"total":       len(subs),
				"ready":       byStatus[model.SubmissionReady],
				"in_progress": byStatus[model.SubmissionInProgress],
				"paused":      byStatus[model.SubmissionPaused],
				"submitted":   byStatus[model.SubmissionSubmitted],
				"marked":      byStatus[model.SubmissionMarked],
			},
			"submissions": rows,
		},
	})
	c.Writer.Flush()
}

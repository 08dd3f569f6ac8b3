package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/edukita/examhall-backend/internal/config"
	"github.com/edukita/examhall-backend/internal/middleware"
	"github.com/edukita/examhall-backend/internal/notifier"
	"github.com/edukita/examhall-backend/internal/service"
	ws "github.com/edukita/examhall-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a student's live exam connection: autosave writes,
// finalize, and invigilation notices pushed from the room.
type WSHandler struct {
	rdb               *redis.Client
	submissionService *service.SubmissionService
	events            *notifier.Notifier
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	rdb *redis.Client,
	submissionService *service.SubmissionService,
	events *notifier.Notifier,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		rdb:               rdb,
		submissionService: submissionService,
		events:            events,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// queuedAnswer is the payload pushed onto the persist queue for the
// autosave worker.
type queuedAnswer struct {
	SubmissionID   string  `json:"submission_id"`
	QuestionID     string  `json:"question_id"`
	AnswerText     *string `json:"answer_text,omitempty"`
	SelectedOption *int    `json:"selected_option,omitempty"`
}

// SubmissionStream godoc
// WS /ws/v1/submissions/:submission_id/stream
// Upgrades to WebSocket for real-time autosave and invigilation notices.
func (h *WSHandler) SubmissionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission ID"})
		return
	}

	studentID := claims.UserID

	// Ownership check before the upgrade; State also restores the
	// countdown for a reconnecting client.
	state, err := h.submissionService.State(c.Request.Context(), submissionID, studentID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no submission for this student"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	// The read loop and the notice forwarder share this socket; the
	// wrapper serializes their writes.
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("submission_id", submissionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	stateRaw, _ := json.Marshal(state)
	conn.WriteTyped(ws.NoticeResponse{Event: ws.EventNotice, Kind: "state", Payload: stateRaw})

	// Forward invigilation events (pause, resume, time adjustment,
	// announcements, exam end) for as long as the socket lives.
	forwardCtx, cancelForward := context.WithCancel(c.Request.Context())
	defer cancelForward()
	go h.forwardNotices(forwardCtx, conn, studentID, state.Submission.ExamID, wsLog)

	for {
		var env ws.RequestEnvelope
		msg, err := conn.ReadRaw()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		if err := json.Unmarshal(msg, &env); err != nil {
			conn.WriteError("malformed message")
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, submissionID, msg, wsLog)
		case ws.ActionSubmit:
			h.handleSubmit(conn, submissionID, studentID, wsLog)
			return
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(env.Action))
		}
	}
}

// handleAutosave buffers the answer in Redis and queues it for durable
// persistence by the autosave worker.
func (h *WSHandler) handleAutosave(conn *ws.Conn, submissionID uuid.UUID, raw []byte, wsLog zerolog.Logger) {
	ctx := context.Background()

	var msg ws.AutosaveRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		conn.WriteError("malformed autosave payload")
		return
	}
	if msg.QID == "" || (msg.Answer == nil && msg.SelectedOption == nil) {
		conn.WriteError("q_id and an answer are required")
		return
	}
	if _, err := uuid.Parse(msg.QID); err != nil {
		conn.WriteError("invalid q_id format")
		return
	}

	queued, _ := json.Marshal(queuedAnswer{
		SubmissionID:   submissionID.String(),
		QuestionID:     msg.QID,
		AnswerText:     msg.Answer,
		SelectedOption: msg.SelectedOption,
	})

	if err := h.rdb.HSet(ctx, config.CacheKey.AnswerBufferKey(submissionID), msg.QID, queued).Err(); err != nil {
		wsLog.Error().Err(err).Msg("Autosave Redis error")
		conn.WriteError("save failed")
		return
	}
	h.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, queued)

	conn.WriteTyped(ws.AutosaveResponse{Event: ws.EventSuccess, Status: "saved"})
}

// handleSubmit finalizes the submission over the socket.
func (h *WSHandler) handleSubmit(conn *ws.Conn, submissionID uuid.UUID, studentID int, wsLog zerolog.Logger) {
	sub, err := h.submissionService.Finalize(context.Background(), submissionID, studentID)
	if err != nil {
		wsLog.Warn().Err(err).Msg("Finalize over socket failed")
		conn.WriteError(err.Error())
		return
	}

	wsLog.Info().Bool("is_late", sub.IsLate).Msg("Submission finalized over socket")
	conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Status: "submitted", IsLate: sub.IsLate})
}

// forwardNotices relays the student's own channel and the exam room's
// channel onto the socket until the context is cancelled.
func (h *WSHandler) forwardNotices(ctx context.Context, conn *ws.Conn, studentID int, examID uuid.UUID, wsLog zerolog.Logger) {
	studentSub := h.events.SubscribeStudent(ctx, studentID)
	defer studentSub.Close()
	roomSub := h.events.SubscribeRoom(ctx, examID)
	defer roomSub.Close()

	studentCh := studentSub.Channel()
	roomCh := roomSub.Channel()

	for {
		var payload string
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-studentCh:
			if !ok {
				return
			}
			payload = msg.Payload
		case msg, ok := <-roomCh:
			if !ok {
				return
			}
			payload = msg.Payload
		}

		var m notifier.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			wsLog.Warn().Err(err).Msg("Malformed notice dropped")
			continue
		}
		if err := conn.WriteTyped(ws.NoticeResponse{Event: ws.EventNotice, Kind: m.Event, Payload: m.Payload}); err != nil {
			return
		}
	}
}

package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edukita/examhall-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event names carried on exam-room and per-student channels.
const (
	EventExamPaused    = "exam-paused"
	EventExamResumed   = "exam-resumed"
	EventTimeAdjusted  = "time-adjusted"
	EventAnnouncement  = "announcement"
	EventExamEnded     = "exam-ended"
	EventStudentPaused = "student-paused"
)

// Message is the envelope published on Redis pub/sub channels.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Notifier fans out invigilation events over Redis pub/sub. Delivery is
// best-effort: a dead Redis must not fail the operation that triggered
// the broadcast, so publish errors are logged and swallowed.
type Notifier struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New creates a Notifier.
func New(rdb *redis.Client, log zerolog.Logger) *Notifier {
	return &Notifier{
		rdb: rdb,
		log: log.With().Str("component", "notifier").Logger(),
	}
}

// BroadcastRoom publishes an event to every connection in an exam room.
func (n *Notifier) BroadcastRoom(ctx context.Context, examID uuid.UUID, event string, payload any) {
	n.publish(ctx, config.CacheKey.ExamRoomChannel(examID), event, payload)
}

// NotifyStudent publishes an event to one student's channel.
func (n *Notifier) NotifyStudent(ctx context.Context, studentID int, event string, payload any) {
	n.publish(ctx, config.CacheKey.StudentChannel(studentID), event, payload)
}

// SubscribeRoom opens a subscription on an exam room's channel. The
// caller owns the returned PubSub and must Close it.
func (n *Notifier) SubscribeRoom(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return n.rdb.Subscribe(ctx, config.CacheKey.ExamRoomChannel(examID))
}

// SubscribeStudent opens a subscription on a student's channel.
func (n *Notifier) SubscribeStudent(ctx context.Context, studentID int) *redis.PubSub {
	return n.rdb.Subscribe(ctx, config.CacheKey.StudentChannel(studentID))
}

func (n *Notifier) publish(ctx context.Context, channel, event string, payload any) {
	msg := Message{Event: event, SentAt: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			n.log.Error().Err(err).Str("event", event).Msg("Payload marshal failed")
			return
		}
		msg.Payload = raw
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		n.log.Error().Err(err).Str("event", event).Msg("Message marshal failed")
		return
	}

	if err := n.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		n.log.Warn().Err(err).Str("channel", channel).Str("event", event).Msg("Publish failed")
	}
}

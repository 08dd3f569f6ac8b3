package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edukita/examhall-backend/internal/config"
	"github.com/edukita/examhall-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AutosaveWorker consumes the persist queue and UPSERTs buffered answers
// into PostgreSQL. The upsert carries the IN_PROGRESS guard, so an
// answer queued just before a pause or finalize is dropped rather than
// written against a closed submission.
type AutosaveWorker struct {
	submissions *repository.SubmissionRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(submissions *repository.SubmissionRepository, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		submissions: submissions,
		rdb:         rdb,
		log:         log.With().Str("component", "autosave_worker").Logger(),
	}
}

type answerPayload struct {
	SubmissionID   string  `json:"submission_id"`
	QuestionID     string  `json:"question_id"`
	AnswerText     *string `json:"answer_text,omitempty"`
	SelectedOption *int    `json:"selected_option,omitempty"`
}

var errMalformedPayload = errors.New("malformed autosave payload")

// decodePayload parses a queue item. A decode failure is permanent:
// requeueing the item can never succeed, so callers drop it instead of
// head-of-line blocking the queue.
func decodePayload(raw []byte) (*answerPayload, uuid.UUID, uuid.UUID, error) {
	var p answerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", errMalformedPayload, err)
	}
	submissionID, err := uuid.Parse(p.SubmissionID)
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, fmt.Errorf("%w: submission id: %v", errMalformedPayload, err)
	}
	questionID, err := uuid.Parse(p.QuestionID)
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, fmt.Errorf("%w: question id: %v", errMalformedPayload, err)
	}
	return &p, submissionID, questionID, nil
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	payload, submissionID, questionID, err := decodePayload([]byte(result[1]))
	if err != nil {
		w.log.Error().Err(err).Msg("Dropped undecodable queue item")
		return
	}

	if err := w.persistAnswer(ctx, payload, submissionID, questionID); err != nil {
		w.log.Error().Err(err).
			Str("submission_id", payload.SubmissionID).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *AutosaveWorker) persistAnswer(ctx context.Context, p *answerPayload, submissionID, questionID uuid.UUID) error {
	ok, err := w.submissions.UpsertAnswer(ctx, submissionID, questionID, p.AnswerText, p.SelectedOption)
	if err != nil {
		return err
	}
	if !ok {
		// The submission left IN_PROGRESS while the item sat in the
		// queue. Not retryable.
		w.log.Debug().
			Str("submission_id", p.SubmissionID).
			Str("question_id", p.QuestionID).
			Msg("Dropped buffered answer for closed submission")
	}

	// Persisted or dropped either way; clear the buffer entry.
	w.rdb.HDel(ctx, config.CacheKey.AnswerBufferKey(submissionID), p.QuestionID)
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		payload, submissionID, questionID, err := decodePayload([]byte(result))
		if err != nil {
			w.log.Error().Err(err).Msg("Dropped undecodable queue item")
			continue
		}

		if err := w.persistAnswer(ctx, payload, submissionID, questionID); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

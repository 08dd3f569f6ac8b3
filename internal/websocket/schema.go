package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer.
// Either ans or selected_option is expected, matching the question type.
type AutosaveRequest struct {
	Action         Action  `json:"action"`
	QID            string  `json:"q_id"`
	Answer         *string `json:"ans,omitempty"`
	SelectedOption *int    `json:"selected_option,omitempty"`
}

// SubmitRequest is sent by the client to finalize the submission.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSuccess   Event = "success"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
	// EventNotice forwards a live-session event (pause, resume,
	// time adjustment, announcement, end) published by an invigilator.
	EventNotice Event = "notice"
)

type AutosaveResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type SubmittedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
	IsLate bool   `json:"is_late"`
}

type NoticeResponse struct {
	Event   Event           `json:"event"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

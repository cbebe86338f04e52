package websocket

import "github.com/stemsi/proctorquiz/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart     Action = "start"
	ActionAnswer    Action = "answer"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// Request carries every client action. Fields unused by an action are
// left empty.
type Request struct {
	Action       Action            `json:"action"`
	Registration map[string]string `json:"registration,omitempty"`
	QuestionID   string            `json:"question_id,omitempty"`
	Selected     string            `json:"selected,omitempty"`
	Kind         string            `json:"kind,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStarted    Event = "started"
	EventFullscreen Event = "fullscreen"
	EventSaved      Event = "saved"
	EventViolation  Event = "violation"
	EventFinished   Event = "finished"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

type StartedResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
	MaxViolations    int   `json:"max_violations"`
	QuestionCount    int   `json:"question_count"`
}

type FullscreenRequest struct {
	Event Event `json:"event"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type ViolationResponse struct {
	Event         Event  `json:"event"`
	Kind          string `json:"kind"`
	Count         int    `json:"count"`
	MaxViolations int    `json:"max_violations"`
}

// FinishedResponse is the last message of a session. Result is nil when the
// submission itself failed; Code and Error then say why.
type FinishedResponse struct {
	Event      Event                  `json:"event"`
	Status     model.SubmissionStatus `json:"status"`
	Trigger    string                 `json:"trigger"`
	Violations int                    `json:"violations"`
	Result     *model.SubmitResult    `json:"result,omitempty"`
	Code       string                 `json:"code,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

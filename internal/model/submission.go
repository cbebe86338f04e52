package model

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus is the terminal status of an attempt.
type SubmissionStatus string

const (
	SubmissionStatusCompleted  SubmissionStatus = "completed"
	SubmissionStatusTerminated SubmissionStatus = "terminated"
)

// ViolationKind tags an integrity event. The set is open-ended.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "tab_switch"
	ViolationFullscreenExit ViolationKind = "fullscreen_exit"
)

// Violation is a client-observed integrity breach.
type Violation struct {
	Kind ViolationKind `json:"kind"`
	At   time.Time     `json:"at"`
}

// Answer is the scored outcome for one question.
type Answer struct {
	QuestionID   string  `json:"question_id"`
	Selected     string  `json:"selected"`
	IsCorrect    bool    `json:"is_correct"`
	MarksAwarded float64 `json:"marks_awarded"`
}

// SubmittedAnswer is a raw selection sent by the client.
type SubmittedAnswer struct {
	QuestionID string `json:"question_id" binding:"required,max=64"`
	Selected   string `json:"selected" binding:"max=2000"`
}

// Submission is the immutable record of one finished attempt.
type Submission struct {
	ID             uuid.UUID         `json:"id"`
	QuizID         uuid.UUID         `json:"quiz_id"`
	Registration   map[string]string `json:"registration"`
	Email          string            `json:"-"`
	Answers        []Answer          `json:"answers"`
	Violations     []Violation       `json:"violations"`
	TotalScore     float64           `json:"total_score"`
	MaxScore       float64           `json:"max_score"`
	Status         SubmissionStatus  `json:"status"`
	ElapsedSeconds int               `json:"elapsed_seconds"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// SubmitRequest is the payload of the student submit endpoint.
type SubmitRequest struct {
	Registration   map[string]string `json:"registration" binding:"required"`
	Answers        []SubmittedAnswer `json:"answers" binding:"omitempty,max=1000,dive"`
	Status         string            `json:"status" binding:"omitempty,max=20"`
	ElapsedSeconds int               `json:"elapsed_seconds" binding:"min=0"`
	Violations     []Violation       `json:"violations" binding:"omitempty,max=1000"`
}

// SubmitResult is returned to the student after scoring.
type SubmitResult struct {
	SubmissionID uuid.UUID        `json:"submission_id"`
	TotalScore   float64          `json:"total_score"`
	MaxScore     float64          `json:"max_score"`
	Pass         bool             `json:"pass"`
	Status       SubmissionStatus `json:"status"`
}

// LogViolationRequest is the payload of the advisory violation endpoint.
type LogViolationRequest struct {
	Kind  string `json:"kind" binding:"required,max=50"`
	Email string `json:"email" binding:"omitempty,max=255"`
}

// ViolationLog is an advisory telemetry row, never used for scoring.
type ViolationLog struct {
	QuizID     uuid.UUID     `json:"quiz_id"`
	Kind       ViolationKind `json:"kind"`
	Email      string        `json:"email,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// NormalizeEmail produces the attempt-deduplication key for an email value.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// RegistrationValue returns the value stored under name. An exact key wins;
// otherwise keys are matched case-insensitively and, when several differ
// only by case, the lexically smallest one is used.
func RegistrationValue(registration map[string]string, name string) string {
	if v, ok := registration[name]; ok {
		return v
	}
	for _, k := range slices.Sorted(maps.Keys(registration)) {
		if strings.EqualFold(k, name) {
			return registration[k]
		}
	}
	return ""
}

// RegistrationEmail extracts the dedupe key from registration data. An
// empty result means the attempt is not deduplicated.
func RegistrationEmail(registration map[string]string) string {
	return NormalizeEmail(RegistrationValue(registration, "email"))
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// FieldType enumerates the input types a registration form field can take.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDropdown FieldType = "dropdown"
	FieldTypeRadio    FieldType = "radio"
)

// IsChoice reports whether the field offers a fixed option set.
func (t FieldType) IsChoice() bool {
	return t == FieldTypeDropdown || t == FieldTypeRadio
}

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeMCQ       QuestionType = "mcq"
	QuestionTypeTrueFalse QuestionType = "truefalse"
	QuestionTypeShort     QuestionType = "short"
)

// FormField is one entry of a quiz's student registration form.
type FormField struct {
	Name     string    `json:"name" binding:"required,max=100"`
	Type     FieldType `json:"type" binding:"required,formtype"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
}

// Question is a single scored quiz item. NegativeMarks is stored as a
// non-negative penalty; the sign is applied at scoring time.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
	PositiveMarks float64      `json:"positive_marks"`
	NegativeMarks float64      `json:"negative_marks"`
}

// Settings holds the timing, proctoring and grading rules of a quiz.
type Settings struct {
	TimeLimitMinutes  int        `json:"time_limit_minutes" binding:"required,min=1,max=1440"`
	MaxViolations     int        `json:"max_tab_switches" binding:"min=0,max=100"`
	PassingPercentage float64    `json:"passing_percentage" binding:"min=0,max=100"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
}

// TimeLimit returns the configured limit as a duration.
func (s Settings) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitMinutes) * time.Minute
}

// Quiz is the teacher-owned aggregate. Once IsPublished is set its questions
// and settings never change.
type Quiz struct {
	ID          uuid.UUID   `json:"id"`
	TeacherID   int         `json:"teacher_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	FormFields  []FormField `json:"form_fields"`
	Questions   []Question  `json:"questions"`
	Settings    Settings    `json:"settings"`
	Link        string      `json:"link"`
	IsPublished bool        `json:"is_published"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// QuestionInput is the authoring payload for a question.
type QuestionInput struct {
	Text          string   `json:"text" binding:"required,min=1,max=2000"`
	Type          string   `json:"type" binding:"required,questiontype"`
	Options       []string `json:"options" binding:"omitempty,dive,max=500"`
	CorrectAnswer string   `json:"correct_answer" binding:"required,max=500"`
	PositiveMarks *float64 `json:"positive_marks" binding:"omitempty,min=0"`
	NegativeMarks *float64 `json:"negative_marks" binding:"omitempty,min=0"`
}

// SaveQuizRequest is the payload for create, update and republish.
type SaveQuizRequest struct {
	Title       string          `json:"title" binding:"required,min=3,max=255"`
	Description string          `json:"description" binding:"omitempty,max=5000"`
	FormFields  []FormField     `json:"form_fields" binding:"omitempty,dive"`
	Questions   []QuestionInput `json:"questions" binding:"required,min=1,dive"`
	Settings    Settings        `json:"settings" binding:"required"`
	IsPublished bool            `json:"is_published"`
}

// StudentQuestion is a question as sent to a student: never carries the
// correct answer.
type StudentQuestion struct {
	ID            uuid.UUID    `json:"id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	PositiveMarks float64      `json:"positive_marks"`
	NegativeMarks float64      `json:"negative_marks"`
}

// QuizPayload is the student-facing view of a published quiz, cached in Redis.
type QuizPayload struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Link        string            `json:"link"`
	FormFields  []FormField       `json:"form_fields"`
	Questions   []StudentQuestion `json:"questions"`
	Settings    Settings          `json:"settings"`
}

// StudentPayload strips answer keys from a quiz.
func (q *Quiz) StudentPayload() *QuizPayload {
	questions := make([]StudentQuestion, len(q.Questions))
	for i, question := range q.Questions {
		questions[i] = StudentQuestion{
			ID:            question.ID,
			Text:          question.Text,
			Type:          question.Type,
			Options:       question.Options,
			PositiveMarks: question.PositiveMarks,
			NegativeMarks: question.NegativeMarks,
		}
	}
	fields := q.FormFields
	if fields == nil {
		fields = []FormField{}
	}
	return &QuizPayload{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		Link:        q.Link,
		FormFields:  fields,
		Questions:   questions,
		Settings:    q.Settings,
	}
}

package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/stemsi/proctorquiz/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateAttempt is returned by CreateSubmission when a submission
	// with the same (quiz, email) key already exists.
	ErrDuplicateAttempt = errors.New("submission already exists for this email")
	// ErrEmailTaken is returned when registering a teacher email twice.
	ErrEmailTaken = errors.New("email already registered")
	// ErrLinkTaken is returned when a generated quiz link collides.
	ErrLinkTaken = errors.New("quiz link already in use")
)

// QuizStore persists quizzes. Both the Postgres and the in-memory driver
// implement it.
type QuizStore interface {
	Create(ctx context.Context, q *model.Quiz) error
	Update(ctx context.Context, q *model.Quiz) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Quiz, error)
	GetByLink(ctx context.Context, link string) (*model.Quiz, error)
	ListByTeacher(ctx context.Context, teacherID, limit, offset int) ([]model.Quiz, int, error)
}

// SubmissionStore persists finished attempts. CreateSubmission is an atomic
// check-and-insert on (quiz, email) for non-empty emails.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, s *model.Submission) error
	ExistsByEmail(ctx context.Context, quizID uuid.UUID, email string) (bool, error)
	ListByQuiz(ctx context.Context, quizID uuid.UUID, limit, offset int) ([]model.Submission, int, error)
	ListAllByQuiz(ctx context.Context, quizID uuid.UUID) ([]model.Submission, error)
}

// TeacherStore persists teacher accounts.
type TeacherStore interface {
	Create(ctx context.Context, t *model.Teacher) error
	GetByEmail(ctx context.Context, email string) (*model.Teacher, error)
	GetByID(ctx context.Context, id int) (*model.Teacher, error)
}

// ViolationLogStore persists advisory violation telemetry.
type ViolationLogStore interface {
	BulkInsert(ctx context.Context, logs []model.ViolationLog) (int64, error)
	Insert(ctx context.Context, l model.ViolationLog) error
}

// Package admission decides whether an attempt on a quiz may be scored.
// The client's own checks are advisory; this guard is authoritative.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
)

var (
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrNotYetOpen       = errors.New("quiz is not open yet")
	ErrAlreadyClosed    = errors.New("quiz is already closed")
	ErrAlreadyAttempted = errors.New("quiz already attempted with this email")
)

// QuizFinder resolves a share link to its quiz. It returns
// repository.ErrNotFound for unknown links.
type QuizFinder interface {
	GetByLink(ctx context.Context, link string) (*model.Quiz, error)
}

// AttemptFinder reports whether a submission already exists for an email.
type AttemptFinder interface {
	ExistsByEmail(ctx context.Context, quizID uuid.UUID, email string) (bool, error)
}

// Guard runs the admission checks in order, stopping at the first failure.
type Guard struct {
	quizzes  QuizFinder
	attempts AttemptFinder
	now      func() time.Time
}

// NewGuard creates a Guard. A nil now defaults to time.Now.
func NewGuard(quizzes QuizFinder, attempts AttemptFinder, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{quizzes: quizzes, attempts: attempts, now: now}
}

// Open resolves the link and applies the publication and time-window
// checks. It backs the quiz-by-link endpoint.
func (g *Guard) Open(ctx context.Context, link string) (*model.Quiz, error) {
	q, err := g.quizzes.GetByLink(ctx, link)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if err := Check(q, g.now()); err != nil {
		return nil, err
	}
	return q, nil
}

// Admit runs every check for a submission. email must already be
// normalized; an empty email skips the duplicate check.
//
// The duplicate check here is a fast path only. Two racing submissions can
// both pass it, so the store's atomic insert remains the final word.
func (g *Guard) Admit(ctx context.Context, link, email string) (*model.Quiz, error) {
	q, err := g.Open(ctx, link)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return q, nil
	}

	exists, err := g.attempts.ExistsByEmail(ctx, q.ID, email)
	if err != nil {
		return nil, fmt.Errorf("check prior attempt: %w", err)
	}
	if exists {
		return nil, ErrAlreadyAttempted
	}
	return q, nil
}

// Check applies the publication and window rules to an already loaded quiz.
// Both window bounds are inclusive.
func Check(q *model.Quiz, now time.Time) error {
	if q == nil || !q.IsPublished {
		return ErrQuizNotFound
	}
	if s := q.Settings.StartDate; s != nil && now.Before(*s) {
		return ErrNotYetOpen
	}
	if e := q.Settings.EndDate; e != nil && now.After(*e) {
		return ErrAlreadyClosed
	}
	return nil
}

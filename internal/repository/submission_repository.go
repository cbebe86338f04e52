package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/proctorquiz/internal/model"
)

// SubmissionRepository handles submission data access. Rows are insert-only.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

var _ SubmissionStore = (*SubmissionRepository)(nil)

const submissionColumns = `id, quiz_id, registration, email, answers, violations,
	total_score, max_score, status, elapsed_seconds, submitted_at`

// CreateSubmission inserts a scored attempt. The partial unique index on
// (quiz_id, email) makes the duplicate check and the insert one statement.
func (r *SubmissionRepository) CreateSubmission(ctx context.Context, s *model.Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	registration, err := json.Marshal(s.Registration)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	answers, err := json.Marshal(nonNil(s.Answers))
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	violations, err := json.Marshal(nonNil(s.Violations))
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO submissions (id, quiz_id, registration, email, answers, violations,
		                          total_score, max_score, status, elapsed_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (quiz_id, email) WHERE email <> '' DO NOTHING
		 RETURNING submitted_at`,
		s.ID, s.QuizID, registration, s.Email, answers, violations,
		s.TotalScore, s.MaxScore, s.Status, s.ElapsedSeconds,
	).Scan(&s.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateAttempt
	}
	return err
}

// ExistsByEmail reports whether the quiz already has a submission for email.
func (r *SubmissionRepository) ExistsByEmail(ctx context.Context, quizID uuid.UUID, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE quiz_id = $1 AND email = $2)`,
		quizID, email,
	).Scan(&exists)
	return exists, err
}

// ListByQuiz returns a page of submissions, newest first, with the total count.
func (r *SubmissionRepository) ListByQuiz(ctx context.Context, quizID uuid.UUID, limit, offset int) ([]model.Submission, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE quiz_id = $1`, quizID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE quiz_id = $1
		 ORDER BY submitted_at DESC
		 LIMIT $2 OFFSET $3`, quizID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	subs, err := collectSubmissions(rows)
	return subs, total, err
}

// ListAllByQuiz returns every submission of a quiz in submission order, for
// exports.
func (r *SubmissionRepository) ListAllByQuiz(ctx context.Context, quizID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE quiz_id = $1
		 ORDER BY submitted_at ASC`, quizID)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

func collectSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	defer rows.Close()

	subs := make([]model.Submission, 0)
	for rows.Next() {
		var (
			s                                model.Submission
			registration, answers, violation []byte
		)
		if err := rows.Scan(&s.ID, &s.QuizID, &registration, &s.Email, &answers, &violation,
			&s.TotalScore, &s.MaxScore, &s.Status, &s.ElapsedSeconds, &s.SubmittedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(registration, &s.Registration); err != nil {
			return nil, fmt.Errorf("decode registration: %w", err)
		}
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		if err := json.Unmarshal(violation, &s.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/proctorquiz/internal/model"
)

// QuizRepository handles quiz data access. Form fields, questions and
// settings are stored as JSONB documents.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

var _ QuizStore = (*QuizRepository)(nil)

const quizColumns = `id, teacher_id, title, description, form_fields, questions,
	settings, link, is_published, created_at, updated_at`

// Create inserts a new quiz and fills its timestamps.
func (r *QuizRepository) Create(ctx context.Context, q *model.Quiz) error {
	fields, questions, settings, err := encodeQuizDocs(q)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO quizzes (id, teacher_id, title, description, form_fields, questions, settings, link, is_published)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		q.ID, q.TeacherID, q.Title, q.Description, fields, questions, settings, q.Link, q.IsPublished,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrLinkTaken
		}
		return err
	}
	return nil
}

// Update rewrites an unpublished quiz. Rows that are already published are
// never touched and report ErrNotFound.
func (r *QuizRepository) Update(ctx context.Context, q *model.Quiz) error {
	fields, questions, settings, err := encodeQuizDocs(q)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx,
		`UPDATE quizzes
		 SET title = $2, description = $3, form_fields = $4, questions = $5,
		     settings = $6, is_published = $7, updated_at = NOW()
		 WHERE id = $1 AND is_published = FALSE
		 RETURNING link, created_at, updated_at`,
		q.ID, q.Title, q.Description, fields, questions, settings, q.IsPublished,
	).Scan(&q.Link, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Delete removes an unpublished quiz.
func (r *QuizRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1 AND is_published = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a quiz by its UUID.
func (r *QuizRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	return r.getOne(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id)
}

// GetByLink retrieves a quiz by its share link.
func (r *QuizRepository) GetByLink(ctx context.Context, link string) (*model.Quiz, error) {
	return r.getOne(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE link = $1`, link)
}

// ListByTeacher returns a page of a teacher's quizzes, newest first, with the
// total count.
func (r *QuizRepository) ListByTeacher(ctx context.Context, teacherID, limit, offset int) ([]model.Quiz, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quizzes WHERE teacher_id = $1`, teacherID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+quizColumns+` FROM quizzes
		 WHERE teacher_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, teacherID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	quizzes := make([]model.Quiz, 0)
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, 0, err
		}
		quizzes = append(quizzes, *q)
	}
	return quizzes, total, rows.Err()
}

func (r *QuizRepository) getOne(ctx context.Context, query string, arg any) (*model.Quiz, error) {
	q, err := scanQuiz(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func scanQuiz(row pgx.Row) (*model.Quiz, error) {
	var (
		q                           model.Quiz
		fields, questions, settings []byte
	)
	if err := row.Scan(&q.ID, &q.TeacherID, &q.Title, &q.Description, &fields, &questions,
		&settings, &q.Link, &q.IsPublished, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &q.FormFields); err != nil {
		return nil, fmt.Errorf("decode form_fields: %w", err)
	}
	if err := json.Unmarshal(questions, &q.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if err := json.Unmarshal(settings, &q.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &q, nil
}

func encodeQuizDocs(q *model.Quiz) (fields, questions, settings []byte, err error) {
	formFields := q.FormFields
	if formFields == nil {
		formFields = []model.FormField{}
	}
	if fields, err = json.Marshal(formFields); err != nil {
		return nil, nil, nil, fmt.Errorf("encode form_fields: %w", err)
	}
	if questions, err = json.Marshal(q.Questions); err != nil {
		return nil, nil, nil, fmt.Errorf("encode questions: %w", err)
	}
	if settings, err = json.Marshal(q.Settings); err != nil {
		return nil, nil, nil, fmt.Errorf("encode settings: %w", err)
	}
	return fields, questions, settings, nil
}

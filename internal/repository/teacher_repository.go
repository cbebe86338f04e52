package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/proctorquiz/internal/model"
)

// TeacherRepository handles teacher data access.
type TeacherRepository struct {
	pool *pgxpool.Pool
}

// NewTeacherRepository creates a new TeacherRepository.
func NewTeacherRepository(pool *pgxpool.Pool) *TeacherRepository {
	return &TeacherRepository{pool: pool}
}

var _ TeacherStore = (*TeacherRepository)(nil)

// Create inserts a new teacher. Emails are unique case-insensitively.
func (r *TeacherRepository) Create(ctx context.Context, t *model.Teacher) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO teachers (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		t.Email, t.Name, t.PasswordHash,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetByEmail retrieves a teacher by email.
func (r *TeacherRepository) GetByEmail(ctx context.Context, email string) (*model.Teacher, error) {
	return r.getOne(ctx,
		`SELECT id, email, name, password_hash, created_at FROM teachers WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByID retrieves a teacher by ID.
func (r *TeacherRepository) GetByID(ctx context.Context, id int) (*model.Teacher, error) {
	return r.getOne(ctx,
		`SELECT id, email, name, password_hash, created_at FROM teachers WHERE id = $1`, id)
}

func (r *TeacherRepository) getOne(ctx context.Context, query string, arg any) (*model.Teacher, error) {
	t := &model.Teacher{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.Email, &t.Name, &t.PasswordHash, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

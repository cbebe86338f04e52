package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/proctorquiz/internal/model"
)

// ViolationLogRepository stores advisory violation telemetry.
type ViolationLogRepository struct {
	pool *pgxpool.Pool
}

// NewViolationLogRepository creates a new ViolationLogRepository.
func NewViolationLogRepository(pool *pgxpool.Pool) *ViolationLogRepository {
	return &ViolationLogRepository{pool: pool}
}

var _ ViolationLogStore = (*ViolationLogRepository)(nil)

// BulkInsert writes a batch with COPY.
func (r *ViolationLogRepository) BulkInsert(ctx context.Context, logs []model.ViolationLog) (int64, error) {
	return r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"violation_logs"},
		[]string{"quiz_id", "kind", "email", "recorded_at"},
		pgx.CopyFromSlice(len(logs), func(i int) ([]any, error) {
			l := logs[i]
			return []any{l.QuizID, string(l.Kind), l.Email, l.RecordedAt}, nil
		}),
	)
}

// Insert writes a single row.
func (r *ViolationLogRepository) Insert(ctx context.Context, l model.ViolationLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO violation_logs (quiz_id, kind, email, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		l.QuizID, string(l.Kind), l.Email, l.RecordedAt,
	)
	return err
}

package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/export"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
	"github.com/stemsi/proctorquiz/internal/response"
)

// ResultService gives a quiz's owner access to its submissions.
type ResultService struct {
	quizzes     *QuizService
	submissions repository.SubmissionStore
	log         zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(quizzes *QuizService, submissions repository.SubmissionStore, log zerolog.Logger) *ResultService {
	return &ResultService{
		quizzes:     quizzes,
		submissions: submissions,
		log:         log.With().Str("component", "result_service").Logger(),
	}
}

// List returns a page of submissions, newest first.
func (s *ResultService) List(ctx context.Context, teacherID int, quizID uuid.UUID, page, perPage int) ([]model.Submission, *response.Pagination, error) {
	if _, err := s.quizzes.Get(ctx, teacherID, quizID); err != nil {
		return nil, nil, err
	}
	page, perPage = normalizePage(page, perPage)

	subs, total, err := s.submissions.ListByQuiz(ctx, quizID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list submissions: %w", err)
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	return subs, response.NewPagination(page, perPage, total), nil
}

// Table loads every submission of the quiz as an export table. The quiz is
// returned for naming the download.
func (s *ResultService) Table(ctx context.Context, teacherID int, quizID uuid.UUID) (*model.Quiz, export.Table, error) {
	q, err := s.quizzes.Get(ctx, teacherID, quizID)
	if err != nil {
		return nil, export.Table{}, err
	}
	subs, err := s.submissions.ListAllByQuiz(ctx, quizID)
	if err != nil {
		return nil, export.Table{}, fmt.Errorf("list submissions: %w", err)
	}
	return q, export.BuildTable(q, subs), nil
}

// ExportCSV writes every submission of the quiz as CSV.
func (s *ResultService) ExportCSV(ctx context.Context, teacherID int, quizID uuid.UUID, w io.Writer) error {
	_, table, err := s.Table(ctx, teacherID, quizID)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(w, table); err != nil {
		return err
	}
	s.log.Info().Str("quiz_id", quizID.String()).Int("rows", len(table.Rows)).Msg("Results exported as CSV")
	return nil
}

// ExportXLSX writes every submission of the quiz as an Excel workbook.
func (s *ResultService) ExportXLSX(ctx context.Context, teacherID int, quizID uuid.UUID, w io.Writer) error {
	_, table, err := s.Table(ctx, teacherID, quizID)
	if err != nil {
		return err
	}
	if err := export.WriteXLSX(w, table); err != nil {
		return err
	}
	s.log.Info().Str("quiz_id", quizID.String()).Int("rows", len(table.Rows)).Msg("Results exported as XLSX")
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
	"github.com/stemsi/proctorquiz/internal/response"
)

const (
	linkAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	linkLength      = 10
	linkMaxAttempts = 5
)

// QuizService handles quiz authoring. A quiz can be edited or deleted only
// while unpublished.
type QuizService struct {
	quizzes repository.QuizStore
	cache   *QuizCache
	log     zerolog.Logger
}

// NewQuizService creates a new QuizService.
func NewQuizService(quizzes repository.QuizStore, cache *QuizCache, log zerolog.Logger) *QuizService {
	return &QuizService{
		quizzes: quizzes,
		cache:   cache,
		log:     log.With().Str("component", "quiz_service").Logger(),
	}
}

// Create validates the payload and stores a new quiz under a fresh link.
func (s *QuizService) Create(ctx context.Context, teacherID int, req model.SaveQuizRequest) (*model.Quiz, error) {
	q, err := buildQuiz(req)
	if err != nil {
		return nil, err
	}
	q.ID = uuid.New()
	q.TeacherID = teacherID

	if err := s.insertWithLink(ctx, q); err != nil {
		return nil, err
	}
	if q.IsPublished {
		s.cache.Warm(ctx, q)
	}

	s.log.Info().
		Str("quiz_id", q.ID.String()).
		Int("teacher_id", teacherID).
		Bool("published", q.IsPublished).
		Msg("Quiz created")
	return q, nil
}

// List returns a page of the teacher's quizzes.
func (s *QuizService) List(ctx context.Context, teacherID, page, perPage int) ([]model.Quiz, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	quizzes, total, err := s.quizzes.ListByTeacher(ctx, teacherID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if quizzes == nil {
		quizzes = []model.Quiz{}
	}
	return quizzes, response.NewPagination(page, perPage, total), nil
}

// Get returns one of the teacher's quizzes, answer keys included.
func (s *QuizService) Get(ctx context.Context, teacherID int, id uuid.UUID) (*model.Quiz, error) {
	q, err := s.quizzes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	if q.TeacherID != teacherID {
		return nil, ErrNotQuizOwner
	}
	return q, nil
}

// Update replaces an unpublished quiz with the payload. Setting
// is_published publishes it in the same step.
func (s *QuizService) Update(ctx context.Context, teacherID int, id uuid.UUID, req model.SaveQuizRequest) (*model.Quiz, error) {
	cur, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return nil, err
	}
	if cur.IsPublished {
		return nil, ErrQuizPublished
	}

	q, err := buildQuiz(req)
	if err != nil {
		return nil, err
	}
	q.ID, q.TeacherID = cur.ID, cur.TeacherID

	if err := s.quizzes.Update(ctx, q); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Published or deleted between the read and the write.
			return nil, ErrQuizPublished
		}
		return nil, fmt.Errorf("update quiz: %w", err)
	}
	if q.IsPublished {
		s.cache.Warm(ctx, q)
	}
	return q, nil
}

// Delete removes an unpublished quiz.
func (s *QuizService) Delete(ctx context.Context, teacherID int, id uuid.UUID) error {
	cur, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return err
	}
	if cur.IsPublished {
		return ErrQuizPublished
	}
	if err := s.quizzes.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrQuizPublished
		}
		return fmt.Errorf("delete quiz: %w", err)
	}
	s.log.Info().Str("quiz_id", id.String()).Msg("Quiz deleted")
	return nil
}

// Publish flips an unpublished quiz to published and warms the link cache.
func (s *QuizService) Publish(ctx context.Context, teacherID int, id uuid.UUID) (*model.Quiz, error) {
	q, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return nil, err
	}
	if q.IsPublished {
		return nil, ErrQuizPublished
	}
	if len(q.Questions) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"questions": "questions must contain at least 1 item"}}
	}

	q.IsPublished = true
	if err := s.quizzes.Update(ctx, q); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQuizPublished
		}
		return nil, fmt.Errorf("publish quiz: %w", err)
	}
	s.cache.Warm(ctx, q)

	s.log.Info().Str("quiz_id", q.ID.String()).Str("link", q.Link).Msg("Quiz published")
	return q, nil
}

// Republish creates a new published quiz from an edited copy of a
// published one. The original, its link and its submissions stay as they
// are.
func (s *QuizService) Republish(ctx context.Context, teacherID int, id uuid.UUID, req model.SaveQuizRequest) (*model.Quiz, error) {
	src, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return nil, err
	}
	if !src.IsPublished {
		return nil, ErrQuizNotPublished
	}

	q, err := buildQuiz(req)
	if err != nil {
		return nil, err
	}
	q.ID = uuid.New()
	q.TeacherID = teacherID
	q.IsPublished = true

	if err := s.insertWithLink(ctx, q); err != nil {
		return nil, err
	}
	s.cache.Warm(ctx, q)

	s.log.Info().
		Str("quiz_id", q.ID.String()).
		Str("source_quiz_id", src.ID.String()).
		Msg("Quiz republished")
	return q, nil
}

func (s *QuizService) insertWithLink(ctx context.Context, q *model.Quiz) error {
	for attempt := 0; attempt < linkMaxAttempts; attempt++ {
		link, err := gonanoid.Generate(linkAlphabet, linkLength)
		if err != nil {
			return fmt.Errorf("generate link: %w", err)
		}
		q.Link = link

		err = s.quizzes.Create(ctx, q)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrLinkTaken) {
			return fmt.Errorf("create quiz: %w", err)
		}
	}
	return errors.New("create quiz: could not allocate a unique link")
}

// buildQuiz turns an authoring payload into a quiz, applying the checks the
// binding tags cannot express. Questions get fresh ids.
func buildQuiz(req model.SaveQuizRequest) (*model.Quiz, error) {
	errs := fieldErrors{}

	if s, e := req.Settings.StartDate, req.Settings.EndDate; s != nil && e != nil && !e.After(*s) {
		errs.add("settings.end_date", "end_date must be after start_date")
	}

	seen := make(map[string]struct{}, len(req.FormFields))
	fields := make([]model.FormField, len(req.FormFields))
	for i, f := range req.FormFields {
		path := fmt.Sprintf("form_fields[%d]", i)
		f.Name = strings.TrimSpace(f.Name)
		key := strings.ToLower(f.Name)
		if _, dup := seen[key]; dup {
			errs.add(path+".name", "name must be unique")
		}
		seen[key] = struct{}{}
		if f.Type.IsChoice() && len(f.Options) == 0 {
			errs.add(path+".options", "options are required for choice fields")
		}
		fields[i] = f
	}

	if len(req.Questions) == 0 {
		errs.add("questions", "questions must contain at least 1 item")
	}
	questions := make([]model.Question, len(req.Questions))
	for i, in := range req.Questions {
		path := fmt.Sprintf("questions[%d]", i)
		qt := model.QuestionType(in.Type)

		switch qt {
		case model.QuestionTypeMCQ:
			if len(in.Options) < 2 {
				errs.add(path+".options", "multiple choice questions need at least 2 options")
			} else if !slices.Contains(in.Options, in.CorrectAnswer) {
				errs.add(path+".correct_answer", "correct_answer must be one of the options")
			}
		case model.QuestionTypeTrueFalse:
			if in.CorrectAnswer != "true" && in.CorrectAnswer != "false" {
				errs.add(path+".correct_answer", "correct_answer must be true or false")
			}
			in.Options = []string{"true", "false"}
		case model.QuestionTypeShort:
			in.Options = nil
		}

		positive, negative := 1.0, 0.0
		if in.PositiveMarks != nil {
			positive = *in.PositiveMarks
		}
		if in.NegativeMarks != nil {
			negative = *in.NegativeMarks
		}
		if positive < 0 {
			errs.add(path+".positive_marks", "positive_marks must be 0 or greater")
		}
		if negative < 0 {
			errs.add(path+".negative_marks", "negative_marks must be 0 or greater")
		}

		questions[i] = model.Question{
			ID:            uuid.New(),
			Text:          strings.TrimSpace(in.Text),
			Type:          qt,
			Options:       in.Options,
			CorrectAnswer: in.CorrectAnswer,
			PositiveMarks: positive,
			NegativeMarks: negative,
		}
	}

	if err := errs.err(); err != nil {
		return nil, err
	}
	return &model.Quiz{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		FormFields:  fields,
		Questions:   questions,
		Settings:    req.Settings,
		IsPublished: req.IsPublished,
	}, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/admission"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
	"github.com/stemsi/proctorquiz/internal/scoring"
)

// AttemptService is the student-facing boundary: quiz-by-link, submit and
// advisory violation logging.
type AttemptService struct {
	guard       *admission.Guard
	quizzes     admission.QuizFinder
	submissions repository.SubmissionStore
	events      *Events
	validate    *govalidator.Validate
	now         func() time.Time
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService. quizzes is usually a
// *QuizCache.
func NewAttemptService(
	quizzes admission.QuizFinder,
	submissions repository.SubmissionStore,
	events *Events,
	now func() time.Time,
	log zerolog.Logger,
) *AttemptService {
	if now == nil {
		now = time.Now
	}
	return &AttemptService{
		guard:       admission.NewGuard(quizzes, submissions, now),
		quizzes:     quizzes,
		submissions: submissions,
		events:      events,
		validate:    govalidator.New(),
		now:         now,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// GetByLink returns the student view of an open, published quiz. Answer
// keys are stripped.
func (s *AttemptService) GetByLink(ctx context.Context, link string) (*model.QuizPayload, error) {
	q, err := s.guard.Open(ctx, link)
	if err != nil {
		return nil, err
	}
	return q.StudentPayload(), nil
}

// Begin admits a student before a server-hosted session starts. Submit runs
// the same checks again.
func (s *AttemptService) Begin(ctx context.Context, link string, registration map[string]string) (*model.Quiz, error) {
	q, err := s.guard.Admit(ctx, link, model.RegistrationEmail(registration))
	if err != nil {
		return nil, err
	}
	if err := s.validateRegistration(q.FormFields, registration); err != nil {
		return nil, err
	}

	s.events.Publish(ctx, MonitorEvent{
		Type:   EventStarted,
		QuizID: q.ID,
		Email:  model.RegistrationEmail(registration),
	})
	return q, nil
}

// Submit admits, scores and persists one attempt. Admission failures write
// nothing. Racing submissions for the same email persist exactly once.
func (s *AttemptService) Submit(ctx context.Context, link string, req model.SubmitRequest) (*model.SubmitResult, error) {
	email := model.RegistrationEmail(req.Registration)

	q, err := s.guard.Admit(ctx, link, email)
	if err != nil {
		return nil, err
	}
	if err := s.validateRegistration(q.FormFields, req.Registration); err != nil {
		return nil, err
	}

	status := model.SubmissionStatusCompleted
	if model.SubmissionStatus(req.Status) == model.SubmissionStatusTerminated {
		status = model.SubmissionStatusTerminated
	}

	graded := scoring.Score(q.Questions, req.Answers)
	now := s.now().UTC()

	violations := make([]model.Violation, len(req.Violations))
	for i, v := range req.Violations {
		if v.At.IsZero() {
			v.At = now
		}
		violations[i] = v
	}

	sub := &model.Submission{
		ID:             uuid.New(),
		QuizID:         q.ID,
		Registration:   req.Registration,
		Email:          email,
		Answers:        graded.Answers,
		Violations:     violations,
		TotalScore:     graded.TotalScore,
		MaxScore:       graded.MaxScore,
		Status:         status,
		ElapsedSeconds: max(req.ElapsedSeconds, 0),
		SubmittedAt:    now,
	}
	if err := s.submissions.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttempt) {
			return nil, admission.ErrAlreadyAttempted
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}

	pass := scoring.Passed(graded.TotalScore, graded.MaxScore, q.Settings.PassingPercentage)
	s.events.Publish(ctx, MonitorEvent{
		Type:     EventSubmitted,
		QuizID:   q.ID,
		Email:    email,
		Status:   string(status),
		Score:    &sub.TotalScore,
		MaxScore: &sub.MaxScore,
	})

	s.log.Info().
		Str("quiz_id", q.ID.String()).
		Str("submission_id", sub.ID.String()).
		Str("status", string(status)).
		Float64("total_score", sub.TotalScore).
		Float64("max_score", sub.MaxScore).
		Int("violations", len(violations)).
		Msg("Attempt submitted")

	return &model.SubmitResult{
		SubmissionID: sub.ID,
		TotalScore:   sub.TotalScore,
		MaxScore:     sub.MaxScore,
		Pass:         pass,
		Status:       status,
	}, nil
}

// LogViolation records advisory telemetry for a published quiz. It never
// touches scores; queue failures are logged and reported as success.
func (s *AttemptService) LogViolation(ctx context.Context, link string, req model.LogViolationRequest) error {
	q, err := s.quizzes.GetByLink(ctx, link)
	if errors.Is(err, repository.ErrNotFound) {
		return admission.ErrQuizNotFound
	}
	if err != nil {
		return fmt.Errorf("load quiz: %w", err)
	}
	if !q.IsPublished {
		return admission.ErrQuizNotFound
	}

	entry := model.ViolationLog{
		QuizID:     q.ID,
		Kind:       model.ViolationKind(strings.TrimSpace(req.Kind)),
		Email:      model.NormalizeEmail(req.Email),
		RecordedAt: s.now().UTC(),
	}
	if err := s.events.EnqueueViolation(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", q.ID.String()).Msg("Failed to queue violation log")
	}
	s.events.Publish(ctx, MonitorEvent{
		Type:   EventViolation,
		QuizID: q.ID,
		Email:  entry.Email,
		Kind:   string(entry.Kind),
	})
	return nil
}

// validateRegistration checks registration data against the quiz's form.
// Keys match field names case-insensitively; unknown keys are kept as-is.
func (s *AttemptService) validateRegistration(fields []model.FormField, registration map[string]string) error {
	errs := fieldErrors{}

	for _, f := range fields {
		path := "registration." + f.Name
		value := strings.TrimSpace(model.RegistrationValue(registration, f.Name))

		if value == "" {
			if f.Required {
				errs.add(path, f.Name+" is a required field")
			}
			continue
		}

		switch f.Type {
		case model.FieldTypeEmail:
			if s.validate.Var(value, "email") != nil {
				errs.add(path, f.Name+" must be a valid email address")
			}
		case model.FieldTypeNumber:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				errs.add(path, f.Name+" must be a number")
			}
		case model.FieldTypeDropdown, model.FieldTypeRadio:
			if !slices.Contains(f.Options, value) {
				errs.add(path, f.Name+" must be one of the listed options")
			}
		}
	}
	return errs.err()
}

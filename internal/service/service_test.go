package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository/memory"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mr          *miniredis.Miniredis
	rdb         *redis.Client
	quizzes     *memory.QuizStore
	submissions *memory.SubmissionStore
	teachers    *memory.TeacherStore
	cache       *QuizCache
	events      *Events
	quizSvc     *QuizService
	attemptSvc  *AttemptService
	resultSvc   *ResultService
	monitorSvc  *MonitorService
	authSvc     *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zerolog.Nop()
	f := &fixture{
		mr:          mr,
		rdb:         rdb,
		quizzes:     memory.NewQuizStore(),
		submissions: memory.NewSubmissionStore(),
		teachers:    memory.NewTeacherStore(),
	}
	f.cache = NewQuizCache(f.quizzes, rdb, time.Hour, log)
	f.events = NewEvents(rdb, log)
	f.quizSvc = NewQuizService(f.quizzes, f.cache, log)
	f.attemptSvc = NewAttemptService(f.cache, f.submissions, f.events, func() time.Time { return testNow }, log)
	f.resultSvc = NewResultService(f.quizSvc, f.submissions, log)
	f.monitorSvc = NewMonitorService(f.quizSvc, f.submissions, rdb)
	f.authSvc = NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, f.teachers)
	return f
}

func marks(v float64) *float64 { return &v }

// quizRequest builds a three-question quiz worth 1+2+1 with a 0.5 penalty
// on the second question.
func quizRequest(published bool) model.SaveQuizRequest {
	return model.SaveQuizRequest{
		Title: "Fractions",
		FormFields: []model.FormField{
			{Name: "Name", Type: model.FieldTypeText, Required: true},
			{Name: "Email", Type: model.FieldTypeEmail, Required: true},
			{Name: "Class", Type: model.FieldTypeDropdown, Options: []string{"7A", "7B"}},
		},
		Questions: []model.QuestionInput{
			{Text: "1/2 + 1/2", Type: "mcq", Options: []string{"1", "2"}, CorrectAnswer: "1"},
			{Text: "1/3 > 1/4", Type: "truefalse", CorrectAnswer: "true", PositiveMarks: marks(2), NegativeMarks: marks(0.5)},
			{Text: "Half of 8", Type: "short", CorrectAnswer: "4"},
		},
		Settings: model.Settings{
			TimeLimitMinutes:  10,
			MaxViolations:     3,
			PassingPercentage: 50,
		},
		IsPublished: published,
	}
}

func publishedQuiz(t *testing.T, f *fixture, teacherID int) *model.Quiz {
	t.Helper()
	q, err := f.quizSvc.Create(context.Background(), teacherID, quizRequest(true))
	require.NoError(t, err)
	return q
}

func registration(email string) map[string]string {
	return map[string]string{"Name": "Ana", "Email": email, "Class": "7A"}
}

package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
	"github.com/stemsi/proctorquiz/internal/scoring"
)

// MonitorStats summarizes the submissions of a quiz so far.
type MonitorStats struct {
	TotalSubmissions int     `json:"total_submissions"`
	Completed        int     `json:"completed"`
	Terminated       int     `json:"terminated"`
	Passed           int     `json:"passed"`
	TotalViolations  int     `json:"total_violations"`
	AverageScore     float64 `json:"average_score"`
}

// MonitorSnapshot is the first message a live monitor receives.
type MonitorSnapshot struct {
	QuizID           uuid.UUID    `json:"quiz_id"`
	Title            string       `json:"title"`
	Link             string       `json:"link"`
	TimeLimitMinutes int          `json:"time_limit_minutes"`
	QuestionCount    int          `json:"question_count"`
	Stats            MonitorStats `json:"stats"`
}

// MonitorService backs the teacher's live monitor stream.
type MonitorService struct {
	quizzes     *QuizService
	submissions repository.SubmissionStore
	rdb         *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(quizzes *QuizService, submissions repository.SubmissionStore, rdb *redis.Client) *MonitorService {
	return &MonitorService{quizzes: quizzes, submissions: submissions, rdb: rdb}
}

// Snapshot checks ownership and summarizes the quiz's submissions.
func (s *MonitorService) Snapshot(ctx context.Context, teacherID int, quizID uuid.UUID) (*MonitorSnapshot, error) {
	q, err := s.quizzes.Get(ctx, teacherID, quizID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(ctx, q)
	if err != nil {
		return nil, err
	}
	return &MonitorSnapshot{
		QuizID:           q.ID,
		Title:            q.Title,
		Link:             q.Link,
		TimeLimitMinutes: q.Settings.TimeLimitMinutes,
		QuestionCount:    len(q.Questions),
		Stats:            *stats,
	}, nil
}

// Stats aggregates the stored submissions of q.
func (s *MonitorService) Stats(ctx context.Context, q *model.Quiz) (*MonitorStats, error) {
	subs, err := s.submissions.ListAllByQuiz(ctx, q.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	stats := &MonitorStats{TotalSubmissions: len(subs)}
	var scoreSum float64
	for _, sub := range subs {
		switch sub.Status {
		case model.SubmissionStatusCompleted:
			stats.Completed++
		case model.SubmissionStatusTerminated:
			stats.Terminated++
		}
		if scoring.Passed(sub.TotalScore, sub.MaxScore, q.Settings.PassingPercentage) {
			stats.Passed++
		}
		stats.TotalViolations += len(sub.Violations)
		scoreSum += sub.TotalScore
	}
	if len(subs) > 0 {
		stats.AverageScore = scoreSum / float64(len(subs))
	}
	return stats, nil
}

// Subscribe attaches to the quiz's monitor channel. The caller closes the
// returned PubSub.
func (s *MonitorService) Subscribe(ctx context.Context, quizID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.QuizMonitorChannel(quizID.String()))
}

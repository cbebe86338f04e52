package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctorquiz/internal/admission"
	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
)

func answersFor(q *model.Quiz, selected ...string) []model.SubmittedAnswer {
	out := make([]model.SubmittedAnswer, 0, len(selected))
	for i, s := range selected {
		out = append(out, model.SubmittedAnswer{QuestionID: q.Questions[i].ID.String(), Selected: s})
	}
	return out
}

func TestAttemptService_GetByLinkHidesAnswers(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)

	payload, err := f.attemptSvc.GetByLink(context.Background(), q.Link)
	require.NoError(t, err)
	require.Len(t, payload.Questions, 3)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct_answer")
}

func TestAttemptService_GetByLinkRejectsDrafts(t *testing.T) {
	f := newFixture(t)
	draft, err := f.quizSvc.Create(context.Background(), 1, quizRequest(false))
	require.NoError(t, err)

	_, err = f.attemptSvc.GetByLink(context.Background(), draft.Link)
	assert.ErrorIs(t, err, admission.ErrQuizNotFound)
}

func TestAttemptService_Submit(t *testing.T) {
	tests := []struct {
		name       string
		selected   []string
		status     string
		wantTotal  float64
		wantPass   bool
		wantStatus model.SubmissionStatus
	}{
		{"all correct", []string{"1", "true", "4"}, "", 4, true, model.SubmissionStatusCompleted},
		{"penalty and unanswered", []string{"1", "false"}, "", 0.5, false, model.SubmissionStatusCompleted},
		{"terminated is kept", []string{"1", "true"}, "terminated", 3, true, model.SubmissionStatusTerminated},
		{"unknown status completes", nil, "abandoned", 0, false, model.SubmissionStatusCompleted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			q := publishedQuiz(t, f, 1)

			res, err := f.attemptSvc.Submit(context.Background(), q.Link, model.SubmitRequest{
				Registration:   registration("ana@example.com"),
				Answers:        answersFor(q, tc.selected...),
				Status:         tc.status,
				ElapsedSeconds: 120,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantTotal, res.TotalScore)
			assert.Equal(t, 4.0, res.MaxScore)
			assert.Equal(t, tc.wantPass, res.Pass)
			assert.Equal(t, tc.wantStatus, res.Status)

			stored, err := f.submissions.ListAllByQuiz(context.Background(), q.ID)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "ana@example.com", stored[0].Email)
			assert.Len(t, stored[0].Answers, 3)
			assert.Equal(t, testNow, stored[0].SubmittedAt)
		})
	}
}

func TestAttemptService_SubmitStampsViolations(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)
	at := testNow.Add(-time.Minute)

	_, err := f.attemptSvc.Submit(context.Background(), q.Link, model.SubmitRequest{
		Registration: registration("ana@example.com"),
		Violations: []model.Violation{
			{Kind: model.ViolationTabSwitch, At: at},
			{Kind: model.ViolationFullscreenExit},
		},
	})
	require.NoError(t, err)

	stored, _ := f.submissions.ListAllByQuiz(context.Background(), q.ID)
	require.Len(t, stored[0].Violations, 2)
	assert.Equal(t, at, stored[0].Violations[0].At)
	assert.Equal(t, testNow, stored[0].Violations[1].At)
}

func TestAttemptService_SecondAttemptIsRejected(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)
	ctx := context.Background()

	_, err := f.attemptSvc.Submit(ctx, q.Link, model.SubmitRequest{Registration: registration("ana@example.com")})
	require.NoError(t, err)

	_, err = f.attemptSvc.Submit(ctx, q.Link, model.SubmitRequest{Registration: registration("  ANA@example.com ")})
	assert.ErrorIs(t, err, admission.ErrAlreadyAttempted)

	_, err = f.attemptSvc.Begin(ctx, q.Link, registration("Ana@Example.com"))
	assert.ErrorIs(t, err, admission.ErrAlreadyAttempted)
}

func TestAttemptService_ConcurrentSubmitsPersistOnce(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)
	ctx := context.Background()

	const attempts = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	gate := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := f.attemptSvc.Submit(ctx, q.Link, model.SubmitRequest{
				Registration: registration("race@example.com"),
				Answers:      answersFor(q, "1"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, admission.ErrAlreadyAttempted):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
	stored, _ := f.submissions.ListAllByQuiz(ctx, q.ID)
	assert.Len(t, stored, 1)
}

func TestAttemptService_RegistrationValidation(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)

	_, err := f.attemptSvc.Submit(context.Background(), q.Link, model.SubmitRequest{
		Registration: map[string]string{"email": "not-an-email", "class": "9Z"},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "registration.Name")
	assert.Contains(t, verr.Fields, "registration.Email")
	assert.Contains(t, verr.Fields, "registration.Class")

	stored, _ := f.submissions.ListAllByQuiz(context.Background(), q.ID)
	assert.Empty(t, stored, "rejected attempts write nothing")
}

func TestAttemptService_WindowIsEnforced(t *testing.T) {
	f := newFixture(t)
	req := quizRequest(true)
	start := testNow.Add(time.Hour)
	req.Settings.StartDate = &start
	q, err := f.quizSvc.Create(context.Background(), 1, req)
	require.NoError(t, err)

	_, err = f.attemptSvc.Submit(context.Background(), q.Link, model.SubmitRequest{Registration: registration("a@example.com")})
	assert.ErrorIs(t, err, admission.ErrNotYetOpen)
}

func TestAttemptService_LogViolation(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)
	ctx := context.Background()

	sub := f.monitorSvc.Subscribe(ctx, q.ID)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, f.attemptSvc.LogViolation(ctx, q.Link, model.LogViolationRequest{
		Kind:  "tab_switch",
		Email: " Ana@Example.com",
	}))

	queued, err := f.mr.List(config.WorkerKey.PersistViolationsQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var entry model.ViolationLog
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &entry))
	assert.Equal(t, q.ID, entry.QuizID)
	assert.Equal(t, "ana@example.com", entry.Email)

	select {
	case msg := <-sub.Channel():
		var evt MonitorEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
		assert.Equal(t, EventViolation, evt.Type)
		assert.Equal(t, "tab_switch", evt.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no monitor event received")
	}

	assert.ErrorIs(t, f.attemptSvc.LogViolation(ctx, "missing", model.LogViolationRequest{Kind: "tab_switch"}), admission.ErrQuizNotFound)
}

func TestAttemptService_LogViolationSurvivesQueueOutage(t *testing.T) {
	f := newFixture(t)
	q := publishedQuiz(t, f, 1)
	ctx := context.Background()

	// Prime the cache, then take Redis away.
	_, err := f.attemptSvc.GetByLink(ctx, q.Link)
	require.NoError(t, err)
	f.mr.Close()

	assert.NoError(t, f.attemptSvc.LogViolation(ctx, q.Link, model.LogViolationRequest{Kind: "tab_switch"}))
}

package router_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/handler"
	"github.com/stemsi/proctorquiz/internal/middleware"
	"github.com/stemsi/proctorquiz/internal/repository/memory"
	"github.com/stemsi/proctorquiz/internal/router"
	"github.com/stemsi/proctorquiz/internal/service"
	"github.com/stemsi/proctorquiz/internal/validator"
	ws "github.com/stemsi/proctorquiz/internal/websocket"
)

type app struct {
	engine *gin.Engine
	mr     *miniredis.Miniredis
}

func newApp(t *testing.T) *app {
	t.Helper()
	validator.Setup()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		GinMode:            gin.TestMode,
		JWTSecret:          "router-test",
		JWTExpiry:          time.Hour,
		BcryptCost:         4,
		QuizCacheTTL:       time.Minute,
		RateLimitPerMinute: 1000,
	}
	log := zerolog.Nop()

	quizzes := memory.NewQuizStore()
	submissions := memory.NewSubmissionStore()

	authService := service.NewAuthService(cfg, memory.NewTeacherStore())
	cache := service.NewQuizCache(quizzes, rdb, cfg.QuizCacheTTL, log)
	events := service.NewEvents(rdb, log)
	quizService := service.NewQuizService(quizzes, cache, log)
	attemptService := service.NewAttemptService(cache, submissions, events, nil, log)

	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Quiz:    handler.NewQuizHandler(quizService, log),
		Result:  handler.NewResultHandler(service.NewResultService(quizService, submissions, log), log),
		Student: handler.NewStudentHandler(attemptService, log),
		Monitor: handler.NewMonitorHandler(service.NewMonitorService(quizService, submissions, rdb), log),
		WS:      handler.NewWSHandler(attemptService, log, nil),
		System:  handler.NewSystemHandler(rdb, log),
	}
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, log)
	return &app{engine: router.SetupRouter(authService, limiter, handlers, cfg, log), mr: mr}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (a *app) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (a *app) teacher(t *testing.T, email string) string {
	t.Helper()
	w, env := a.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Teacher", "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.Token
}

type quizView struct {
	ID        string `json:"id"`
	Link      string `json:"link"`
	Questions []struct {
		ID string `json:"id"`
	} `json:"questions"`
}

func (a *app) publish(t *testing.T, token string, maxViolations int) quizView {
	t.Helper()
	w, env := a.do(t, http.MethodPost, "/api/v1/quizzes", token, gin.H{
		"title": "Capitals",
		"form_fields": []gin.H{
			{"name": "name", "type": "text", "required": true},
			{"name": "email", "type": "email", "required": true},
		},
		"questions": []gin.H{
			{"text": "Capital of France", "type": "mcq", "options": []string{"Paris", "Lyon"}, "correct_answer": "Paris"},
			{"text": "Jakarta is in Java", "type": "truefalse", "correct_answer": "true", "positive_marks": 3},
		},
		"settings":     gin.H{"time_limit_minutes": 5, "max_tab_switches": maxViolations, "passing_percentage": 60},
		"is_published": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		Quiz quizView `json:"quiz"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.Quiz
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	w, _ := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	a.mr.Close()
	w, env := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
}

func TestTeacherRoutesRequireToken(t *testing.T) {
	a := newApp(t)
	w, env := a.do(t, http.MethodGet, "/api/v1/quizzes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REQUIRED", env.Error.Code)
}

func TestQuizAuthoringFlow(t *testing.T) {
	a := newApp(t)
	token := a.teacher(t, "owner@school.id")
	other := a.teacher(t, "other@school.id")

	w, env := a.do(t, http.MethodPost, "/api/v1/quizzes", token, gin.H{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "title")
	assert.Contains(t, env.Error.Fields, "questions")

	q := a.publish(t, token, 3)

	w, env = a.do(t, http.MethodGet, "/api/v1/quizzes/"+q.ID, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_QUIZ_OWNER", env.Error.Code)

	w, env = a.do(t, http.MethodDelete, "/api/v1/quizzes/"+q.ID, token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "QUIZ_PUBLISHED", env.Error.Code)

	w, _ = a.do(t, http.MethodGet, "/api/v1/quizzes/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = a.do(t, http.MethodGet, "/api/v1/quizzes?page=1&per_page=10", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), q.Link)
}

func TestStudentSubmitFlow(t *testing.T) {
	a := newApp(t)
	token := a.teacher(t, "owner@school.id")
	q := a.publish(t, token, 3)

	w, env := a.do(t, http.MethodGet, "/api/v1/quiz/"+q.Link, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(env.Data), "correct_answer")

	w, _ = a.do(t, http.MethodGet, "/api/v1/quiz/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	submit := gin.H{
		"registration": gin.H{"name": "Ana", "email": "ana@example.com"},
		"answers": []gin.H{
			{"question_id": q.Questions[0].ID, "selected": "Paris"},
			{"question_id": q.Questions[1].ID, "selected": "true"},
		},
		"elapsed_seconds": 42,
	}
	w, env = a.do(t, http.MethodPost, "/api/v1/quiz/"+q.Link+"/submit", "", submit)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		Result struct {
			TotalScore float64 `json:"total_score"`
			MaxScore   float64 `json:"max_score"`
			Pass       bool    `json:"pass"`
			Status     string  `json:"status"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 4.0, res.Result.TotalScore)
	assert.Equal(t, 4.0, res.Result.MaxScore)
	assert.True(t, res.Result.Pass)
	assert.Equal(t, "completed", res.Result.Status)

	w, env = a.do(t, http.MethodPost, "/api/v1/quiz/"+q.Link+"/submit", "", submit)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_ATTEMPTED", env.Error.Code)

	w, env = a.do(t, http.MethodPost, "/api/v1/quiz/"+q.Link+"/submit", "", gin.H{
		"registration": gin.H{"email": "bad"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Fields, "registration.name")

	w, _ = a.do(t, http.MethodPost, "/api/v1/quiz/"+q.Link+"/log-violation", "", gin.H{"kind": "tab_switch"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = a.do(t, http.MethodGet, "/api/v1/quizzes/"+q.ID+"/submissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "ana@example.com")

	w, _ = a.do(t, http.MethodGet, "/api/v1/quizzes/"+q.ID+"/submissions/csv", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Submitted At,name,email,Status"))

	w, _ = a.do(t, http.MethodGet, "/api/v1/quizzes/"+q.ID+"/submissions/xlsx", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK", w.Body.String()[:2])
}

func dialQuiz(t *testing.T, srv *httptest.Server, link string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/quiz/" + link + "/session"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestProctoredSessionOverWebSocket(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	token := a.teacher(t, "owner@school.id")
	q := a.publish(t, token, 5)
	conn := dialQuiz(t, srv, q.Link)

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: q.Questions[0].ID, Selected: "Paris"}))
	assert.Equal(t, "error", readEvent(t, conn)["event"], "answers before start are rejected")

	require.NoError(t, conn.WriteJSON(ws.Request{
		Action:       ws.ActionStart,
		Registration: map[string]string{"name": "Ana", "email": "ana@example.com"},
	}))
	assert.Equal(t, "fullscreen", readEvent(t, conn)["event"])
	started := readEvent(t, conn)
	assert.Equal(t, "started", started["event"])
	assert.EqualValues(t, 300, started["remaining_seconds"])
	assert.EqualValues(t, 5, started["max_violations"])

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: q.Questions[0].ID, Selected: "Paris"}))
	assert.Equal(t, "saved", readEvent(t, conn)["event"])

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionViolation, Kind: "tab_switch"}))
	violation := readEvent(t, conn)
	assert.Equal(t, "violation", violation["event"])
	assert.EqualValues(t, 1, violation["count"])

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionSubmit}))
	finished := readEvent(t, conn)
	assert.Equal(t, "finished", finished["event"])
	assert.Equal(t, "completed", finished["status"])
	assert.Equal(t, "submit", finished["trigger"])
	result := finished["result"].(map[string]any)
	assert.EqualValues(t, 1, result["total_score"])

	// The attempt is stored: a second session for the same email is refused.
	again := dialQuiz(t, srv, q.Link)
	require.NoError(t, again.WriteJSON(ws.Request{
		Action:       ws.ActionStart,
		Registration: map[string]string{"name": "Ana", "email": "ANA@example.com"},
	}))
	refused := readEvent(t, again)
	assert.Equal(t, "error", refused["event"])
	assert.Equal(t, "ALREADY_ATTEMPTED", refused["code"])
}

func TestViolationCapTerminatesOverWebSocket(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	token := a.teacher(t, "owner@school.id")
	q := a.publish(t, token, 1)
	conn := dialQuiz(t, srv, q.Link)

	require.NoError(t, conn.WriteJSON(ws.Request{
		Action:       ws.ActionStart,
		Registration: map[string]string{"name": "Budi", "email": "budi@example.com"},
	}))
	readEvent(t, conn) // fullscreen
	readEvent(t, conn) // started

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionViolation, Kind: "tab_switch"}))
	assert.Equal(t, "violation", readEvent(t, conn)["event"])

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionViolation, Kind: "fullscreen_exit"}))
	finished := readEvent(t, conn)
	assert.Equal(t, "finished", finished["event"])
	assert.Equal(t, "terminated", finished["status"])
	assert.Equal(t, "violation_cap", finished["trigger"])
	assert.EqualValues(t, 2, finished["violations"])

	w, env := a.do(t, http.MethodGet, "/api/v1/quizzes/"+q.ID+"/submissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"status":"terminated"`)
}

func TestMonitorStreamsSnapshotAndEvents(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	token := a.teacher(t, "owner@school.id")
	q := a.publish(t, token, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/quizzes/%s/monitor?token=%s", srv.URL, q.ID, token), nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	nextData := func() string {
		for lines.Scan() {
			if data, ok := strings.CutPrefix(lines.Text(), "data:"); ok {
				return strings.TrimSpace(data)
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	assert.Contains(t, nextData(), `"type":"snapshot"`)

	w, _ := a.do(t, http.MethodPost, "/api/v1/quiz/"+q.Link+"/log-violation", "", gin.H{"kind": "tab_switch", "email": "ana@example.com"})
	require.Equal(t, http.StatusNoContent, w.Code)

	evt := nextData()
	assert.Contains(t, evt, `"type":"violation"`)
	assert.Contains(t, evt, `"email":"ana@example.com"`)
}

func TestSystemMetricsStream(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	token := a.teacher(t, "owner@school.id")
	a.mr.Lpush("persist_violations_queue", "{}")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/system/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	for lines.Scan() {
		if data, ok := strings.CutPrefix(lines.Text(), "data:"); ok {
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(data), &m))
			assert.Equal(t, true, m["redis_ok"])
			assert.EqualValues(t, 1, m["queue_violations"])
			return
		}
	}
	t.Fatalf("no metrics event: %v", lines.Err())
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/proctor"
	"github.com/stemsi/proctorquiz/internal/response"
	"github.com/stemsi/proctorquiz/internal/service"
	ws "github.com/stemsi/proctorquiz/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler hosts server-side proctored sessions over WebSocket. The
// countdown, violation tally and single submission all live on the
// server; the client only relays answers and integrity signals.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	now            func() time.Time
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		now:            time.Now,
	}
}

// QuizStream godoc
// WS /ws/v1/quiz/:link/session
// Runs one proctored attempt: start, answer, violation and submit actions
// in; started, saved, violation and finished events out.
func (h *WSHandler) QuizStream(c *gin.Context) {
	link := c.Param("link")

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	wsLog := h.log.With().Str("link", link).Logger()
	wsLog.Debug().Msg("Student connected")

	var sess *proctor.Session
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch req.Action {
		case ws.ActionPing:
			remaining := 0
			if sess != nil {
				remaining = sess.Snapshot().RemainingSeconds
			}
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong, RemainingSeconds: remaining})

		case ws.ActionStart:
			if sess != nil {
				_ = conn.WriteError("", proctor.ErrAlreadyStarted.Error())
				continue
			}
			started, err := h.startSession(ctx, conn, link, req.Registration, wsLog)
			if err != nil {
				writeFailure(conn, wsLog, err)
				continue
			}
			sess = started
			go h.watch(ctx, conn, sess)

		case ws.ActionAnswer:
			if sess == nil {
				_ = conn.WriteError("", proctor.ErrNotActive.Error())
				continue
			}
			if err := sess.Answer(req.QuestionID, req.Selected); err != nil {
				_ = conn.WriteError("", err.Error())
				continue
			}
			_ = conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: req.QuestionID})

		case ws.ActionViolation:
			kind := strings.TrimSpace(req.Kind)
			if sess == nil || kind == "" {
				_ = conn.WriteError("", "an active session and a violation kind are required")
				continue
			}
			if _, err := sess.Record(ctx, model.ViolationKind(kind)); err != nil {
				_ = conn.WriteError("", err.Error())
				continue
			}
			// A capping violation is reported by the finished event instead.
			if snap := sess.Snapshot(); snap.State == proctor.StateActive {
				_ = conn.WriteTyped(ws.ViolationResponse{
					Event:         ws.EventViolation,
					Kind:          kind,
					Count:         snap.Violations,
					MaxViolations: snap.MaxViolations,
				})
			}

		case ws.ActionSubmit:
			if sess == nil {
				_ = conn.WriteError("", proctor.ErrNotActive.Error())
				continue
			}
			// Submission failures reach the client through watch.
			if _, err := sess.Submit(ctx); errors.Is(err, proctor.ErrNotActive) || errors.Is(err, proctor.ErrClosed) {
				_ = conn.WriteError("", err.Error())
			}

		default:
			wsLog.Warn().Str("action", string(req.Action)).Msg("Unknown action")
			_ = conn.WriteError("", "unknown action: "+string(req.Action))
		}
	}
}

func (h *WSHandler) startSession(
	ctx context.Context,
	conn *ws.Conn,
	link string,
	registration map[string]string,
	log zerolog.Logger,
) (*proctor.Session, error) {
	quiz, err := h.attemptService.Begin(ctx, link, registration)
	if err != nil {
		return nil, err
	}

	questionIDs := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		questionIDs[i] = q.ID.String()
	}
	email := model.RegistrationEmail(registration)

	sess, err := proctor.NewSession(proctor.Config{
		TimeLimit:     quiz.Settings.TimeLimit(),
		MaxViolations: quiz.Settings.MaxViolations,
		QuestionIDs:   questionIDs,
		Submitter: proctor.SubmitterFunc(func(ctx context.Context, o proctor.Outcome) (*model.SubmitResult, error) {
			// The attempt is stored even if the socket drops mid-submit.
			return h.attemptService.Submit(context.WithoutCancel(ctx), link, model.SubmitRequest{
				Registration:   registration,
				Answers:        o.Answers,
				Status:         string(o.Status),
				ElapsedSeconds: o.ElapsedSeconds,
				Violations:     o.Violations,
			})
		}),
		Reporter: proctor.ReporterFunc(func(ctx context.Context, v model.Violation) error {
			return h.attemptService.LogViolation(ctx, link, model.LogViolationRequest{Kind: string(v.Kind), Email: email})
		}),
		EnterFullscreen: func(context.Context) error {
			return conn.WriteTyped(ws.FullscreenRequest{Event: ws.EventFullscreen})
		},
		Now:    h.now,
		Logger: log.With().Str("quiz_id", quiz.ID.String()).Logger(),
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	snap := sess.Snapshot()
	_ = conn.WriteTyped(ws.StartedResponse{
		Event:            ws.EventStarted,
		RemainingSeconds: snap.RemainingSeconds,
		MaxViolations:    snap.MaxViolations,
		QuestionCount:    len(questionIDs),
	})
	return sess, nil
}

// watch sends the finished event once the session has been submitted and
// then closes the connection.
func (h *WSHandler) watch(ctx context.Context, conn *ws.Conn, sess *proctor.Session) {
	select {
	case <-ctx.Done():
		return
	case <-sess.Done():
	}

	outcome, result, err := sess.Result()
	msg := ws.FinishedResponse{
		Event:      ws.EventFinished,
		Status:     outcome.Status,
		Trigger:    string(outcome.Trigger),
		Violations: len(outcome.Violations),
		Result:     result,
	}
	if err != nil {
		_, code := classify(err)
		msg.Code = string(code)
		msg.Error = response.GetMessage(code)
		if code == response.ErrInternal {
			h.log.Error().Err(err).Msg("Session submission failed")
		}
	}
	_ = conn.WriteTyped(msg)
	_ = conn.CloseNormal("session finished")
}

// writeFailure reports a failed start. Validation errors carry their
// field messages.
func writeFailure(conn *ws.Conn, log zerolog.Logger, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		_ = conn.WriteTyped(ws.ErrorResponse{
			Event:  ws.EventError,
			Code:   string(response.ErrValidation),
			Error:  response.GetMessage(response.ErrValidation),
			Fields: verr.Fields,
		})
		return
	}
	_, code := classify(err)
	if code == response.ErrInternal {
		log.Error().Err(err).Msg("Session start failed")
	}
	_ = conn.WriteError(string(code), response.GetMessage(code))
}

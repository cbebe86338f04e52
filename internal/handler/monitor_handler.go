package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams a quiz's live activity to its owner over SSE.
type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

// MonitorQuizSSE godoc
// GET /api/v1/quizzes/:quiz_id/monitor
// Sends a snapshot, then forwards monitor events as they are published,
// with periodic stats refreshes and keep-alive pings.
func (h *MonitorHandler) MonitorQuizSSE(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	snapshot, err := h.monitorService.Snapshot(reqCtx, claims.UserID, quizID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	pubsub := h.monitorService.Subscribe(reqCtx, quizID)
	defer pubsub.Close()
	// Wait for the subscription so no event published after the snapshot
	// is missed.
	if _, err := pubsub.Receive(reqCtx); err != nil {
		fail(c, h.log, err)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": snapshot})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()

	// Only refresh after something has happened since the last one.
	dirty := false

	log := h.log.With().Str("quiz_id", quizID.String()).Logger()
	log.Info().Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON, it is already a MonitorEvent.
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write([]byte(msg.Payload))
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendRefresh(c, reqCtx, claims.UserID, snapshot)

		case <-keepAliveTicker.C:
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(pingPayload)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendRefresh recomputes the stats and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, teacherID int, snap *service.MonitorSnapshot) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	fresh, err := h.monitorService.Snapshot(ctx, teacherID, snap.QuizID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh monitor stats")
		return
	}

	c.SSEvent("message", gin.H{"type": "refresh", "stats": fresh.Stats})
	c.Writer.Flush()
}

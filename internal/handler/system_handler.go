package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/response"
)

const (
	metricsInterval = 7 * time.Second
	pingTimeout     = 2 * time.Second
)

// SystemHandler reports process health and streams runtime metrics.
type SystemHandler struct {
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger

	metricsEvery time.Duration
}

func NewSystemHandler(rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:          rdb,
		startTime:    time.Now(),
		log:          log.With().Str("component", "system_handler").Logger(),
		metricsEvery: metricsInterval,
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`
	RedisOK   bool   `json:"redis_ok"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Violation rows waiting for the worker.
	QueueViolations int64 `json:"queue_violations"`
}

// Health godoc
// GET /health
// Returns 200 while Redis answers, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Health check: Redis unreachable")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"status": "ok",
		"uptime": formatDuration(time.Since(h.startTime)),
	})
}

// SystemMetricsSSE godoc
// GET /api/v1/system/metrics
// Streams runtime and queue metrics every few seconds.
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	h.log.Debug().Msg("Teacher connected to system metrics SSE")

	ticker := time.NewTicker(h.metricsEvery)
	defer ticker.Stop()

	c.SSEvent("metrics", h.collect(reqCtx))
	c.Writer.Flush()

	for {
		select {
		case <-reqCtx.Done():
			h.log.Debug().Msg("Teacher disconnected from system metrics SSE")
			return
		case <-ticker.C:
			c.SSEvent("metrics", h.collect(reqCtx))
			c.Writer.Flush()
		}
	}
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp: time.Now().Unix(),
		Uptime:    formatDuration(time.Since(h.startTime)),
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.NumGC = ms.NumGC

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	pipe := h.rdb.Pipeline()
	pingCmd := pipe.Ping(ctx)
	queueCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		m.RedisOK = pingCmd.Err() == nil
		m.QueueViolations, _ = queueCmd.Result()
	}
	return m
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

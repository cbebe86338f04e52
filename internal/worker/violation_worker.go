package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWorker drains the advisory violation queue into the
// violation log store in batches.
type ViolationWorker struct {
	store repository.ViolationLogStore
	rdb   *redis.Client
	log   zerolog.Logger

	batchSize      int
	batchTimeout   time.Duration
	requeueBackoff time.Duration
	errorBackoff   time.Duration
}

func NewViolationWorker(store repository.ViolationLogStore, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store:          store,
		rdb:            rdb,
		log:            log.With().Str("component", "violation_worker").Logger(),
		batchSize:      BatchSize,
		batchTimeout:   BatchTimeout,
		requeueBackoff: 2 * time.Second,
		errorBackoff:   3 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it still holds.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationLog, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for PollTimeout and returns at once when data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Dur("backoff", w.errorBackoff).Msg("Redis connection error")
			sleep(ctx, w.errorBackoff)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var entry model.ViolationLog
		if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation payload")
			continue
		}
		if entry.QuizID == uuid.Nil || entry.Kind == "" {
			w.log.Error().Str("data", result[1]).Msg("Discarding incomplete violation payload")
			continue
		}
		if entry.RecordedAt.IsZero() {
			entry.RecordedAt = time.Now().UTC()
		}
		buffer = append(buffer, entry)
	}
}

// flushSafe tries one bulk insert, then row by row, then requeues what
// still failed.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationLog) {
	n, err := w.store.BulkInsert(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("count", n).Msg("Violation batch persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ViolationLog
	for _, entry := range batch {
		if err := w.store.Insert(ctx, entry); err != nil {
			w.log.Error().Err(err).Str("quiz_id", entry.QuizID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, entry)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationLog) {
	pipe := w.rdb.Pipeline()
	for _, entry := range items {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("Failed to requeue violation logs, entries lost")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violation logs")
	// Back off so a store that is down hard is not hammered.
	sleep(ctx, w.requeueBackoff)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationLog) {
	w.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")
	if len(buffer) == 0 {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trivia-live/internal/config"
	"github.com/trivia-live/internal/domain"
	"github.com/trivia-live/internal/postgres"
	"github.com/trivia-live/internal/redis"
)

// ScoreboardWorker periodically reconciles the Redis scoreboards against
// the player scores in PostgreSQL. Postgres is the source of truth; the
// Redis ZSETs are a read cache for podium queries and can drift if Redis
// restarts or an increment is lost.
type ScoreboardWorker struct {
	scoreboard *redis.Scoreboard
	postgres   *postgres.Repository
	config     *config.ScoreboardConfig
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewScoreboardWorker creates a new scoreboard reconciliation worker
func NewScoreboardWorker(
	scoreboard *redis.Scoreboard,
	postgres *postgres.Repository,
	cfg *config.ScoreboardConfig,
	logger *slog.Logger,
) *ScoreboardWorker {
	return &ScoreboardWorker{
		scoreboard: scoreboard,
		postgres:   postgres,
		config:     cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background reconciliation process
func (w *ScoreboardWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("scoreboard worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background reconciliation process
func (w *ScoreboardWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("scoreboard worker stopped")
	return nil
}

// run is the main worker loop
func (w *ScoreboardWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reconcileAll(ctx)
		}
	}
}

// reconcileAll rebuilds the Redis scoreboard of every active session
func (w *ScoreboardWorker) reconcileAll(ctx context.Context) {
	w.logger.Info("starting reconcile cycle")
	startTime := time.Now()

	sessions, err := w.postgres.ListSessions(ctx)
	if err != nil {
		w.logger.Error("failed to list sessions for reconcile", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, sess := range sessions {
		if sess.Phase.Terminal() {
			continue
		}
		if err := w.Reconcile(ctx, sess.ID); err != nil {
			w.logger.Error("failed to reconcile scoreboard",
				"session_id", sess.ID,
				"error", err,
			)
			errorCount++
		} else {
			syncedCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("reconcile cycle completed",
		"duration", duration,
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// Reconcile rewrites one session's Redis scoreboard from PostgreSQL
func (w *ScoreboardWorker) Reconcile(ctx context.Context, sessionID string) error {
	w.logger.Debug("reconciling scoreboard", "session_id", sessionID)

	scores, err := w.postgres.GetAllScores(ctx, sessionID)
	if err != nil {
		return err
	}

	if len(scores) == 0 {
		w.logger.Debug("no scores to reconcile", "session_id", sessionID)
		return nil
	}

	// Write in batches to keep pipeline sizes bounded
	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	batch := make(map[string]int64, batchSize)
	count := 0

	for playerID, score := range scores {
		batch[playerID] = score
		count++

		if count >= batchSize {
			if err := w.scoreboard.BatchSetScores(ctx, sessionID, batch); err != nil {
				return err
			}
			batch = make(map[string]int64, batchSize)
			count = 0
		}
	}

	if len(batch) > 0 {
		if err := w.scoreboard.BatchSetScores(ctx, sessionID, batch); err != nil {
			return err
		}
	}

	// ZADD never removes members, so entries for deleted players linger
	// until the next restart clears the key. Surface the drift.
	if count, err := w.scoreboard.Count(ctx, sessionID); err == nil && count > int64(len(scores)) {
		w.logger.Warn("scoreboard carries entries for deleted players",
			"session_id", sessionID,
			"scoreboard", count,
			"postgres", len(scores),
		)
	}

	w.logger.Debug("reconciled scoreboard",
		"session_id", sessionID,
		"player_count", len(scores),
	)

	return nil
}

// RecoverAll rebuilds every session's scoreboard from PostgreSQL.
// Called at startup so podium queries survive a Redis restart.
func (w *ScoreboardWorker) RecoverAll(ctx context.Context) error {
	w.logger.Info("recovering scoreboards from database")

	sessions, err := w.postgres.ListSessions(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, sess := range sessions {
		if sess.Phase == domain.PhaseFinal {
			continue
		}
		if err := w.Reconcile(ctx, sess.ID); err != nil {
			w.logger.Error("failed to recover scoreboard",
				"session_id", sess.ID,
				"error", err,
			)
			// Continue with other sessions
			continue
		}
		recovered++
	}

	w.logger.Info("completed scoreboard recovery", "count", recovered)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *ScoreboardWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single reconcile cycle (useful for manual triggers)
func (w *ScoreboardWorker) RunOnce(ctx context.Context) {
	w.reconcileAll(ctx)
}

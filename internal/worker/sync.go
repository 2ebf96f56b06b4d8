package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
)

// RankingSource yields the authoritative ranking table
type RankingSource interface {
	ListRankings(ctx context.Context) ([]domain.RankingEntry, error)
}

// RankingSink accepts a full replacement of the cached rankings
type RankingSink interface {
	ReplaceAll(ctx context.Context, entries []domain.RankingEntry) error
}

// SyncWorker rebuilds the ranking cache from the store on an interval, which
// repairs any increments the cache missed.
type SyncWorker struct {
	source  RankingSource
	sink    RankingSink
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	source RankingSource,
	sink RankingSink,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		source: source,
		sink:   sink,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start rebuilds the cache once and then keeps it in sync in the background
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.Sync(ctx); err != nil {
		w.logger.Warn("initial ranking sync failed", "error", err)
	}

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
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

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
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
			if err := w.Sync(ctx); err != nil {
				w.logger.Error("ranking sync failed", "error", err)
			}
		}
	}
}

// Sync copies the store's rankings into the cache
func (w *SyncWorker) Sync(ctx context.Context) error {
	startTime := time.Now()

	entries, err := w.source.ListRankings(ctx)
	if err != nil {
		return err
	}
	if err := w.sink.ReplaceAll(ctx, entries); err != nil {
		return err
	}

	w.logger.Debug("ranking sync completed",
		"duration", time.Since(startTime),
		"users", len(entries),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

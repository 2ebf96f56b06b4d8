package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	entries []domain.RankingEntry
	err     error
}

func (s staticSource) ListRankings(context.Context) ([]domain.RankingEntry, error) {
	return s.entries, s.err
}

type countingSink struct {
	mu    sync.Mutex
	calls int
	last  []domain.RankingEntry
}

func (s *countingSink) ReplaceAll(_ context.Context, entries []domain.RankingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = entries
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncWorker_SyncsOnStartAndTick(t *testing.T) {
	entries := []domain.RankingEntry{{Rank: 1, Name: "alice", Score: 3}}
	sink := &countingSink{}
	w := NewSyncWorker(staticSource{entries: entries}, sink, &config.SyncConfig{Interval: 10 * time.Millisecond}, discardLogger())

	require.NoError(t, w.Start(context.Background()))
	require.True(t, w.IsRunning())
	require.GreaterOrEqual(t, sink.count(), 1, "start syncs immediately")

	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	require.False(t, w.IsRunning())
	require.Equal(t, entries, sink.last)
}

func TestSyncWorker_SourceError(t *testing.T) {
	sink := &countingSink{}
	w := NewSyncWorker(staticSource{err: errors.New("db down")}, sink, &config.SyncConfig{Interval: time.Hour}, discardLogger())

	require.Error(t, w.Sync(context.Background()))
	require.Zero(t, sink.count())
}

package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// countingHistory counts DeleteOlderThan calls and records their arguments.
type countingHistory struct {
	fakeHistory
	calls         atomic.Int32
	lastDays      atomic.Int32
	keepFavorites atomic.Bool
}

func (c *countingHistory) DeleteOlderThan(_ context.Context, days int, keepFavorites bool) (int64, error) {
	c.calls.Add(1)
	c.lastDays.Store(int32(days))
	c.keepFavorites.Store(keepFavorites)
	return 2, nil
}

func TestRetentionService_PruneDefaultsDays(t *testing.T) {
	history := &countingHistory{}
	svc := NewRetentionService(history, 0, true, zap.NewNop())

	n, err := svc.Prune(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int32(DefaultRetentionDays), history.lastDays.Load())
	assert.True(t, history.keepFavorites.Load())

	_, err = svc.Prune(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int32(5), history.lastDays.Load())
}

func TestRetentionService_PruneAgainstStore(t *testing.T) {
	history := newHistoryService(t)
	ctx := context.Background()
	addEntry(t, history, models.HistoryEntry{Timestamp: historyNow.AddDate(0, 0, -45), ConnectionName: "shop", Question: "old"})
	fav := addEntry(t, history, models.HistoryEntry{Timestamp: historyNow.AddDate(0, 0, -45), ConnectionName: "shop", Question: "old favorite"})
	addEntry(t, history, models.HistoryEntry{Timestamp: historyNow, ConnectionName: "shop", Question: "today"})
	_, err := history.ToggleFavorite(ctx, fav)
	require.NoError(t, err)

	svc := NewRetentionService(history, 30, true, zap.NewNop())
	n, err := svc.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := history.RecentN(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestRetentionService_SchedulerPrunesOnStartAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	history := &countingHistory{}
	svc := NewRetentionService(history, 7, false, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.RunScheduler(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return history.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(7), history.lastDays.Load())
}

package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coocood/freecache"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/fitcoach/internal/coach/predictor"
	"github.com/2beens/fitcoach/internal/telemetry/metrics"
)

func newTestService(t *testing.T, cache *freecache.Cache) (*Service, *metrics.Manager) {
	t.Helper()
	m := metrics.NewTestManager()
	return NewService(NewMemoryStore(), predictor.DefaultPolicy, cache, 60, m), m
}

func TestService_Scenario(t *testing.T) {
	ctx := context.Background()
	service, m := newTestService(t, freecache.NewCache(512*1024))

	for i := 0; i < 3; i++ {
		_, err := service.RecordFeedback(ctx, Feedback{UserID: "u1", Completed: true, Energy: EnergyHigh})
		require.NoError(t, err)
	}
	record, err := service.RecordFeedback(ctx, Feedback{UserID: "u1", Completed: false, Reason: "too tired"})
	require.NoError(t, err)
	assert.Equal(t, 0, record.Streak)
	assert.Equal(t, 3, record.LongestStreak)
	assert.Equal(t, 3, record.TotalCompleted)
	assert.Equal(t, 33, record.EnergySum)
	assert.Equal(t, 4, record.EnergyCount)
	assert.Len(t, record.History, 4)

	status, err := service.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.CurrentStreak)
	assert.Equal(t, 3, status.TotalCompleted)
	assert.Equal(t, 8.3, status.AverageEnergy)
	assert.Equal(t, predictor.IntensityLight, status.PlanIntensity)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CounterFeedback.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterFeedback.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterPredictions.WithLabelValues("status", "Light")))
}

func TestService_Status_NotFound(t *testing.T) {
	service, _ := newTestService(t, nil)

	status, err := service.Status(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, status)
}

func TestService_RecordFeedback_MissingUserID(t *testing.T) {
	service, m := newTestService(t, nil)

	_, err := service.RecordFeedback(context.Background(), Feedback{Completed: true})
	assert.ErrorIs(t, err, ErrMissingUserID)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CounterFeedback.WithLabelValues("true")))
}

func TestService_StatusCache(t *testing.T) {
	ctx := context.Background()
	service, m := newTestService(t, freecache.NewCache(512*1024))

	_, err := service.RecordFeedback(ctx, Feedback{UserID: "u2", Completed: true, Energy: EnergyLow})
	require.NoError(t, err)

	first, err := service.Status(ctx, "u2")
	require.NoError(t, err)
	second, err := service.Status(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterStatusCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterStatusCache.WithLabelValues("hit")))

	// new feedback invalidates the cached status
	_, err = service.RecordFeedback(ctx, Feedback{UserID: "u2", Completed: true, Energy: EnergyLow})
	require.NoError(t, err)

	third, err := service.Status(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, third.CurrentStreak)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterStatusCache.WithLabelValues("miss")))
}

func TestService_WithoutCache(t *testing.T) {
	ctx := context.Background()
	service, m := newTestService(t, nil)

	_, err := service.RecordFeedback(ctx, Feedback{UserID: "u3", Completed: true, Energy: EnergyMedium})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		status, err := service.Status(ctx, "u3")
		require.NoError(t, err)
		assert.Equal(t, 1, status.CurrentStreak)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CounterStatusCache.WithLabelValues("miss")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CounterStatusCache.WithLabelValues("hit")))
}

func TestService_RecordFeedback_Checkin(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	now := time.Date(2026, 4, 1, 6, 30, 15, 123456789, time.UTC)
	service.now = func() time.Time { return now }

	record, err := service.RecordFeedback(ctx, Feedback{
		UserID:    "u4",
		Completed: true,
		Energy:    EnergyLow,
		Notes:     "short session",
	})
	require.NoError(t, err)

	checkinTime := now.Truncate(time.Millisecond)
	require.NotNil(t, record.LastCheckin)
	assert.Equal(t, checkinTime, *record.LastCheckin)
	assert.Equal(t, []Checkin{
		{Date: checkinTime, Completed: true, Energy: EnergyLow, EnergyValue: 3, Notes: "short session"},
	}, record.History)
}

func TestService_Overview(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, freecache.NewCache(512*1024))
	now := time.Date(2026, 4, 10, 18, 0, 0, 0, time.UTC)

	_, err := service.Overview(ctx, "u5")
	assert.ErrorIs(t, err, ErrNotFound)

	for i, completed := range []bool{true, true, false, true} {
		service.now = func() time.Time { return now.Add(time.Duration(i-3) * 24 * time.Hour) }
		_, err := service.RecordFeedback(ctx, Feedback{UserID: "u5", Completed: completed, Energy: EnergyMedium})
		require.NoError(t, err)
	}

	service.now = func() time.Time { return now }
	overview, err := service.Overview(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, 0.75, overview.WeeklyCompletionRate)
	assert.Equal(t, 1, overview.CurrentStreak)
	assert.Equal(t, 2, overview.LongestStreak)
	assert.Equal(t, 1, overview.ActiveDayStreak)
	assert.Equal(t, 4, overview.TotalCheckins)
	assert.Equal(t, 6.0, overview.AverageEnergy)
	assert.Equal(t, 4, overview.TotalDaysTracked)
}

func TestService_StatusAfterFileReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	service := NewService(store, predictor.DefaultPolicy, freecache.NewCache(512*1024), 60, metrics.NewTestManager())
	store.OnReload(service.ClearStatusCache)

	_, err = service.RecordFeedback(ctx, Feedback{UserID: "u6", Completed: true, Energy: EnergyHigh})
	require.NoError(t, err)
	status, err := service.Status(ctx, "u6")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentStreak)

	content, err := EncodeRecords(map[string]Record{
		"u6": {Streak: 0, TotalCompleted: 1, EnergySum: 12, EnergyCount: 2},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, store.Reload())

	status, err = service.Status(ctx, "u6")
	require.NoError(t, err)
	assert.Equal(t, 0, status.CurrentStreak)
	assert.Equal(t, 6.0, status.AverageEnergy)
}

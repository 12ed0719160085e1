package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/store/storetest"
)

func TestUpdateDailyStatsConcurrentRefresh(t *testing.T) {
	s := storetest.New(t)
	monitoring := NewMonitoringService(s.DB(), zap.NewNop())
	ctx := context.Background()

	storetest.SeedDraft(t, s, "p1", now)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := monitoring.UpdateDailyStats(ctx, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	var rows int64
	require.NoError(t, s.DB().Model(&models.DailyStats{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	storetest.SeedDraft(t, s, "p2", now.Add(time.Minute))
	stats, err := monitoring.UpdateDailyStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Drafted)
	assert.Equal(t, 2, stats.Pending)
	assert.NotZero(t, stats.ID)

	require.NoError(t, s.DB().Model(&models.DailyStats{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

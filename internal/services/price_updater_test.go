package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGetter struct {
	mu       sync.Mutex
	calls    [][]string
	forced   []bool
	release  chan struct{}
	snapshot *PriceSnapshot
	err      error
}

func (g *recordingGetter) GetPrices(ctx context.Context, feedIDs, currencies []string, forceRefresh bool) (*PriceSnapshot, error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]string(nil), feedIDs...))
	g.forced = append(g.forced, forceRefresh)
	release := g.release
	g.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.snapshot != nil {
		return g.snapshot, nil
	}
	return &PriceSnapshot{Quotes: models.PriceQuoteMap{}, FetchedAt: time.Now()}, nil
}

func (g *recordingGetter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func TestUpdaterSkipsTickWhileRefreshInFlight(t *testing.T) {
	getter := &recordingGetter{release: make(chan struct{})}
	updater := NewPriceUpdater(getter, time.Hour, []string{"usd"})
	updater.Track("bitcoin")

	ctx := context.Background()
	require.True(t, updater.tick(ctx))
	require.Eventually(t, func() bool { return getter.callCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, updater.tick(ctx))
	assert.False(t, updater.tick(ctx))
	status := updater.Status()
	assert.True(t, status.IsUpdating)
	assert.Equal(t, int64(2), status.SkippedTicks)

	close(getter.release)
	require.Eventually(t, func() bool { return !updater.Status().IsUpdating }, time.Second, 5*time.Millisecond)

	assert.True(t, updater.tick(ctx))
	require.Eventually(t, func() bool { return getter.callCount() == 2 }, time.Second, 5*time.Millisecond)
	updater.wg.Wait()

	assert.Equal(t, []bool{true, true}, getter.forced)
	assert.False(t, updater.Status().LastUpdateTime.IsZero())
}

func TestUpdaterStartIsIdempotentAndRefreshesImmediately(t *testing.T) {
	getter := &recordingGetter{}
	updater := NewPriceUpdater(getter, time.Hour, []string{"usd"})

	updater.Start("ethereum", "bitcoin")
	updater.Start("solana")
	require.Eventually(t, func() bool { return getter.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	status := updater.Status()
	assert.True(t, status.IsAutoUpdateActive)
	assert.Equal(t, []string{"bitcoin", "ethereum", "solana"}, status.TrackedFeedIDs)

	updater.Stop()
	updater.Stop()
	assert.False(t, updater.Status().IsAutoUpdateActive)
	assert.Equal(t, 1, getter.callCount())
}

func TestUpdaterStopCancelsInFlightWait(t *testing.T) {
	getter := &recordingGetter{release: make(chan struct{})}
	updater := NewPriceUpdater(getter, time.Hour, nil)

	updater.Start("bitcoin")
	require.Eventually(t, func() bool { return getter.callCount() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		updater.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop no terminó")
	}
}

func TestUpdaterTicksPeriodically(t *testing.T) {
	getter := &recordingGetter{}
	updater := NewPriceUpdater(getter, 10*time.Millisecond, []string{"usd"})

	updater.Start("bitcoin")
	defer updater.Stop()

	require.Eventually(t, func() bool { return getter.callCount() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestForceUpdate(t *testing.T) {
	fetchedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	getter := &recordingGetter{snapshot: &PriceSnapshot{FetchedAt: fetchedAt}}
	updater := NewPriceUpdater(getter, time.Hour, []string{"usd"})

	// Sin ids seguidos no hay nada que consultar
	require.NoError(t, updater.ForceUpdate(context.Background()))
	assert.Zero(t, getter.callCount())

	updater.Track("bitcoin")
	require.NoError(t, updater.ForceUpdate(context.Background()))
	assert.Equal(t, fetchedAt, updater.Status().LastUpdateTime)

	getter.err = errors.New("proveedor caído")
	require.Error(t, updater.ForceUpdate(context.Background()))
	assert.Equal(t, fetchedAt, updater.Status().LastUpdateTime)
}

func TestForceUpdateRejectsOverlap(t *testing.T) {
	getter := &recordingGetter{release: make(chan struct{})}
	updater := NewPriceUpdater(getter, time.Hour, nil)
	updater.Track("bitcoin")

	require.True(t, updater.tick(context.Background()))
	require.Eventually(t, func() bool { return getter.callCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, updater.ForceUpdate(context.Background()), ErrUpdateInProgress)

	close(getter.release)
	updater.wg.Wait()
}

func TestUpdaterStaleSnapshotKeepsLastUpdate(t *testing.T) {
	getter := &recordingGetter{snapshot: &PriceSnapshot{FetchedAt: time.Now(), Stale: true, Err: errors.New("timeout")}}
	updater := NewPriceUpdater(getter, time.Hour, nil)
	updater.Track("bitcoin")

	require.NoError(t, updater.ForceUpdate(context.Background()))
	assert.True(t, updater.Status().LastUpdateTime.IsZero())
}

func TestUpdaterSetTrackedReplacesIDs(t *testing.T) {
	getter := &recordingGetter{}
	updater := NewPriceUpdater(getter, time.Hour, []string{"usd"})
	updater.Track("bitcoin", "solana")

	updater.SetTracked("ethereum", "", "bitcoin")
	assert.Equal(t, []string{"bitcoin", "ethereum"}, updater.Status().TrackedFeedIDs)

	require.NoError(t, updater.ForceUpdate(context.Background()))
	assert.Equal(t, [][]string{{"bitcoin", "ethereum"}}, getter.calls)

	updater.SetTracked()
	assert.Empty(t, updater.Status().TrackedFeedIDs)
}

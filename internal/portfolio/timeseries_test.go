package portfolio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seriesNow = time.Date(2024, 1, 13, 15, 0, 0, 0, time.UTC)

func btcLedger() []models.Transaction {
	return []models.Transaction{
		buy("1", "BTC", 1, 50000, time.Date(2024, 1, 11, 10, 0, 0, 0, time.UTC)),
		buy("2", "BTC", 1, 30000, time.Date(2024, 1, 12, 10, 0, 0, 0, time.UTC)),
	}
}

func liveBTC(price float64) models.PriceQuoteMap {
	return models.PriceQuoteMap{"bitcoin": {USD: price}}
}

func TestBuildSeriesEmptyLedger(t *testing.T) {
	series := BuildSeries(nil, resolver, History{}, liveBTC(40000), seriesNow)

	require.Len(t, series.Points, 1)
	assert.Equal(t, seriesNow, series.Points[0].Timestamp)
	assert.Zero(t, series.Points[0].InvestedUSD)
	assert.Zero(t, series.Points[0].ValueUSD)
	assert.False(t, series.Degraded)
}

func TestBuildSeriesDegradedUsesLivePrice(t *testing.T) {
	series := BuildSeries(btcLedger(), resolver, History{}, liveBTC(40000), seriesNow)

	assert.True(t, series.Degraded)
	require.Len(t, series.Points, 3)

	assert.Equal(t, time.Date(2024, 1, 11, 23, 59, 59, 0, time.UTC), series.Points[0].Timestamp)
	assert.Equal(t, models.GranularityDaily, series.Points[0].Granularity)
	assert.InDelta(t, 50000.0, series.Points[0].InvestedUSD, 1e-9)
	assert.InDelta(t, 40000.0, series.Points[0].ValueUSD, 1e-9)

	assert.InDelta(t, 80000.0, series.Points[1].InvestedUSD, 1e-9)
	assert.InDelta(t, 80000.0, series.Points[1].ValueUSD, 1e-9)

	last := series.Points[2]
	assert.Equal(t, seriesNow, last.Timestamp)
	assert.Equal(t, models.GranularityLive, last.Granularity)
	for _, p := range series.Points {
		assert.Positive(t, p.ValueUSD)
	}
	// Sin historia no se reportan días faltantes uno por uno
	assert.Empty(t, series.Anomalies)
}

func TestBuildSeriesLastPointMatchesAggregate(t *testing.T) {
	txs := append(btcLedger(),
		buy("3", "ETH", 2, 2500, time.Date(2024, 1, 12, 18, 0, 0, 0, time.UTC)),
		sell("4", "BTC", 0.5, 42000, time.Date(2024, 1, 13, 9, 0, 0, 0, time.UTC)),
	)
	live := models.PriceQuoteMap{"bitcoin": {USD: 40000}, "ethereum": {USD: 2200}}

	series := BuildSeries(txs, resolver, History{}, live, seriesNow)
	holdings, _ := Aggregate(txs, resolver)

	invested, value := 0.0, 0.0
	for _, h := range holdings {
		invested += h.TotalInvested
		p, _ := live.Price(h.FeedID)
		value += h.TotalAmount * p
	}

	last := series.Points[len(series.Points)-1]
	assert.InDelta(t, invested, last.InvestedUSD, 1e-6)
	assert.InDelta(t, value, last.ValueUSD, 1e-6)
}

func TestBuildSeriesInvestedMatchesLedgerAtEachPoint(t *testing.T) {
	txs := append(btcLedger(), sell("3", "BTC", 1, 45000, time.Date(2024, 1, 13, 8, 0, 0, 0, time.UTC)))
	series := BuildSeries(txs, resolver, History{}, liveBTC(40000), seriesNow)

	for _, p := range series.Points {
		holdings, _ := AggregateUntil(txs, resolver, p.Timestamp)
		invested := 0.0
		for _, h := range holdings {
			invested += h.TotalInvested
		}
		assert.InDelta(t, invested, p.InvestedUSD, 1e-6, "punto %s", p.Timestamp)
	}
}

func TestBuildSeriesBlendsDailyAndIntraday(t *testing.T) {
	history := History{
		Daily: map[string]map[string]float64{
			"bitcoin": {"2024-01-11": 48000, "2024-01-12": 31000, "2024-01-13": 39000},
		},
		Intraday: map[string][]models.PricePoint{
			"bitcoin": {
				{Timestamp: seriesNow.Add(-30 * time.Hour), Price: 1},
				{Timestamp: seriesNow.Add(-23 * time.Hour), Price: 38000},
				{Timestamp: seriesNow.Add(-12 * time.Hour), Price: 39500},
				{Timestamp: seriesNow.Add(-1 * time.Hour), Price: 40500},
			},
		},
	}

	series := BuildSeries(btcLedger(), resolver, history, liveBTC(41000), seriesNow)
	assert.False(t, series.Degraded)
	assert.Empty(t, series.Anomalies)

	require.Len(t, series.Points, 6)
	for i := 1; i < len(series.Points); i++ {
		assert.True(t, series.Points[i-1].Timestamp.Before(series.Points[i].Timestamp))
	}

	expect := []struct {
		at          time.Time
		granularity models.Granularity
		value       float64
	}{
		{time.Date(2024, 1, 11, 23, 59, 59, 0, time.UTC), models.GranularityDaily, 48000},
		{seriesNow.Add(-23 * time.Hour), models.GranularityIntraday, 2 * 38000},
		{time.Date(2024, 1, 12, 23, 59, 59, 0, time.UTC), models.GranularityDaily, 2 * 31000},
		{seriesNow.Add(-12 * time.Hour), models.GranularityIntraday, 2 * 39500},
		{seriesNow.Add(-1 * time.Hour), models.GranularityIntraday, 2 * 40500},
		{seriesNow, models.GranularityLive, 2 * 41000},
	}
	for i, e := range expect {
		p := series.Points[i]
		assert.Equal(t, e.at, p.Timestamp, "punto %d", i)
		assert.Equal(t, e.granularity, p.Granularity, "punto %d", i)
		assert.InDelta(t, e.value, p.ValueUSD, 1e-6, "punto %d", i)
	}
}

func TestBuildSeriesMissingDailyCloseFallsBackToLive(t *testing.T) {
	history := History{Daily: map[string]map[string]float64{
		"bitcoin": {"2024-01-12": 31000},
	}}

	series := BuildSeries(btcLedger(), resolver, history, liveBTC(40000), seriesNow)
	assert.False(t, series.Degraded)
	assert.InDelta(t, 40000.0, series.Points[0].ValueUSD, 1e-9)
	assert.InDelta(t, 62000.0, series.Points[1].ValueUSD, 1e-9)

	require.Len(t, series.Anomalies, 1)
	assert.Equal(t, models.AnomalyMissingPrice, series.Anomalies[0].Kind)
	assert.Equal(t, "bitcoin", series.Anomalies[0].Symbol)
}

func TestBuildSeriesWithoutLivePriceUsesTransactionPrice(t *testing.T) {
	series := BuildSeries(btcLedger(), resolver, History{}, models.PriceQuoteMap{}, seriesNow)

	last := series.Points[len(series.Points)-1]
	assert.InDelta(t, 2*30000.0, last.ValueUSD, 1e-9)
}

func TestIntradayReferenceFeedHasMostSamples(t *testing.T) {
	history := History{Intraday: map[string][]models.PricePoint{
		"bitcoin": {
			{Timestamp: seriesNow.Add(-2 * time.Hour), Price: 1},
			{Timestamp: seriesNow.Add(-1 * time.Hour), Price: 1},
		},
		"ethereum": {
			{Timestamp: seriesNow.Add(-3 * time.Hour), Price: 1},
			{Timestamp: seriesNow.Add(-2 * time.Hour), Price: 1},
			{Timestamp: seriesNow.Add(-1 * time.Hour), Price: 1},
		},
		"cardano": {
			{Timestamp: seriesNow.Add(-48 * time.Hour), Price: 1},
			{Timestamp: seriesNow.Add(-47 * time.Hour), Price: 1},
			{Timestamp: seriesNow.Add(-46 * time.Hour), Price: 1},
			{Timestamp: seriesNow.Add(-45 * time.Hour), Price: 1},
		},
	}}

	samples := intradaySamples(history, seriesNow)
	require.Len(t, samples, 3)
	assert.Equal(t, seriesNow.Add(-3*time.Hour), samples[0].at)

	// Empate: gana el id menor
	history.Intraday["aave"] = history.Intraday["ethereum"][:2]
	history.Intraday["bitcoin"] = append(history.Intraday["bitcoin"], models.PricePoint{Timestamp: seriesNow.Add(-30 * time.Minute), Price: 1})
	samples = intradaySamples(history, seriesNow)
	require.Len(t, samples, 3)
	assert.Equal(t, seriesNow.Add(-2*time.Hour), samples[0].at)
}

func TestNearestPrice(t *testing.T) {
	history := History{Intraday: map[string][]models.PricePoint{
		"bitcoin": {
			{Timestamp: seriesNow, Price: 1},
			{Timestamp: seriesNow.Add(10 * time.Minute), Price: 2},
		},
	}}

	cases := []struct {
		at   time.Time
		want float64
	}{
		{seriesNow.Add(-time.Hour), 1},
		{seriesNow.Add(4 * time.Minute), 1},
		{seriesNow.Add(5 * time.Minute), 1},
		{seriesNow.Add(6 * time.Minute), 2},
		{seriesNow.Add(time.Hour), 2},
	}
	for _, c := range cases {
		got, ok := history.nearest("bitcoin", c.at)
		require.True(t, ok)
		assert.InDelta(t, c.want, got, 1e-9, "en %s", c.at)
	}

	_, ok := history.nearest("ethereum", seriesNow)
	assert.False(t, ok)
}

type fakeFeeds struct {
	daily      map[string]map[string]float64
	intraday   map[string][]models.PricePoint
	failDaily  map[string]bool
	dailyCalls atomic.Int32
	intraCalls atomic.Int32
	lastFrom   atomic.Value
}

func (f *fakeFeeds) DailyPrices(ctx context.Context, id string, from, to time.Time, currency string) (map[string]float64, error) {
	f.dailyCalls.Add(1)
	f.lastFrom.Store(from)
	if f.failDaily[id] {
		return nil, errors.New("status 429")
	}
	return f.daily[id], nil
}

func (f *fakeFeeds) IntradayPrices(ctx context.Context, id string, from, to time.Time, currency string) ([]models.PricePoint, error) {
	f.intraCalls.Add(1)
	return f.intraday[id], nil
}

func TestReconstructResolvesHistoryThenBuilds(t *testing.T) {
	feeds := &fakeFeeds{
		daily: map[string]map[string]float64{
			"bitcoin": {"2024-01-11": 48000, "2024-01-12": 31000, "2024-01-13": 39000},
		},
		failDaily: map[string]bool{"ethereum": true},
	}
	r := NewReconstructor(resolver, feeds,
		WithIntradayFeed(feeds),
		WithReconstructorClock(func() time.Time { return seriesNow }),
	)

	txs := append(btcLedger(), buy("3", "ETH", 1, 2500, time.Date(2024, 1, 12, 11, 0, 0, 0, time.UTC)))
	series, history, err := r.Reconstruct(context.Background(), txs, models.PriceQuoteMap{
		"bitcoin":  {USD: 40000},
		"ethereum": {USD: 2000},
	})
	require.NoError(t, err)

	assert.Equal(t, models.PhaseRefined, series.Phase)
	assert.False(t, series.Degraded)
	assert.Equal(t, int32(2), feeds.dailyCalls.Load())
	assert.Equal(t, int32(2), feeds.intraCalls.Load())
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), feeds.lastFrom.Load())
	assert.Contains(t, history.Daily, "bitcoin")
	assert.NotContains(t, history.Daily, "ethereum")

	// ETH sin cierres diarios se valúa con el precio actual
	assert.InDelta(t, 2*31000.0+2000, series.Points[1].ValueUSD, 1e-6)
}

func TestReconstructAllFeedsFailingIsDegraded(t *testing.T) {
	feeds := &fakeFeeds{failDaily: map[string]bool{"bitcoin": true}}
	r := NewReconstructor(resolver, feeds, WithReconstructorClock(func() time.Time { return seriesNow }))

	series, _, err := r.Reconstruct(context.Background(), btcLedger(), liveBTC(40000))
	require.NoError(t, err)
	assert.True(t, series.Degraded)
	assert.Len(t, series.Points, 3)
	assert.Zero(t, feeds.intraCalls.Load())
}

func TestReconstructCancelled(t *testing.T) {
	r := NewReconstructor(resolver, &fakeFeeds{}, WithReconstructorClock(func() time.Time { return seriesNow }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveHistory(ctx, btcLedger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDraftIsNotDegraded(t *testing.T) {
	r := NewReconstructor(resolver, nil, WithReconstructorClock(func() time.Time { return seriesNow }))

	draft := r.Draft(btcLedger(), liveBTC(40000))
	assert.Equal(t, models.PhaseDraft, draft.Phase)
	assert.False(t, draft.Degraded)
	assert.InDelta(t, 80000.0, draft.Points[len(draft.Points)-1].ValueUSD, 1e-9)
}

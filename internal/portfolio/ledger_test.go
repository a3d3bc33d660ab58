package portfolio

import (
	"testing"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	resolver = services.NewSymbolResolver(nil)
	day0     = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
)

func buy(id, symbol string, amount, price float64, at time.Time) models.Transaction {
	return models.Transaction{ID: id, Symbol: symbol, Type: models.TransactionTypeBuy, Amount: amount, PriceUSD: price, TotalUSD: amount * price, Date: at, CreatedAt: at}
}

func sell(id, symbol string, amount, price float64, at time.Time) models.Transaction {
	return models.Transaction{ID: id, Symbol: symbol, Type: models.TransactionTypeSell, Amount: amount, PriceUSD: price, TotalUSD: amount * price, Date: at, CreatedAt: at}
}

func TestAggregateBuysAverageCost(t *testing.T) {
	holdings, anomalies := Aggregate([]models.Transaction{
		buy("1", "BTC", 1, 50000, day0),
		buy("2", "btc", 1, 30000, day0.AddDate(0, 0, 1)),
		buy("3", "ETH", 2, 1500, day0),
	}, resolver)

	require.Empty(t, anomalies)
	require.Len(t, holdings, 2)

	btc := holdings[0]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, "bitcoin", btc.FeedID)
	assert.InDelta(t, 2.0, btc.TotalAmount, 1e-12)
	assert.InDelta(t, 80000.0, btc.TotalInvested, 1e-9)
	assert.InDelta(t, 40000.0, btc.AverageBuyPrice, 1e-9)

	eth := holdings[1]
	assert.Equal(t, "ETH", eth.Symbol)
	assert.InDelta(t, 3000.0, eth.TotalInvested, 1e-9)
}

func TestAggregateSellReducesInvestedProportionally(t *testing.T) {
	holdings, anomalies := Aggregate([]models.Transaction{
		buy("1", "BTC", 2, 100, day0),
		sell("2", "BTC", 1, 500, day0.Add(time.Hour)),
	}, resolver)

	require.Empty(t, anomalies)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 1.0, holdings[0].TotalAmount, 1e-12)
	assert.InDelta(t, 100.0, holdings[0].TotalInvested, 1e-9)
	assert.InDelta(t, 100.0, holdings[0].AverageBuyPrice, 1e-9)
}

func TestAggregateFullLiquidationDropsHolding(t *testing.T) {
	holdings, anomalies := Aggregate([]models.Transaction{
		buy("1", "ETH", 3, 1000, day0),
		sell("2", "ETH", 1, 1200, day0.Add(time.Hour)),
		sell("3", "ETH", 2, 1300, day0.Add(2*time.Hour)),
	}, resolver)

	assert.Empty(t, anomalies)
	assert.Empty(t, holdings)
}

func TestAggregateSortsByDateRegardlessOfInputOrder(t *testing.T) {
	// La venta llega primero en el input pero ocurrió después de la compra
	holdings, anomalies := Aggregate([]models.Transaction{
		sell("2", "BTC", 1, 500, day0.Add(time.Hour)),
		buy("1", "BTC", 2, 100, day0),
	}, resolver)

	require.Empty(t, anomalies)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 100.0, holdings[0].TotalInvested, 1e-9)
}

func TestAggregateTiesKeepInsertionOrder(t *testing.T) {
	a := buy("1", "BTC", 1, 100, day0)
	b := sell("2", "BTC", 1, 100, day0)
	c := buy("3", "BTC", 1, 300, day0)

	holdings, anomalies := Aggregate([]models.Transaction{a, b, c}, resolver)
	require.Empty(t, anomalies)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 300.0, holdings[0].TotalInvested, 1e-9)

	// Con el orden inverso la venta deja 1 BTC de los 2 comprados
	holdings, _ = Aggregate([]models.Transaction{c, a, b}, resolver)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 1.0, holdings[0].TotalAmount, 1e-12)
	assert.InDelta(t, 200.0, holdings[0].TotalInvested, 1e-9)
}

func TestAggregateOversellIsFlaggedAndClamped(t *testing.T) {
	holdings, anomalies := Aggregate([]models.Transaction{
		buy("1", "SOL", 1, 20, day0),
		sell("2", "SOL", 3, 25, day0.Add(time.Hour)),
		sell("3", "DOGE", 10, 0.1, day0.Add(time.Hour)),
		buy("4", "SOL", 2, 30, day0.Add(2*time.Hour)),
	}, resolver)

	require.Len(t, anomalies, 2)
	assert.Equal(t, models.AnomalyOversell, anomalies[0].Kind)
	assert.Equal(t, "SOL", anomalies[0].Symbol)
	assert.Equal(t, "2", anomalies[0].TransactionID)
	assert.Equal(t, "DOGE", anomalies[1].Symbol)

	require.Len(t, holdings, 1)
	assert.Equal(t, "SOL", holdings[0].Symbol)
	assert.InDelta(t, 2.0, holdings[0].TotalAmount, 1e-12)
	assert.InDelta(t, 60.0, holdings[0].TotalInvested, 1e-9)
}

func TestAggregateDerivesMissingTotal(t *testing.T) {
	tx := buy("1", "ADA", 100, 0.5, day0)
	tx.TotalUSD = 0

	holdings, _ := Aggregate([]models.Transaction{tx}, resolver)
	require.Len(t, holdings, 1)
	assert.Equal(t, "cardano", holdings[0].FeedID)
	assert.InDelta(t, 50.0, holdings[0].TotalInvested, 1e-9)
}

func TestAggregateUntil(t *testing.T) {
	txs := []models.Transaction{
		buy("1", "BTC", 1, 100, day0),
		buy("2", "BTC", 1, 300, day0.AddDate(0, 0, 2)),
	}

	holdings, _ := AggregateUntil(txs, resolver, day0.AddDate(0, 0, 1))
	require.Len(t, holdings, 1)
	assert.InDelta(t, 100.0, holdings[0].TotalInvested, 1e-9)

	holdings, _ = AggregateUntil(txs, resolver, day0.Add(-time.Hour))
	assert.Empty(t, holdings)
}

func TestLedgerInvestedMatchesHoldings(t *testing.T) {
	ledger := NewLedger(resolver)
	for _, tx := range []models.Transaction{
		buy("1", "BTC", 0.3, 30000, day0),
		buy("2", "ETH", 1.7, 1800, day0),
		sell("3", "BTC", 0.1, 35000, day0.Add(time.Hour)),
	} {
		assert.Nil(t, ledger.Apply(tx))
	}

	sum := 0.0
	for _, h := range ledger.Holdings() {
		sum += h.TotalInvested
		assert.InDelta(t, h.TotalAmount*h.AverageBuyPrice, h.TotalInvested, 1e-6)
	}
	assert.InDelta(t, sum, ledger.Invested(), 1e-9)
	assert.InDelta(t, 0.2, ledger.Amounts()["bitcoin"], 1e-12)
}

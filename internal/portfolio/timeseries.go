package portfolio

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	dayFormat      = "2006-01-02"
	intradayWindow = 24 * time.Hour
	// Consultas simultáneas al proveedor al reconstruir la historia
	historyFetchLimit = 4
)

// HistoricalFeed devuelve el cierre diario de un activo indexado por "2006-01-02"
type HistoricalFeed interface {
	DailyPrices(ctx context.Context, id string, from, to time.Time, currency string) (map[string]float64, error)
}

// IntradayFeed devuelve puntos de precio ordenados por tiempo
type IntradayFeed interface {
	IntradayPrices(ctx context.Context, id string, from, to time.Time, currency string) ([]models.PricePoint, error)
}

// History son los datos históricos ya resueltos para un conjunto de activos
type History struct {
	Daily    map[string]map[string]float64
	Intraday map[string][]models.PricePoint
}

func (h History) hasDaily() bool {
	for _, days := range h.Daily {
		if len(days) > 0 {
			return true
		}
	}
	return false
}

func (h History) close(feedID string, t time.Time) (float64, bool) {
	p, ok := h.Daily[feedID][t.UTC().Format(dayFormat)]
	return p, ok && p > 0
}

// nearest busca el precio intradiario más cercano a t
func (h History) nearest(feedID string, t time.Time) (float64, bool) {
	points := h.Intraday[feedID]
	if len(points) == 0 {
		return 0, false
	}
	i := sort.Search(len(points), func(i int) bool { return !points[i].Timestamp.Before(t) })
	switch {
	case i == 0:
		return points[0].Price, true
	case i == len(points):
		return points[len(points)-1].Price, true
	}
	before, after := points[i-1], points[i]
	if t.Sub(before.Timestamp) <= after.Timestamp.Sub(t) {
		return before.Price, true
	}
	return after.Price, true
}

func (h History) latestIntraday(feedID string) (float64, bool) {
	points := h.Intraday[feedID]
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Price, true
}

type sample struct {
	at          time.Time
	granularity models.Granularity
}

func granularityRank(g models.Granularity) int {
	switch g {
	case models.GranularityDaily:
		return 0
	case models.GranularityIntraday:
		return 1
	default:
		return 2
	}
}

// BuildSeries reconstruye la serie invertido/valor a partir del ledger y de datos ya resueltos.
// Es una función pura: no hace red ni lee el reloj.
func BuildSeries(txs []models.Transaction, resolver Resolver, history History, live models.PriceQuoteMap, now time.Time) models.PortfolioSeries {
	now = now.UTC()
	if len(txs) == 0 {
		return models.PortfolioSeries{
			Points:  []models.SeriesPoint{{Timestamp: now, Granularity: models.GranularityLive}},
			BuiltAt: now,
		}
	}

	sorted := SortTransactions(txs)
	degraded := !history.hasDaily()

	// Último precio unitario conocido por activo, último recurso de valuación
	txPrice := make(map[string]float64)
	for _, tx := range sorted {
		unit := tx.PriceUSD
		if unit <= 0 && tx.Amount > 0 {
			unit = tx.Total() / tx.Amount
		}
		if unit > 0 {
			txPrice[resolver.Resolve(tx.Symbol)] = unit
		}
	}

	samples := dailySamples(sorted[0].Date.UTC(), now)
	samples = append(samples, intradaySamples(history, now)...)
	samples = append(samples, sample{at: now, granularity: models.GranularityLive})
	sort.SliceStable(samples, func(i, j int) bool {
		if !samples[i].at.Equal(samples[j].at) {
			return samples[i].at.Before(samples[j].at)
		}
		return granularityRank(samples[i].granularity) < granularityRank(samples[j].granularity)
	})

	missing := make(map[string]int)
	price := func(feedID string, s sample) float64 {
		var candidates []func() (float64, bool)
		switch s.granularity {
		case models.GranularityDaily:
			candidates = append(candidates, func() (float64, bool) { return history.close(feedID, s.at) })
		case models.GranularityIntraday:
			candidates = append(candidates,
				func() (float64, bool) { return history.nearest(feedID, s.at) },
				func() (float64, bool) { return history.close(feedID, s.at) },
			)
		case models.GranularityLive:
			candidates = append(candidates,
				func() (float64, bool) { return live.Price(feedID) },
				func() (float64, bool) { return history.latestIntraday(feedID) },
				func() (float64, bool) { return history.close(feedID, s.at) },
			)
		}
		for _, c := range candidates {
			if p, ok := c(); ok {
				return p
			}
		}
		if s.granularity == models.GranularityDaily && !degraded {
			missing[feedID]++
		}
		if p, ok := live.Price(feedID); ok {
			return p
		}
		return txPrice[feedID]
	}

	ledger := NewLedger(resolver)
	var anomalies []models.DataAnomaly
	next := 0
	points := make([]models.SeriesPoint, 0, len(samples))
	for _, s := range samples {
		for next < len(sorted) && (s.granularity == models.GranularityLive || !sorted[next].Date.After(s.at)) {
			if a := ledger.Apply(sorted[next]); a != nil {
				anomalies = append(anomalies, *a)
			}
			next++
		}

		value := 0.0
		for feedID, amount := range ledger.Amounts() {
			value += amount * price(feedID, s)
		}
		point := models.SeriesPoint{
			Timestamp:   s.at,
			InvestedUSD: ledger.Invested(),
			ValueUSD:    value,
			Granularity: s.granularity,
		}

		// Mismo instante: se queda el punto de mayor resolución
		if n := len(points); n > 0 && points[n-1].Timestamp.Equal(point.Timestamp) {
			points[n-1] = point
			continue
		}
		points = append(points, point)
	}

	feedIDs := make([]string, 0, len(missing))
	for feedID := range missing {
		feedIDs = append(feedIDs, feedID)
	}
	sort.Strings(feedIDs)
	for _, feedID := range feedIDs {
		anomalies = append(anomalies, models.DataAnomaly{
			Kind:   models.AnomalyMissingPrice,
			Symbol: feedID,
			Date:   now,
			Detail: fmt.Sprintf("%d días sin cierre histórico, valuados con precio de respaldo", missing[feedID]),
		})
	}

	return models.PortfolioSeries{
		Points:    points,
		Degraded:  degraded,
		Anomalies: anomalies,
		BuiltAt:   now,
	}
}

// dailySamples genera un punto por día UTC, al cierre del día y nunca después de now
func dailySamples(first, now time.Time) []sample {
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	var samples []sample
	for day := start; !day.After(now); day = day.AddDate(0, 0, 1) {
		at := day.Add(24*time.Hour - time.Second)
		if at.After(now) {
			at = now
		}
		samples = append(samples, sample{at: at, granularity: models.GranularityDaily})
	}
	return samples
}

// intradaySamples usa como línea de tiempo los puntos del activo con más datos en las últimas 24 horas
func intradaySamples(history History, now time.Time) []sample {
	windowStart := now.Add(-intradayWindow)

	var refID string
	var ref []models.PricePoint
	for feedID, points := range history.Intraday {
		var inWindow []models.PricePoint
		for _, p := range points {
			if p.Timestamp.After(windowStart) && !p.Timestamp.After(now) {
				inWindow = append(inWindow, p)
			}
		}
		if len(inWindow) > len(ref) || (len(inWindow) == len(ref) && len(inWindow) > 0 && feedID < refID) {
			refID, ref = feedID, inWindow
		}
	}

	samples := make([]sample, 0, len(ref))
	for _, p := range ref {
		samples = append(samples, sample{at: p.Timestamp.UTC(), granularity: models.GranularityIntraday})
	}
	return samples
}

// Reconstructor obtiene los datos históricos necesarios y arma la serie del portafolio
type Reconstructor struct {
	resolver Resolver
	daily    HistoricalFeed
	intraday IntradayFeed
	currency string
	now      func() time.Time
}

type ReconstructorOption func(*Reconstructor)

func WithReconstructorClock(now func() time.Time) ReconstructorOption {
	return func(r *Reconstructor) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIntradayFeed habilita la sub-serie de las últimas 24 horas
func WithIntradayFeed(feed IntradayFeed) ReconstructorOption {
	return func(r *Reconstructor) {
		r.intraday = feed
	}
}

func NewReconstructor(resolver Resolver, daily HistoricalFeed, opts ...ReconstructorOption) *Reconstructor {
	r := &Reconstructor{
		resolver: resolver,
		daily:    daily,
		currency: "usd",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Draft arma una serie aproximada sólo con precios actuales, sin red
func (r *Reconstructor) Draft(txs []models.Transaction, live models.PriceQuoteMap) models.PortfolioSeries {
	series := BuildSeries(txs, r.resolver, History{}, live, r.now())
	series.Phase = models.PhaseDraft
	series.Degraded = false
	return series
}

// Rebuild recalcula la serie con datos históricos ya resueltos y precios actuales nuevos
func (r *Reconstructor) Rebuild(txs []models.Transaction, history History, live models.PriceQuoteMap) models.PortfolioSeries {
	series := BuildSeries(txs, r.resolver, history, live, r.now())
	series.Phase = models.PhaseRefined
	return series
}

// Reconstruct resuelve todos los datos históricos y luego arma la serie definitiva.
// Las fallas del proveedor no se propagan: sin historia la serie sale marcada como degradada.
// Sólo devuelve error si ctx se cancela.
func (r *Reconstructor) Reconstruct(ctx context.Context, txs []models.Transaction, live models.PriceQuoteMap) (models.PortfolioSeries, History, error) {
	history, err := r.ResolveHistory(ctx, txs)
	if err != nil {
		return models.PortfolioSeries{}, History{}, err
	}
	series := r.Rebuild(txs, history, live)
	if series.Degraded {
		log.Printf("Serie del portafolio sin datos históricos, valuada con precios actuales")
	}
	return series, history, nil
}

// ResolveHistory consulta en paralelo los cierres diarios y los precios intradiarios de cada activo
func (r *Reconstructor) ResolveHistory(ctx context.Context, txs []models.Transaction) (History, error) {
	history := History{
		Daily:    make(map[string]map[string]float64),
		Intraday: make(map[string][]models.PricePoint),
	}
	if len(txs) == 0 {
		return history, nil
	}

	sorted := SortTransactions(txs)
	now := r.now().UTC()
	first := sorted[0].Date.UTC()
	from := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)

	symbols := make([]string, 0, len(sorted))
	for _, tx := range sorted {
		symbols = append(symbols, tx.Symbol)
	}
	feedIDs := uniqueFeedIDs(r.resolver, symbols)

	type result struct {
		feedID   string
		daily    map[string]float64
		intraday []models.PricePoint
	}
	results := make([]result, len(feedIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyFetchLimit)
	for i, feedID := range feedIDs {
		g.Go(func() error {
			results[i].feedID = feedID
			if r.daily != nil {
				daily, err := r.daily.DailyPrices(gctx, feedID, from, now, r.currency)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Printf("Error al obtener precios diarios de %s: %v", feedID, err)
				} else {
					results[i].daily = daily
				}
			}
			if r.intraday != nil {
				points, err := r.intraday.IntradayPrices(gctx, feedID, now.Add(-intradayWindow), now, r.currency)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Printf("Error al obtener precios intradiarios de %s: %v", feedID, err)
				} else {
					results[i].intraday = points
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return History{}, err
	}
	if err := ctx.Err(); err != nil {
		return History{}, err
	}

	for _, res := range results {
		if len(res.daily) > 0 {
			history.Daily[res.feedID] = res.daily
		}
		if len(res.intraday) > 0 {
			history.Intraday[res.feedID] = res.intraday
		}
	}
	return history, nil
}

func uniqueFeedIDs(resolver Resolver, symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id := resolver.Resolve(s)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

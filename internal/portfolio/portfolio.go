package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
)

// ErrReload indica que la escritura se guardó pero el portafolio no pudo recargarse
var ErrReload = errors.New("no se pudo recargar el portafolio")

// TransactionStore persiste el ledger del usuario
type TransactionStore interface {
	List(ctx context.Context, userID, portfolioID string) ([]models.Transaction, error)
	Insert(ctx context.Context, tx *models.Transaction) error
	Delete(ctx context.Context, userID, id string) error
}

// PriceSource es el caché de precios compartido del proceso
type PriceSource interface {
	GetPrices(ctx context.Context, feedIDs, currencies []string, forceRefresh bool) (*services.PriceSnapshot, error)
	Subscribe(listener services.PriceListener) (unsubscribe func())
	Clear()
}

// SeriesReconstructor arma la serie histórica en dos fases: borrador y definitiva
type SeriesReconstructor interface {
	Draft(txs []models.Transaction, live models.PriceQuoteMap) models.PortfolioSeries
	Rebuild(txs []models.Transaction, history History, live models.PriceQuoteMap) models.PortfolioSeries
	ResolveHistory(ctx context.Context, txs []models.Transaction) (History, error)
}

// Status resume el estado de carga del portafolio
type Status struct {
	Loading      bool               `json:"loading"`
	LastLoadedAt time.Time          `json:"last_loaded_at"`
	PricesAt     time.Time          `json:"prices_at"`
	PricesStale  bool               `json:"prices_stale"`
	PriceError   string             `json:"price_error,omitempty"`
	SeriesPhase  models.SeriesPhase `json:"series_phase"`
}

// Portfolio es la vista de un portafolio de un usuario: posiciones, serie y totales
type Portfolio struct {
	userID      string
	portfolioID string
	store       TransactionStore
	prices      PriceSource
	series      SeriesReconstructor
	resolver    Resolver
	currencies  []string

	mu           sync.RWMutex
	txs          []models.Transaction
	holdings     []models.Holding
	anomalies    []models.DataAnomaly
	feedIDs      map[string]struct{}
	quotes       models.PriceQuoteMap
	pricesAt     time.Time
	pricesStale  bool
	priceErr     error
	history      History
	hasHistory   bool
	current      models.PortfolioSeries
	valuations   []models.HoldingValuation
	totals       models.Totals
	lastLoadedAt time.Time
	generation   uint64

	loading     atomic.Int32
	unsubscribe func()
}

// Deps agrupa las dependencias compartidas de todos los portafolios
type Deps struct {
	Store      TransactionStore
	Prices     PriceSource
	Series     SeriesReconstructor
	Resolver   Resolver
	Currencies []string
}

// New crea el portafolio y lo suscribe a las actualizaciones de precios
func New(userID, portfolioID string, deps Deps) *Portfolio {
	if portfolioID == "" {
		portfolioID = models.DefaultPortfolioID
	}
	p := &Portfolio{
		userID:      userID,
		portfolioID: portfolioID,
		store:       deps.Store,
		prices:      deps.Prices,
		series:      deps.Series,
		resolver:    deps.Resolver,
		currencies:  deps.Currencies,
		feedIDs:     make(map[string]struct{}),
		quotes:      models.PriceQuoteMap{},
	}
	p.current = p.series.Draft(nil, p.quotes)
	p.unsubscribe = p.prices.Subscribe(p.onPrices)
	return p
}

// Load carga el ledger, valúa las posiciones y reconstruye la serie
func (p *Portfolio) Load(ctx context.Context) error {
	p.loading.Add(1)
	defer p.loading.Add(-1)
	return p.load(ctx, false)
}

// Refresh recarga en segundo plano. El canal recibe el resultado y se cierra.
func (p *Portfolio) Refresh(ctx context.Context, force bool) <-chan error {
	done := make(chan error, 1)
	p.loading.Add(1)
	go func() {
		defer close(done)
		defer p.loading.Add(-1)
		done <- p.load(ctx, force)
	}()
	return done
}

// IsLoading indica si hay una carga en curso
func (p *Portfolio) IsLoading() bool {
	return p.loading.Load() > 0
}

func (p *Portfolio) load(ctx context.Context, force bool) error {
	// La generación se toma al empezar: una carga que empezó antes nunca pisa a una más nueva
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	txs, err := p.store.List(ctx, p.userID, p.portfolioID)
	if err != nil {
		log.Printf("Error al obtener transacciones del usuario %s: %v", p.userID, err)
		return err
	}

	holdings, anomalies := Aggregate(txs, p.resolver)
	feedIDs := make(map[string]struct{}, len(holdings))
	ids := make([]string, 0, len(holdings))
	for _, h := range holdings {
		if _, ok := feedIDs[h.FeedID]; ok {
			continue
		}
		feedIDs[h.FeedID] = struct{}{}
		ids = append(ids, h.FeedID)
	}

	// El listener de precios lee feedIDs, se publican antes de consultar
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return nil
	}
	p.feedIDs = feedIDs
	p.mu.Unlock()

	var (
		quotes   = models.PriceQuoteMap{}
		pricesAt time.Time
		stale    bool
		priceErr error
	)
	if len(ids) > 0 {
		snap, err := p.prices.GetPrices(ctx, ids, p.currencies, force)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Printf("Error al obtener precios del portafolio de %s, se usa el precio promedio: %v", p.userID, err)
			priceErr = err
		default:
			quotes = snap.Quotes.Clone()
			pricesAt = snap.FetchedAt
			stale = snap.Stale
			priceErr = snap.Err
		}
	}

	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return nil
	}
	p.feedIDs = feedIDs
	p.txs = txs
	p.holdings = holdings
	p.anomalies = anomalies
	p.quotes = quotes
	p.pricesAt = pricesAt
	p.pricesStale = stale
	p.priceErr = priceErr
	p.hasHistory = false
	p.history = History{}
	p.revalueLocked()
	p.current = p.series.Draft(txs, quotes)
	p.lastLoadedAt = time.Now()
	p.mu.Unlock()

	history, err := p.series.ResolveHistory(ctx, txs)
	if err != nil {
		log.Printf("Reconstrucción de la serie cancelada para %s: %v", p.userID, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen {
		// Una carga más nueva ya publicó su estado
		return nil
	}
	p.history = history
	p.hasHistory = true
	// Se usan los precios más recientes: pueden haber cambiado mientras se resolvía la historia
	p.current = p.series.Rebuild(p.txs, history, p.quotes)
	if p.current.Degraded {
		log.Printf("Serie del portafolio de %s sin datos históricos, valuada con precios actuales", p.userID)
	}
	return nil
}

// onPrices revalúa con las cotizaciones emitidas por el caché si tocan algún activo del portafolio
func (p *Portfolio) onPrices(quotes models.PriceQuoteMap, feedIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := false
	for _, id := range feedIDs {
		if _, ok := p.feedIDs[id]; ok {
			touched = true
			break
		}
	}
	if !touched {
		return
	}

	merged := p.quotes.Clone()
	for id, q := range quotes {
		if _, ok := p.feedIDs[id]; ok {
			merged[id] = q
		}
	}
	p.quotes = merged
	p.pricesAt = time.Now()
	p.pricesStale = false
	p.priceErr = nil
	p.revalueLocked()

	if p.hasHistory {
		p.current = p.series.Rebuild(p.txs, p.history, p.quotes)
	} else {
		p.current = p.series.Draft(p.txs, p.quotes)
	}
}

// revalueLocked recalcula valuaciones y totales. Requiere p.mu tomado.
func (p *Portfolio) revalueLocked() {
	valuations := make([]models.HoldingValuation, 0, len(p.holdings))
	totals := models.Totals{Stale: p.pricesStale, UpdatedAt: p.pricesAt}

	for _, h := range p.holdings {
		v := models.HoldingValuation{Holding: h}
		if quote, ok := p.quotes[h.FeedID]; ok && quote.USD > 0 {
			v.CurrentPrice = quote.USD
			v.Change24hPercent = quote.Change24hPercent
		} else {
			v.CurrentPrice = h.AverageBuyPrice
			v.PriceFromFallback = true
		}
		v.CurrentValue = h.TotalAmount * v.CurrentPrice
		v.ProfitLoss = v.CurrentValue - h.TotalInvested
		if h.TotalInvested > 0 {
			v.ProfitLossPercent = v.ProfitLoss / h.TotalInvested * 100
		}
		valuations = append(valuations, v)

		totals.TotalInvested += h.TotalInvested
		totals.CurrentValue += v.CurrentValue
	}

	totals.ProfitLoss = totals.CurrentValue - totals.TotalInvested
	if totals.TotalInvested > 0 {
		totals.ProfitLossPercent = totals.ProfitLoss / totals.TotalInvested * 100
	}

	p.valuations = valuations
	p.totals = totals
}

func (p *Portfolio) Holdings() []models.HoldingValuation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.HoldingValuation, len(p.valuations))
	copy(out, p.valuations)
	return out
}

func (p *Portfolio) Series() models.PortfolioSeries {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.current
	s.Points = append([]models.SeriesPoint(nil), p.current.Points...)
	return s
}

func (p *Portfolio) Totals() models.Totals {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totals
}

// Anomalies devuelve las inconsistencias detectadas en el ledger
func (p *Portfolio) Anomalies() []models.DataAnomaly {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.DataAnomaly(nil), p.anomalies...)
}

func (p *Portfolio) Transactions() []models.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return SortTransactions(p.txs)
}

// FeedIDs devuelve los ids de las posiciones abiertas
func (p *Portfolio) FeedIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.feedIDs))
	for id := range p.feedIDs {
		ids = append(ids, id)
	}
	return ids
}

func (p *Portfolio) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		Loading:      p.IsLoading(),
		LastLoadedAt: p.lastLoadedAt,
		PricesAt:     p.pricesAt,
		PricesStale:  p.pricesStale,
		SeriesPhase:  p.current.Phase,
	}
	if p.priceErr != nil {
		st.PriceError = p.priceErr.Error()
	}
	return st
}

// AddTransaction registra una transacción y recarga el portafolio
func (p *Portfolio) AddTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	tx.UserID = p.userID
	tx.PortfolioID = p.portfolioID
	tx.Normalize()
	if err := tx.Validate(); err != nil {
		return models.Transaction{}, err
	}
	if err := p.store.Insert(ctx, &tx); err != nil {
		log.Printf("Error al guardar transacción de %s: %v", p.userID, err)
		return models.Transaction{}, err
	}
	if err := p.Load(ctx); err != nil {
		return tx, fmt.Errorf("%w: %w", ErrReload, err)
	}
	return tx, nil
}

// DeleteTransaction elimina una transacción y recarga el portafolio
func (p *Portfolio) DeleteTransaction(ctx context.Context, id string) error {
	if err := p.store.Delete(ctx, p.userID, id); err != nil {
		return err
	}
	if err := p.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	return nil
}

// SubscribePrices registra un listener en el caché compartido
func (p *Portfolio) SubscribePrices(listener services.PriceListener) (unsubscribe func()) {
	return p.prices.Subscribe(listener)
}

// ClearCache vacía el caché de precios compartido
func (p *Portfolio) ClearCache() {
	p.prices.Clear()
}

// Close da de baja la suscripción a precios
func (p *Portfolio) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

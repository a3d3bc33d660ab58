package portfolio

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/shopspring/decimal"
)

// Resolver traduce un ticker al id del proveedor de precios
type Resolver interface {
	Resolve(symbol string) string
}

type position struct {
	symbol   string
	feedID   string
	amount   decimal.Decimal
	invested decimal.Decimal
}

// Ledger acumula transacciones por símbolo con costo promedio y reducción proporcional en ventas
type Ledger struct {
	resolver  Resolver
	positions map[string]*position
}

func NewLedger(resolver Resolver) *Ledger {
	return &Ledger{
		resolver:  resolver,
		positions: make(map[string]*position),
	}
}

// SortTransactions devuelve una copia ordenada por fecha; los empates conservan el orden de registro
func SortTransactions(txs []models.Transaction) []models.Transaction {
	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

// Apply aplica una transacción. Devuelve una anomalía si se vende más de lo que se tiene;
// en ese caso la posición queda en cero y el cálculo sigue.
func (l *Ledger) Apply(tx models.Transaction) *models.DataAnomaly {
	symbol := strings.ToUpper(strings.TrimSpace(tx.Symbol))
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &position{symbol: symbol, feedID: l.resolver.Resolve(symbol)}
		l.positions[symbol] = pos
	}

	amount := decimal.NewFromFloat(tx.Amount)

	switch tx.Type {
	case models.TransactionTypeBuy:
		pos.amount = pos.amount.Add(amount)
		pos.invested = pos.invested.Add(decimal.NewFromFloat(tx.Total()))
		return nil

	case models.TransactionTypeSell:
		before := pos.amount
		if amount.GreaterThan(before) {
			anomaly := &models.DataAnomaly{
				Kind:          models.AnomalyOversell,
				Symbol:        symbol,
				TransactionID: tx.ID,
				Date:          tx.Date,
				Detail:        fmt.Sprintf("venta de %s con posición de %s", amount.String(), before.String()),
			}
			pos.amount = decimal.Zero
			pos.invested = decimal.Zero
			return anomaly
		}

		if !amount.IsPositive() {
			return nil
		}
		ratio := amount.Div(before)
		pos.amount = before.Sub(amount)
		pos.invested = pos.invested.Mul(decimal.NewFromInt(1).Sub(ratio))
		if !pos.amount.IsPositive() {
			pos.amount = decimal.Zero
			pos.invested = decimal.Zero
		}
		return nil
	}

	log.Printf("Tipo de transacción desconocido %q en %s, se ignora", tx.Type, tx.ID)
	return nil
}

// Invested devuelve el costo base total de las posiciones abiertas
func (l *Ledger) Invested() float64 {
	total := decimal.Zero
	for _, pos := range l.positions {
		if pos.amount.IsPositive() {
			total = total.Add(pos.invested)
		}
	}
	return total.InexactFloat64()
}

// Amounts devuelve la cantidad abierta por feed id
func (l *Ledger) Amounts() map[string]float64 {
	amounts := make(map[string]float64, len(l.positions))
	for _, pos := range l.positions {
		if !pos.amount.IsPositive() {
			continue
		}
		prev := decimal.NewFromFloat(amounts[pos.feedID])
		amounts[pos.feedID] = prev.Add(pos.amount).InexactFloat64()
	}
	return amounts
}

// Holdings devuelve las posiciones abiertas ordenadas por símbolo
func (l *Ledger) Holdings() []models.Holding {
	holdings := make([]models.Holding, 0, len(l.positions))
	for _, pos := range l.positions {
		if !pos.amount.IsPositive() {
			continue
		}
		holdings = append(holdings, models.Holding{
			Symbol:          pos.symbol,
			FeedID:          pos.feedID,
			TotalAmount:     pos.amount.InexactFloat64(),
			AverageBuyPrice: pos.invested.Div(pos.amount).InexactFloat64(),
			TotalInvested:   pos.invested.InexactFloat64(),
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings
}

// Aggregate reduce el ledger completo a las posiciones abiertas
func Aggregate(txs []models.Transaction, resolver Resolver) ([]models.Holding, []models.DataAnomaly) {
	return AggregateUntil(txs, resolver, time.Time{})
}

// AggregateUntil reduce sólo las transacciones con fecha <= until. Un until cero incluye todas.
func AggregateUntil(txs []models.Transaction, resolver Resolver, until time.Time) ([]models.Holding, []models.DataAnomaly) {
	ledger := NewLedger(resolver)
	var anomalies []models.DataAnomaly
	for _, tx := range SortTransactions(txs) {
		if !until.IsZero() && tx.Date.After(until) {
			break
		}
		if a := ledger.Apply(tx); a != nil {
			anomalies = append(anomalies, *a)
		}
	}
	return ledger.Holdings(), anomalies
}

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPortfolioID es el portafolio usado cuando la transacción no indica uno
const DefaultPortfolioID = "main"

type TransactionType string

const (
	TransactionTypeBuy  TransactionType = "buy"
	TransactionTypeSell TransactionType = "sell"
)

var ErrInvalidTransaction = errors.New("transacción inválida")

// Transaction es un movimiento inmutable del ledger del usuario
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	PortfolioID string          `json:"portfolio_id"`
	Symbol      string          `json:"symbol" binding:"required"`
	Type        TransactionType `json:"type" binding:"required,oneof=buy sell"`
	Amount      float64         `json:"amount" binding:"required,gt=0"`
	PriceUSD    float64         `json:"price_usd" binding:"gte=0"`
	TotalUSD    float64         `json:"total_usd"`
	Date        time.Time       `json:"date"`       // Momento en que ocurrió la operación
	CreatedAt   time.Time       `json:"created_at"` // Momento en que se registró
}

// Total devuelve el total en USD, calculándolo a partir de cantidad y precio si no fue informado
func (t Transaction) Total() float64 {
	if t.TotalUSD != 0 {
		return t.TotalUSD
	}
	return t.Amount * t.PriceUSD
}

// Normalize completa los campos derivados antes de persistir
func (t *Transaction) Normalize() {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.PortfolioID == "" {
		t.PortfolioID = DefaultPortfolioID
	}
	if t.TotalUSD == 0 {
		t.TotalUSD = t.Amount * t.PriceUSD
	}
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("%w: símbolo vacío", ErrInvalidTransaction)
	}
	if t.Type != TransactionTypeBuy && t.Type != TransactionTypeSell {
		return fmt.Errorf("%w: tipo %q desconocido", ErrInvalidTransaction, t.Type)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: la cantidad debe ser mayor a cero", ErrInvalidTransaction)
	}
	if t.PriceUSD < 0 {
		return fmt.Errorf("%w: el precio no puede ser negativo", ErrInvalidTransaction)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: fecha vacía", ErrInvalidTransaction)
	}
	return nil
}

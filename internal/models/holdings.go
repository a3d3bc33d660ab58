package models

import "time"

// Holding representa la posición abierta de un activo
type Holding struct {
	Symbol          string  `json:"symbol"`
	FeedID          string  `json:"feed_id"`
	TotalAmount     float64 `json:"total_amount"`   // Cantidad en cartera
	AverageBuyPrice float64 `json:"avg_buy_price"`  // Precio promedio de compra
	TotalInvested   float64 `json:"total_invested"` // Costo base remanente
}

// HoldingValuation es un Holding valuado con el último precio conocido
type HoldingValuation struct {
	Holding
	CurrentPrice      float64 `json:"current_price"`
	CurrentValue      float64 `json:"current_value"` // TotalAmount * CurrentPrice
	ProfitLoss        float64 `json:"profit_loss"`
	ProfitLossPercent float64 `json:"profit_loss_percent"`
	Change24hPercent  float64 `json:"change_24h_percent"`
	PriceFromFallback bool    `json:"price_from_fallback"` // Se usó el precio promedio por falta de cotización
}

// Totals resume el portafolio completo
type Totals struct {
	TotalInvested     float64   `json:"total_invested"`
	CurrentValue      float64   `json:"current_value"`
	ProfitLoss        float64   `json:"profit_loss"`
	ProfitLossPercent float64   `json:"profit_loss_percent"`
	Stale             bool      `json:"stale"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type AnomalyKind string

const (
	AnomalyOversell     AnomalyKind = "oversell"
	AnomalyMissingPrice AnomalyKind = "missing_price"
)

// DataAnomaly marca datos inconsistentes que no interrumpen el cálculo
type DataAnomaly struct {
	Kind          AnomalyKind `json:"kind"`
	Symbol        string      `json:"symbol"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Date          time.Time   `json:"date"`
	Detail        string      `json:"detail"`
}

package models

import "time"

type Granularity string

const (
	GranularityDaily    Granularity = "daily"
	GranularityIntraday Granularity = "intraday"
	GranularityLive     Granularity = "live"
)

type SeriesPhase string

const (
	PhaseDraft   SeriesPhase = "draft"
	PhaseRefined SeriesPhase = "refined"
)

// SeriesPoint es un punto del gráfico de valor vs invertido
type SeriesPoint struct {
	Timestamp   time.Time   `json:"timestamp"`
	InvestedUSD float64     `json:"invested_usd"`
	ValueUSD    float64     `json:"value_usd"`
	Granularity Granularity `json:"granularity"`
}

// PortfolioSeries es el resultado de reconstruir la historia del portafolio
type PortfolioSeries struct {
	Points    []SeriesPoint `json:"points"`
	Phase     SeriesPhase   `json:"phase"`
	Degraded  bool          `json:"degraded"` // Sin datos históricos, valuado con precios actuales
	Anomalies []DataAnomaly `json:"anomalies,omitempty"`
	BuiltAt   time.Time     `json:"built_at"`
}

// PricePoint es una cotización en un instante
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

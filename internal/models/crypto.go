package models

import "time"

// PriceQuote es la cotización de un activo en las monedas solicitadas
type PriceQuote struct {
	USD              float64            `json:"usd"`
	Secondary        map[string]float64 `json:"secondary,omitempty"` // Otras monedas (ej. brl)
	Change24hPercent float64            `json:"change_24h_percent"`
	AsOf             time.Time          `json:"as_of"`
}

// PriceQuoteMap indexa cotizaciones por feed id
type PriceQuoteMap map[string]PriceQuote

// Price devuelve el precio en USD y si existe
func (m PriceQuoteMap) Price(feedID string) (float64, bool) {
	q, ok := m[feedID]
	if !ok || q.USD <= 0 {
		return 0, false
	}
	return q.USD, true
}

// Clone copia el mapa para entregarlo a consumidores sin compartir estado
func (m PriceQuoteMap) Clone() PriceQuoteMap {
	out := make(PriceQuoteMap, len(m))
	for id, q := range m {
		if q.Secondary != nil {
			sec := make(map[string]float64, len(q.Secondary))
			for k, v := range q.Secondary {
				sec[k] = v
			}
			q.Secondary = sec
		}
		out[id] = q
	}
	return out
}

// CacheStats describe el contenido del caché de precios
type CacheStats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// UpdateStatus describe el estado del actualizador en segundo plano
type UpdateStatus struct {
	IsUpdating         bool      `json:"is_updating"`
	LastUpdateTime     time.Time `json:"last_update_time"`
	IsAutoUpdateActive bool      `json:"is_auto_update_active"`
	SkippedTicks       int64     `json:"skipped_ticks"`
	TrackedFeedIDs     []string  `json:"tracked_feed_ids"`
}

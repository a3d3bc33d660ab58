package services

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultFeedIDs mapea tickers a ids de CoinGecko
var defaultFeedIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"ADA":   "cardano",
	"DOT":   "polkadot",
	"SOL":   "solana",
	"MATIC": "matic-network",
	"AVAX":  "avalanche-2",
	"ATOM":  "cosmos",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"DOGE":  "dogecoin",
	"LTC":   "litecoin",
	"BCH":   "bitcoin-cash",
	"XLM":   "stellar",
	"TRX":   "tron",
	"EOS":   "eos",
	"NEO":   "neo",
	"VET":   "vechain",
}

// SymbolResolver traduce tickers del usuario a ids del proveedor de precios
type SymbolResolver struct {
	feedIDs map[string]string
}

// NewSymbolResolver crea un resolver con el mapa por defecto más los overrides indicados
func NewSymbolResolver(overrides map[string]string) *SymbolResolver {
	feedIDs := make(map[string]string, len(defaultFeedIDs)+len(overrides))
	for symbol, id := range defaultFeedIDs {
		feedIDs[symbol] = id
	}
	for symbol, id := range overrides {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		id = strings.TrimSpace(id)
		if symbol == "" || id == "" {
			continue
		}
		feedIDs[symbol] = id
	}
	return &SymbolResolver{feedIDs: feedIDs}
}

type symbolMapFile struct {
	Symbols map[string]string `yaml:"symbols"`
}

// LoadSymbolResolver lee overrides desde un archivo YAML con la forma:
//
//	symbols:
//	  PEPE: pepe
//
// Un path vacío devuelve el resolver por defecto.
func LoadSymbolResolver(path string) (*SymbolResolver, error) {
	if path == "" {
		return NewSymbolResolver(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error al leer mapa de símbolos %s: %w", path, err)
	}

	var file symbolMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error al parsear mapa de símbolos %s: %w", path, err)
	}

	log.Printf("Mapa de símbolos cargado desde %s con %d overrides", path, len(file.Symbols))
	return NewSymbolResolver(file.Symbols), nil
}

// Resolve devuelve el feed id del símbolo, o el símbolo en minúsculas si no está mapeado
func (r *SymbolResolver) Resolve(symbol string) string {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if id, ok := r.feedIDs[key]; ok {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// ResolveAll resuelve varios símbolos sin repetir ids, conservando el orden
func (r *SymbolResolver) ResolveAll(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id := r.Resolve(s)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"golang.org/x/time/rate"
)

const (
	defaultCoinGeckoURL     = "https://api.coingecko.com/api/v3"
	defaultCoinGeckoTimeout = 10 * time.Second
	// Límite del plan demo de CoinGecko
	defaultCoinGeckoPerMinute = 30

	DayFormat = "2006-01-02"
)

// TransportError representa una falla al consultar al proveedor de precios
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("coingecko %s: status http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("coingecko %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CoinGeckoClient consulta precios actuales e históricos en la API v3 de CoinGecko
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type CoinGeckoOption func(*CoinGeckoClient)

func WithCoinGeckoBaseURL(u string) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithCoinGeckoAPIKey envía la API key del plan demo en cada solicitud
func WithCoinGeckoAPIKey(key string) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		c.apiKey = key
	}
}

func WithCoinGeckoHTTPClient(hc *http.Client) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCoinGeckoRateLimit limita las solicitudes por minuto. Un valor <= 0 desactiva el límite.
func WithCoinGeckoRateLimit(perMinute int) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		if perMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// NewCoinGeckoClient crea un cliente de CoinGecko
func NewCoinGeckoClient(opts ...CoinGeckoOption) *CoinGeckoClient {
	c := &CoinGeckoClient{
		baseURL:    defaultCoinGeckoURL,
		httpClient: &http.Client{Timeout: defaultCoinGeckoTimeout},
	}
	WithCoinGeckoRateLimit(defaultCoinGeckoPerMinute)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPrices obtiene la cotización actual de los ids en las monedas indicadas
func (c *CoinGeckoClient) FetchPrices(ctx context.Context, ids, currencies []string) (models.PriceQuoteMap, error) {
	if len(ids) == 0 {
		return models.PriceQuoteMap{}, nil
	}
	if len(currencies) == 0 {
		currencies = []string{"usd"}
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", strings.Join(currencies, ","))
	params.Set("include_24hr_change", "true")
	params.Set("include_last_updated_at", "true")

	var result map[string]map[string]interface{}
	if err := c.get(ctx, "simple/price", "/simple/price", params, &result); err != nil {
		return nil, err
	}

	quotes := make(models.PriceQuoteMap, len(result))
	for id, tokenData := range result {
		quote := models.PriceQuote{
			USD:              getFloat(tokenData, "usd"),
			Change24hPercent: getFloat(tokenData, "usd_24h_change"),
		}
		if ts := int64(getFloat(tokenData, "last_updated_at")); ts > 0 {
			quote.AsOf = time.Unix(ts, 0).UTC()
		} else {
			quote.AsOf = time.Now().UTC()
		}
		for _, cur := range currencies {
			if cur == "usd" {
				continue
			}
			if _, ok := tokenData[cur]; !ok {
				continue
			}
			if quote.Secondary == nil {
				quote.Secondary = make(map[string]float64)
			}
			quote.Secondary[cur] = getFloat(tokenData, cur)
		}
		quotes[id] = quote
	}

	if len(quotes) < len(ids) {
		log.Printf("CoinGecko devolvió %d de %d cotizaciones solicitadas", len(quotes), len(ids))
	}
	return quotes, nil
}

// DailyPrices devuelve el último precio de cada día UTC en el rango, indexado por "2006-01-02"
func (c *CoinGeckoClient) DailyPrices(ctx context.Context, id string, from, to time.Time, currency string) (map[string]float64, error) {
	points, err := c.marketChartRange(ctx, id, from, to, currency)
	if err != nil {
		return nil, err
	}

	daily := make(map[string]float64)
	lastSeen := make(map[string]time.Time)
	for _, p := range points {
		day := p.Timestamp.UTC().Format(DayFormat)
		if prev, ok := lastSeen[day]; ok && prev.After(p.Timestamp) {
			continue
		}
		lastSeen[day] = p.Timestamp
		daily[day] = p.Price
	}
	return daily, nil
}

// IntradayPrices devuelve los puntos crudos del rango ordenados por tiempo
func (c *CoinGeckoClient) IntradayPrices(ctx context.Context, id string, from, to time.Time, currency string) ([]models.PricePoint, error) {
	points, err := c.marketChartRange(ctx, id, from, to, currency)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

type marketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}

func (c *CoinGeckoClient) marketChartRange(ctx context.Context, id string, from, to time.Time, currency string) ([]models.PricePoint, error) {
	if currency == "" {
		currency = "usd"
	}
	params := url.Values{}
	params.Set("vs_currency", currency)
	params.Set("from", fmt.Sprintf("%d", from.Unix()))
	params.Set("to", fmt.Sprintf("%d", to.Unix()))

	var resp marketChartResponse
	path := "/coins/" + url.PathEscape(id) + "/market_chart/range"
	if err := c.get(ctx, "market_chart/range", path, params, &resp); err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(resp.Prices))
	for _, pair := range resp.Prices {
		if len(pair) < 2 {
			continue
		}
		points = append(points, models.PricePoint{
			Timestamp: time.UnixMilli(int64(pair[0])).UTC(),
			Price:     pair[1],
		})
	}
	return points, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, op, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("Error al consultar CoinGecko (%s): %v", op, err)
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("error al leer respuesta: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("CoinGecko respondió %d en %s: %s", resp.StatusCode, op, string(body))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("error al parsear JSON: %w", err)}
	}
	return nil
}

// getFloat extrae un valor float64 de un mapa
func getFloat(data map[string]interface{}, key string) float64 {
	if val, exists := data[key]; exists {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case string:
			var f float64
			fmt.Sscanf(v, "%f", &f)
			return f
		}
	}
	return 0
}

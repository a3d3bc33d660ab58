package services

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"golang.org/x/sync/singleflight"
)

const DefaultPriceCacheTTL = 5 * time.Minute

// PriceFetcher obtiene cotizaciones actuales del proveedor
type PriceFetcher interface {
	FetchPrices(ctx context.Context, ids, currencies []string) (models.PriceQuoteMap, error)
}

// PriceSnapshot es el resultado de una consulta al caché.
// Quotes es de solo lectura: se comparte entre todos los que esperaron la misma consulta.
type PriceSnapshot struct {
	Quotes    models.PriceQuoteMap
	FetchedAt time.Time
	Stale     bool  // Se devolvió un dato viejo porque la consulta falló
	Err       error // Error de la consulta cuando Stale es true
}

// PriceListener recibe las cotizaciones de cada consulta exitosa y los ids consultados
type PriceListener func(quotes models.PriceQuoteMap, feedIDs []string)

type listenerEntry struct {
	id uint64
	fn PriceListener
}

// PriceCache es el caché de precios compartido por todo el proceso
type PriceCache struct {
	fetcher PriceFetcher
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*PriceSnapshot

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      uint64
}

type PriceCacheOption func(*PriceCache)

func WithPriceCacheTTL(ttl time.Duration) PriceCacheOption {
	return func(c *PriceCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock reemplaza el reloj, usado en tests
func WithClock(now func() time.Time) PriceCacheOption {
	return func(c *PriceCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewPriceCache(fetcher PriceFetcher, opts ...PriceCacheOption) *PriceCache {
	c := &PriceCache{
		fetcher: fetcher,
		ttl:     DefaultPriceCacheTTL,
		now:     time.Now,
		entries: make(map[string]*PriceSnapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheKey arma la clave del caché: ids y monedas ordenados
func CacheKey(feedIDs, currencies []string) string {
	return strings.Join(normalizeList(feedIDs), ",") + "_" + strings.Join(normalizeList(currencies), ",")
}

func normalizeList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// GetPrices devuelve las cotizaciones de los ids pedidos.
//
// Dentro del TTL responde desde el caché sin red salvo forceRefresh. Consultas concurrentes
// con la misma clave comparten una única llamada al proveedor. Si la llamada falla y hay un
// dato previo para la clave se devuelve marcado como Stale; sin dato previo se devuelve el error.
// Cancelar ctx sólo deja de esperar: la consulta compartida termina y llena el caché igual.
func (c *PriceCache) GetPrices(ctx context.Context, feedIDs, currencies []string, forceRefresh bool) (*PriceSnapshot, error) {
	ids := normalizeList(feedIDs)
	curs := normalizeList(currencies)
	if len(curs) == 0 {
		curs = []string{"usd"}
	}
	key := CacheKey(ids, curs)

	if !forceRefresh {
		if snap, ok := c.fresh(key); ok {
			return snap, nil
		}
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetch(fetchCtx, key, ids, curs)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PriceSnapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PriceCache) fresh(key string) (*PriceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(snap.FetchedAt) >= c.ttl {
		return nil, false
	}
	return snap, true
}

func (c *PriceCache) fetch(ctx context.Context, key string, ids, currencies []string) (*PriceSnapshot, error) {
	quotes, err := c.fetcher.FetchPrices(ctx, ids, currencies)
	if err != nil {
		c.mu.RLock()
		prev, ok := c.entries[key]
		c.mu.RUnlock()
		if !ok {
			log.Printf("Error al obtener precios para %s sin datos en caché: %v", key, err)
			return nil, err
		}
		log.Printf("Error al obtener precios para %s, usando datos de %s: %v", key, prev.FetchedAt.Format(time.RFC3339), err)
		return &PriceSnapshot{
			Quotes:    prev.Quotes,
			FetchedAt: prev.FetchedAt,
			Stale:     true,
			Err:       err,
		}, nil
	}

	snap := &PriceSnapshot{Quotes: quotes, FetchedAt: c.now()}

	c.mu.Lock()
	if prev, ok := c.entries[key]; ok && prev.FetchedAt.After(snap.FetchedAt) {
		snap = prev
	} else {
		c.entries[key] = snap
	}
	c.mu.Unlock()

	c.emit(snap.Quotes, ids)
	return snap, nil
}

// Subscribe registra un listener y devuelve la función para darlo de baja.
// Los listeners se llaman en orden de registro; un panic en uno no afecta a los demás.
func (c *PriceCache) Subscribe(listener PriceListener) (unsubscribe func()) {
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: listener})
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *PriceCache) emit(quotes models.PriceQuoteMap, feedIDs []string) {
	c.listenersMu.Lock()
	listeners := make([]listenerEntry, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.Unlock()

	for _, l := range listeners {
		callListener(l, quotes, feedIDs)
	}
}

func callListener(l listenerEntry, quotes models.PriceQuoteMap, feedIDs []string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Error en listener de precios %d: %v", l.id, r)
		}
	}()
	l.fn(quotes, feedIDs)
}

// Clear vacía el caché. Las consultas en curso guardan su resultado al terminar.
func (c *PriceCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*PriceSnapshot)
	c.mu.Unlock()
	log.Printf("Caché de precios limpiado")
}

func (c *PriceCache) Stats() models.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return models.CacheStats{Size: len(keys), Keys: keys}
}

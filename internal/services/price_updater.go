package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
)

const DefaultRefreshInterval = 2 * time.Minute

var ErrUpdateInProgress = errors.New("ya hay una actualización de precios en curso")

// PricesGetter es la parte del caché que necesita el actualizador
type PricesGetter interface {
	GetPrices(ctx context.Context, feedIDs, currencies []string, forceRefresh bool) (*PriceSnapshot, error)
}

// PriceUpdater refresca periódicamente los precios de los ids seguidos.
// Si al llegar un tick la actualización anterior sigue en curso, el tick se descarta.
type PriceUpdater struct {
	interval   time.Duration
	cache      PricesGetter
	currencies []string

	mutex       sync.Mutex
	isRunning   bool
	stopChan    chan struct{}
	cancel      context.CancelFunc
	tracked     map[string]struct{}
	lastUpdated time.Time
	wg          sync.WaitGroup

	inFlight atomic.Bool
	skipped  atomic.Int64
}

// NewPriceUpdater crea un nuevo servicio de actualización de precios
func NewPriceUpdater(cache PricesGetter, interval time.Duration, currencies []string) *PriceUpdater {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &PriceUpdater{
		interval:   interval,
		cache:      cache,
		currencies: currencies,
		tracked:    make(map[string]struct{}),
	}
}

// Track agrega ids al conjunto que se refresca en cada tick
func (p *PriceUpdater) Track(feedIDs ...string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, id := range feedIDs {
		if id == "" {
			continue
		}
		p.tracked[id] = struct{}{}
	}
}

// SetTracked reemplaza el conjunto de ids seguidos, descartando los que ya nadie usa
func (p *PriceUpdater) SetTracked(feedIDs ...string) {
	tracked := make(map[string]struct{}, len(feedIDs))
	for _, id := range feedIDs {
		if id == "" {
			continue
		}
		tracked[id] = struct{}{}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.tracked = tracked
}

func (p *PriceUpdater) trackedIDs() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	ids := make([]string, 0, len(p.tracked))
	for id := range p.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start inicia el servicio de actualización de precios. Si ya está corriendo no hace nada.
func (p *PriceUpdater) Start(feedIDs ...string) {
	p.Track(feedIDs...)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.isRunning = true
	p.stopChan = make(chan struct{})
	p.cancel = cancel
	stopChan := p.stopChan

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		// Actualizar inmediatamente al iniciar
		p.tick(ctx)

		for {
			select {
			case <-ticker.C:
				p.tick(ctx)
			case <-stopChan:
				return
			}
		}
	}()

	log.Printf("Servicio de actualización de precios iniciado con intervalo de %v", p.interval)
}

// Stop detiene el servicio y espera a que termine la actualización en curso
func (p *PriceUpdater) Stop() {
	p.mutex.Lock()
	if !p.isRunning {
		p.mutex.Unlock()
		return
	}
	p.isRunning = false
	close(p.stopChan)
	p.cancel()
	p.mutex.Unlock()

	p.wg.Wait()
	log.Printf("Servicio de actualización de precios detenido")
}

// tick lanza una actualización en segundo plano salvo que haya otra en curso
func (p *PriceUpdater) tick(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		n := p.skipped.Add(1)
		log.Printf("Actualización de precios omitida: la anterior sigue en curso (%d omitidas)", n)
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		if err := p.refresh(ctx); err != nil {
			log.Printf("Error en la actualización automática de precios: %v", err)
		}
	}()
	return true
}

// ForceUpdate refresca los precios ya mismo. Devuelve ErrUpdateInProgress si hay otra actualización en curso.
func (p *PriceUpdater) ForceUpdate(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer p.inFlight.Store(false)
	return p.refresh(ctx)
}

func (p *PriceUpdater) refresh(ctx context.Context) error {
	ids := p.trackedIDs()
	if len(ids) == 0 {
		return nil
	}

	snap, err := p.cache.GetPrices(ctx, ids, p.currencies, true)
	if err != nil {
		return err
	}
	if snap.Stale {
		log.Printf("Precios servidos desde caché por error del proveedor: %v", snap.Err)
		return nil
	}

	p.mutex.Lock()
	p.lastUpdated = snap.FetchedAt
	p.mutex.Unlock()

	log.Printf("Actualización de precios completada para %d activos", len(ids))
	return nil
}

// Status devuelve el estado actual del actualizador
func (p *PriceUpdater) Status() models.UpdateStatus {
	ids := p.trackedIDs()
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return models.UpdateStatus{
		IsUpdating:         p.inFlight.Load(),
		LastUpdateTime:     p.lastUpdated,
		IsAutoUpdateActive: p.isRunning,
		SkippedTicks:       p.skipped.Load(),
		TrackedFeedIDs:     ids,
	}
}

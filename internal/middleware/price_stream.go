package middleware

import (
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	streamBuffer       = 16
	streamWriteTimeout = 10 * time.Second
)

// PriceEvent es el mensaje enviado a los clientes del stream de precios
type PriceEvent struct {
	Event   string               `json:"event"`
	FeedIDs []string             `json:"feed_ids"`
	Data    models.PriceQuoteMap `json:"data"`
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// StreamPrices envía por websocket cada actualización de precios que toque el portafolio del usuario
func (h *Handler) StreamPrices(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error al abrir websocket de precios: %v", err)
		return
	}
	defer conn.Close()

	userID := c.GetString("userId")
	updates := make(chan PriceEvent, streamBuffer)
	unsubscribe := p.SubscribePrices(func(quotes models.PriceQuoteMap, feedIDs []string) {
		owned := make(map[string]struct{})
		for _, id := range p.FeedIDs() {
			owned[id] = struct{}{}
		}
		ev := PriceEvent{Event: "prices", Data: models.PriceQuoteMap{}}
		for _, id := range feedIDs {
			if _, ok := owned[id]; !ok {
				continue
			}
			ev.FeedIDs = append(ev.FeedIDs, id)
			if q, ok := quotes[id]; ok {
				ev.Data[id] = q
			}
		}
		if len(ev.FeedIDs) == 0 {
			return
		}
		// El listener no puede bloquear al caché: si el cliente va lento se descarta el evento
		select {
		case updates <- ev:
		default:
			log.Printf("Stream de precios de %s saturado, se descarta una actualización", userID)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("Cliente de precios conectado: %s", userID)
	for {
		select {
		case ev := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("Cliente de precios desconectado (%s): %v", userID, err)
				return
			}
		case <-closed:
			log.Printf("Cliente de precios desconectado: %s", userID)
			return
		}
	}
}

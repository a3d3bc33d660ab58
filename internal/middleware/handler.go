package middleware

import (
	"context"
	"net/http"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/portfolio"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// PortfolioProvider entrega el portafolio cargado del usuario
type PortfolioProvider interface {
	Get(ctx context.Context, userID string) (*portfolio.Portfolio, error)
}

type PriceCacheAdmin interface {
	Clear()
	Stats() models.CacheStats
}

type UpdaterAdmin interface {
	Status() models.UpdateStatus
	ForceUpdate(ctx context.Context) error
}

// Handler agrupa los endpoints del portafolio con sus dependencias
type Handler struct {
	portfolios PortfolioProvider
	cache      PriceCacheAdmin
	updater    UpdaterAdmin
	upgrader   websocket.Upgrader
}

func NewHandler(portfolios PortfolioProvider, cache PriceCacheAdmin, updater UpdaterAdmin, allowedOrigins []string) *Handler {
	return &Handler{
		portfolios: portfolios,
		cache:      cache,
		updater:    updater,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// userPortfolio obtiene el portafolio del usuario autenticado o responde el error
func (h *Handler) userPortfolio(c *gin.Context) (*portfolio.Portfolio, bool) {
	userID := c.GetString("userId")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Usuario no autenticado"})
		return nil, false
	}

	p, err := h.portfolios.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al cargar el portafolio"})
		return nil, false
	}
	return p, true
}

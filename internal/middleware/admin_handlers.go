package middleware

import (
	"errors"
	"net/http"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/gin-gonic/gin"
)

// GetPriceStatus devuelve el estado del actualizador y del caché de precios
func (h *Handler) GetPriceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"updater": h.updater.Status(),
		"cache":   h.cache.Stats(),
	})
}

func (h *Handler) ClearPriceCache(c *gin.Context) {
	h.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Caché de precios limpiado"})
}

// ForcePriceUpdate refresca los precios seguidos sin esperar al próximo tick
func (h *Handler) ForcePriceUpdate(c *gin.Context) {
	err := h.updater.ForceUpdate(c.Request.Context())
	switch {
	case errors.Is(err, services.ErrUpdateInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Precios actualizados", "updater": h.updater.Status()})
}

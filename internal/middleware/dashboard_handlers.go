package middleware

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetHoldings devuelve las posiciones abiertas valuadas con el último precio
func (h *Handler) GetHoldings(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": p.Holdings()})
}

// GetSeries devuelve la serie invertido/valor para el gráfico
func (h *Handler) GetSeries(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.Series())
}

func (h *Handler) GetTotals(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.Totals())
}

// GetStatus devuelve el estado de carga y las anomalías detectadas en el ledger
func (h *Handler) GetStatus(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    p.Status(),
		"anomalies": p.Anomalies(),
	})
}

// RefreshPortfolio lanza una recarga en segundo plano y responde sin esperarla
func (h *Handler) RefreshPortfolio(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}

	force, _ := strconv.ParseBool(c.Query("force"))
	userID := c.GetString("userId")

	// La recarga sigue aunque el cliente cierre la conexión
	done := p.Refresh(context.WithoutCancel(c.Request.Context()), force)
	go func() {
		if err := <-done; err != nil {
			log.Printf("Error al refrescar portafolio de %s: %v", userID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"pending": true})
}

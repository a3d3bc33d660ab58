package routes

import (
	"net/http"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registra los endpoints del portafolio
func RegisterRoutes(router *gin.Engine, h *middleware.Handler, jwtSecret, adminKey string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(jwtSecret))
	{
		protected.GET("/portfolio/holdings", h.GetHoldings)
		protected.GET("/portfolio/series", h.GetSeries)
		protected.GET("/portfolio/totals", h.GetTotals)
		protected.GET("/portfolio/status", h.GetStatus)
		protected.POST("/portfolio/refresh", h.RefreshPortfolio)

		protected.GET("/transactions", h.GetUserTransactions)
		protected.POST("/transactions", h.CreateTransaction)
		protected.DELETE("/transactions/:id", h.DeleteTransaction)

		protected.GET("/prices/ws", h.StreamPrices)
	}

	// Rutas de admin
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth(adminKey))
	{
		admin.GET("/prices/status", h.GetPriceStatus)
		admin.POST("/prices/refresh", h.ForcePriceUpdate)
		admin.DELETE("/prices/cache", h.ClearPriceCache)
	}
}

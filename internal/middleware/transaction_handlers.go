package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/portfolio"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/gin-gonic/gin"
)

// CreateTransaction registra una transacción para el usuario autenticado
func (h *Handler) CreateTransaction(c *gin.Context) {
	var transaction models.Transaction
	if err := c.ShouldBindJSON(&transaction); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if transaction.Date.IsZero() {
		transaction.Date = time.Now().UTC()
	}

	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}

	created, err := p.AddTransaction(c.Request.Context(), transaction)
	switch {
	case errors.Is(err, models.ErrInvalidTransaction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, portfolio.ErrReload):
		// La transacción quedó guardada aunque la vista no se haya recargado
		c.JSON(http.StatusCreated, gin.H{"message": "Transacción creada exitosamente", "transaction": created, "reload_error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al guardar la transacción"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Transacción creada exitosamente", "transaction": created})
}

// GetUserTransactions devuelve el ledger ordenado por fecha
func (h *Handler) GetUserTransactions(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": p.Transactions()})
}

func (h *Handler) DeleteTransaction(c *gin.Context) {
	p, ok := h.userPortfolio(c)
	if !ok {
		return
	}

	err := p.DeleteTransaction(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transacción no encontrada"})
		return
	case errors.Is(err, portfolio.ErrReload):
		c.JSON(http.StatusOK, gin.H{"message": "Transacción eliminada exitosamente", "reload_error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al eliminar la transacción"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Transacción eliminada exitosamente"})
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/google/uuid"
)

var ErrTransactionNotFound = errors.New("transacción no encontrada")

// TransactionRepository guarda el ledger de transacciones. Las consultas usan
// placeholders $N, aceptados tanto por postgres como por sqlite.
type TransactionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db, now: time.Now}
}

// List devuelve las transacciones del portafolio en orden de registro
func (r *TransactionRepository) List(ctx context.Context, userID, portfolioID string) ([]models.Transaction, error) {
	if portfolioID == "" {
		portfolioID = models.DefaultPortfolioID
	}

	query := `
		SELECT id, user_id, portfolio_id, symbol, type, amount, price_usd, total_usd, date, created_at
		FROM transactions
		WHERE user_id = $1 AND portfolio_id = $2
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("error al consultar transacciones: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var txType string
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.PortfolioID,
			&tx.Symbol,
			&txType,
			&tx.Amount,
			&tx.PriceUSD,
			&tx.TotalUSD,
			&tx.Date,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error al escanear transacción: %w", err)
		}
		tx.Type = models.TransactionType(txType)
		tx.Date = tx.Date.UTC()
		tx.CreatedAt = tx.CreatedAt.UTC()
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error al recorrer transacciones: %w", err)
	}
	return transactions, nil
}

// Insert guarda la transacción asignando id y fecha de registro si faltan
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = r.now().UTC()
	}
	if tx.PortfolioID == "" {
		tx.PortfolioID = models.DefaultPortfolioID
	}

	query := `
		INSERT INTO transactions (id, user_id, portfolio_id, symbol, type, amount, price_usd, total_usd, date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.PortfolioID,
		tx.Symbol,
		string(tx.Type),
		tx.Amount,
		tx.PriceUSD,
		tx.Total(),
		tx.Date.UTC(),
		tx.CreatedAt.UTC(),
	)
	if err != nil {
		log.Printf("Error al guardar transacción %s: %v", tx.ID, err)
		return fmt.Errorf("error al guardar transacción: %w", err)
	}
	return nil
}

// Delete elimina una transacción del usuario
func (r *TransactionRepository) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("error al eliminar transacción: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error al verificar eliminación: %w", err)
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

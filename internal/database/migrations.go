package database

import (
	"database/sql"
	"fmt"
	"log"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		portfolio_id TEXT NOT NULL DEFAULT 'main',
		symbol TEXT NOT NULL,
		type TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		price_usd DOUBLE PRECISION NOT NULL,
		total_usd DOUBLE PRECISION NOT NULL,
		date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_portfolio ON transactions (user_id, portfolio_id)`,
}

// RunMigrations crea el esquema si no existe. Es idempotente.
func RunMigrations(db *sql.DB) error {
	log.Println("Ejecutando migraciones de la base de datos...")

	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error en la migración %d: %w", i+1, err)
		}
	}

	log.Printf("Migraciones aplicadas: %d", len(migrations))
	return nil
}

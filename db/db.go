// Package db is the Postgres billing ledger: an audit trail of checkout
// sessions and of the webhook events already applied.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XeroHax/accountability-app/logger"
	_ "github.com/lib/pq"
)

var DB *sql.DB

// InitDB opens and pings the ledger database.
func InitDB(ctx context.Context, dbURL string) error {
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}

	var err error
	DB, err = sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("error connecting to the database: %w", err)
	}

	logger.Get().Info("successfully connected to ledger database")
	return nil
}

// CloseDB closes the database connection
func CloseDB() {
	if DB != nil {
		DB.Close()
	}
}

package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // драйвер pgx для database/sql
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// NewConnection создает новое подключение к PostgreSQL
func NewConnection(ctx context.Context, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	log.Info("Connecting to PostgreSQL")

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Настраиваем пул соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	log.Info("Successfully connected to PostgreSQL")
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS subscription_statuses (
    purchase_token        TEXT PRIMARY KEY,
    product               TEXT    NOT NULL,
    is_local_purchase     BOOLEAN NOT NULL DEFAULT FALSE,
    sub_already_owned     BOOLEAN NOT NULL DEFAULT FALSE,
    is_entitlement_active BOOLEAN NOT NULL DEFAULT FALSE,
    will_renew            BOOLEAN NOT NULL DEFAULT FALSE,
    is_acknowledged       BOOLEAN NOT NULL DEFAULT FALSE,
    is_grace_period       BOOLEAN NOT NULL DEFAULT FALSE,
    is_account_hold       BOOLEAN NOT NULL DEFAULT FALSE,
    is_paused             BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS one_time_product_statuses (
    purchase_token        TEXT PRIMARY KEY,
    product               TEXT    NOT NULL,
    is_local_purchase     BOOLEAN NOT NULL DEFAULT FALSE,
    is_already_owned      BOOLEAN NOT NULL DEFAULT FALSE,
    is_entitlement_active BOOLEAN NOT NULL DEFAULT FALSE,
    is_acknowledged       BOOLEAN NOT NULL DEFAULT FALSE,
    is_consumed           BOOLEAN NOT NULL DEFAULT FALSE,
    quantity              INTEGER NOT NULL DEFAULT 1,
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// EnsureSchema создает таблицы статусов, если их нет
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create status tables: %w", err)
	}
	return nil
}

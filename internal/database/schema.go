package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements creates the listing and booking request tables. Every
// statement is idempotent so Migrate can run on each boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id                 UUID PRIMARY KEY,
		owner_id           UUID NOT NULL,
		kind               TEXT NOT NULL CHECK (kind IN ('room', 'ticket_lot', 'ride', 'lost_found')),
		title              TEXT NOT NULL,
		scheduled_at       TIMESTAMPTZ,
		total_capacity     INTEGER NOT NULL CHECK (total_capacity >= 0),
		remaining_capacity INTEGER NOT NULL,
		status             TEXT NOT NULL DEFAULT 'active'
		                   CHECK (status IN ('active', 'resolved', 'expired', 'cancelled')),
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT listings_remaining_capacity_bounds
			CHECK (remaining_capacity >= 0 AND remaining_capacity <= total_capacity)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_expiry ON listings (kind, scheduled_at) WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS booking_requests (
		id                 UUID PRIMARY KEY,
		listing_id         UUID NOT NULL REFERENCES listings (id) ON DELETE CASCADE,
		listing_kind       TEXT NOT NULL,
		requester_id       UUID NOT NULL,
		owner_id           UUID NOT NULL,
		quantity_requested INTEGER NOT NULL CHECK (quantity_requested > 0),
		message            TEXT NOT NULL,
		contact_method     TEXT NOT NULL,
		offered_price      NUMERIC(12, 2),
		proof_description  TEXT,
		agreed_quantity    INTEGER CHECK (agreed_quantity IS NULL OR agreed_quantity > 0),
		agreed_price       NUMERIC(12, 2),
		response_message   TEXT,
		status             TEXT NOT NULL DEFAULT 'pending'
		                   CHECK (status IN ('pending', 'accepted', 'rejected', 'cancelled')),
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		responded_at       TIMESTAMPTZ,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT booking_requests_not_self CHECK (requester_id <> owner_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_booking_requests_one_pending
		ON booking_requests (listing_id, requester_id) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_booking_requests_owner ON booking_requests (owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_requests_requester ON booking_requests (requester_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_requests_purge ON booking_requests (status, updated_at)
		WHERE status IN ('cancelled', 'rejected')`,
}

// Migrate applies the schema inside a single transaction
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const listingColumns = `id, owner_id, kind, title, scheduled_at, total_capacity,
	remaining_capacity, status, created_at, updated_at`

// ListingRepository handles listing database operations
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new ListingRepository
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// CreateListing inserts a new listing
func (r *ListingRepository) CreateListing(ctx context.Context, listing *models.Listing) error {
	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	now := time.Now()
	listing.CreatedAt = now
	listing.UpdatedAt = now

	query := `
		INSERT INTO listings (
			id, owner_id, kind, title, scheduled_at,
			total_capacity, remaining_capacity, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		listing.ID, listing.OwnerID, listing.Kind, listing.Title, listing.ScheduledAt,
		listing.TotalCapacity, listing.RemainingCapacity, listing.Status,
		listing.CreatedAt, listing.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// GetListingByID retrieves a listing by ID
func (r *ListingRepository) GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	err := r.db.GetContext(ctx, &listing, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	return &listing, nil
}

// ============================================================================
// EXPIRY (Sweeper Support)
// ============================================================================

// FindExpiredListings returns active listings of a kind whose scheduled time has passed
func (r *ListingRepository) FindExpiredListings(ctx context.Context, kind models.ListingKind, now time.Time, limit int) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE kind = $1
		  AND status = 'active'
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at < $2
		ORDER BY scheduled_at
		LIMIT $3`

	listings := []*models.Listing{}
	if err := r.db.SelectContext(ctx, &listings, query, kind, now, limit); err != nil {
		return nil, fmt.Errorf("failed to find expired listings: %w", err)
	}
	return listings, nil
}

// ExpireListing marks a still-active, past-schedule listing expired and cancels its
// pending requests in one transaction. expired is false when the listing changed
// state (resolved, already expired) since it was read.
func (r *ListingRepository) ExpireListing(ctx context.Context, listingID uuid.UUID, now time.Time, reason string) (expired bool, cancelled int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND scheduled_at < $2
	`, listingID, now)
	if err != nil {
		return false, 0, fmt.Errorf("failed to expire listing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, 0, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE booking_requests
		SET status = 'cancelled', response_message = $2, responded_at = NOW(), updated_at = NOW()
		WHERE listing_id = $1 AND status = 'pending'
	`, listingID, reason)
	if err != nil {
		return false, 0, fmt.Errorf("failed to cancel pending requests: %w", err)
	}
	cancelled, _ = result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit listing expiry: %w", err)
	}
	return true, cancelled, nil
}

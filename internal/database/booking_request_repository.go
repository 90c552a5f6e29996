package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const bookingRequestColumns = `id, listing_id, listing_kind, requester_id, owner_id,
	quantity_requested, message, contact_method, offered_price, proof_description,
	agreed_quantity, agreed_price, response_message, status,
	created_at, responded_at, updated_at`

// bookingRequestViewSelect joins the listing summary onto each request row
const bookingRequestViewSelect = `
	SELECT r.id, r.listing_id, r.listing_kind, r.requester_id, r.owner_id,
	       r.quantity_requested, r.message, r.contact_method, r.offered_price, r.proof_description,
	       r.agreed_quantity, r.agreed_price, r.response_message, r.status,
	       r.created_at, r.responded_at, r.updated_at,
	       l.title AS listing_title, l.status AS listing_status,
	       l.scheduled_at AS listing_scheduled_at,
	       l.remaining_capacity AS listing_remaining_capacity
	FROM booking_requests r
	JOIN listings l ON l.id = r.listing_id`

// BookingRequestRepository handles booking request database operations
type BookingRequestRepository struct {
	db *sqlx.DB
}

// NewBookingRequestRepository creates a new BookingRequestRepository
func NewBookingRequestRepository(db *sqlx.DB) *BookingRequestRepository {
	return &BookingRequestRepository{db: db}
}

// ============================================================================
// CREATE & READ
// ============================================================================

// CreateRequest inserts a pending request. A concurrent insert for the same
// (listing, requester) pair loses on the partial unique index.
func (r *BookingRequestRepository) CreateRequest(ctx context.Context, req *models.BookingRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now()
	req.Status = models.BookingRequestPending
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO booking_requests (
			id, listing_id, listing_kind, requester_id, owner_id,
			quantity_requested, message, contact_method, offered_price, proof_description,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.ListingID, req.ListingKind, req.RequesterID, req.OwnerID,
		req.QuantityRequested, req.Message, req.ContactMethod, req.OfferedPrice, req.ProofDescription,
		req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePendingRequest
		}
		return fmt.Errorf("failed to create booking request: %w", err)
	}
	return nil
}

// GetRequestByID retrieves a request by ID
func (r *BookingRequestRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error) {
	var req models.BookingRequest
	query := `SELECT ` + bookingRequestColumns + ` FROM booking_requests WHERE id = $1`

	err := r.db.GetContext(ctx, &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking request: %w", err)
	}
	return &req, nil
}

// GetRequestView retrieves a request with its listing summary
func (r *BookingRequestRepository) GetRequestView(ctx context.Context, id uuid.UUID) (*models.BookingRequestView, error) {
	var view models.BookingRequestView
	query := bookingRequestViewSelect + ` WHERE r.id = $1`

	err := r.db.GetContext(ctx, &view, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking request: %w", err)
	}
	return &view, nil
}

// FindOpenRequest returns the requester's pending or accepted request for a
// listing, or nil when there is none. Pending wins over accepted.
func (r *BookingRequestRepository) FindOpenRequest(ctx context.Context, listingID, requesterID uuid.UUID) (*models.BookingRequest, error) {
	var req models.BookingRequest
	query := `
		SELECT ` + bookingRequestColumns + `
		FROM booking_requests
		WHERE listing_id = $1 AND requester_id = $2 AND status IN ('pending', 'accepted')
		ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, created_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &req, query, listingID, requesterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing request: %w", err)
	}
	return &req, nil
}

// ListReceived lists requests against listings owned by ownerID. Ownership is
// checked on the listing row, not on the denormalized request column.
func (r *BookingRequestRepository) ListReceived(ctx context.Context, ownerID uuid.UUID, filter models.RequestFilter) ([]models.BookingRequestView, error) {
	return r.list(ctx, "l.owner_id = $1", ownerID, filter)
}

// ListSent lists requests authored by requesterID
func (r *BookingRequestRepository) ListSent(ctx context.Context, requesterID uuid.UUID, filter models.RequestFilter) ([]models.BookingRequestView, error) {
	return r.list(ctx, "r.requester_id = $1", requesterID, filter)
}

func (r *BookingRequestRepository) list(ctx context.Context, predicate string, userID uuid.UUID, filter models.RequestFilter) ([]models.BookingRequestView, error) {
	conditions := []string{predicate}
	args := []interface{}{userID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		conditions = append(conditions, fmt.Sprintf("r.listing_kind = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`%s
		WHERE %s
		ORDER BY r.created_at DESC
		LIMIT $%d OFFSET $%d`,
		bookingRequestViewSelect, strings.Join(conditions, " AND "), len(args)-1, len(args))

	views := []models.BookingRequestView{}
	if err := r.db.SelectContext(ctx, &views, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list booking requests: %w", err)
	}
	return views, nil
}

// ============================================================================
// RESPONSE OPERATIONS
// ============================================================================

// AcceptParams describes an owner's acceptance
type AcceptParams struct {
	RequestID            uuid.UUID
	ListingID            uuid.UUID
	Quantity             int // units to take from remaining_capacity
	AgreedPrice          *float64
	ResponseMessage      *string
	ResolveWhenExhausted bool
}

// AcceptResult is the state after a committed acceptance
type AcceptResult struct {
	Request           *models.BookingRequest
	RemainingCapacity int
	ListingStatus     models.ListingStatus
}

// AcceptRequest takes capacity from the listing with a conditional decrement and
// only then moves the request to accepted, all in one transaction. When the
// decrement matches no row nothing is written and the request stays pending.
func (r *BookingRequestRepository) AcceptRequest(ctx context.Context, p AcceptParams) (*AcceptResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Conditional decrement with floor
	var remaining int
	err = tx.QueryRowxContext(ctx, `
		UPDATE listings
		SET remaining_capacity = remaining_capacity - $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND remaining_capacity >= $2
		RETURNING remaining_capacity
	`, p.ListingID, p.Quantity).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.explainNoDecrement(ctx, tx, p.ListingID, p.Quantity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decrement capacity: %w", err)
	}

	// 2. Request transition, guarded on pending
	var req models.BookingRequest
	err = tx.QueryRowxContext(ctx, `
		UPDATE booking_requests
		SET status = 'accepted', agreed_quantity = $2, agreed_price = $3,
		    response_message = $4, responded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+bookingRequestColumns,
		p.RequestID, p.Quantity, p.AgreedPrice, p.ResponseMessage,
	).StructScan(&req)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept booking request: %w", err)
	}

	// 3. Exhausted single-slot listings leave the market
	listingStatus := models.ListingStatusActive
	if remaining == 0 && p.ResolveWhenExhausted {
		if _, err := tx.ExecContext(ctx, `
			UPDATE listings SET status = 'resolved', updated_at = NOW()
			WHERE id = $1 AND status = 'active'
		`, p.ListingID); err != nil {
			return nil, fmt.Errorf("failed to resolve listing: %w", err)
		}
		listingStatus = models.ListingStatusResolved
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	return &AcceptResult{
		Request:           &req,
		RemainingCapacity: remaining,
		ListingStatus:     listingStatus,
	}, nil
}

// explainNoDecrement reads the listing inside the failed transaction to report
// why the conditional decrement matched nothing
func (r *BookingRequestRepository) explainNoDecrement(ctx context.Context, tx *sqlx.Tx, listingID uuid.UUID, quantity int) error {
	var state struct {
		Status            models.ListingStatus `db:"status"`
		RemainingCapacity int                  `db:"remaining_capacity"`
	}
	err := tx.GetContext(ctx, &state, `SELECT status, remaining_capacity FROM listings WHERE id = $1`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrListingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read listing capacity: %w", err)
	}
	if state.Status != models.ListingStatusActive {
		return fmt.Errorf("%w: listing is %s", ErrListingNotActive, state.Status)
	}
	return fmt.Errorf("%w: only %d remaining but %d requested", ErrInsufficientCapacity, state.RemainingCapacity, quantity)
}

// RejectRequest moves a pending request to rejected
func (r *BookingRequestRepository) RejectRequest(ctx context.Context, id uuid.UUID, responseMessage *string) (*models.BookingRequest, error) {
	var req models.BookingRequest
	err := r.db.QueryRowxContext(ctx, `
		UPDATE booking_requests
		SET status = 'rejected', response_message = $2, responded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+bookingRequestColumns,
		id, responseMessage,
	).StructScan(&req)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reject booking request: %w", err)
	}
	return &req, nil
}

// CancelRequest moves a pending or rejected request to cancelled
func (r *BookingRequestRepository) CancelRequest(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error) {
	var req models.BookingRequest
	err := r.db.QueryRowxContext(ctx, `
		UPDATE booking_requests
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'rejected')
		RETURNING `+bookingRequestColumns,
		id,
	).StructScan(&req)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotCancellable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking request: %w", err)
	}
	return &req, nil
}

// ============================================================================
// RETENTION (Sweeper Support)
// ============================================================================

// PurgeTerminalRequests deletes cancelled and rejected requests last touched
// before cutoff. Accepted requests are never purged.
func (r *BookingRequestRepository) PurgeTerminalRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM booking_requests
		WHERE status IN ('cancelled', 'rejected') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge booking requests: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

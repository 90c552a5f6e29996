package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING REQUEST STATUSES
// ============================================================================

// BookingRequestStatus represents the status of a booking request
type BookingRequestStatus string

const (
	BookingRequestPending   BookingRequestStatus = "pending"
	BookingRequestAccepted  BookingRequestStatus = "accepted"
	BookingRequestRejected  BookingRequestStatus = "rejected"
	BookingRequestCancelled BookingRequestStatus = "cancelled"
)

// IsValid reports whether s is a known status
func (s BookingRequestStatus) IsValid() bool {
	switch s {
	case BookingRequestPending, BookingRequestAccepted, BookingRequestRejected, BookingRequestCancelled:
		return true
	}
	return false
}

// Decision is an owner's answer to a pending request
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Reason stamped on requests cancelled by the expiry sweeper
const ListingExpiredReason = "listing expired"

// ============================================================================
// BOOKING REQUEST
// ============================================================================

// BookingRequest is a requester's interest in a listing, arbitrated by the listing owner
type BookingRequest struct {
	ID                uuid.UUID            `db:"id" json:"id"`
	ListingID         uuid.UUID            `db:"listing_id" json:"listing_id"`
	ListingKind       ListingKind          `db:"listing_kind" json:"listing_kind"`
	RequesterID       uuid.UUID            `db:"requester_id" json:"requester_id"`
	OwnerID           uuid.UUID            `db:"owner_id" json:"owner_id"`
	QuantityRequested int                  `db:"quantity_requested" json:"quantity_requested"`
	Message           string               `db:"message" json:"message"`
	ContactMethod     string               `db:"contact_method" json:"contact_method"`
	OfferedPrice      *float64             `db:"offered_price" json:"offered_price,omitempty"`
	ProofDescription  *string              `db:"proof_description" json:"proof_description,omitempty"`
	AgreedQuantity    *int                 `db:"agreed_quantity" json:"agreed_quantity,omitempty"`
	AgreedPrice       *float64             `db:"agreed_price" json:"agreed_price,omitempty"`
	ResponseMessage   *string              `db:"response_message" json:"response_message,omitempty"`
	Status            BookingRequestStatus `db:"status" json:"status"`
	CreatedAt         time.Time            `db:"created_at" json:"created_at"`
	RespondedAt       *time.Time           `db:"responded_at" json:"responded_at,omitempty"`
	UpdatedAt         time.Time            `db:"updated_at" json:"updated_at"`
}

// BookingRequestView is a request expanded with listing summary fields for display
type BookingRequestView struct {
	BookingRequest
	ListingTitle       string        `db:"listing_title" json:"listing_title"`
	ListingStatus      ListingStatus `db:"listing_status" json:"listing_status"`
	ListingScheduledAt *time.Time    `db:"listing_scheduled_at" json:"listing_scheduled_at,omitempty"`
	ListingRemaining   int           `db:"listing_remaining_capacity" json:"listing_remaining_capacity"`
}

// CreateBookingRequestPayload is what a requester submits against a listing
type CreateBookingRequestPayload struct {
	Quantity         *int     `json:"quantity,omitempty" validate:"omitempty,gte=1"`
	Message          string   `json:"message" validate:"required"`
	ContactMethod    string   `json:"contact_method" validate:"required,max=100"`
	OfferedPrice     *float64 `json:"offered_price,omitempty" validate:"omitempty,gte=0"`
	ProofDescription *string  `json:"proof_description,omitempty" validate:"omitempty,max=2000"`
}

// RespondPayload is an owner's decision on a pending request
type RespondPayload struct {
	Decision        Decision `json:"decision" validate:"required,oneof=accept reject"`
	ResponseMessage *string  `json:"response_message,omitempty" validate:"omitempty,max=1000"`
	AgreedQuantity  *int     `json:"agreed_quantity,omitempty" validate:"omitempty,gte=1"`
	AgreedPrice     *float64 `json:"agreed_price,omitempty" validate:"omitempty,gte=0"`
}

// RequestFilter narrows the owner/requester list views
type RequestFilter struct {
	Status *BookingRequestStatus
	Kind   *ListingKind
	Limit  int
	Offset int
}

// Actor is the authenticated caller of a booking operation
type Actor struct {
	UserID  uuid.UUID
	IsAdmin bool
}

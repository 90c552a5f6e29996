package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// LISTING KINDS & STATUSES
// ============================================================================

// ListingKind identifies what a listing offers
type ListingKind string

const (
	ListingKindRoom      ListingKind = "room"
	ListingKindTicketLot ListingKind = "ticket_lot"
	ListingKindRide      ListingKind = "ride"
	ListingKindLostFound ListingKind = "lost_found"
)

// ListingStatus represents the lifecycle status of a listing
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusResolved  ListingStatus = "resolved"
	ListingStatusExpired   ListingStatus = "expired"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// CapacityMode describes how a listing's capacity is counted
type CapacityMode string

const (
	CapacityBinary  CapacityMode = "binary"  // single slot: occupied/claimed or not
	CapacityCounted CapacityMode = "counted" // N seats / N tickets
)

// KindSpec is the per-kind descriptor the booking engine is parametrized by
type KindSpec struct {
	Kind                 ListingKind
	CapacityMode         CapacityMode
	ExpiresOnSchedule    bool // scheduled_at in the past expires the listing
	ResolveWhenExhausted bool // listing flips to resolved when remaining hits 0
	UnitLabel            string
}

var kindSpecs = map[ListingKind]KindSpec{
	ListingKindRoom: {
		Kind:                 ListingKindRoom,
		CapacityMode:         CapacityBinary,
		ExpiresOnSchedule:    false,
		ResolveWhenExhausted: true,
		UnitLabel:            "room",
	},
	ListingKindTicketLot: {
		Kind:                 ListingKindTicketLot,
		CapacityMode:         CapacityCounted,
		ExpiresOnSchedule:    true,
		ResolveWhenExhausted: false,
		UnitLabel:            "tickets",
	},
	ListingKindRide: {
		Kind:                 ListingKindRide,
		CapacityMode:         CapacityCounted,
		ExpiresOnSchedule:    true,
		ResolveWhenExhausted: false,
		UnitLabel:            "seats",
	},
	ListingKindLostFound: {
		Kind:                 ListingKindLostFound,
		CapacityMode:         CapacityBinary,
		ExpiresOnSchedule:    false,
		ResolveWhenExhausted: true,
		UnitLabel:            "claim",
	},
}

// Spec returns the descriptor for the kind and whether the kind is known
func (k ListingKind) Spec() (KindSpec, bool) {
	s, ok := kindSpecs[k]
	return s, ok
}

// IsValid reports whether k is one of the known listing kinds
func (k ListingKind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// AllListingKinds returns every known kind in a stable order
func AllListingKinds() []ListingKind {
	return []ListingKind{ListingKindRoom, ListingKindTicketLot, ListingKindRide, ListingKindLostFound}
}

// ExpiringListingKinds returns the kinds whose scheduled_at participates in expiry
func ExpiringListingKinds() []ListingKind {
	kinds := make([]ListingKind, 0, len(kindSpecs))
	for _, k := range AllListingKinds() {
		if kindSpecs[k].ExpiresOnSchedule {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// ============================================================================
// LISTING
// ============================================================================

// Listing represents an owner-published offer with finite capacity
type Listing struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	OwnerID           uuid.UUID     `db:"owner_id" json:"owner_id"`
	Kind              ListingKind   `db:"kind" json:"kind"`
	Title             string        `db:"title" json:"title"`
	ScheduledAt       *time.Time    `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TotalCapacity     int           `db:"total_capacity" json:"total_capacity"`
	RemainingCapacity int           `db:"remaining_capacity" json:"remaining_capacity"`
	Status            ListingStatus `db:"status" json:"status"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// IsOwnedBy reports whether userID owns the listing
func (l *Listing) IsOwnedBy(userID uuid.UUID) bool {
	return l.OwnerID == userID
}

// IsPastSchedule reports whether the listing's scheduled time is strictly before now
func (l *Listing) IsPastSchedule(now time.Time) bool {
	return l.ScheduledAt != nil && l.ScheduledAt.Before(now)
}

// CreateListingRequest is the payload to publish a listing
type CreateListingRequest struct {
	Kind          ListingKind `json:"kind" validate:"required"`
	Title         string      `json:"title" validate:"required,max=200"`
	ScheduledAt   *time.Time  `json:"scheduled_at,omitempty"`
	TotalCapacity int         `json:"total_capacity" validate:"gte=0,lte=500"`
}

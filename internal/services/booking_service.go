package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/campusmart/marketplace-backend/internal/cache"
	"github.com/campusmart/marketplace-backend/internal/database"
	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ListingStore is the listing side of the relational store
type ListingStore interface {
	CreateListing(ctx context.Context, listing *models.Listing) error
	GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindExpiredListings(ctx context.Context, kind models.ListingKind, now time.Time, limit int) ([]*models.Listing, error)
	ExpireListing(ctx context.Context, listingID uuid.UUID, now time.Time, reason string) (bool, int64, error)
}

// RequestLedger is the booking request side of the relational store
type RequestLedger interface {
	CreateRequest(ctx context.Context, req *models.BookingRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error)
	GetRequestView(ctx context.Context, id uuid.UUID) (*models.BookingRequestView, error)
	FindOpenRequest(ctx context.Context, listingID, requesterID uuid.UUID) (*models.BookingRequest, error)
	ListReceived(ctx context.Context, ownerID uuid.UUID, filter models.RequestFilter) ([]models.BookingRequestView, error)
	ListSent(ctx context.Context, requesterID uuid.UUID, filter models.RequestFilter) ([]models.BookingRequestView, error)
	AcceptRequest(ctx context.Context, p database.AcceptParams) (*database.AcceptResult, error)
	RejectRequest(ctx context.Context, id uuid.UUID, responseMessage *string) (*models.BookingRequest, error)
	CancelRequest(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error)
	PurgeTerminalRequests(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookingService runs the request lifecycle for every listing kind: creation
// and query views here, owner responses in response_resolver.go and requester
// cancellation in cancellation.go. Capacity is only consumed on acceptance.
type BookingService struct {
	listings  ListingStore
	requests  RequestLedger
	validator *PayloadValidator
	guard     cache.SubmitGuard
	publisher events.Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

// NewBookingService creates a new BookingService. A nil guard or publisher
// falls back to a no-op.
func NewBookingService(
	listings ListingStore,
	requests RequestLedger,
	validator *PayloadValidator,
	guard cache.SubmitGuard,
	publisher events.Publisher,
	logger *logrus.Logger,
) *BookingService {
	if guard == nil {
		guard = cache.NoopGuard{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &BookingService{
		listings:  listings,
		requests:  requests,
		validator: validator,
		guard:     guard,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ============================================================================
// LISTINGS
// ============================================================================

// CreateListing publishes a listing owned by the caller with full remaining capacity
func (s *BookingService) CreateListing(ctx context.Context, actor models.Actor, payload models.CreateListingRequest) (*models.Listing, error) {
	if err := s.validator.ValidateCreateListing(&payload, s.now()); err != nil {
		return nil, err
	}
	spec, _ := payload.Kind.Spec()

	capacity := payload.TotalCapacity
	if spec.CapacityMode == models.CapacityBinary {
		capacity = 1
	}

	listing := &models.Listing{
		OwnerID:           actor.UserID,
		Kind:              payload.Kind,
		Title:             strings.TrimSpace(payload.Title),
		ScheduledAt:       payload.ScheduledAt,
		TotalCapacity:     capacity,
		RemainingCapacity: capacity,
		Status:            models.ListingStatusActive,
	}
	if err := s.listings.CreateListing(ctx, listing); err != nil {
		s.logger.WithError(err).Error("Failed to create listing")
		return nil, unavailable("create listing", err)
	}

	s.logger.WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"kind":       listing.Kind,
		"owner_id":   listing.OwnerID,
		"capacity":   listing.TotalCapacity,
	}).Info("Listing created")
	return listing, nil
}

// GetListing returns a listing by ID
func (s *BookingService) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.listings.GetListingByID(ctx, id)
	if err != nil {
		return nil, s.mapLoadError("listing", err)
	}
	return listing, nil
}

// ============================================================================
// CREATE REQUEST
// ============================================================================

// CreateRequest records a pending request from actor against a listing. Every
// competing requester may hold a pending request at once; the owner picks
// among them when responding. Not idempotent: a retry re-checks for an
// existing pending request before inserting.
func (s *BookingService) CreateRequest(ctx context.Context, actor models.Actor, listingID uuid.UUID, payload models.CreateBookingRequestPayload) (*models.BookingRequestView, error) {
	if err := s.validator.ValidateCreateRequest(&payload); err != nil {
		return nil, err
	}

	listing, err := s.listings.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, s.mapLoadError("listing", err)
	}
	if listing.Status != models.ListingStatusActive {
		return nil, conflict("listing is %s and no longer accepts requests", listing.Status)
	}

	spec, ok := listing.Kind.Spec()
	if !ok {
		return nil, invalidOperation("listing kind %q does not accept requests", listing.Kind)
	}
	if spec.ExpiresOnSchedule && listing.IsPastSchedule(s.now()) {
		return nil, conflict("listing has expired")
	}

	if listing.IsOwnedBy(actor.UserID) {
		return nil, invalidOperation("you cannot request your own listing")
	}

	quantity, err := s.validator.ResolveQuantity(spec, listing, payload.Quantity)
	if err != nil {
		return nil, err
	}
	if quantity > listing.RemainingCapacity {
		return nil, conflict("only %d %s remaining but %d requested", listing.RemainingCapacity, spec.UnitLabel, quantity)
	}

	release, acquired, err := s.guard.Acquire(ctx, listing.ID, actor.UserID)
	switch {
	case err != nil:
		// The unique index still arbitrates; the guard only smooths double-submits
		s.logger.WithError(err).WithField("listing_id", listing.ID).Warn("Submit guard unavailable")
	case !acquired:
		return nil, conflict("a request for this listing is already being submitted")
	default:
		defer release()
	}

	existing, err := s.requests.FindOpenRequest(ctx, listing.ID, actor.UserID)
	if err != nil {
		s.logger.WithError(err).WithField("listing_id", listing.ID).Error("Failed to check existing request")
		return nil, unavailable("check existing request", err)
	}
	if existing != nil {
		return nil, conflict("you already have a %s request for this listing", existing.Status)
	}

	req := &models.BookingRequest{
		ListingID:         listing.ID,
		ListingKind:       listing.Kind,
		RequesterID:       actor.UserID,
		OwnerID:           listing.OwnerID,
		QuantityRequested: quantity,
		Message:           strings.TrimSpace(payload.Message),
		ContactMethod:     strings.TrimSpace(payload.ContactMethod),
		OfferedPrice:      payload.OfferedPrice,
		ProofDescription:  payload.ProofDescription,
	}
	if err := s.requests.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, database.ErrDuplicatePendingRequest) {
			return nil, conflict("you already have a pending request for this listing")
		}
		s.logger.WithError(err).WithField("listing_id", listing.ID).Error("Failed to create booking request")
		return nil, unavailable("create request", err)
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"listing_id":   listing.ID,
		"kind":         listing.Kind,
		"requester_id": actor.UserID,
		"quantity":     quantity,
	}).Info("Booking request created")

	s.publish(ctx, events.RequestCreated, req, actor.UserID, "")
	return viewOf(req, listing), nil
}

// ============================================================================
// QUERY VIEWS
// ============================================================================

// GetRequest returns a request visible to its requester, the listing owner or an admin
func (s *BookingService) GetRequest(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.BookingRequestView, error) {
	view, err := s.requests.GetRequestView(ctx, requestID)
	if err != nil {
		return nil, s.mapLoadError("request", err)
	}
	if view.RequesterID != actor.UserID && view.OwnerID != actor.UserID && !actor.IsAdmin {
		return nil, forbidden("you are not a party to this request")
	}
	return view, nil
}

// ListRequestsReceived lists requests against listings the actor owns
func (s *BookingService) ListRequestsReceived(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.BookingRequestView, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	views, err := s.requests.ListReceived(ctx, actor.UserID, filter)
	if err != nil {
		s.logger.WithError(err).WithField("owner_id", actor.UserID).Error("Failed to list received requests")
		return nil, unavailable("list received requests", err)
	}
	return views, nil
}

// ListRequestsSent lists requests the actor authored, any status
func (s *BookingService) ListRequestsSent(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.BookingRequestView, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	views, err := s.requests.ListSent(ctx, actor.UserID, filter)
	if err != nil {
		s.logger.WithError(err).WithField("requester_id", actor.UserID).Error("Failed to list sent requests")
		return nil, unavailable("list sent requests", err)
	}
	return views, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func validateFilter(filter models.RequestFilter) error {
	if filter.Status != nil && !filter.Status.IsValid() {
		return invalidField("status", "unknown request status")
	}
	if filter.Kind != nil && !filter.Kind.IsValid() {
		return invalidField("kind", "unknown listing kind")
	}
	return nil
}

func (s *BookingService) mapLoadError(what string, err error) error {
	switch {
	case errors.Is(err, database.ErrListingNotFound):
		return notFound("listing not found")
	case errors.Is(err, database.ErrRequestNotFound):
		return notFound("request not found")
	}
	s.logger.WithError(err).Errorf("Failed to load %s", what)
	return unavailable("load "+what, err)
}

// publish is best effort; delivery failures never fail the booking operation
func (s *BookingService) publish(ctx context.Context, typ events.Type, req *models.BookingRequest, actorID uuid.UUID, detail string) {
	requestID := req.ID
	event := events.Event{
		Type:      typ,
		ListingID: req.ListingID,
		RequestID: &requestID,
		ActorID:   &actorID,
		Status:    string(req.Status),
		Detail:    detail,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event":      typ,
			"request_id": req.ID,
		}).Warn("Failed to publish booking event")
	}
}

func viewOf(req *models.BookingRequest, listing *models.Listing) *models.BookingRequestView {
	return &models.BookingRequestView{
		BookingRequest:     *req,
		ListingTitle:       listing.Title,
		ListingStatus:      listing.Status,
		ListingScheduledAt: listing.ScheduledAt,
		ListingRemaining:   listing.RemainingCapacity,
	}
}

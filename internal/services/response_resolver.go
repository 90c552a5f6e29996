package services

import (
	"context"
	"errors"

	"github.com/campusmart/marketplace-backend/internal/database"
	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Respond lets the listing owner (or an admin) accept or reject a pending request.
//
// Acceptance decrements remaining capacity with a conditional update before the
// request changes state. When the decrement finds too little capacity the call
// fails with Conflict and the request stays pending, so the owner can still
// reject it or pick another requester.
func (s *BookingService) Respond(ctx context.Context, actor models.Actor, requestID uuid.UUID, payload models.RespondPayload) (*models.BookingRequestView, error) {
	if err := s.validator.ValidateRespond(&payload); err != nil {
		return nil, err
	}

	req, err := s.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.mapLoadError("request", err)
	}

	listing, err := s.listings.GetListingByID(ctx, req.ListingID)
	if err != nil {
		return nil, s.mapLoadError("listing", err)
	}

	// Ownership comes from the listing row; only the explicit admin capability bypasses it
	if !listing.IsOwnedBy(actor.UserID) && !actor.IsAdmin {
		return nil, forbidden("only the listing owner can respond to this request")
	}

	if req.Status != models.BookingRequestPending {
		return nil, conflict("request is already %s", req.Status)
	}

	switch payload.Decision {
	case models.DecisionReject:
		return s.reject(ctx, actor, req, listing, payload)
	case models.DecisionAccept:
		return s.accept(ctx, actor, req, listing, payload)
	}
	return nil, invalidField("decision", "must be one of: accept reject")
}

func (s *BookingService) reject(ctx context.Context, actor models.Actor, req *models.BookingRequest, listing *models.Listing, payload models.RespondPayload) (*models.BookingRequestView, error) {
	updated, err := s.requests.RejectRequest(ctx, req.ID, payload.ResponseMessage)
	if err != nil {
		if errors.Is(err, database.ErrRequestNotPending) {
			return nil, s.staleStatusConflict(ctx, req.ID)
		}
		s.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to reject booking request")
		return nil, unavailable("reject request", err)
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"listing_id": listing.ID,
		"actor_id":   actor.UserID,
		"admin":      actor.IsAdmin,
	}).Info("Booking request rejected")

	s.publish(ctx, events.RequestRejected, updated, actor.UserID, "")
	return viewOf(updated, listing), nil
}

func (s *BookingService) accept(ctx context.Context, actor models.Actor, req *models.BookingRequest, listing *models.Listing, payload models.RespondPayload) (*models.BookingRequestView, error) {
	spec, ok := listing.Kind.Spec()
	if !ok {
		return nil, invalidOperation("listing kind %q does not accept requests", listing.Kind)
	}

	quantity := req.QuantityRequested
	if payload.AgreedQuantity != nil {
		quantity = *payload.AgreedQuantity
	}
	if quantity < 1 || quantity > req.QuantityRequested {
		return nil, invalidField("agreed_quantity", "must be between 1 and the requested quantity")
	}

	if listing.Status != models.ListingStatusActive {
		return nil, conflict("listing is %s and can no longer accept requests", listing.Status)
	}
	// The sweeper may not have run yet
	if spec.ExpiresOnSchedule && listing.IsPastSchedule(s.now()) {
		return nil, conflict("listing has expired")
	}

	result, err := s.requests.AcceptRequest(ctx, database.AcceptParams{
		RequestID:            req.ID,
		ListingID:            listing.ID,
		Quantity:             quantity,
		AgreedPrice:          payload.AgreedPrice,
		ResponseMessage:      payload.ResponseMessage,
		ResolveWhenExhausted: spec.ResolveWhenExhausted,
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrInsufficientCapacity):
			s.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"listing_id": listing.ID,
				"quantity":   quantity,
			}).Info("Acceptance lost capacity race; request left pending")
			return nil, &BookingError{Kind: KindConflict, Message: err.Error()}
		case errors.Is(err, database.ErrListingNotActive):
			return nil, &BookingError{Kind: KindConflict, Message: err.Error()}
		case errors.Is(err, database.ErrListingNotFound):
			return nil, notFound("listing not found")
		case errors.Is(err, database.ErrRequestNotPending):
			return nil, s.staleStatusConflict(ctx, req.ID)
		}
		s.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to accept booking request")
		return nil, unavailable("accept request", err)
	}

	listing.RemainingCapacity = result.RemainingCapacity
	listing.Status = result.ListingStatus

	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"listing_id": listing.ID,
		"actor_id":   actor.UserID,
		"admin":      actor.IsAdmin,
		"quantity":   quantity,
		"remaining":  result.RemainingCapacity,
	}).Info("Booking request accepted")

	s.publish(ctx, events.RequestAccepted, result.Request, actor.UserID, "")
	if result.ListingStatus == models.ListingStatusResolved {
		s.publishListing(ctx, events.ListingResolved, listing, "capacity exhausted")
	}
	return viewOf(result.Request, listing), nil
}

// staleStatusConflict re-reads a request whose guarded update matched nothing
// and reports its current status
func (s *BookingService) staleStatusConflict(ctx context.Context, requestID uuid.UUID) error {
	current, err := s.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		return s.mapLoadError("request", err)
	}
	return conflict("request is already %s", current.Status)
}

func (s *BookingService) publishListing(ctx context.Context, typ events.Type, listing *models.Listing, detail string) {
	event := events.Event{
		Type:      typ,
		ListingID: listing.ID,
		Status:    string(listing.Status),
		Detail:    detail,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("listing_id", listing.ID).Warn("Failed to publish listing event")
	}
}

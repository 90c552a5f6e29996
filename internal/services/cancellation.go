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

// Cancel withdraws the requester's pending or rejected request. Cancelling an
// already cancelled request returns it unchanged. Accepted requests cannot be
// withdrawn here: the capacity is committed and there is no refund flow.
func (s *BookingService) Cancel(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.BookingRequest, error) {
	req, err := s.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.mapLoadError("request", err)
	}

	if req.RequesterID != actor.UserID && !actor.IsAdmin {
		return nil, forbidden("only the requester can cancel this request")
	}

	switch req.Status {
	case models.BookingRequestCancelled:
		return req, nil
	case models.BookingRequestAccepted:
		return nil, acceptedCancelError()
	}

	updated, err := s.requests.CancelRequest(ctx, req.ID)
	if err != nil {
		if !errors.Is(err, database.ErrRequestNotCancellable) {
			s.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to cancel booking request")
			return nil, unavailable("cancel request", err)
		}
		// Lost a race with the owner or the sweeper; report where it landed
		current, loadErr := s.requests.GetRequestByID(ctx, req.ID)
		if loadErr != nil {
			return nil, s.mapLoadError("request", loadErr)
		}
		switch current.Status {
		case models.BookingRequestCancelled:
			return current, nil
		case models.BookingRequestAccepted:
			return nil, acceptedCancelError()
		}
		return nil, conflict("request is %s and cannot be cancelled", current.Status)
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"listing_id": req.ListingID,
		"actor_id":   actor.UserID,
		"admin":      actor.IsAdmin,
	}).Info("Booking request cancelled")

	s.publish(ctx, events.RequestCancelled, updated, actor.UserID, "")
	return updated, nil
}

func acceptedCancelError() error {
	return invalidOperation("request was already accepted; contact the owner to undo it")
}

package services

import (
	"context"
	"testing"

	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancel(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memStore, *recordingPublisher, *BookingService, models.Actor, models.Actor, *models.BookingRequestView) {
		store := newMemStore()
		pub := &recordingPublisher{}
		svc := newTestService(store, pub)
		owner, requester := student(), student()
		listing := createListing(t, svc, owner, models.ListingKindTicketLot, 5)
		req, err := svc.CreateRequest(ctx, requester, listing.ID, requestPayload(intPtr(2)))
		require.NoError(t, err)
		return store, pub, svc, owner, requester, req
	}

	t.Run("pending request", func(t *testing.T) {
		store, pub, svc, _, requester, req := setup(t)

		cancelled, err := svc.Cancel(ctx, requester, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingRequestCancelled, cancelled.Status)
		assert.Contains(t, pub.types(), events.RequestCancelled)

		stored, _ := store.request(req.ID)
		assert.Equal(t, models.BookingRequestCancelled, stored.Status)
	})

	t.Run("rejected request", func(t *testing.T) {
		_, _, svc, owner, requester, req := setup(t)
		_, err := svc.Respond(ctx, owner, req.ID, reject())
		require.NoError(t, err)

		cancelled, err := svc.Cancel(ctx, requester, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingRequestCancelled, cancelled.Status)
	})

	t.Run("cancelling twice is a no-op", func(t *testing.T) {
		_, pub, svc, _, requester, req := setup(t)
		_, err := svc.Cancel(ctx, requester, req.ID)
		require.NoError(t, err)

		again, err := svc.Cancel(ctx, requester, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingRequestCancelled, again.Status)

		var cancelEvents int
		for _, typ := range pub.types() {
			if typ == events.RequestCancelled {
				cancelEvents++
			}
		}
		assert.Equal(t, 1, cancelEvents)
	})

	t.Run("accepted request cannot be withdrawn", func(t *testing.T) {
		store, _, svc, owner, requester, req := setup(t)
		_, err := svc.Respond(ctx, owner, req.ID, accept())
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, requester, req.ID)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidOperation))

		stored, _ := store.request(req.ID)
		assert.Equal(t, models.BookingRequestAccepted, stored.Status)
		assert.Equal(t, 3, store.listing(req.ListingID).RemainingCapacity)
	})

	t.Run("only the requester or an admin", func(t *testing.T) {
		_, _, svc, owner, _, req := setup(t)

		_, err := svc.Cancel(ctx, owner, req.ID)
		assert.True(t, IsKind(err, KindForbidden))

		_, err = svc.Cancel(ctx, student(), req.ID)
		assert.True(t, IsKind(err, KindForbidden))

		cancelled, err := svc.Cancel(ctx, models.Actor{UserID: uuid.New(), IsAdmin: true}, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingRequestCancelled, cancelled.Status)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, _, svc, _, requester, _ := setup(t)
		_, err := svc.Cancel(ctx, requester, uuid.New())
		assert.True(t, IsKind(err, KindNotFound))
	})
}

// lateAcceptStore accepts the request between the service's read and its
// guarded cancel, as an owner racing the requester would
type lateAcceptStore struct {
	*memStore
	accepted bool
}

func (s *lateAcceptStore) CancelRequest(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error) {
	if !s.accepted {
		s.accepted = true
		r, _ := s.memStore.GetRequestByID(ctx, id)
		_, err := s.memStore.AcceptRequest(ctx, acceptParamsFor(r))
		if err != nil {
			return nil, err
		}
	}
	return s.memStore.CancelRequest(ctx, id)
}

func TestCancel_LosesRaceToAcceptance(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	store := &lateAcceptStore{memStore: mem}
	svc := NewBookingService(mem, store, NewPayloadValidator(testLimits()), nil, nil, testLogger())
	owner, requester := student(), student()
	listing := createListing(t, svc, owner, models.ListingKindRoom, 1)
	req, err := svc.CreateRequest(ctx, requester, listing.ID, requestPayload(nil))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, requester, req.ID)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidOperation))

	stored, _ := mem.request(req.ID)
	assert.Equal(t, models.BookingRequestAccepted, stored.Status)
}

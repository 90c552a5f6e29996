package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accept() models.RespondPayload { return models.RespondPayload{Decision: models.DecisionAccept} }

func reject() models.RespondPayload { return models.RespondPayload{Decision: models.DecisionReject} }

func TestRespond_RideScenario(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)
	owner := student()
	ride := createListing(t, svc, owner, models.ListingKindRide, 2)

	a, err := svc.CreateRequest(ctx, student(), ride.ID, requestPayload(intPtr(2)))
	require.NoError(t, err)
	b, err := svc.CreateRequest(ctx, student(), ride.ID, requestPayload(intPtr(1)))
	require.NoError(t, err)

	accepted, err := svc.Respond(ctx, owner, a.ID, accept())
	require.NoError(t, err)
	assert.Equal(t, models.BookingRequestAccepted, accepted.Status)
	require.NotNil(t, accepted.AgreedQuantity)
	assert.Equal(t, 2, *accepted.AgreedQuantity)
	assert.Equal(t, 0, accepted.ListingRemaining)
	assert.Equal(t, models.ListingStatusActive, accepted.ListingStatus, "rides stay active when full")

	_, err = svc.Respond(ctx, owner, b.ID, accept())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))
	assert.Contains(t, err.Error(), "only 0 remaining but 1 requested")

	stillPending, _ := store.request(b.ID)
	assert.Equal(t, models.BookingRequestPending, stillPending.Status)

	rejected, err := svc.Respond(ctx, owner, b.ID, reject())
	require.NoError(t, err)
	assert.Equal(t, models.BookingRequestRejected, rejected.Status)

	assert.Equal(t, 0, store.listing(ride.ID).RemainingCapacity)
	assert.Equal(t, []events.Type{
		events.RequestCreated, events.RequestCreated, events.RequestAccepted, events.RequestRejected,
	}, pub.types())
}

func TestRespond_BinaryKindResolves(t *testing.T) {
	for _, kind := range []models.ListingKind{models.ListingKindRoom, models.ListingKindLostFound} {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			store := newMemStore()
			pub := &recordingPublisher{}
			svc := newTestService(store, pub)
			owner := student()
			listing := createListing(t, svc, owner, kind, 1)

			winner, err := svc.CreateRequest(ctx, student(), listing.ID, requestPayload(nil))
			require.NoError(t, err)
			loser, err := svc.CreateRequest(ctx, student(), listing.ID, requestPayload(nil))
			require.NoError(t, err)

			view, err := svc.Respond(ctx, owner, winner.ID, models.RespondPayload{
				Decision:        models.DecisionAccept,
				ResponseMessage: strPtr("Keys at the front desk"),
			})
			require.NoError(t, err)
			assert.Equal(t, models.ListingStatusResolved, view.ListingStatus)
			assert.Equal(t, "Keys at the front desk", *view.ResponseMessage)
			assert.Contains(t, pub.types(), events.ListingResolved)

			_, err = svc.Respond(ctx, owner, loser.ID, accept())
			assert.True(t, IsKind(err, KindConflict))
			assert.Contains(t, err.Error(), "resolved")

			// Resolved listings take no new requests
			_, err = svc.CreateRequest(ctx, student(), listing.ID, requestPayload(nil))
			assert.True(t, IsKind(err, KindConflict))
		})
	}
}

func TestRespond_AgreedTerms(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, nil)
	owner := student()
	tickets := createListing(t, svc, owner, models.ListingKindTicketLot, 10)

	req, err := svc.CreateRequest(ctx, student(), tickets.ID, models.CreateBookingRequestPayload{
		Quantity: intPtr(4), Message: "Four for the group", ContactMethod: "email", OfferedPrice: floatPtr(40),
	})
	require.NoError(t, err)

	_, err = svc.Respond(ctx, owner, req.ID, models.RespondPayload{Decision: models.DecisionAccept, AgreedQuantity: intPtr(5)})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidationFailed))
	assert.Contains(t, err.Error(), "agreed_quantity")

	view, err := svc.Respond(ctx, owner, req.ID, models.RespondPayload{
		Decision: models.DecisionAccept, AgreedQuantity: intPtr(3), AgreedPrice: floatPtr(36),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, *view.AgreedQuantity)
	assert.Equal(t, 36.0, *view.AgreedPrice)
	assert.Equal(t, 7, store.listing(tickets.ID).RemainingCapacity)
}

func TestRespond_RejectWithTermsIsInvalid(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, nil)
	owner := student()
	listing := createListing(t, svc, owner, models.ListingKindRide, 3)
	req, err := svc.CreateRequest(ctx, student(), listing.ID, requestPayload(nil))
	require.NoError(t, err)

	_, err = svc.Respond(ctx, owner, req.ID, models.RespondPayload{Decision: models.DecisionReject, AgreedQuantity: intPtr(1)})
	assert.True(t, IsKind(err, KindValidationFailed))

	_, err = svc.Respond(ctx, owner, req.ID, models.RespondPayload{Decision: "maybe"})
	assert.True(t, IsKind(err, KindValidationFailed))
}

func TestRespond_Authorization(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, nil)
	owner, requester := student(), student()
	listing := createListing(t, svc, owner, models.ListingKindRoom, 1)
	req, err := svc.CreateRequest(ctx, requester, listing.ID, requestPayload(nil))
	require.NoError(t, err)

	t.Run("stranger is forbidden", func(t *testing.T) {
		_, err := svc.Respond(ctx, student(), req.ID, accept())
		assert.True(t, IsKind(err, KindForbidden))
	})

	t.Run("requester cannot accept their own request", func(t *testing.T) {
		_, err := svc.Respond(ctx, requester, req.ID, accept())
		assert.True(t, IsKind(err, KindForbidden))
	})

	t.Run("owner of another listing is forbidden", func(t *testing.T) {
		otherOwner := student()
		createListing(t, svc, otherOwner, models.ListingKindRoom, 1)
		_, err := svc.Respond(ctx, otherOwner, req.ID, accept())
		assert.True(t, IsKind(err, KindForbidden))
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := svc.Respond(ctx, owner, uuid.New(), accept())
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("admin flag overrides ownership", func(t *testing.T) {
		admin := models.Actor{UserID: uuid.New(), IsAdmin: true}
		view, err := svc.Respond(ctx, admin, req.ID, reject())
		require.NoError(t, err)
		assert.Equal(t, models.BookingRequestRejected, view.Status)
	})

	t.Run("terminal request cannot be answered again", func(t *testing.T) {
		_, err := svc.Respond(ctx, owner, req.ID, accept())
		assert.True(t, IsKind(err, KindConflict))
		assert.Contains(t, err.Error(), "already rejected")
	})
}

func TestRespond_StoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, nil)
	owner := student()
	listing := createListing(t, svc, owner, models.ListingKindRoom, 1)
	req, err := svc.CreateRequest(ctx, student(), listing.ID, requestPayload(nil))
	require.NoError(t, err)

	store.failAccept = errStoreDown
	_, err = svc.Respond(ctx, owner, req.ID, accept())
	assert.True(t, IsKind(err, KindUnavailable))

	stillPending, _ := store.request(req.ID)
	assert.Equal(t, models.BookingRequestPending, stillPending.Status)
	assert.Equal(t, 1, store.listing(listing.ID).RemainingCapacity)
}

// Concurrent acceptances never take more capacity than the listing has
func TestRespond_ConcurrentAcceptsNeverOverAllocate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, nil)
	owner := student()
	const seats = 5
	ride := createListing(t, svc, owner, models.ListingKindRide, seats)

	var ids []uuid.UUID
	for i := 0; i < 12; i++ {
		qty := 1 + i%2
		view, err := svc.CreateRequest(ctx, student(), ride.ID, requestPayload(intPtr(qty)))
		require.NoError(t, err)
		ids = append(ids, view.ID)
	}

	var wg sync.WaitGroup
	var taken int32
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			view, err := svc.Respond(ctx, owner, id, accept())
			if err != nil {
				assert.True(t, IsKind(err, KindConflict), err.Error())
				return
			}
			atomic.AddInt32(&taken, int32(*view.AgreedQuantity))
		}(id)
	}
	wg.Wait()

	remaining := store.listing(ride.ID).RemainingCapacity
	assert.GreaterOrEqual(t, remaining, 0)
	assert.Equal(t, seats, int(taken)+remaining)

	var acceptedSum int
	for _, id := range ids {
		r, _ := store.request(id)
		switch r.Status {
		case models.BookingRequestAccepted:
			acceptedSum += *r.AgreedQuantity
		case models.BookingRequestPending:
		default:
			t.Errorf("request %s ended %s", id, r.Status)
		}
	}
	assert.Equal(t, int(taken), acceptedSum)
	assert.LessOrEqual(t, acceptedSum, seats)
}

func floatPtr(f float64) *float64 { return &f }

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/campusmart/marketplace-backend/internal/config"
	"github.com/campusmart/marketplace-backend/internal/database"
	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// memStore is an in-memory ListingStore and RequestLedger. Every method holds
// the lock for its whole body, which gives the same atomicity as the SQL
// transactions in the database package.
type memStore struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*models.Listing
	requests map[uuid.UUID]*models.BookingRequest

	failAccept error
	failExpire map[uuid.UUID]error
}

func newMemStore() *memStore {
	return &memStore{
		listings:   make(map[uuid.UUID]*models.Listing),
		requests:   make(map[uuid.UUID]*models.BookingRequest),
		failExpire: make(map[uuid.UUID]error),
	}
}

func (m *memStore) CreateListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt, l.UpdatedAt = time.Now(), time.Now()
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *memStore) GetListingByID(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, database.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) FindExpiredListings(_ context.Context, kind models.ListingKind, now time.Time, limit int) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Listing
	for _, l := range m.listings {
		if l.Kind == kind && l.Status == models.ListingStatusActive && l.ScheduledAt != nil && l.ScheduledAt.Before(now) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ExpireListing(_ context.Context, id uuid.UUID, now time.Time, reason string) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failExpire[id]; err != nil {
		return false, 0, err
	}
	l, ok := m.listings[id]
	if !ok || l.Status != models.ListingStatusActive || l.ScheduledAt == nil || !l.ScheduledAt.Before(now) {
		return false, 0, nil
	}
	l.Status = models.ListingStatusExpired
	l.UpdatedAt = now

	var cancelled int64
	for _, r := range m.requests {
		if r.ListingID == id && r.Status == models.BookingRequestPending {
			msg := reason
			r.Status = models.BookingRequestCancelled
			r.ResponseMessage = &msg
			r.RespondedAt = &now
			r.UpdatedAt = now
			cancelled++
		}
	}
	return true, cancelled, nil
}

func (m *memStore) CreateRequest(_ context.Context, req *models.BookingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.ListingID == req.ListingID && r.RequesterID == req.RequesterID && r.Status == models.BookingRequestPending {
			return database.ErrDuplicatePendingRequest
		}
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now()
	req.Status = models.BookingRequestPending
	req.CreatedAt, req.UpdatedAt = now, now
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *memStore) GetRequestByID(_ context.Context, id uuid.UUID) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, database.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetRequestView(_ context.Context, id uuid.UUID) (*models.BookingRequestView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, database.ErrRequestNotFound
	}
	return m.viewLocked(r), nil
}

func (m *memStore) viewLocked(r *models.BookingRequest) *models.BookingRequestView {
	l := m.listings[r.ListingID]
	return &models.BookingRequestView{
		BookingRequest:     *r,
		ListingTitle:       l.Title,
		ListingStatus:      l.Status,
		ListingScheduledAt: l.ScheduledAt,
		ListingRemaining:   l.RemainingCapacity,
	}
}

func (m *memStore) FindOpenRequest(_ context.Context, listingID, requesterID uuid.UUID) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.BookingRequest
	for _, r := range m.requests {
		if r.ListingID != listingID || r.RequesterID != requesterID {
			continue
		}
		switch r.Status {
		case models.BookingRequestPending:
			cp := *r
			return &cp, nil
		case models.BookingRequestAccepted:
			cp := *r
			found = &cp
		}
	}
	return found, nil
}

func (m *memStore) list(match func(*models.BookingRequest) bool, f models.RequestFilter) []models.BookingRequestView {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BookingRequestView
	for _, r := range m.requests {
		if !match(r) {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Kind != nil && r.ListingKind != *f.Kind {
			continue
		}
		out = append(out, *m.viewLocked(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListReceived(_ context.Context, ownerID uuid.UUID, f models.RequestFilter) ([]models.BookingRequestView, error) {
	return m.list(func(r *models.BookingRequest) bool {
		return m.listings[r.ListingID].OwnerID == ownerID
	}, f), nil
}

func (m *memStore) ListSent(_ context.Context, requesterID uuid.UUID, f models.RequestFilter) ([]models.BookingRequestView, error) {
	return m.list(func(r *models.BookingRequest) bool { return r.RequesterID == requesterID }, f), nil
}

func (m *memStore) AcceptRequest(_ context.Context, p database.AcceptParams) (*database.AcceptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAccept != nil {
		return nil, m.failAccept
	}

	l, ok := m.listings[p.ListingID]
	if !ok {
		return nil, database.ErrListingNotFound
	}
	if l.Status != models.ListingStatusActive {
		return nil, fmt.Errorf("listing is %s: %w", l.Status, database.ErrListingNotActive)
	}
	if l.RemainingCapacity < p.Quantity {
		return nil, fmt.Errorf("only %d remaining but %d requested: %w", l.RemainingCapacity, p.Quantity, database.ErrInsufficientCapacity)
	}

	r, ok := m.requests[p.RequestID]
	if !ok || r.Status != models.BookingRequestPending {
		return nil, database.ErrRequestNotPending
	}

	now := time.Now()
	l.RemainingCapacity -= p.Quantity
	if l.RemainingCapacity == 0 && p.ResolveWhenExhausted {
		l.Status = models.ListingStatusResolved
	}
	l.UpdatedAt = now

	qty := p.Quantity
	r.Status = models.BookingRequestAccepted
	r.AgreedQuantity = &qty
	r.AgreedPrice = p.AgreedPrice
	r.ResponseMessage = p.ResponseMessage
	r.RespondedAt = &now
	r.UpdatedAt = now

	cp := *r
	return &database.AcceptResult{Request: &cp, RemainingCapacity: l.RemainingCapacity, ListingStatus: l.Status}, nil
}

func (m *memStore) RejectRequest(_ context.Context, id uuid.UUID, msg *string) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.BookingRequestPending {
		return nil, database.ErrRequestNotPending
	}
	now := time.Now()
	r.Status = models.BookingRequestRejected
	r.ResponseMessage = msg
	r.RespondedAt = &now
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (m *memStore) CancelRequest(_ context.Context, id uuid.UUID) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || (r.Status != models.BookingRequestPending && r.Status != models.BookingRequestRejected) {
		return nil, database.ErrRequestNotCancellable
	}
	r.Status = models.BookingRequestCancelled
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *memStore) PurgeTerminalRequests(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.requests {
		if (r.Status == models.BookingRequestCancelled || r.Status == models.BookingRequestRejected) && r.UpdatedAt.Before(cutoff) {
			delete(m.requests, id)
			n++
		}
	}
	return n, nil
}

// helpers for tests

func (m *memStore) listing(id uuid.UUID) models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.listings[id]
}

func (m *memStore) request(id uuid.UUID) (models.BookingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.BookingRequest{}, false
	}
	return *r, true
}

func (m *memStore) setUpdatedAt(id uuid.UUID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[id].UpdatedAt = t
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// denyGuard refuses every acquisition, or fails when err is set
type denyGuard struct{ err error }

func (g denyGuard) Acquire(context.Context, uuid.UUID, uuid.UUID) (func(), bool, error) {
	if g.err != nil {
		return nil, false, g.err
	}
	return nil, false, nil
}

var errStoreDown = errors.New("connection refused")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testLimits() config.BookingConfig {
	return config.BookingConfig{MessageMaxLength: 1000, MaxTicketQuantity: 20, MaxSeatQuantity: 8}
}

func newTestService(store *memStore, pub events.Publisher) *BookingService {
	return NewBookingService(store, store, NewPayloadValidator(testLimits()), nil, pub, testLogger())
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func acceptParamsFor(r *models.BookingRequest) database.AcceptParams {
	spec, _ := r.ListingKind.Spec()
	return database.AcceptParams{
		RequestID:            r.ID,
		ListingID:            r.ListingID,
		Quantity:             r.QuantityRequested,
		ResolveWhenExhausted: spec.ResolveWhenExhausted,
	}
}

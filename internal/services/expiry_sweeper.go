package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// maxBatchesPerKind bounds one pass so a stuck listing cannot spin a tick forever
const maxBatchesPerKind = 50

// SweepReport summarizes one sweeper run
type SweepReport struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	ExpiredListings   int           `json:"expired_listings"`
	CancelledRequests int64         `json:"cancelled_requests"`
	PurgedRequests    int64         `json:"purged_requests"`
	Errors            []string      `json:"errors,omitempty"`
}

// ExpirySweeper expires listings whose scheduled time has passed and purges
// old cancelled/rejected requests. Both passes are idempotent; a failed pass
// is logged and picked up again on the next tick.
type ExpirySweeper struct {
	listings  ListingStore
	requests  RequestLedger
	publisher events.Publisher
	logger    *logrus.Logger
	retention time.Duration
	batchSize int
	now       func() time.Time

	mu      sync.Mutex
	running bool
	last    *SweepReport
}

// NewExpirySweeper creates a new sweeper
func NewExpirySweeper(
	listings ListingStore,
	requests RequestLedger,
	publisher events.Publisher,
	logger *logrus.Logger,
	retention time.Duration,
	batchSize int,
) *ExpirySweeper {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		listings:  listings,
		requests:  requests,
		publisher: publisher,
		logger:    logger,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// RunOnce runs both passes. Overlapping runs are skipped rather than queued.
func (s *ExpirySweeper) RunOnce(ctx context.Context) SweepReport {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Sweep already in progress, skipping")
		return SweepReport{StartedAt: s.now(), Errors: []string{"sweep already in progress"}}
	}
	s.running = true
	s.mu.Unlock()

	report := SweepReport{StartedAt: s.now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		s.mu.Lock()
		s.running = false
		last := report
		s.last = &last
		s.mu.Unlock()
	}()

	for _, kind := range models.ExpiringListingKinds() {
		if err := s.guard("expire "+string(kind), func() error {
			return s.expireKind(ctx, kind, &report)
		}); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	if err := s.guard("purge", func() error {
		purged, err := s.PurgeStaleRequests(ctx)
		report.PurgedRequests = purged
		return err
	}); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	s.logger.WithFields(logrus.Fields{
		"expired_listings":   report.ExpiredListings,
		"cancelled_requests": report.CancelledRequests,
		"purged_requests":    report.PurgedRequests,
		"errors":             len(report.Errors),
	}).Info("Sweep finished")

	return report
}

// LastReport returns the most recent completed run, if any
func (s *ExpirySweeper) LastReport() *SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	last := *s.last
	return &last
}

// expireKind expires every past-schedule active listing of one kind. The store
// re-checks status and schedule inside its transaction, so a listing resolved
// after it was read is left alone.
func (s *ExpirySweeper) expireKind(ctx context.Context, kind models.ListingKind, report *SweepReport) error {
	now := s.now()
	var failures int

	for batch := 0; batch < maxBatchesPerKind; batch++ {
		listings, err := s.listings.FindExpiredListings(ctx, kind, now, s.batchSize)
		if err != nil {
			return fmt.Errorf("find expired %s listings: %w", kind, err)
		}

		for _, listing := range listings {
			expired, cancelled, err := s.listings.ExpireListing(ctx, listing.ID, now, models.ListingExpiredReason)
			if err != nil {
				failures++
				s.logger.WithError(err).WithField("listing_id", listing.ID).Error("Failed to expire listing")
				continue
			}
			if !expired {
				continue
			}

			report.ExpiredListings++
			report.CancelledRequests += cancelled
			listing.Status = models.ListingStatusExpired

			s.logger.WithFields(logrus.Fields{
				"listing_id":         listing.ID,
				"kind":               kind,
				"cancelled_requests": cancelled,
			}).Info("Listing expired")

			if err := s.publisher.Publish(ctx, events.Event{
				Type:      events.ListingExpired,
				ListingID: listing.ID,
				Status:    string(models.ListingStatusExpired),
				Detail:    fmt.Sprintf("%d pending requests cancelled", cancelled),
			}); err != nil {
				s.logger.WithError(err).WithField("listing_id", listing.ID).Warn("Failed to publish listing event")
			}
		}

		if failures > 0 || len(listings) < s.batchSize {
			break
		}
	}

	if failures > 0 {
		return fmt.Errorf("expire %s listings: %d failed", kind, failures)
	}
	return nil
}

// PurgeStaleRequests deletes cancelled and rejected requests untouched for the
// retention window. Accepted requests are kept as the record of a booking.
func (s *ExpirySweeper) PurgeStaleRequests(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	purged, err := s.requests.PurgeTerminalRequests(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge stale requests: %w", err)
	}
	if purged > 0 {
		s.logger.WithFields(logrus.Fields{
			"purged": purged,
			"cutoff": cutoff,
		}).Info("Purged stale booking requests")
	}
	return purged, nil
}

// guard runs one pass and turns a panic into an error so the remaining passes still run
func (s *ExpirySweeper) guard(pass string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", pass, r)
		}
		if err != nil {
			s.logger.WithError(err).WithField("pass", pass).Error("Sweep pass failed")
		}
	}()
	return fn()
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// sweepTimeout caps a single scheduled sweep
const sweepTimeout = 10 * time.Minute

// Sweeper is the job the cron service drives
type Sweeper interface {
	RunOnce(ctx context.Context) SweepReport
	LastReport() *SweepReport
}

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	logger   *logrus.Logger
}

// NewCronService creates a new CronService. schedule uses the seconds-first
// cron format, e.g. "0 0 * * * *" for the top of every hour.
func NewCronService(sweeper Sweeper, schedule string, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:     cron.New(cron.WithSeconds()),
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
	}
}

// Start schedules the sweep and starts the scheduler
func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweepJob); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("Scheduled: expiry sweep")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) sweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	s.logger.Info("[CRON] Starting expiry sweep")
	report := s.sweeper.RunOnce(ctx)
	if len(report.Errors) > 0 {
		s.logger.WithField("errors", report.Errors).Warn("[CRON] Expiry sweep finished with errors; next tick retries")
		return
	}
	s.logger.WithField("duration", report.Duration).Info("[CRON] Expiry sweep finished")
}

// RunSweepNow runs the sweep immediately (admin trigger)
func (s *CronService) RunSweepNow(ctx context.Context) SweepReport {
	s.logger.Info("[MANUAL] Running expiry sweep now")
	return s.sweeper.RunOnce(ctx)
}

// LastReport returns the most recent finished sweep, scheduled or manual
func (s *CronService) LastReport() *SweepReport {
	return s.sweeper.LastReport()
}

// JobStatus describes one scheduled job
type JobStatus struct {
	ID      int       `json:"id"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run"`
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() []JobStatus {
	entries := s.cron.Entries()
	jobs := make([]JobStatus, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, JobStatus{
			ID:      int(entry.ID),
			NextRun: entry.Next,
			PrevRun: entry.Prev,
		})
	}
	return jobs
}

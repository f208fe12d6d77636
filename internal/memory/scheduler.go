package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Tenant identifies one consolidation target.
type Tenant struct {
	AgencyID string
	UserID   string
}

// Scheduler runs consolidation for a fixed tenant set on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	store   *Store
	tenants []Tenant
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a scheduler. spec is a standard 5-field cron
// expression (e.g. "0 3 * * *" for daily at 03:00).
func NewScheduler(store *Store, spec string, tenants []Tenant) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		store:   store,
		tenants: tenants,
		timeout: 5 * time.Minute,
		logger:  slog.Default(),
	}
	if _, err := s.cron.AddFunc(spec, s.runAll); err != nil {
		return nil, fmt.Errorf("registering consolidation schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runAll consolidates every tenant sequentially. One tenant's failure does
// not stop the others.
func (s *Scheduler) runAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, t := range s.tenants {
		report, err := s.store.Consolidate(ctx, t.UserID, t.AgencyID)
		if err != nil {
			s.logger.Error("scheduled consolidation failed",
				"agency_id", t.AgencyID, "user_id", t.UserID, "error", err)
			continue
		}
		s.logger.Debug("scheduled consolidation ran",
			"agency_id", t.AgencyID, "promoted", report.Promoted)
	}
}

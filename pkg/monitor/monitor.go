// Package monitor schedules periodic system-invariant sweeps. Entity and
// batch validation run inline with mutations; system-wide invariants
// concern the whole persisted population and are checked on a timer
// instead.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quorumsec/warden/pkg/async"
	"github.com/quorumsec/warden/pkg/observability"
	"github.com/quorumsec/warden/pkg/validation"
)

// sweepTimeout bounds one sweep; gateway queries past this are abandoned
const sweepTimeout = 2 * time.Minute

// Sweeper is the orchestrator surface the monitor needs
type Sweeper interface {
	ValidateSystemInvariants(ctx context.Context) (*validation.Result, error)
}

// Monitor runs system-invariant sweeps on a cron schedule
type Monitor struct {
	sweeper  Sweeper
	logger   *observability.Logger
	schedule string
	cron     *cron.Cron
	entryID  cron.EntryID
}

// New creates a monitor. schedule is a cron expression; descriptors like
// "@every 5m" are accepted.
func New(sweeper Sweeper, schedule string, logger *observability.Logger) (*Monitor, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &Monitor{
		sweeper:  sweeper,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}, nil
}

// Start begins scheduling sweeps. One sweep runs immediately so a fresh
// process reports system health without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) error {
	entryID, err := m.cron.AddFunc(m.schedule, func() {
		m.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule system invariant sweep: %w", err)
	}
	m.entryID = entryID
	m.cron.Start()
	m.runSweep(ctx)

	m.logger.WithField("schedule", m.schedule).Info("system invariant monitor started")
	return nil
}

// Stop halts scheduling. A sweep already in flight finishes on its own.
func (m *Monitor) Stop() {
	m.cron.Stop()
	m.logger.Info("system invariant monitor stopped")
}

// runSweep launches one sweep in the background so a slow gateway never
// blocks the cron scheduler thread.
func (m *Monitor) runSweep(ctx context.Context) {
	async.SafeGo(ctx, sweepTimeout, "system invariant sweep", m.logger, func(ctx context.Context) error {
		start := time.Now()
		result, err := m.sweeper.ValidateSystemInvariants(ctx)
		if err != nil {
			return fmt.Errorf("system invariant sweep failed: %w", err)
		}

		logger := m.logger.WithFields(map[string]interface{}{
			"violations": len(result.Violations),
			"elapsed":    time.Since(start).String(),
		})
		if result.Valid {
			logger.Debug("system invariant sweep clean")
			return nil
		}
		for _, v := range result.Violations {
			logger.WithFields(map[string]interface{}{
				"rule": v.Rule,
				"code": v.Code,
			}).Warn(v.String())
		}
		return nil
	})
}

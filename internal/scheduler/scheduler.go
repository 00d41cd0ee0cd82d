// Package scheduler fires the periodic refresh that re-syncs every exchange
// connection. The cadence is fixed-interval in UTC with a bounded misfire
// grace, and the lifecycle is tied to the process: Start at boot, Stop on
// shutdown after draining in-flight jobs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/metrics"
	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/persistence"
	syncsvc "github.com/perpjournal/tradesync/internal/sync"
)

// Runner executes one connection's sync job; *sync.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, connectionID string) (syncsvc.Result, error)
}

// Scheduler drives periodic syncs over all connections.
type Scheduler struct {
	connections  persistence.ConnectionsRepo
	orchestrator Runner
	interval     time.Duration
	misfireGrace time.Duration
	metrics      *metrics.Registry

	now func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	jobs    sync.WaitGroup
}

// New builds a scheduler. interval defaults to 24h and misfireGrace to 1h
// when zero; metrics may be nil.
func New(connections persistence.ConnectionsRepo, orch Runner, interval, misfireGrace time.Duration, reg *metrics.Registry) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if misfireGrace <= 0 {
		misfireGrace = time.Hour
	}
	return &Scheduler{
		connections:  connections,
		orchestrator: orch,
		interval:     interval,
		misfireGrace: misfireGrace,
		metrics:      reg,
		now:          time.Now,
	}
}

// Start launches the cadence loop. The first firing happens one interval
// after start; callers wanting an immediate sweep call RunSweep directly.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go s.loop(ctx)
	log.Info().Dur("interval", s.interval).Dur("misfire_grace", s.misfireGrace).Msg("scheduler started")
}

// Stop halts new firings and waits for in-flight jobs to drain or the context
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)

	next := s.now().UTC().Add(s.interval)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			lateness := s.now().UTC().Sub(next)
			if lateness > s.misfireGrace {
				// The process slept past the grace window; skip this
				// firing rather than run a stale sweep.
				log.Warn().Dur("late_by", lateness).Msg("scheduler misfire past grace window, skipping")
				s.count("skipped")
			} else {
				if lateness > 0 {
					s.count("misfire")
				} else {
					s.count("on_time")
				}
				s.RunSweep(ctx)
			}

			for !next.After(s.now().UTC()) {
				next = next.Add(s.interval)
			}
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) count(kind string) {
	if s.metrics != nil {
		s.metrics.SchedulerFirings.WithLabelValues(kind).Inc()
	}
}

// RunSweep enumerates all connections and triggers a sync job for each one
// not already in progress. Jobs run concurrently; the sweep returns without
// waiting for them. ctx only bounds the listing: jobs run detached, because
// canceling a claimed job mid-flight would strand its row in_progress when
// the failure write runs on the same dead context.
func (s *Scheduler) RunSweep(ctx context.Context) {
	conns, err := s.connections.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler failed to list connections")
		return
	}

	for _, conn := range conns {
		if conn.LastSyncStatus == model.SyncInProgress {
			continue
		}
		id := conn.ID
		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			if _, err := s.orchestrator.Run(context.Background(), id); err != nil && !errors.Is(err, syncsvc.ErrAlreadyRunning) {
				// Already logged and recorded on the row; a faulted job
				// never takes the scheduler down with it.
				log.Debug().Str("connection_id", id).Err(err).Msg("scheduled sync failed")
			}
		}()
	}
	log.Info().Int("connections", len(conns)).Msg("scheduler sweep dispatched")
}

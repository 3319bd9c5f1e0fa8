// Package sweeper times out abandoned sessions and reclaims their sandboxes.
package sweeper

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/deepagents-dev/deepagents/internal/metrics"
	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
)

const (
	// DefaultSessionTimeout is how long a session may live before the
	// sweep reclaims it.
	DefaultSessionTimeout = 30 * time.Minute
	// DefaultInterval is how often the sweep runs.
	DefaultInterval = time.Minute
)

// Sweeper periodically times out active sessions past their lifetime.
type Sweeper struct {
	store    *store.Store
	sandbox  sandbox.Manager
	metrics  *metrics.Metrics
	timeout  time.Duration
	interval time.Duration
	log      logr.Logger
}

// New creates a Sweeper.
func New(st *store.Store, sb sandbox.Manager, m *metrics.Metrics,
	timeout, interval time.Duration, log logr.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    st,
		sandbox:  sb,
		metrics:  m,
		timeout:  timeout,
		interval: interval,
		log:      log.WithName("sweeper"),
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error(err, "sweep pass finished with errors")
			}
		}
	}
}

// SweepOnce moves every active session older than the timeout to the timeout
// state and reclaims its sandbox. Age is measured from creation: sessions are
// bounded-lifetime, there is no heartbeat. Failures on individual sessions
// are collected so one bad session cannot shield the rest.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.timeout)
	stale, err := s.store.ListActiveSessionsCreatedBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for _, session := range stale {
		s.log.Info("timing out session", "session", session.ID, "createdAt", session.CreatedAt)

		if err := s.store.SetSessionStatus(ctx, session.ID, store.SessionTimeout); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if session.SandboxPod != "" {
			s.sandbox.Cleanup(ctx, session.ID)
		}
		if s.metrics != nil {
			s.metrics.SessionsSweptTotal.Inc()
		}
	}
	return errs.ErrorOrNil()
}

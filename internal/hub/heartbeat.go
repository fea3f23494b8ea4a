package hub

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"relayhub/internal/domain"
	"relayhub/internal/metrics"
)

// Reference heartbeat timings. A connection that answers no ping across two
// consecutive sweeps is reclaimed.
const (
	DefaultSweepInterval = 6 * time.Second
	DefaultIdleAfter     = 5 * time.Second
	DefaultRefreshEvery  = 10 * time.Minute
)

// Supervisor periodically sweeps the registry: idle connections get a
// transport ping, unresponsive ones are terminated. It also owns the
// best-effort periodic refresh of the resolver's upstream credential,
// decoupled from any individual connection.
type Supervisor struct {
	hub *Hub
	log zerolog.Logger
	clk clock.Clock

	interval     time.Duration
	idleAfter    time.Duration
	refreshEvery time.Duration
	refresher    domain.CredentialRefresher // nil disables refresh
}

// NewSupervisor builds a Supervisor over h. Non-positive durations fall back
// to the defaults; refresher may be nil.
func NewSupervisor(h *Hub, log zerolog.Logger, clk clock.Clock, interval, idleAfter, refreshEvery time.Duration, refresher domain.CredentialRefresher) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	if refreshEvery <= 0 {
		refreshEvery = DefaultRefreshEvery
	}
	return &Supervisor{
		hub:          h,
		log:          log,
		clk:          clk,
		interval:     interval,
		idleAfter:    idleAfter,
		refreshEvery: refreshEvery,
		refresher:    refresher,
	}
}

// Run sweeps on a fixed period until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) error {
	ticker := sv.clk.Ticker(sv.interval)
	defer ticker.Stop()
	lastRefresh := sv.clk.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sv.Sweep()
			if sv.refresher != nil && sv.clk.Now().Sub(lastRefresh) >= sv.refreshEvery {
				lastRefresh = sv.clk.Now()
				sv.refresh(ctx)
			}
		}
	}
}

// Sweep runs one heartbeat pass over every live session.
func (sv *Supervisor) Sweep() {
	now := sv.clk.Now()
	for _, s := range sv.hub.Sessions() {
		if !s.Alive() {
			// The previous cycle's ping got no pong.
			metrics.HeartbeatTerminations.Inc()
			s.Terminate(domain.CloseProtocolError, "heartbeat timeout")
			continue
		}
		if now.Sub(s.LastSeen()) > sv.idleAfter {
			s.MarkIdle()
			if err := s.Ping(); err != nil {
				s.log.Warn().Err(err).Msg("ping error")
				s.Terminate(domain.CloseProtocolError, "ping error")
			}
		}
	}
}

func (sv *Supervisor) refresh(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, sv.interval)
	defer cancel()
	if err := sv.refresher.Refresh(rctx); err != nil {
		sv.log.Warn().Err(err).Msg("credential refresh failed")
		return
	}
	sv.log.Debug().Msg("credential refreshed")
}

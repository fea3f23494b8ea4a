package app

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"relayhub/internal/auth"
	"relayhub/internal/crypto"
	"relayhub/internal/domain"
	"relayhub/internal/hub"
	"relayhub/internal/transport"
)

// Wire bundles the constructed hub, transport server and supervisor.
type Wire struct {
	Log        zerolog.Logger
	Hub        *hub.Hub
	Server     *transport.Server
	Supervisor *hub.Supervisor
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg *Config, log zerolog.Logger) (*Wire, error) {
	clk := clock.New()

	var (
		resolver  domain.IdentityResolver
		refresher domain.CredentialRefresher
	)
	if cfg.AuthProvider != "" {
		client := auth.NewClient(cfg.AuthProvider, cfg.RefreshToken, nil, func(string) {
			log.Debug().Msg("refresh token rotated")
		})
		resolver = client
		refresher = client
	} else {
		log.Warn().Msg("no auth provider configured; tokens resolve to themselves")
		resolver = auth.Static{}
	}

	h := hub.New(log, resolver, crypto.NewProvider(), clk)
	srv := transport.NewServer(h, log, cfg.Listen)
	sv := hub.NewSupervisor(h, log, clk,
		cfg.Heartbeat.Interval.Duration,
		cfg.Heartbeat.IdleAfter.Duration,
		cfg.Heartbeat.RefreshEvery.Duration,
		refresher)

	return &Wire{Log: log, Hub: h, Server: srv, Supervisor: sv}, nil
}

// Run starts the server and the supervisor and blocks until ctx is
// cancelled or either of them fails.
func (w *Wire) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Server.Run(ctx) })
	g.Go(func() error { return w.Supervisor.Run(ctx) })
	return g.Wait()
}

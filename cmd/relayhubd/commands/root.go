package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"relayhub/internal/app"
)

var (
	cfgPath  string
	listen   string
	logLevel string
)

func Execute() error {
	root := &cobra.Command{
		Use:   "relayhubd",
		Short: "Encrypted identity-addressed relay hub",
		Long: "relayhubd accepts WebSocket connections, brokers a per-connection\n" +
			"key exchange, and relays encrypted envelopes between identities.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(cfgPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

			w, err := app.NewWire(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}

	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to TOML config file")
	root.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	return root.Execute()
}

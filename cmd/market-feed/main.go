// cmd/market-feed/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/app"
	"github.com/YaganovValera/market-feed/internal/config"
	"github.com/YaganovValera/market-feed/pkg/binance"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

type flags struct {
	configPath  string
	market      string
	streams     []string
	printConfig bool
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config file (YAML); empty → defaults + FEED_* env")
	fs.StringVar(&f.market, "market", "", "override feed.market (spot|futures)")
	fs.StringSliceVarP(&f.streams, "stream", "s", nil, "stream to subscribe at startup, repeatable (e.g. btcusdt@kline_1m)")
	fs.BoolVar(&f.printConfig, "print-config", false, "print the effective config and exit")
}

// apply overrides the loaded config with explicitly set flags.
func (f *flags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("market") {
		cfg.Feed.Market = binance.Market(f.market)
		cfg.Feed.RateLimitPerSecond = 0
	}
	if fs.Changed("stream") {
		cfg.Feed.Streams = append(cfg.Feed.Streams, f.streams...)
	}
	cfg.Feed.ApplyDefaults()
	return cfg.Validate()
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "market-feed",
		Short:         "Resilient Binance combined-stream market data feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if err := f.apply(cmd.Flags(), cfg); err != nil {
				return fmt.Errorf("flags: %w", err)
			}
			if f.printConfig {
				return cfg.Print(cmd.OutOrStdout())
			}

			log, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info("starting service",
				zap.String("service.name", cfg.ServiceName),
				zap.String("service.version", cfg.ServiceVersion),
			)
			if err := app.Run(ctx, cfg, log); err != nil {
				log.Error("application exited with error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "market-feed: %v\n", err)
		os.Exit(1)
	}
}

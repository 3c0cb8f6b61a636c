package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/config"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override environment values
	flagSet := pflag.NewFlagSet("gazetech-coordinator", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP port")
	flagSet.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "HTTP bind address")
	flagSet.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	flagSet.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "development logging")
	flagSet.StringVar(&cfg.Settings.Path, "settings", cfg.Settings.Path, "settings file (.json, .yaml or .toml)")
	flagSet.DurationVar(&cfg.Protocol.BroadcastInterval, "broadcast-interval", cfg.Protocol.BroadcastInterval, "camera sync broadcast interval")
	flagSet.BoolVar(&cfg.RateLimit.Enabled, "rate-limit", cfg.RateLimit.Enabled, "enable HTTP rate limiting")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reloadOnHangup(ctx, srv)

	return srv.Run(ctx)
}

// reloadOnHangup re-reads the settings file on SIGHUP.
func reloadOnHangup(ctx context.Context, srv *server.Server) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := srv.ReloadSettings(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "settings reload: %v\n", err)
			}
		}
	}
}

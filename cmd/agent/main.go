package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apihttp "github.com/makroumprog/gaze-navigate-click-zoom/internal/api/http"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/api/ws"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/agent"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/camera"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/tracking"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/config"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

type options struct {
	coordinatorURL string
	settingsURL    string
	tabID          string
	pageURL        string
	title          string
	logLevel       string
	dev            bool
	start          bool
	shipLevel      string
	shipInterval   time.Duration

	denyPermission bool
	failFirst      int
	latency        time.Duration
	frameInterval  time.Duration
	revokeAfter    time.Duration
	statusInterval time.Duration
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.LoadOrDefault()

	opts := options{
		coordinatorURL: "ws://localhost:" + cfg.Server.Port + "/agent",
		settingsURL:    "http://localhost:" + cfg.Server.Port,
		pageURL:        "https://example.com/",
		logLevel:       cfg.Logging.Level,
		dev:            cfg.Logging.Development,
		frameInterval:  33 * time.Millisecond,
		statusInterval: 5 * time.Second,
		start:          true,
		shipLevel:      "warn",
		shipInterval:   5 * time.Second,
	}

	flagSet := pflag.NewFlagSet("gazetech-agent", pflag.ContinueOnError)
	flagSet.StringVar(&opts.coordinatorURL, "coordinator", opts.coordinatorURL, "coordinator WebSocket URL")
	flagSet.StringVar(&opts.settingsURL, "settings-url", opts.settingsURL, "coordinator base URL for settings")
	flagSet.StringVar(&opts.tabID, "tab", "", "tab ID (random when empty)")
	flagSet.StringVar(&opts.pageURL, "url", opts.pageURL, "page URL announced to the coordinator")
	flagSet.StringVar(&opts.title, "title", "", "page title")
	flagSet.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")
	flagSet.BoolVar(&opts.dev, "dev", opts.dev, "development logging")
	flagSet.BoolVar(&opts.start, "start", opts.start, "press start: acquire the camera without waiting for the coordinator")
	flagSet.StringVar(&opts.shipLevel, "ship-level", opts.shipLevel, "lowest level forwarded to the coordinator log (empty disables)")
	flagSet.DurationVar(&opts.shipInterval, "ship-interval", opts.shipInterval, "how often forwarded logs are sent")
	flagSet.BoolVar(&opts.denyPermission, "deny-permission", false, "simulate a denied camera permission")
	flagSet.IntVar(&opts.failFirst, "fail-first", 0, "fail the first N camera requests as busy")
	flagSet.DurationVar(&opts.latency, "latency", 0, "simulated camera acquisition latency")
	flagSet.DurationVar(&opts.frameInterval, "frame-interval", opts.frameInterval, "synthetic frame interval")
	flagSet.DurationVar(&opts.revokeAfter, "revoke-after", 0, "end the camera track after this long (0 disables)")
	flagSet.DurationVar(&opts.statusInterval, "status-interval", opts.statusInterval, "how often to log agent status")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := logging.NewFromSettings(opts.logLevel, opts.dev)
	defer func() { _ = logger.Sync() }()

	tab := id.TabID(opts.tabID)
	if tab == "" {
		tab = id.NewTabID()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.shipLevel != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(opts.shipLevel)); err != nil {
			return fmt.Errorf("ship level: %w", err)
		}
		shipper := apihttp.NewLogShipper(opts.settingsURL, tab.String(), level)
		logger = logger.Tee(shipper)

		shipCtx, stopShipping := context.WithCancel(context.Background())
		shipped := make(chan struct{})
		go func() {
			defer close(shipped)
			shipper.Run(shipCtx, opts.shipInterval)
		}()
		defer func() {
			stopShipping()
			<-shipped
		}()
	}

	device := camera.NewSimDevice()
	device.DenyPermission(opts.denyPermission)
	device.SetLatency(opts.latency)
	device.EmitFrames(opts.frameInterval)
	if opts.failFirst > 0 {
		device.FailNext(opts.failFirst, camera.ErrDeviceBusy)
	}

	agentCfg := agent.DefaultConfig(tab)
	agentCfg.AcquireTimeout = cfg.Protocol.AcquireTimeout
	agentCfg.RequestTimeout = cfg.Protocol.RequestTimeout
	agentCfg.HeartbeatInterval = cfg.Protocol.HeartbeatInterval
	agentCfg.LivenessInterval = cfg.Protocol.LivenessInterval
	agentCfg.Backoff.Base = cfg.Protocol.RestoreBaseDelay
	agentCfg.Backoff.Cap = cfg.Protocol.RestoreMaxDelay
	agentCfg.Backoff.MaxAttempts = cfg.Protocol.MaxRestoreAttempts

	client, err := ws.Dial(ctx, opts.coordinatorURL, types.Hello{
		TabID:     tab,
		SessionID: agentCfg.SessionID,
		URL:       opts.pageURL,
		Title:     opts.title,
	}, ws.ClientOptions{
		RequestTimeout: cfg.Protocol.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("connect to coordinator: %w", err)
	}
	defer client.Close()

	tracker := tracking.NewLoop(tracking.ReadyLoader(tracking.CenteredDetector{MissEvery: 30})).
		WithLogger(logger)

	a := agent.New(agentCfg, client, device).
		WithSettings(settings.NewHTTPClient(opts.settingsURL, cfg.Protocol.RequestTimeout)).
		WithTracker(tracker).
		WithLogger(logger)

	go func() {
		for d := range client.Directives() {
			a.HandleDirective(d)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	logger.Info("Agent started",
		zap.String("tab_id", tab.String()),
		zap.String("coordinator", opts.coordinatorURL))
	if opts.start && !a.StartTracking() {
		logger.Info("Start ignored, camera already active or tracking disabled")
	}

	var revoke <-chan time.Time
	if opts.revokeAfter > 0 {
		timer := time.NewTimer(opts.revokeAfter)
		defer timer.Stop()
		revoke = timer.C
	}
	status := time.NewTicker(opts.statusInterval)
	defer status.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-client.Done():
			runErr = client.Err()
			if runErr == nil {
				runErr = errors.New("coordinator connection closed")
			}
			break loop
		case <-revoke:
			logger.Info("Revoking camera track")
			device.Revoke()
		case <-status.C:
			s := a.Status()
			frames, faces := tracker.Stats()
			logger.Info("Agent status",
				zap.String("state", s.State.String()),
				zap.Int("restoration_attempts", s.RestorationAttempts),
				zap.Int("acquisitions", s.Acquisitions),
				zap.Uint64("frames", frames),
				zap.Uint64("faces", faces),
				zap.Float64("acquire_p95_ms", s.Latency.P95MS))
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && !errors.Is(err, agent.ErrClosed) {
		logger.Warn("Agent close failed", zap.Error(err))
	}
	return runErr
}

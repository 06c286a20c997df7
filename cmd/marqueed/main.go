package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/marquee-signage/marquee/internal/config"
	"github.com/marquee-signage/marquee/internal/marquee"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	marqueedLogEnv = "MARQUEED_LOGLEVEL"
	backendOptions = "Backend Options"
	displayOptions = "Display Options"
	timingOptions  = "Timing Options"
	cacheOptions   = "Cache Options"
)

// This variable is set using ldflags at build time. See Makefile for details.
var Version = "dev"

// Optionally set at build time using ldflags
var DefaultBackendURL = ""

func newLogger(debug bool) (*zap.Logger, *zap.AtomicLevel, error) {
	if os.Getenv(marqueedLogEnv) != "" {
		logCfg := zap.NewDevelopmentConfig()
		logger, err := logCfg.Build()
		if err == nil {
			logger.Info("Debug logging enabled")
		}
		return logger, &logCfg.Level, err
	}
	logCfg := zap.NewProductionConfig()
	logCfg.DisableStacktrace = true
	if debug {
		logCfg.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := logCfg.Build()
	return logger, &logCfg.Level, err
}

// loadConfig layers the flags that were set over the config file.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return cfg, err
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	if url := command.Args().First(); url != "" {
		cfg.BackendURL = url
	}
	if command.Args().Len() > 1 {
		return cfg, fmt.Errorf("marqueed only takes one positional argument, the backend URL. Additional arguments ignored: %s", command.Args().Tail())
	}

	stringFlags := map[string]*string{
		"state-dir":       &cfg.StateDir,
		"ctl-socket":      &cfg.CtlSocket,
		"renderer-listen": &cfg.RendererListen,
		"cache-max-size":  &cfg.Cache.MaxSize,
	}
	for name, target := range stringFlags {
		if command.IsSet(name) {
			*target = command.String(name)
		}
	}
	durations := map[string]*time.Duration{
		"pairing-poll-interval": &cfg.Timing.PairingPoll,
		"config-poll-interval":  &cfg.Timing.ConfigPoll,
		"heartbeat-interval":    &cfg.Timing.Heartbeat,
		"connect-timeout":       &cfg.Timing.ConnectTimeout,
		"video-stall-timeout":   &cfg.Timing.VideoStallTimeout,
	}
	for name, target := range durations {
		if command.IsSet(name) {
			*target = command.Duration(name)
		}
	}
	if command.IsSet("allowed-origin") {
		cfg.AllowedOrigins = command.StringSlice("allowed-origin")
	}
	if command.IsSet("insecure-skip-tls-verify") {
		cfg.InsecureSkipTLSVerify = command.Bool("insecure-skip-tls-verify")
	}
	return cfg, cfg.Validate()
}

func marqueedRun(ctx context.Context, command *cli.Command) error {
	logger, logLevel, err := newLogger(command.Bool("debug"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	if _, err := marquee.CallMarqueed(cfg.CtlSocket, "Version", ""); err == nil {
		return fmt.Errorf("existing marqueed service already running")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	pprof_init(ctx, command, logger)

	logger.Info("Starting marqueed", zap.String("version", Version), zap.String("backend", cfg.BackendURL))
	mq, err := marquee.New(ctx, logger.Sugar(), logLevel, cfg, Version, nil)
	if err != nil {
		logger.Fatal(err.Error())
	}

	wg := &sync.WaitGroup{}
	if err := mq.Start(ctx, wg); err != nil {
		logger.Fatal(err.Error())
	}
	<-ctx.Done()
	wg.Wait()
	mq.Stop()

	return nil
}

func main() {
	// a .env next to the binary is optional
	_ = godotenv.Load()

	// Override to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	defaults := config.Default()
	app := &cli.Command{
		Name:      "marqueed",
		Usage:     "Display agent that pairs a screen with a signage backend and plays its content.",
		ArgsUsage: "backend-url",
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Get the version of marqueed",
				Action: func(ctx context.Context, command *cli.Command) error {
					fmt.Printf("version: %s\n", Version)
					return nil
				},
			},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("MARQUEED_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config `file`",
				Sources: cli.EnvVars("MARQUEED_CONFIG"),
			},
			&cli.BoolFlag{
				Name:     "insecure-skip-tls-verify",
				Value:    false,
				Usage:    "If true, server certificates will not be checked for validity. This will make your HTTPS connections insecure",
				Sources:  cli.EnvVars("MARQUEED_INSECURE_SKIP_TLS_VERIFY"),
				Category: backendOptions,
			},
			&cli.DurationFlag{
				Name:     "connect-timeout",
				Value:    defaults.Timing.ConnectTimeout,
				Usage:    "How long pairing waits for the backend before showing a connection error",
				Sources:  cli.EnvVars("MARQUEED_CONNECT_TIMEOUT"),
				Category: backendOptions,
			},
			&cli.StringFlag{
				Name:     "state-dir",
				Value:    defaults.StateDir,
				Usage:    "Directory to store the identity, last known good content and media cache",
				Sources:  cli.EnvVars("MARQUEED_STATE_DIR"),
				Category: displayOptions,
			},
			&cli.StringFlag{
				Name:     "ctl-socket",
				Value:    defaults.CtlSocket,
				Usage:    "Unix socket the marqueectl commands connect to",
				Sources:  cli.EnvVars("MARQUEED_CTL_SOCKET"),
				Category: displayOptions,
			},
			&cli.StringFlag{
				Name:     "renderer-listen",
				Value:    defaults.RendererListen,
				Usage:    "Address the kiosk renderer connects to",
				Sources:  cli.EnvVars("MARQUEED_RENDERER_LISTEN"),
				Category: displayOptions,
			},
			&cli.StringSliceFlag{
				Name:     "allowed-origin",
				Usage:    "Additional browser `origin` allowed to connect to the renderer bridge",
				Sources:  cli.EnvVars("MARQUEED_ALLOWED_ORIGINS"),
				Category: displayOptions,
			},
			&cli.DurationFlag{
				Name:     "pairing-poll-interval",
				Value:    defaults.Timing.PairingPoll,
				Usage:    "How often a shown pairing code is checked",
				Sources:  cli.EnvVars("MARQUEED_PAIRING_POLL_INTERVAL"),
				Category: timingOptions,
			},
			&cli.DurationFlag{
				Name:     "config-poll-interval",
				Value:    defaults.Timing.ConfigPoll,
				Usage:    "How often the player config is fetched",
				Sources:  cli.EnvVars("MARQUEED_CONFIG_POLL_INTERVAL"),
				Category: timingOptions,
			},
			&cli.DurationFlag{
				Name:     "heartbeat-interval",
				Value:    defaults.Timing.Heartbeat,
				Usage:    "How often a paired display reports in",
				Sources:  cli.EnvVars("MARQUEED_HEARTBEAT_INTERVAL"),
				Category: timingOptions,
			},
			&cli.DurationFlag{
				Name:     "video-stall-timeout",
				Value:    defaults.Timing.VideoStallTimeout,
				Usage:    "Advance a video that has not ended after this long, 0 disables it",
				Sources:  cli.EnvVars("MARQUEED_VIDEO_STALL_TIMEOUT"),
				Category: timingOptions,
			},
			&cli.StringFlag{
				Name:     "cache-max-size",
				Value:    defaults.Cache.MaxSize,
				Usage:    "Upper bound for cached media, for example 2GiB",
				Sources:  cli.EnvVars("MARQUEED_CACHE_MAX_SIZE"),
				Category: cacheOptions,
			},
		},
		Action: marqueedRun,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/yairfalse/colorbot/config"
	"github.com/yairfalse/colorbot/internal/bot"
	"github.com/yairfalse/colorbot/internal/daemon"
	"github.com/yairfalse/colorbot/platform/discord"
	"github.com/yairfalse/colorbot/policy"
	"github.com/yairfalse/colorbot/storage"
	"github.com/yairfalse/colorbot/telemetry"
)

const shutdownTimeout = 10 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and handle commands",
	Long: `Connect to the Discord gateway and serve /color and /colorbot purge.

Features:
- Unused color roles are swept whenever a guild becomes available
- Prometheus metrics on /metrics, health on /healthz
- Run history kept in a local bbolt journal
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  COLORBOT_TOKEN=... colorbot serve        # Run with defaults
  colorbot serve --config colorbot.yaml     # Run with a config file`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := telemetry.NewLogger(cfg.Telemetry.ServiceName)

	shutdownOTEL, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTELEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	journal, err := storage.OpenRunJournal(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	engine, err := loadPolicy(ctx, cfg, logger)
	if err != nil {
		return err
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	p := discord.New(session, logger)

	svc, err := wire(wiring{platform: p, journal: journal, policy: engine, cfg: cfg, logger: logger})
	if err != nil {
		return err
	}

	botMetrics, err := bot.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create bot metrics: %w", err)
	}
	botCfg := bot.Config{
		Session:       session,
		ApplicationID: cfg.Discord.ApplicationID,
		GuildID:       cfg.Discord.GuildID,
		Guilds:        p,
		Colors:        svc.colors,
		Purge:         svc.purge,
		Metrics:       botMetrics,
		Logger:        logger,
	}
	if cfg.SweepEnabled() {
		botCfg.Sweeper = svc.sweeper
	}
	b, err := bot.New(botCfg)
	if err != nil {
		return err
	}

	daemonMetrics, err := daemon.NewDaemonMetrics()
	if err != nil {
		return fmt.Errorf("failed to create daemon metrics: %w", err)
	}
	d, err := daemon.NewDaemon(daemon.Config{
		Gateway: b,
		Journal: journal,
		Keep:    cfg.Storage.Keep,
		Metrics: daemonMetrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	var g run.Group

	// Gateway connection and history retention.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return d.Start(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Metrics and health.
	if cfg.Telemetry.MetricsAddr != "" {
		server := newHTTPServer(cfg.Telemetry.MetricsAddr, d)
		g.Add(
			func() error {
				logger.Info().Str("addr", server.Addr).Msg("starting metrics server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(ctx)
			},
		)
	}

	// Signals.
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	logger.Info().
		Str("version", version).
		Bool("sweep_on_startup", cfg.SweepEnabled()).
		Strs("policies", engine.Policies()).
		Msg("colorbot starting")

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		err = nil
	}

	if drainErr := drain(svc, shutdownTimeout); drainErr != nil {
		logger.Warn().Err(drainErr).Msg("remediation still running at shutdown")
	}
	return err
}

// drain waits for in-flight runs and purge status reporters. Runs must
// drain before the journal closes.
func drain(svc *services, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := svc.coordinator.Drain(ctx); err != nil {
		return fmt.Errorf("draining runs: %w", err)
	}

	reported := make(chan struct{})
	go func() {
		svc.purge.Wait()
		close(reported)
	}()
	select {
	case <-reported:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for purge reporters: %w", ctx.Err())
	}
}

func newHTTPServer(addr string, health http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func loadPolicy(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*policy.Engine, error) {
	engine := policy.NewEngine(logger)
	if cfg.Policy.Path == "" {
		return engine, nil
	}
	if err := engine.LoadPath(ctx, cfg.Policy.Path); err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return engine, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jarvisd/jarvis/internal/api"
	"github.com/jarvisd/jarvis/internal/config"
	"github.com/jarvisd/jarvis/internal/correlator"
	"github.com/jarvisd/jarvis/internal/executor"
	"github.com/jarvisd/jarvis/internal/ha"
	"github.com/jarvisd/jarvis/internal/hostmon"
	"github.com/jarvisd/jarvis/internal/intake"
	"github.com/jarvisd/jarvis/internal/learning"
	"github.com/jarvisd/jarvis/internal/logging"
	"github.com/jarvisd/jarvis/internal/lokiapi"
	"github.com/jarvisd/jarvis/internal/metricsapi"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/notifier"
	"github.com/jarvisd/jarvis/internal/oracle"
	"github.com/jarvisd/jarvis/internal/orchestrator"
	"github.com/jarvisd/jarvis/internal/planner"
	"github.com/jarvisd/jarvis/internal/proactive"
	"github.com/jarvisd/jarvis/internal/queue"
	"github.com/jarvisd/jarvis/internal/reasoning"
	"github.com/jarvisd/jarvis/internal/runbooks"
	"github.com/jarvisd/jarvis/internal/selfpreserve"
	"github.com/jarvisd/jarvis/internal/store"
	"github.com/jarvisd/jarvis/internal/tools"
	"github.com/jarvisd/jarvis/internal/validator"
	"github.com/jarvisd/jarvis/internal/verifier"
)

// Version information (set at build time with -ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "jarvis",
	Short:   "Jarvis - AI-assisted alert remediation for self-hosted infrastructure",
	Long:    `Jarvis receives monitoring alerts, reasons about them with an LLM oracle, and remediates them over SSH with learned patterns, verification, and strict command validation`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Jarvis %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup, re-initialized once config loads.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "jarvis"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "jarvis"})

	log.Info().Str("version", Version).Msg("Starting Jarvis remediation server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeCfg := store.DefaultConfig(cfg.DataDir)
	storeCfg.FingerprintCooldown = cfg.FingerprintCooldown
	storeCfg.EscalationCooldown = cfg.EscalationCooldown
	st, err := store.Open(storeCfg)
	if err != nil {
		log.Fatal().Err(err).Str("path", storeCfg.DBPath).Msg("Failed to open database")
	}
	defer st.Close()

	if n, err := st.RecoverCrashedAttempts(); err != nil {
		log.Warn().Err(err).Msg("Crashed attempt recovery failed")
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("Finalized attempts left open by previous process")
	}

	learn := learning.New(st.DB())
	if err := learn.Seed(); err != nil {
		log.Warn().Err(err).Msg("Pattern seeding failed")
	}

	// External backends.
	metricsClient := metricsapi.New(cfg.MetricsBackendURL, 15*time.Second)
	orch := orchestrator.New(cfg.OrchestratorURL, cfg.OrchestratorKey, 30*time.Second)
	supervisor := ha.New(cfg.HASupervisorURL, cfg.HASupervisorToken, 15*time.Second)
	notify := notifier.New(cfg.ChatWebhookURL, 10*time.Second)

	exec := executor.New(executor.Config{
		SSHUser:            cfg.SSHUser,
		SSHKeyPath:         cfg.SSHKeyPath,
		KnownHostsPath:     filepath.Join(cfg.DataDir, "known_hosts"),
		SelfHost:           cfg.SelfHost,
		CommandTimeout:     cfg.CommandExecutionTimeout,
		LongCommandTimeout: cfg.LongRunningCommandTimeout,
		ConnectTimeout:     cfg.SSHConnectTimeout,
	})

	hosts := hostmon.New(hostmon.Config{
		FailureThreshold: cfg.HostOfflineThreshold,
		ProbeInterval:    cfg.HostProbeInterval,
	}, st)
	exec.Subscribe(hosts.Observe)
	hosts.Subscribe(func(host string, to hostmon.State) {
		notify.HostTransition(ctx, host, string(to))
	})

	valid := validator.New(validator.Config{
		ServiceContainer:  cfg.ServiceContainer,
		DatabaseContainer: cfg.DatabaseContainer,
		SelfHost:          cfg.SelfHost,
	})

	provider := oracle.NewAnthropicClient(cfg.OracleAPIKey, cfg.OracleModel, cfg.OracleBaseURL, 120*time.Second)
	oracleClient := oracle.NewClient(provider, nil, cfg.OracleModel, cfg.OracleEscalateModel)
	engine := reasoning.NewEngine(oracleClient, reasoning.Config{
		MaxIterations:      cfg.OracleMaxIterations,
		ExtendedIterations: cfg.OracleMaxIterations + 5,
	})

	verify := verifier.New(verifier.Config{
		Enabled:      cfg.VerificationEnabled,
		InitialDelay: cfg.VerificationInitialDelay,
		PollInterval: cfg.VerificationPollInterval,
		MaxWait:      cfg.VerificationMaxWait,
	}, metricsClient)

	toolDeps := tools.Deps{
		Runner:     exec,
		Validator:  valid,
		Metrics:    metricsClient,
		Workflows:  orch,
		Supervisor: supervisor,
	}
	if cfg.LogsBackendURL != "" {
		toolDeps.Logs = lokiapi.New(cfg.LogsBackendURL, 15*time.Second)
	}

	books := runbooks.New(cfg.RunbookDir)
	go books.Watch(ctx)

	// The planner and self-preservation reference each other: the reasoning
	// loop initiates handoffs, and a completed handoff resumes through the
	// planner.
	var plan *planner.Planner
	preserve := selfpreserve.New(selfpreserve.Config{
		CallbackBaseURL: cfg.ExternalURL,
		MaxRestarts:     cfg.MaxRestarts,
		StaleAfter:      cfg.StaleHandoffCleanup,
	}, st, orch, func(ctx context.Context, rctx *reasoning.Context) {
		plan.Resume(ctx, rctx)
	})
	preserve.StartupSweep()

	plan = planner.New(planner.Options{
		Config:       cfg,
		Store:        st,
		Learning:     learn,
		Correlator:   correlator.New(metricsClient),
		Hosts:        hosts,
		Validator:    valid,
		Engine:       engine,
		Verifier:     verify,
		Notifier:     notify,
		ToolDeps:     toolDeps,
		Runbooks:     books,
		SelfRestart:  preserve.InitiateRestart,
		InfraSummary: loadInfraSummary(cfg.DataDir),
	})

	// The queue drains back into the gateway, so recovered alerts pass the
	// same dedup and suppression gates as fresh ones.
	var gateway *intake.Gateway
	q := queue.New(queue.Config{
		Capacity:      cfg.QueueCapacity,
		DrainInterval: cfg.QueueDrainInterval,
		DrainBatch:    cfg.QueueDrainBatch,
	}, st, func(ctx context.Context, alert *models.Alert) {
		gateway.Process(ctx, alert)
	})
	gateway = intake.New(st, plan, q, notify, cfg.FingerprintCooldown)

	go hosts.Run(ctx)
	go q.Run(ctx)

	var anomaly *proactive.AnomalyDetector
	if cfg.ProactiveEnabled {
		monitor := proactive.NewMonitor(proactive.Config{
			Interval: cfg.ProactiveInterval,
			Cooldown: cfg.AnomalyCooldown,
		}, metricsClient, gateway.Emit)
		go monitor.Run(ctx)
	}
	if cfg.AnomalyEnabled {
		anomaly = proactive.NewAnomalyDetector(proactive.AnomalyConfig{
			Interval:  cfg.AnomalyInterval,
			Cooldown:  cfg.AnomalyCooldown,
			ZWarning:  cfg.AnomalyZWarning,
			ZCritical: cfg.AnomalyZCritical,
		}, metricsClient, st, gateway.Emit)
		go anomaly.Run(ctx)
	}

	api.Version = Version
	handler := api.NewRouter(api.Options{
		Config:   cfg,
		Gateway:  gateway,
		Store:    st,
		Learning: learn,
		Queue:    q,
		Runbooks: books,
		Preserve: preserve,
		Anomaly:  anomaly,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Forced shutdown")
	}
	log.Info().Msg("Jarvis stopped")
}

// loadInfraSummary reads the operator-maintained infrastructure description
// injected into the reasoning prompt. Optional.
func loadInfraSummary(dataDir string) string {
	data, err := os.ReadFile(filepath.Join(dataDir, "infrastructure.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

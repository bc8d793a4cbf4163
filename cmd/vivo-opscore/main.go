// Package main — cmd/vivo-opscore/main.go
//
// vivo-opscore daemon entrypoint and control CLI.
//
// Startup sequence (`start`):
//  1. Load and validate config from /etc/vivo-opscore/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open the audit.log sink and, if enabled, the BoltDB checkpoint store.
//  4. Build the event bus and register every decision module.
//  5. Start hot-reload watchers for routing rules, privacy allowlist,
//     policy caps, and the endpoint catalog.
//  6. Start the Prometheus metrics server and the clock.tick1m publisher.
//  7. Start the control socket server (status/reload/shutdown).
//  8. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Other subcommands (`status`, `reload`, `shutdown`) are thin clients that
// dial the control socket of an already-running daemon.
//
// Exit codes (§6): 0 normal, 1 init failure, 2 fatal subsystem, 3 invalid
// config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/laylaymen/vivo-opscore/internal/anomaly"
	"github.com/laylaymen/vivo-opscore/internal/audit"
	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/config"
	"github.com/laylaymen/vivo-opscore/internal/dialog"
	"github.com/laylaymen/vivo-opscore/internal/drawdown"
	"github.com/laylaymen/vivo-opscore/internal/explain"
	"github.com/laylaymen/vivo-opscore/internal/failover"
	"github.com/laylaymen/vivo-opscore/internal/guardrail"
	"github.com/laylaymen/vivo-opscore/internal/logrouter"
	"github.com/laylaymen/vivo-opscore/internal/observability"
	"github.com/laylaymen/vivo-opscore/internal/operator"
	"github.com/laylaymen/vivo-opscore/internal/pacing"
	"github.com/laylaymen/vivo-opscore/internal/portfolio"
	"github.com/laylaymen/vivo-opscore/internal/redact"
	"github.com/laylaymen/vivo-opscore/internal/spot"
	"github.com/laylaymen/vivo-opscore/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:     "vivo-opscore",
		Short:   "Event-driven trading operations control plane",
		Version: config.Version,
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/vivo-opscore/config.yaml", "path to config.yaml")

	root.AddCommand(
		newStartCmd(&configPath),
		newReloadCmd(&configPath),
		newStatusCmd(&configPath),
		newShutdownCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(*configPath)
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print module health from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
				os.Exit(3)
			}
			resp, err := operator.Call(cfg.ControlSocketPath, operator.Request{Cmd: "status"})
			if err != nil {
				fmt.Fprintf(os.Stderr, "status: %v\n", err)
				os.Exit(2)
			}
			if !resp.OK {
				fmt.Fprintf(os.Stderr, "status: %s\n", resp.Error)
				os.Exit(2)
			}
			for _, h := range resp.Modules {
				state := "healthy"
				if !h.Healthy {
					state = "unhealthy"
				}
				fmt.Printf("%-12s %s  %s\n", h.Name, state, h.Detail)
			}
			return nil
		},
	}
}

func newShutdownCmd(configPath *string) *cobra.Command {
	var graceMs int
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Request a graceful shutdown of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
				os.Exit(3)
			}
			resp, err := operator.Call(cfg.ControlSocketPath, operator.Request{Cmd: "shutdown", GraceMs: graceMs})
			if err != nil || !resp.OK {
				fmt.Fprintf(os.Stderr, "shutdown: %v%s\n", err, resp.Error)
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&graceMs, "grace", 5000, "shutdown drain grace period in milliseconds")
	return cmd
}

func newReloadCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "reload [routes|privacy|policy|endpoints]",
		Short:     "Hot-reload one config section of a running daemon",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"routes", "privacy", "policy", "endpoints"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
				os.Exit(3)
			}
			resp, err := operator.Call(cfg.ControlSocketPath, operator.Request{Cmd: "reload", Section: args[0]})
			if err != nil || !resp.OK {
				fmt.Fprintf(os.Stderr, "reload: %v%s\n", err, resp.Error)
				os.Exit(2)
			}
			return nil
		},
	}
}

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(3)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("vivo-opscore starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Real{}

	auditSink, err := audit.Open(cfg.Storage.AuditLogPath, audit.Options{
		MaxBytes: cfg.Storage.AuditMaxBytes, MaxBackups: cfg.Storage.AuditMaxBackups,
	})
	if err != nil {
		log.Error("audit log open failed", zap.Error(err))
		os.Exit(2)
	}

	var checkpoint *storage.DB
	if cfg.Storage.CheckpointEnabled {
		checkpoint, err = storage.Open(cfg.Storage.CheckpointDBPath)
		if err != nil {
			log.Error("checkpoint db open failed", zap.Error(err))
			os.Exit(2)
		}
		defer checkpoint.Close() //nolint:errcheck
	}

	registry := bus.DefaultRegistry()
	b := bus.New(registry, log, func(ctx context.Context, topic bus.Topic, corrID, errMsg string) {
		_ = auditSink.Write(audit.Entry{Ts: clk.Now(), Src: "bus", CorrID: corrID, Payload: map[string]string{
			"topic": string(topic), "error": errMsg,
		}})
	})

	lifecycle := bus.NewLifecycleRegistry(log)

	redactGuard := redact.NewGuard(cfg.Redact.MaxBytes, cfg.Redact.ChunkOverlap, cfg.Redact.TickerAllow, cfg.Redact.DomainAllow, cfg.Redact.SaltRotateUTC)
	redactModule := redact.NewModule(redactGuard, clk, log)

	rules := config.NewReloadable(&[]logrouter.Rule{})
	router := logrouter.NewRouter(rules, redactGuard, cfg.LogRouter.DefaultSamplePct, cfg.LogRouter.SampleFloor,
		cfg.LogRouter.BackpressureHigh, map[string]*logrouter.Sink{}, clk, log)
	logRouterModule := logrouter.NewModule(router, clk, log)

	anomalyModule := anomaly.NewModule(anomaly.Config{
		MinPoints:        cfg.Anomaly.MinPoints,
		FlatlineStaleSec: int64(cfg.Anomaly.FlatlineStaleSec),
		GapStaleSec:      int64(cfg.Anomaly.GapStaleSec),
		ZHi:              cfg.Anomaly.ZHi,
		ZWarn:            cfg.Anomaly.ZWarn,
		ScorerName:       cfg.Anomaly.ScorerName,
	}, anomaly.DefaultWindows(), cfg.Anomaly.EWMAAlpha, cfg.Anomaly.HistoryRetention, cfg.Anomaly.SuppressCleanup, clk, log)

	drawdownModule := drawdown.NewModule(drawdown.Thresholds{
		WarnPct: cfg.Drawdown.WarnPct, ErrorPct: cfg.Drawdown.ErrorPct, EmergencyPct: cfg.Drawdown.EmergencyPct,
		WarnCooloff:      time.Duration(cfg.Drawdown.WarnCooloffMin) * time.Minute,
		ErrorCooloff:     time.Duration(cfg.Drawdown.ErrorCooloffHours) * time.Hour,
		EmergencyCooloff: time.Duration(cfg.Drawdown.EmergencyCooloffHours) * time.Hour,
	}, time.Duration(cfg.Drawdown.LookbackDays)*24*time.Hour, cfg.Drawdown.RecoveryBufferPct, clk, log)

	failoverModule := failover.NewModule(failover.Config{
		UnhealthyFailures:    cfg.Failover.UnhealthyFailures,
		UnhealthyScoreTheta:  cfg.Failover.UnhealthyScoreTheta,
		MinDwellSec:          int64(cfg.Failover.MinDwellSec),
		CanaryDuration:       cfg.Failover.CanaryDuration,
		StableRevertAfter:    cfg.Failover.StableRevertAfter,
		BrownoutMaxStepPct:   cfg.Failover.BrownoutMaxStepPct,
		BrownoutStepSec:      int64(cfg.Failover.BrownoutStepSec),
		SwitchBudgetCapacity: cfg.Failover.SwitchBudgetCapacity,
		SwitchBudgetRefill:   cfg.Failover.SwitchBudgetRefill,
	}, clk, log)

	pacingModule := pacing.NewModule(pacing.Base{
		MaxNewPositions:   cfg.Pacing.BaseMaxNewPositions,
		ChildPerMin:       cfg.Pacing.BaseChildPerMin,
		RiskBudgetUsd:     cfg.Pacing.BaseRiskBudgetUsd,
		SlipBpSoftPolicy:  cfg.Pacing.SlipBpSoft,
		ReduceOnlyRiskPct: cfg.Pacing.ReduceOnlyRiskPct,
	}, pacingWindows(cfg.Pacing.SessionWindows), pacing.TCA{
		SlipHardBp: cfg.Pacing.SlipBpHard, SlipSoftBp: cfg.Pacing.SlipBpSoft,
		MarkOutHardBp: cfg.Pacing.MarkOutBpHard, MarkOutSoftBp: cfg.Pacing.MarkOutBpSoft,
	}, clk, log)

	portfolioModule := portfolio.NewModule(cfg.Portfolio.ExposureMaxAge, cfg.Portfolio.PolicyMaxAge, cfg.Portfolio.DeferWindow, clk, log)

	spotModule := spot.NewModule(spot.Config{
		BasePct: cfg.Spot.BasePct, EquityThreshold: cfg.Spot.EquityThreshold,
		MinTargetPct: cfg.Spot.MinTargetPct, MinRMultiple: cfg.Spot.MinRMultiple,
	}, clk, log)

	guardrailModule := guardrail.NewModule(guardrail.Config{
		IdempotencyTTLSec: cfg.Guardrail.IdempotencyTTLSec, TwapBumpMs: cfg.Guardrail.TwapBumpMs,
		IcebergBump: cfg.Guardrail.IcebergBump, MaxIceberg: cfg.Guardrail.MaxIceberg,
		NotionalTrimRatio: cfg.Guardrail.NotionalTrimRatio,
	}, clk, log)

	dialogChannels := make([]dialog.ChannelConfig, len(cfg.Dialog.Channels))
	renders := map[string]dialog.Render{}
	for i, c := range cfg.Dialog.Channels {
		dialogChannels[i] = dialog.ChannelConfig{Name: c.Name, Enabled: c.Enabled, TimeoutMs: c.TimeoutMs}
		renders[c.Name] = dialog.NewLogChannel(c.Name, log)
	}
	dialogModule := dialog.NewModule(cfg.Dialog.DefaultTimeout, cfg.Dialog.AutoFallback, cfg.Dialog.RequiredPermission, dialogChannels, renders, clk, log)

	explainModule := explain.NewModule(clk, log)

	auditModule := audit.NewModule(auditSink, clk, log)

	modules := []bus.Module{
		redactModule, logRouterModule, anomalyModule, drawdownModule,
		failoverModule, pacingModule, portfolioModule, spotModule,
		guardrailModule, dialogModule, explainModule, auditModule,
	}
	for _, m := range modules {
		if err := lifecycle.Register(m); err != nil {
			log.Error("module register failed", zap.Error(err))
			os.Exit(2)
		}
	}

	watchers, reloaders, err := startHotReload(ctx, cfg, log, b, clk, rules, router)
	if err != nil {
		log.Error("hot reload setup failed", zap.Error(err))
		os.Exit(2)
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	go publishClockTicks(ctx, b, clk)

	if err := lifecycle.StartAll(ctx, b); err != nil {
		log.Error("module startup failed", zap.Error(err))
		os.Exit(2)
	}
	log.Info("all modules started")

	for _, w := range watchers {
		go w.Run(ctx)
	}

	opServer := operator.NewServer(cfg.ControlSocketPath, lifecycle, lifecycle, cancel, reloaders, log)
	go func() {
		if err := opServer.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			log.Error("control socket server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	lifecycle.ShutdownAll(context.Background(), 5000)
	b.ShutdownAll(5000)
	log.Info("vivo-opscore shutdown complete")
	return nil
}

// startHotReload builds one config.Watcher per hot-reloadable section
// (§6: routing rules, privacy rules, endpoint catalog, policy caps) and
// returns them alongside a reloaders map keyed by the same section names
// the `reload` CLI subcommand and control socket accept.
func startHotReload(ctx context.Context, cfg *config.Config, log *zap.Logger, b *bus.Bus, clk clock.Clock,
	rules *config.Reloadable[[]logrouter.Rule], router *logrouter.Router) ([]*config.Watcher, map[string]func() error, error) {

	reloaders := map[string]func() error{}
	var watchers []*config.Watcher

	if cfg.LogRouter.RulesPath != "" {
		reload := func() error {
			r, err := logrouter.LoadRulesFile(cfg.LogRouter.RulesPath)
			if err != nil {
				return err
			}
			rules.Set(&r)
			return nil
		}
		w, err := config.NewWatcher(cfg.LogRouter.RulesPath, log, reload)
		if err != nil {
			return nil, nil, fmt.Errorf("routes watcher: %w", err)
		}
		watchers = append(watchers, w)
		reloaders["routes"] = reload
	}

	if cfg.Redact.PrivacyPath != "" {
		reload := func() error {
			a, err := redact.LoadAllowListsFile(cfg.Redact.PrivacyPath)
			if err != nil {
				return err
			}
			return b.Publish(ctx, bus.NewEnvelope(bus.TopicRedactDictionaryUpdate, clk.Now(), "opscore-cli",
				redact.DictionaryUpdate{TickerAllow: a.TickerAllow, DomainAllow: a.DomainAllow}, bus.Public, ""))
		}
		w, err := config.NewWatcher(cfg.Redact.PrivacyPath, log, reload)
		if err != nil {
			return nil, nil, fmt.Errorf("privacy watcher: %w", err)
		}
		watchers = append(watchers, w)
		reloaders["privacy"] = reload
	}

	if cfg.Portfolio.PolicyPath != "" {
		reload := func() error {
			p, err := portfolio.LoadPolicyFile(cfg.Portfolio.PolicyPath)
			if err != nil {
				return err
			}
			return b.Publish(ctx, bus.NewEnvelope(bus.TopicPortfolioPolicy, clk.Now(), "opscore-cli", p, bus.Public, ""))
		}
		w, err := config.NewWatcher(cfg.Portfolio.PolicyPath, log, reload)
		if err != nil {
			return nil, nil, fmt.Errorf("policy watcher: %w", err)
		}
		watchers = append(watchers, w)
		reloaders["policy"] = reload
	}

	if cfg.Failover.CatalogPath != "" {
		reload := func() error {
			cat, err := failover.LoadCatalogFile(cfg.Failover.CatalogPath)
			if err != nil {
				return err
			}
			return b.Publish(ctx, bus.NewEnvelope(bus.TopicEndpointCatalog, clk.Now(), "opscore-cli", cat, bus.Public, ""))
		}
		w, err := config.NewWatcher(cfg.Failover.CatalogPath, log, reload)
		if err != nil {
			return nil, nil, fmt.Errorf("endpoints watcher: %w", err)
		}
		watchers = append(watchers, w)
		reloaders["endpoints"] = reload
	}

	return watchers, reloaders, nil
}

// publishClockTicks emits clock.tick1m every minute, driving every
// module's periodic housekeeping (pacing replans, anomaly metrics
// flush, failover dwell/canary progress, log sink age-based flush).
func publishClockTicks(ctx context.Context, b *bus.Bus, clk clock.Clock) {
	ticker := clk.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			_ = b.Publish(ctx, bus.NewEnvelope(bus.TopicClockTick1m, now, "clock", struct{}{}, bus.Public, ""))
		}
	}
}

func pacingWindows(cfg []config.SessionWindowConfig) []pacing.Window {
	out := make([]pacing.Window, len(cfg))
	for i, w := range cfg {
		out[i] = pacing.Window{StartMin: w.StartMin, EndMin: w.EndMin, Weight: w.Weight}
	}
	return out
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return zcfg.Build()
}

// Package config provides configuration loading, validation, and
// hot-reload for vivo-opscore.
//
// Configuration file: /etc/vivo-opscore/config.yaml (default).
// Schema version: 1.
//
// Hot-reload (§6):
//   - Only routing rules, privacy rules, endpoint catalog, and policy
//     caps reload without a restart. Each is watched independently via
//     fsnotify (see internal/config/hotreload.go); routing rules are
//     swapped behind a copy-on-write Reloadable pointer, and the other
//     three are republished on the bus for their owning module.
//   - Every other section requires a process restart to take effect.
//
// Validation:
//   - All required fields must be present; numeric ranges are enforced.
//   - Invalid config on startup: the process refuses to start (fatal,
//     exit code 3 per §6).
//   - Invalid config on hot-reload: logged, previous value retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for vivo-opscore.
type Config struct {
	SchemaVersion string `yaml:"schema_version"`
	NodeID        string `yaml:"node_id"`

	// ControlSocketPath is the Unix domain socket the `status`/`reload`/
	// `shutdown` CLI subcommands dial (internal/operator).
	ControlSocketPath string `yaml:"control_socket_path"`

	Bus           BusConfig           `yaml:"bus"`
	Observability ObservabilityConfig `yaml:"observability"`
	Storage       StorageConfig       `yaml:"storage"`

	Redact    RedactConfig    `yaml:"redact"`
	LogRouter LogRouterConfig `yaml:"log_router"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Drawdown  DrawdownConfig  `yaml:"drawdown"`
	Failover  FailoverConfig  `yaml:"failover"`
	Pacing    PacingConfig    `yaml:"pacing"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Spot      SpotConfig      `yaml:"spot"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Dialog    DialogConfig    `yaml:"dialog"`
}

// BusConfig holds bus-wide queue, overflow-policy and idempotency settings
// (§4.A). They are validated but not passed to the bus: each Subscribe
// call sets its own options, and unset options fall back to the bus's
// built-in defaults (queue 10_000, drop_new, 300s), equal to the defaults
// here.
type BusConfig struct {
	DefaultQueueSize  int    `yaml:"default_queue_size"`
	DefaultPolicy     string `yaml:"default_policy"` // block|drop_oldest|drop_new
	IdempotencyTTLSec int    `yaml:"idempotency_ttl_sec"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// StorageConfig configures both the audit.log JSONL stream and the
// optional BoltDB restart-recovery checkpoint store.
type StorageConfig struct {
	AuditLogPath      string `yaml:"audit_log_path"`
	AuditMaxBytes     int64  `yaml:"audit_max_bytes"`
	AuditMaxBackups   int    `yaml:"audit_max_backups"`
	CheckpointDBPath  string `yaml:"checkpoint_db_path"`
	CheckpointEnabled bool   `yaml:"checkpoint_enabled"`
}

// RedactConfig configures the PII Guard & Redactor (§4.D).
type RedactConfig struct {
	MaxBytes      int      `yaml:"max_bytes"`
	ChunkOverlap  int      `yaml:"chunk_overlap"`
	TickerAllow   []string `yaml:"ticker_allowlist"`
	DomainAllow   []string `yaml:"domain_allowlist"`
	SaltRotateUTC string   `yaml:"salt_rotate_utc"` // HH:MM, daily rotation instant

	// PrivacyPath, if set, is a hot-reloadable file overriding
	// TickerAllow/DomainAllow (§6 "privacy rules").
	PrivacyPath string `yaml:"privacy_path"`
}

// LogRouterConfig configures the Log Ingest Router (§4.E).
type LogRouterConfig struct {
	RulesPath        string             `yaml:"rules_path"`
	MaxBatch         int                `yaml:"max_batch"`
	MaxWait          time.Duration      `yaml:"max_wait"`
	BackpressureHigh int                `yaml:"backpressure_high_watermark"`
	SampleFloor      float64            `yaml:"sample_floor"`
	SpoolDir         string             `yaml:"spool_dir"`
	DefaultSamplePct map[string]float64 `yaml:"default_sample_pct"` // per level
}

// AnomalyConfig configures the Telemetry Anomaly Detector (§4.F).
type AnomalyConfig struct {
	MinPoints        int           `yaml:"min_points"`
	FlatlineStaleSec int           `yaml:"flatline_stale_sec"`
	GapStaleSec      int           `yaml:"gap_stale_sec"`
	ZHi              float64       `yaml:"z_hi"`
	ZWarn            float64       `yaml:"z_warn"`
	EWMAAlpha        float64       `yaml:"ewma_alpha"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	SuppressCleanup  time.Duration `yaml:"suppress_cleanup"`

	// ScorerName selects a contrib.Scorer plugin in place of the
	// built-in median/MAD distance. Empty uses the built-in.
	ScorerName string `yaml:"scorer_name"`
}

// DrawdownConfig configures the Drawdown Monitor (§4.G).
type DrawdownConfig struct {
	LookbackDays          int     `yaml:"lookback_days"`
	WarnPct               float64 `yaml:"warn_pct"`
	ErrorPct              float64 `yaml:"error_pct"`
	EmergencyPct          float64 `yaml:"emergency_pct"`
	WarnCooloffMin        int     `yaml:"warn_cooloff_min"`
	ErrorCooloffHours     int     `yaml:"error_cooloff_hours"`
	EmergencyCooloffHours int     `yaml:"emergency_cooloff_hours"`
	RecoveryBufferPct     float64 `yaml:"recovery_buffer_pct"`
}

// FailoverConfig configures the Endpoint Failover Orchestrator (§4.H).
type FailoverConfig struct {
	CatalogPath         string        `yaml:"catalog_path"`
	UnhealthyFailures   int           `yaml:"unhealthy_consecutive_failures"`
	UnhealthyScoreTheta float64       `yaml:"unhealthy_score_theta"`
	ProbeIntervalMs     int           `yaml:"probe_interval_ms"`
	ProbeJitterMs       int           `yaml:"probe_jitter_ms"`
	ProbeTimeoutMs      int           `yaml:"probe_timeout_ms"`
	MinDwellSec         int           `yaml:"min_dwell_sec"`
	CanaryDuration      time.Duration `yaml:"canary_duration"`
	StableRevertAfter   time.Duration `yaml:"stable_revert_after"`
	BrownoutMaxStepPct  float64       `yaml:"brownout_max_step_pct"`
	BrownoutStepSec     int           `yaml:"brownout_step_sec"`

	// SwitchBudgetCapacity/Refill gate how many endpoint switches or
	// reverts may occur per refill window, preventing a flapping health
	// signal from thrashing the active endpoint. 0 disables the limit.
	SwitchBudgetCapacity int           `yaml:"switch_budget_capacity"`
	SwitchBudgetRefill   time.Duration `yaml:"switch_budget_refill"`
}

// PacingConfig configures the Session Pacing Planner (§4.I).
type PacingConfig struct {
	BaseMaxNewPositions int     `yaml:"base_max_new_positions"`
	BaseChildPerMin     int     `yaml:"base_child_per_min"`
	BaseRiskBudgetUsd   float64 `yaml:"base_risk_budget_usd"`
	SlipBpSoft          float64 `yaml:"slip_bp_soft"`
	SlipBpHard          float64 `yaml:"slip_bp_hard"`
	MarkOutBpSoft       float64 `yaml:"mark_out_bp_soft"`
	MarkOutBpHard       float64 `yaml:"mark_out_bp_hard"`
	ReduceOnlyRiskPct   float64 `yaml:"reduce_only_risk_pct"`
	// SessionWindows are (startMin, endMin, weight) UTC windows; endMin <
	// startMin denotes a window crossing midnight.
	SessionWindows []SessionWindowConfig `yaml:"session_windows"`
}

// SessionWindowConfig is one weighted UTC trading-session window.
type SessionWindowConfig struct {
	StartMin int     `yaml:"start_min"`
	EndMin   int     `yaml:"end_min"`
	Weight   float64 `yaml:"weight"`
}

// PortfolioConfig configures the Portfolio Exposure Balancer (§4.J).
type PortfolioConfig struct {
	PolicyPath     string        `yaml:"policy_path"`
	ScaleStep      float64       `yaml:"scale_step"`
	MinFactor      float64       `yaml:"min_factor"`
	OnHardBreach   string        `yaml:"on_hard_breach"` // reject|defer
	ExposureMaxAge time.Duration `yaml:"exposure_max_age"`
	PolicyMaxAge   time.Duration `yaml:"policy_max_age"`
	DeferWindow    time.Duration `yaml:"defer_window"`
}

// SpotConfig configures the Spot Cash Allocator (§4.K).
type SpotConfig struct {
	BasePct         float64 `yaml:"base_pct"`
	EquityThreshold float64 `yaml:"equity_threshold"`
	MinTargetPct    float64 `yaml:"min_target_pct"`
	MinRMultiple    float64 `yaml:"min_r_multiple"`
}

// GuardrailConfig configures the Execution Guardrail Bridge (§4.L).
type GuardrailConfig struct {
	IdempotencyTTLSec int     `yaml:"idempotency_ttl_sec"`
	TwapBumpMs        int     `yaml:"twap_bump_ms"`
	IcebergBump       float64 `yaml:"iceberg_bump"`
	MaxIceberg        float64 `yaml:"max_iceberg"`
	NotionalTrimRatio float64 `yaml:"notional_trim_ratio"`
}

// DialogConfig configures the Operator Dialog (§4.M).
type DialogConfig struct {
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
	AutoFallback       string        `yaml:"auto_fallback"` // A|B|C|"" (none -> TIMEOUT)
	RequiredPermission string        `yaml:"required_permission"`
	Channels           []DialogChannelConfig `yaml:"channels"`
}

// DialogChannelConfig declares one eligible delivery channel.
type DialogChannelConfig struct {
	Name      string `yaml:"name"`
	Enabled   bool   `yaml:"enabled"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Defaults returns a Config populated with every default value.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion:     "1",
		NodeID:            hostname,
		ControlSocketPath: "/run/vivo-opscore/control.sock",
		Bus: BusConfig{
			DefaultQueueSize:  10_000,
			DefaultPolicy:     "drop_new",
			IdempotencyTTLSec: 300,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Storage: StorageConfig{
			AuditLogPath:      "/var/lib/vivo-opscore/audit.log",
			AuditMaxBytes:     100 << 20,
			AuditMaxBackups:   5,
			CheckpointDBPath:  "/var/lib/vivo-opscore/checkpoint.db",
			CheckpointEnabled: true,
		},
		Redact: RedactConfig{
			MaxBytes:      1 << 20,
			ChunkOverlap:  128,
			SaltRotateUTC: "00:00",
		},
		LogRouter: LogRouterConfig{
			RulesPath:        "/etc/vivo-opscore/routing-rules.yaml",
			MaxBatch:         500,
			MaxWait:          5 * time.Second,
			BackpressureHigh: 5000,
			SampleFloor:      0.1,
			SpoolDir:         "/var/lib/vivo-opscore/spool",
			DefaultSamplePct: map[string]float64{
				"debug": 10, "info": 100, "warn": 100, "error": 100,
			},
		},
		Anomaly: AnomalyConfig{
			MinPoints:        20,
			FlatlineStaleSec: 120,
			GapStaleSec:      60,
			ZHi:              3.5,
			ZWarn:            2.0,
			EWMAAlpha:        0.3,
			HistoryRetention: 24 * time.Hour,
			SuppressCleanup:  time.Hour,
		},
		Drawdown: DrawdownConfig{
			LookbackDays:          60,
			WarnPct:               2.0,
			ErrorPct:              3.5,
			EmergencyPct:          5.0,
			WarnCooloffMin:        120,
			ErrorCooloffHours:     24,
			EmergencyCooloffHours: 72,
			RecoveryBufferPct:     0.5,
		},
		Failover: FailoverConfig{
			UnhealthyFailures:   3,
			UnhealthyScoreTheta: 0.3,
			ProbeIntervalMs:     5000,
			ProbeJitterMs:       1000,
			ProbeTimeoutMs:      2000,
			MinDwellSec:         60,
			CanaryDuration:      30 * time.Second,
			StableRevertAfter:   10 * time.Minute,
			BrownoutMaxStepPct:  10,
			BrownoutStepSec:     30,
			SwitchBudgetCapacity: 10,
			SwitchBudgetRefill:   5 * time.Minute,
		},
		Pacing: PacingConfig{
			BaseMaxNewPositions: 10,
			BaseChildPerMin:     120,
			BaseRiskBudgetUsd:   5000,
			SlipBpSoft:          5,
			SlipBpHard:          12,
			MarkOutBpSoft:       8,
			MarkOutBpHard:       20,
			ReduceOnlyRiskPct:   0.25,
			SessionWindows: []SessionWindowConfig{
				{StartMin: 0, EndMin: 24 * 60, Weight: 0.6},    // default: whole day, low weight
				{StartMin: 7 * 60, EndMin: 16 * 60, Weight: 1.0},  // London
				{StartMin: 13*60 + 30, EndMin: 20 * 60, Weight: 1.0}, // US
			},
		},
		Portfolio: PortfolioConfig{
			ScaleStep:      0.1,
			MinFactor:      0.2,
			OnHardBreach:   "reject",
			ExposureMaxAge: 30 * time.Second,
			PolicyMaxAge:   5 * time.Minute,
			DeferWindow:    30 * time.Second,
		},
		Spot: SpotConfig{
			BasePct:         0.1,
			EquityThreshold: 10_000,
			MinTargetPct:    0.5,
			MinRMultiple:    1.2,
		},
		Guardrail: GuardrailConfig{
			IdempotencyTTLSec: 3600,
			TwapBumpMs:        300,
			IcebergBump:       0.03,
			MaxIceberg:        0.5,
			NotionalTrimRatio: 0.5,
		},
		Dialog: DialogConfig{
			DefaultTimeout:     2 * time.Minute,
			RequiredPermission: "risk_operator",
			Channels: []DialogChannelConfig{
				{Name: "console", Enabled: true, TimeoutMs: 5000},
			},
		},
	}
}

// Load reads and validates a config file from path, merging it over
// Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a single
// aggregate error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if cfg.SchemaVersion != "1" {
		add("schema_version must be \"1\", got %q", cfg.SchemaVersion)
	}
	if cfg.NodeID == "" {
		add("node_id must not be empty")
	}
	switch cfg.Bus.DefaultPolicy {
	case "block", "drop_oldest", "drop_new":
	default:
		add("bus.default_policy must be one of block|drop_oldest|drop_new, got %q", cfg.Bus.DefaultPolicy)
	}
	if cfg.Anomaly.EWMAAlpha < 0 || cfg.Anomaly.EWMAAlpha > 1 {
		add("anomaly.ewma_alpha must be in [0,1], got %f", cfg.Anomaly.EWMAAlpha)
	}
	if cfg.Anomaly.ZWarn <= 0 || cfg.Anomaly.ZHi <= cfg.Anomaly.ZWarn {
		add("anomaly.z_hi must be > anomaly.z_warn > 0, got z_warn=%f z_hi=%f", cfg.Anomaly.ZWarn, cfg.Anomaly.ZHi)
	}
	if !(cfg.Drawdown.WarnPct < cfg.Drawdown.ErrorPct && cfg.Drawdown.ErrorPct < cfg.Drawdown.EmergencyPct) {
		add("drawdown thresholds must satisfy warn < error < emergency, got %f < %f < %f",
			cfg.Drawdown.WarnPct, cfg.Drawdown.ErrorPct, cfg.Drawdown.EmergencyPct)
	}
	if cfg.Drawdown.LookbackDays < 1 {
		add("drawdown.lookback_days must be >= 1, got %d", cfg.Drawdown.LookbackDays)
	}
	if cfg.Failover.UnhealthyFailures < 1 {
		add("failover.unhealthy_consecutive_failures must be >= 1, got %d", cfg.Failover.UnhealthyFailures)
	}
	if cfg.Failover.UnhealthyScoreTheta < 0 || cfg.Failover.UnhealthyScoreTheta > 1 {
		add("failover.unhealthy_score_theta must be in [0,1], got %f", cfg.Failover.UnhealthyScoreTheta)
	}
	if cfg.Failover.BrownoutMaxStepPct <= 0 || cfg.Failover.BrownoutMaxStepPct > 100 {
		add("failover.brownout_max_step_pct must be in (0,100], got %f", cfg.Failover.BrownoutMaxStepPct)
	}
	if cfg.Pacing.BaseMaxNewPositions < 0 || cfg.Pacing.BaseChildPerMin < 0 {
		add("pacing base quotas must be >= 0")
	}
	if cfg.Portfolio.ScaleStep <= 0 || cfg.Portfolio.ScaleStep >= 1 {
		add("portfolio.scale_step must be in (0,1), got %f", cfg.Portfolio.ScaleStep)
	}
	if cfg.Portfolio.MinFactor < 0 || cfg.Portfolio.MinFactor > 1 {
		add("portfolio.min_factor must be in [0,1], got %f", cfg.Portfolio.MinFactor)
	}
	switch cfg.Portfolio.OnHardBreach {
	case "reject", "defer":
	default:
		add("portfolio.on_hard_breach must be reject|defer, got %q", cfg.Portfolio.OnHardBreach)
	}
	if cfg.Spot.BasePct <= 0 || cfg.Spot.BasePct >= 1 {
		add("spot.base_pct must be in (0,1), got %f", cfg.Spot.BasePct)
	}
	if cfg.Guardrail.IcebergBump < 0 {
		add("guardrail.iceberg_bump must be >= 0")
	}
	if cfg.Guardrail.MaxIceberg <= 0 || cfg.Guardrail.MaxIceberg > 1 {
		add("guardrail.max_iceberg must be in (0,1], got %f", cfg.Guardrail.MaxIceberg)
	}
	if cfg.Storage.AuditLogPath == "" {
		add("storage.audit_log_path must not be empty")
	}

	if len(errs) > 0 {
		msg := errs[0]
		for _, e := range errs[1:] {
			msg += "\n  - " + e
		}
		return fmt.Errorf("config validation errors:\n  - %s", msg)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiergate/tiergate/internal/domain/model"
)

type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Policy  model.Policy
	Mirror  MirrorConfig
	Stats   StatsConfig
	Alert   AlertConfig
	Tracing TracingConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

type SessionConfig struct {
	// LivenessTimeout is shared by the sweeper and the stats aggregator so
	// "active" means the same thing everywhere.
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	HistoryCapacity int

	// Per-client telemetry ingest limiter.
	IngestRatePerSec float64
	IngestBurst      int
}

type MirrorConfig struct {
	Enabled  bool
	RedisURL string
	Stream   string
}

type StatsConfig struct {
	PublishInterval time.Duration
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration

	// DegradedShare is the fraction of active sessions in tier D that
	// triggers a fleet degradation alert.
	DegradedShare float64

	// FlapThreshold tier changes within FlapWindow trigger a flap alert.
	FlapThreshold int
	FlapWindow    time.Duration
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 8080),
			ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SEC", 5)) * time.Second,
		},
		Session: SessionConfig{
			LivenessTimeout:  time.Duration(getEnvInt("LIVENESS_TIMEOUT_SEC", 30)) * time.Second,
			SweepInterval:    time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 5)) * time.Second,
			HistoryCapacity:  getEnvInt("HISTORY_CAPACITY", 32),
			IngestRatePerSec: getEnvFloat("INGEST_RATE_PER_SEC", 4),
			IngestBurst:      getEnvInt("INGEST_BURST", 8),
		},
		Mirror: MirrorConfig{
			Enabled:  getEnvBool("MIRROR_ENABLED", false),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
			Stream:   getEnv("MIRROR_STREAM", "tiergate:decisions"),
		},
		Stats: StatsConfig{
			PublishInterval: time.Duration(getEnvInt("STATS_INTERVAL_SEC", 10)) * time.Second,
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
			DegradedShare:   getEnvFloat("ALERT_DEGRADED_SHARE", 0.5),
			FlapThreshold:   getEnvInt("ALERT_FLAP_THRESHOLD", 6),
			FlapWindow:      time.Duration(getEnvInt("ALERT_FLAP_WINDOW_SEC", 60)) * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure: getEnvBool("TRACING_INSECURE", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// policyFile mirrors model.Policy for YAML merging. Pointer fields
// distinguish "absent" from "zero", and the dwell is a duration string.
type policyFile struct {
	CriticalBatteryPct *float64 `yaml:"critical_battery_pct"`
	CriticalCPUScore   *float64 `yaml:"critical_cpu_score"`
	LowBatteryPct      *float64 `yaml:"low_battery_pct"`
	LowCPUScore        *float64 `yaml:"low_cpu_score"`
	HighMemoryPressure *float64 `yaml:"high_memory_pressure"`
	FullCPUScore       *float64 `yaml:"full_cpu_score"`
	FullFPS            *float64 `yaml:"full_fps"`
	UpgradeDwell       *string  `yaml:"upgrade_dwell"`
}

// loadPolicy starts from the stock threshold table, merges the optional
// POLICY_FILE YAML on top, then applies individual env overrides.
func loadPolicy() (model.Policy, error) {
	policy := model.DefaultPolicy()

	if path := getEnv("POLICY_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return policy, fmt.Errorf("read policy file: %w", err)
		}
		var pf policyFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return policy, fmt.Errorf("parse policy file %s: %w", path, err)
		}
		mergeFloat := func(dst *float64, src *float64) {
			if src != nil {
				*dst = *src
			}
		}
		mergeFloat(&policy.CriticalBatteryPct, pf.CriticalBatteryPct)
		mergeFloat(&policy.CriticalCPUScore, pf.CriticalCPUScore)
		mergeFloat(&policy.LowBatteryPct, pf.LowBatteryPct)
		mergeFloat(&policy.LowCPUScore, pf.LowCPUScore)
		mergeFloat(&policy.HighMemoryPressure, pf.HighMemoryPressure)
		mergeFloat(&policy.FullCPUScore, pf.FullCPUScore)
		mergeFloat(&policy.FullFPS, pf.FullFPS)
		if pf.UpgradeDwell != nil {
			dwell, err := time.ParseDuration(*pf.UpgradeDwell)
			if err != nil {
				return policy, fmt.Errorf("parse policy file %s: upgrade_dwell: %w", path, err)
			}
			policy.UpgradeDwell = dwell
		}
	}

	if v := os.Getenv("UPGRADE_DWELL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			policy.UpgradeDwell = time.Duration(sec) * time.Second
		}
	}
	policy.CriticalBatteryPct = getEnvFloat("CRITICAL_BATTERY_PCT", policy.CriticalBatteryPct)
	policy.LowBatteryPct = getEnvFloat("LOW_BATTERY_PCT", policy.LowBatteryPct)
	policy.CriticalCPUScore = getEnvFloat("CRITICAL_CPU_SCORE", policy.CriticalCPUScore)
	policy.LowCPUScore = getEnvFloat("LOW_CPU_SCORE", policy.LowCPUScore)
	policy.FullCPUScore = getEnvFloat("FULL_CPU_SCORE", policy.FullCPUScore)
	policy.FullFPS = getEnvFloat("FULL_FPS", policy.FullFPS)
	policy.HighMemoryPressure = getEnvFloat("HIGH_MEMORY_PRESSURE", policy.HighMemoryPressure)

	return policy, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be in (0,65535], got %d", c.Server.Port)
	}
	if c.Session.LivenessTimeout <= 0 {
		return fmt.Errorf("LIVENESS_TIMEOUT_SEC must be positive")
	}
	if c.Session.HistoryCapacity <= 0 {
		return fmt.Errorf("HISTORY_CAPACITY must be positive")
	}
	if c.Mirror.Enabled && c.Mirror.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when MIRROR_ENABLED=true")
	}
	if c.Policy.UpgradeDwell < 0 {
		return fmt.Errorf("UPGRADE_DWELL_SEC must not be negative")
	}
	if c.Policy.CriticalBatteryPct > c.Policy.LowBatteryPct {
		return fmt.Errorf("critical battery threshold %.0f exceeds low battery threshold %.0f",
			c.Policy.CriticalBatteryPct, c.Policy.LowBatteryPct)
	}
	if c.Policy.CriticalCPUScore > c.Policy.LowCPUScore || c.Policy.LowCPUScore > c.Policy.FullCPUScore {
		return fmt.Errorf("cpu thresholds must be ordered critical <= low <= full")
	}
	if c.Alert.DegradedShare < 0 || c.Alert.DegradedShare > 1 {
		return fmt.Errorf("ALERT_DEGRADED_SHARE must be in [0,1]")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

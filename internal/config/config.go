// Package config loads service configuration from the environment.
// Values come from environment variables with an optional .env file,
// following the JARVIS_ prefix convention.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the full service configuration.
type Config struct {
	// Server
	ListenAddr  string
	DataDir     string
	LogLevel    string
	LogFormat   string
	AuthUser    string
	AuthPass    string
	ExternalURL string // callback URL reachable by the orchestrator

	// Remediation control plane
	MaxAttemptsPerAlert       int
	AttemptWindow             time.Duration
	FingerprintCooldown       time.Duration
	EscalationCooldown        time.Duration
	CrashLoopThreshold        int
	CommandExecutionTimeout   time.Duration
	LongRunningCommandTimeout time.Duration

	// Verification
	VerificationEnabled      bool
	VerificationMaxWait      time.Duration
	VerificationPollInterval time.Duration
	VerificationInitialDelay time.Duration

	// Reasoning oracle
	OracleAPIKey        string
	OracleBaseURL       string
	OracleModel         string
	OracleEscalateModel string // used when an alert is crash-looping
	OracleMaxIterations int

	// External backends
	MetricsBackendURL string // Prometheus-compatible query API
	LogsBackendURL    string // Loki-compatible query API
	ChatWebhookURL    string // fire-and-forget notification sink
	OrchestratorURL   string // n8n-style workflow orchestrator
	OrchestratorKey   string
	HASupervisorURL   string // home-automation supervisor
	HASupervisorToken string

	// Execution targets
	SelfHost          string // hostname this service runs on; executes locally
	ServiceContainer  string // container/unit this service runs as
	DatabaseContainer string // container/unit holding the database
	SSHUser           string
	SSHKeyPath        string
	SSHConnectTimeout time.Duration

	// Host monitor
	HostOfflineThreshold int
	HostProbeInterval    time.Duration

	// Degraded-mode queue
	QueueCapacity      int
	QueueDrainInterval time.Duration
	QueueDrainBatch    int

	// Self-preservation
	SelfRestartTimeout  time.Duration // clamped to 2-60 minutes
	StaleHandoffCleanup time.Duration // clamped to 10-1440 minutes
	MaxRestarts         int

	// Proactive and anomaly loops
	ProactiveEnabled  bool
	ProactiveInterval time.Duration
	AnomalyEnabled    bool
	AnomalyInterval   time.Duration
	AnomalyCooldown   time.Duration
	AnomalyZWarning   float64
	AnomalyZCritical  float64

	// Runbooks
	RunbookDir string
}

// Load reads configuration from the environment, applying defaults and
// range clamps. A .env file in the working directory or JARVIS_ENV_FILE is
// honored when present.
func Load() (*Config, error) {
	if envFile := os.Getenv("JARVIS_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	dataDir := getEnv("JARVIS_DATA_DIR", "/var/lib/jarvis")

	cfg := &Config{
		ListenAddr:  getEnv("JARVIS_LISTEN_ADDR", ":8080"),
		DataDir:     dataDir,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "auto"),
		AuthUser:    os.Getenv("JARVIS_AUTH_USER"),
		AuthPass:    os.Getenv("JARVIS_AUTH_PASS"),
		ExternalURL: os.Getenv("JARVIS_EXTERNAL_URL"),

		MaxAttemptsPerAlert:       getEnvInt("MAX_ATTEMPTS_PER_ALERT", 3),
		AttemptWindow:             getEnvDurationHours("ATTEMPT_WINDOW_HOURS", 2),
		FingerprintCooldown:       getEnvDurationSeconds("FINGERPRINT_COOLDOWN_SECONDS", 300),
		EscalationCooldown:        getEnvDurationHours("ESCALATION_COOLDOWN_HOURS", 4),
		CrashLoopThreshold:        getEnvInt("CRASH_LOOP_THRESHOLD", 2),
		CommandExecutionTimeout:   getEnvDurationSeconds("COMMAND_EXECUTION_TIMEOUT", 60),
		LongRunningCommandTimeout: getEnvDurationSeconds("LONG_RUNNING_COMMAND_TIMEOUT", 300),

		VerificationEnabled:      getEnvBool("VERIFICATION_ENABLED", true),
		VerificationMaxWait:      getEnvDurationSeconds("VERIFICATION_MAX_WAIT_SECONDS", 120),
		VerificationPollInterval: getEnvDurationSeconds("VERIFICATION_POLL_INTERVAL", 10),
		VerificationInitialDelay: getEnvDurationSeconds("VERIFICATION_INITIAL_DELAY", 10),

		OracleAPIKey:        os.Getenv("ORACLE_API_KEY"),
		OracleBaseURL:       os.Getenv("ORACLE_BASE_URL"),
		OracleModel:         getEnv("ORACLE_MODEL", "claude-sonnet-4-5"),
		OracleEscalateModel: getEnv("ORACLE_ESCALATE_MODEL", "claude-opus-4-1"),
		OracleMaxIterations: getEnvInt("ORACLE_MAX_ITERATIONS", 10),

		MetricsBackendURL: getEnv("METRICS_BACKEND_URL", "http://localhost:9090"),
		LogsBackendURL:    os.Getenv("LOGS_BACKEND_URL"),
		ChatWebhookURL:    os.Getenv("CHAT_WEBHOOK_URL"),
		OrchestratorURL:   os.Getenv("ORCHESTRATOR_URL"),
		OrchestratorKey:   os.Getenv("ORCHESTRATOR_API_KEY"),
		HASupervisorURL:   os.Getenv("HA_SUPERVISOR_URL"),
		HASupervisorToken: os.Getenv("HA_SUPERVISOR_TOKEN"),

		SelfHost:          getEnv("JARVIS_SELF_HOST", hostname()),
		ServiceContainer:  getEnv("JARVIS_SERVICE_CONTAINER", "jarvis"),
		DatabaseContainer: getEnv("JARVIS_DATABASE_CONTAINER", "jarvis-db"),
		SSHUser:           getEnv("SSH_USER", "root"),
		SSHKeyPath:        getEnv("SSH_KEY_PATH", filepath.Join(dataDir, "id_ed25519")),
		SSHConnectTimeout: getEnvDurationSeconds("SSH_CONNECT_TIMEOUT", 10),

		HostOfflineThreshold: getEnvInt("HOST_OFFLINE_THRESHOLD", 3),
		HostProbeInterval:    getEnvDurationSeconds("HOST_PROBE_INTERVAL", 300),

		QueueCapacity:      getEnvInt("QUEUE_CAPACITY", 500),
		QueueDrainInterval: getEnvDurationSeconds("QUEUE_DRAIN_INTERVAL", 30),
		QueueDrainBatch:    getEnvInt("QUEUE_DRAIN_BATCH", 100),

		SelfRestartTimeout:  getEnvDurationMinutes("SELF_RESTART_TIMEOUT_MINUTES", 10),
		StaleHandoffCleanup: getEnvDurationMinutes("STALE_HANDOFF_CLEANUP_MINUTES", 30),
		MaxRestarts:         getEnvInt("MAX_RESTARTS", 2),

		ProactiveEnabled:  getEnvBool("PROACTIVE_MONITORING_ENABLED", true),
		ProactiveInterval: getEnvDurationSeconds("PROACTIVE_CHECK_INTERVAL", 300),
		AnomalyEnabled:    getEnvBool("ANOMALY_DETECTION_ENABLED", true),
		AnomalyInterval:   getEnvDurationSeconds("ANOMALY_CHECK_INTERVAL", 300),
		AnomalyCooldown:   getEnvDurationMinutes("ANOMALY_COOLDOWN_MINUTES", 30),
		AnomalyZWarning:   getEnvFloat("ANOMALY_Z_WARNING", 3.0),
		AnomalyZCritical:  getEnvFloat("ANOMALY_Z_CRITICAL", 4.0),

		RunbookDir: getEnv("RUNBOOK_DIR", filepath.Join(dataDir, "runbooks")),
	}

	cfg.applyClamps()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyClamps enforces the documented ranges on self-preservation timers
// and attempt limits.
func (c *Config) applyClamps() {
	c.SelfRestartTimeout = clampDuration(c.SelfRestartTimeout, 2*time.Minute, 60*time.Minute)
	c.StaleHandoffCleanup = clampDuration(c.StaleHandoffCleanup, 10*time.Minute, 1440*time.Minute)

	if c.MaxAttemptsPerAlert < 1 {
		c.MaxAttemptsPerAlert = 1
	}
	if c.MaxAttemptsPerAlert > 20 {
		c.MaxAttemptsPerAlert = 20
	}
	if c.OracleMaxIterations < 1 {
		c.OracleMaxIterations = 10
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 500
	}
	if c.QueueDrainBatch < 1 {
		c.QueueDrainBatch = 100
	}
	if c.HostOfflineThreshold < 1 {
		c.HostOfflineThreshold = 3
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 2
	}
}

func (c *Config) validate() error {
	if c.ExternalURL != "" {
		u, err := url.Parse(c.ExternalURL)
		if err != nil {
			return fmt.Errorf("invalid JARVIS_EXTERNAL_URL: %w", err)
		}
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			log.Warn().Str("external_url", c.ExternalURL).
				Msg("External URL points at localhost; the orchestrator will not be able to call back")
		}
	}
	if c.AnomalyZCritical <= c.AnomalyZWarning {
		return fmt.Errorf("ANOMALY_Z_CRITICAL (%.1f) must exceed ANOMALY_Z_WARNING (%.1f)",
			c.AnomalyZCritical, c.AnomalyZWarning)
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric environment value")
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-boolean environment value")
	}
	return fallback
}

func getEnvDurationSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

func getEnvDurationMinutes(key string, fallbackMinutes int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMinutes)) * time.Minute
}

func getEnvDurationHours(key string, fallbackHours int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackHours)) * time.Hour
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

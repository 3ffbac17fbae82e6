package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentq.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTQ_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTQ_CORS_ORIGIN")
	setString(&cfg.Server.BaseURL, "AGENTQ_BASE_URL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTQ_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTQ_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTQ_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTQ_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTQ_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setDuration(&cfg.LiteLLM.RequestTimeout, "AGENTQ_LITELLM_TIMEOUT")
	setString(&cfg.Logging.Level, "AGENTQ_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTQ_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "AGENTQ_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTQ_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "AGENTQ_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "AGENTQ_CACHE_TTL")

	// Orchestrator
	setString(&cfg.Orchestrator.ClassifierModel, "AGENTQ_CLASSIFIER_MODEL")
	setString(&cfg.Orchestrator.PlannerModel, "AGENTQ_PLANNER_MODEL")
	setString(&cfg.Orchestrator.ExecutionModel, "AGENTQ_EXECUTION_MODEL")
	setDuration(&cfg.Orchestrator.StepPause, "AGENTQ_STEP_PAUSE")
	setInt(&cfg.Orchestrator.StepMaxTokens, "AGENTQ_STEP_MAX_TOKENS")
	setInt(&cfg.Orchestrator.SummaryMaxTokens, "AGENTQ_SUMMARY_MAX_TOKENS")
	setDuration(&cfg.Orchestrator.SweepInterval, "AGENTQ_SWEEP_INTERVAL")
	setInt(&cfg.Orchestrator.SweepBatchSize, "AGENTQ_SWEEP_BATCH_SIZE")
	setDuration(&cfg.Orchestrator.StaleAfter, "AGENTQ_STALE_AFTER")
	setInt(&cfg.Orchestrator.WorkersPerLane, "AGENTQ_WORKERS_PER_LANE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Orchestrator.SweepBatchSize < 1 {
		return errors.New("orchestrator.sweep_batch_size must be >= 1")
	}
	if cfg.Orchestrator.StaleAfter <= 0 {
		return errors.New("orchestrator.stale_after must be positive")
	}
	if cfg.Orchestrator.WorkersPerLane < 1 {
		return errors.New("orchestrator.workers_per_lane must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

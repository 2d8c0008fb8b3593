package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete AuditWatch configuration. Passed explicitly
// into constructors; no component reads process-wide state.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`

	Ledger LedgerConfig    `json:"ledger" yaml:"ledger"`
	Cache  CacheConfig     `json:"cache" yaml:"cache"`
	Bus    EventBusConfig  `json:"bus" yaml:"bus"`
	Collab CollabConfig    `json:"collaborators" yaml:"collaborators"`
	Rules  RulesConfig     `json:"rules" yaml:"rules"`
	Blend  ConfidenceBlend `json:"confidence" yaml:"confidence"`

	// AnonymizePII masks customer identifiers before the pipeline sees them.
	AnonymizePII bool `json:"anonymizePII" yaml:"anonymize_pii"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// CollabConfig bounds the two external collaborators. These are the only
// operations in the core with a timeout; on expiry the attempt counts as
// failed and feeds the retry/fallback policy.
type CollabConfig struct {
	RetrievalTimeout time.Duration `json:"retrievalTimeout" yaml:"retrieval_timeout"`
	GenerateTimeout  time.Duration `json:"generateTimeout" yaml:"generate_timeout"`
	MaxAttempts      int           `json:"maxAttempts" yaml:"max_attempts"`
	TemplateTopK     int           `json:"templateTopK" yaml:"template_top_k"`

	// GeneratorURL is the narrative inference endpoint (Ollama-style).
	// Empty means fallback composition only.
	GeneratorURL   string `json:"generatorURL" yaml:"generator_url"`
	GeneratorModel string `json:"generatorModel" yaml:"generator_model"`
}

// RulesConfig holds the indicator battery thresholds. Amounts follow the
// case currency.
type RulesConfig struct {
	ReportingThreshold float64 `json:"reportingThreshold" yaml:"reporting_threshold"`
	NearThresholdRatio float64 `json:"nearThresholdRatio" yaml:"near_threshold_ratio"`
	SmallDepositLimit  float64 `json:"smallDepositLimit" yaml:"small_deposit_limit"`
	LargeTxnFloor      float64 `json:"largeTxnFloor" yaml:"large_txn_floor"`
	VolumeSpikeRatio   float64 `json:"volumeSpikeRatio" yaml:"volume_spike_ratio"`
	IncomeRatio        float64 `json:"incomeRatio" yaml:"income_ratio"`
	FanInMin           int     `json:"fanInMin" yaml:"fan_in_min"`
	RoundAmountUnit    float64 `json:"roundAmountUnit" yaml:"round_amount_unit"`

	HighRiskTypes     []string `json:"highRiskTypes" yaml:"high_risk_types"`
	HighRiskCountries []string `json:"highRiskCountries" yaml:"high_risk_countries"`

	// CELRules are operator-defined indicators compiled at startup and
	// registered alongside the builtin battery.
	CELRules []CELRule `json:"celRules" yaml:"cel_rules"`
}

// CELRule describes an operator-defined indicator rule as a CEL predicate
// over each transaction. New regulatory heuristics land as configuration,
// without touching the builtin battery.
type CELRule struct {
	ID         IndicatorID `json:"id" yaml:"id"`
	Severity   Severity    `json:"severity" yaml:"severity"`
	Weight     float64     `json:"weight" yaml:"weight"`
	Expression string      `json:"expression" yaml:"expression"`

	// MinMatches is how many transactions must satisfy the predicate
	// before the indicator fires. Defaults to 1.
	MinMatches int `json:"minMatches" yaml:"min_matches"`

	// Evidence is the finding summary; %d is substituted with the match
	// count.
	Evidence string `json:"evidence" yaml:"evidence"`
}

// ConfidenceBlend weights the combined confidence surfaced to reviewers:
// pattern-match strength, template-similarity score and regulatory-context
// match. The exact mix is a policy decision, so it is configuration, not a
// constant.
type ConfidenceBlend struct {
	PatternWeight  float64 `json:"patternWeight" yaml:"pattern_weight"`
	TemplateWeight float64 `json:"templateWeight" yaml:"template_weight"`
	ContextWeight  float64 `json:"contextWeight" yaml:"context_weight"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// DefaultConfig returns the single-process defaults: sqlite ledger,
// in-memory cache, channel bus, fallback-only narrative generation.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Ledger: LedgerConfig{
			Driver:     "sqlite",
			SQLitePath: "./auditwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			TTL:          5 * time.Minute,
		},
		Bus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Collab: CollabConfig{
			RetrievalTimeout: 5 * time.Second,
			GenerateTimeout:  60 * time.Second,
			MaxAttempts:      2,
			TemplateTopK:     2,
		},
		Rules: RulesConfig{
			ReportingThreshold: 1_000_000,
			NearThresholdRatio: 0.8,
			SmallDepositLimit:  200_000,
			LargeTxnFloor:      5_000_000,
			VolumeSpikeRatio:   3,
			IncomeRatio:        2,
			FanInMin:           10,
			RoundAmountUnit:    10_000,
			HighRiskTypes:      []string{"SWIFT", "Wire Transfer", "Hawala"},
			HighRiskCountries:  []string{"IR", "KP", "MM"},
		},
		Blend: ConfidenceBlend{
			PatternWeight:  0.5,
			TemplateWeight: 0.3,
			ContextWeight:  0.2,
		},
		AnonymizePII: true,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "auditwatch",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides for the settings that change between deployments.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v := os.Getenv("AUDITWATCH_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("AUDITWATCH_SQLITE_PATH"); v != "" {
		cfg.Ledger.SQLitePath = v
	}
	if v := os.Getenv("AUDITWATCH_GENERATOR_URL"); v != "" {
		cfg.Collab.GeneratorURL = v
	}
	if v := os.Getenv("AUDITWATCH_GENERATOR_MODEL"); v != "" {
		cfg.Collab.GeneratorModel = v
	}
	if v := os.Getenv("AUDITWATCH_NATS_URL"); v != "" {
		cfg.Bus.Type = "nats"
		cfg.Bus.NATSUrl = v
	}
	if v := os.Getenv("AUDITWATCH_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("AUDITWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

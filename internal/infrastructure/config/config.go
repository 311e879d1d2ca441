package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/service/claims"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: CFE_FRAUD__WEIGHTS__CLAIM=0.3.
const EnvPrefix = "CFE_"

// DefaultPath is read when present.
const DefaultPath = "configs/config.yaml"

// Storage backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`
	Store       string `koanf:"store"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Graph     GraphConfig     `koanf:"graph"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Fraud     FraudConfig     `koanf:"fraud"`
	Network   NetworkConfig   `koanf:"network"`
	Advisor   AdvisorConfig   `koanf:"advisor"`
	Batch     BatchConfig     `koanf:"batch"`
	Reference ReferenceConfig `koanf:"reference"`
}

type ServerConfig struct {
	Port            int             `koanf:"port"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64           `koanf:"max_body_bytes"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Enabled    bool          `koanf:"enabled"`
	URL        string        `koanf:"url"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	SignalTTL  time.Duration `koanf:"signal_ttl"`
	ProfileTTL time.Duration `koanf:"profile_ttl"`
}

// GraphConfig points at the neo4j referral graph.
type GraphConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// FraudConfig holds the detector thresholds and aggregation weights.
type FraudConfig struct {
	LookbackDays              int                   `koanf:"lookback_days"`
	UpcodingThreshold         float64               `koanf:"upcoding_threshold"`
	PhantomThreshold          float64               `koanf:"phantom_threshold"`
	UnbundlingRisk            float64               `koanf:"unbundling_risk"`
	PriceMismatchMultiplier   float64               `koanf:"price_mismatch_multiplier"`
	SuspiciousDistanceMiles   float64               `koanf:"suspicious_distance_miles"`
	DuplicateWindow           time.Duration         `koanf:"duplicate_window"`
	MaxPatientVisitsPerWindow int                   `koanf:"max_patient_visits"`
	ApprovalThreshold         float64               `koanf:"approval_threshold"`
	Weights                   risk.Weights          `koanf:"weights"`
	ScoreBands                claim.ScoreBands      `koanf:"score_bands"`
	ConfidenceBands           claim.ConfidenceBands `koanf:"confidence_bands"`

	// PatternWeights overrides the built-in weight of individual patterns,
	// keyed by pattern id; keys are matched case-insensitively.
	PatternWeights map[string]float64 `koanf:"pattern_weights"`

	// Detector gates. Ratio-based patient patterns need a panel of at least
	// MinPatientsForRatios distinct patients, modifier shares need at least
	// MinModifierOccurrences modifiers, and TimeConflictExempt provider types
	// skip the per-day units check.
	MinPatientsForRatios   int      `koanf:"min_patients_for_ratios"`
	MinModifierOccurrences int      `koanf:"min_modifier_occurrences"`
	TimeConflictExempt     []string `koanf:"time_conflict_exempt"`
}

type NetworkConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	LookbackDays int           `koanf:"lookback_days"`
	MaxProviders int           `koanf:"max_providers"`
}

// AdvisorConfig configures the optional external risk advisor.
type AdvisorConfig struct {
	Endpoint       string                    `koanf:"endpoint"`
	APIKey         string                    `koanf:"api_key"`
	Timeout        time.Duration             `koanf:"timeout"`
	Weight         float64                   `koanf:"weight"`
	CircuitBreaker risk.CircuitBreakerConfig `koanf:"circuit_breaker"`
}

type BatchConfig struct {
	Concurrency int `koanf:"concurrency"`
}

// ReferenceConfig optionally overrides billing code price ranges from a
// parquet file.
type ReferenceConfig struct {
	PriceFile string `koanf:"price_file"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	rules := fraud.DefaultRules()
	netCfg := network.DefaultConfig()
	riskCfg := risk.DefaultConfig()
	procCfg := claims.DefaultConfig()

	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "json",
		Store:       StoreMemory,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379/0",
			SignalTTL:  24 * time.Hour,
			ProfileTTL: 15 * time.Minute,
		},
		Graph: GraphConfig{
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "claims-fraud-engine",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
		Fraud: FraudConfig{
			LookbackDays:              rules.LookbackDays,
			UpcodingThreshold:         rules.UpcodingThreshold,
			PhantomThreshold:          rules.PhantomThreshold,
			UnbundlingRisk:            rules.UnbundlingRisk,
			PriceMismatchMultiplier:   rules.PriceMismatchMultiplier,
			SuspiciousDistanceMiles:   rules.SuspiciousDistanceMiles,
			DuplicateWindow:           rules.DuplicateWindow,
			MaxPatientVisitsPerWindow: rules.MaxPatientVisitsPerWindow,
			ApprovalThreshold:         procCfg.ApprovalThreshold,
			Weights:                   riskCfg.Weights,
			ScoreBands:                riskCfg.ScoreBands,
			ConfidenceBands:           rules.ConfidenceBands,
			MinPatientsForRatios:      rules.MinPatientsForRatios,
			MinModifierOccurrences:    rules.MinModifierOccurrences,
			TimeConflictExempt:        providerTypeNames(rules.TimeConflictExempt),
		},
		Network: NetworkConfig{
			Enabled:      true,
			Interval:     time.Hour,
			Timeout:      10 * time.Minute,
			LookbackDays: netCfg.LookbackDays,
			MaxProviders: netCfg.MaxProviders,
		},
		Advisor: AdvisorConfig{
			Timeout: 500 * time.Millisecond,
			Weight:  riskCfg.AdvisorWeight,
			CircuitBreaker: risk.CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenTimeout:      30 * time.Second,
			},
		},
		Batch:     BatchConfig{Concurrency: procCfg.BatchConcurrency},
		Reference: ReferenceConfig{},
	}
}

// Load reads defaults, then DefaultPath when present, then CFE_ variables.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath)
}

// LoadFrom is Load with an explicit config file path. A missing file is not
// an error.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services would refuse later.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required when store is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	if err := c.RiskConfig().Validate(); err != nil {
		return fmt.Errorf("fraud: %w", err)
	}
	if err := c.ProcessorConfig().Validate(); err != nil {
		return fmt.Errorf("fraud: %w", err)
	}
	if err := c.FraudRules().Validate(); err != nil {
		return fmt.Errorf("fraud: %w", err)
	}
	if c.Network.Enabled && c.Network.Interval <= 0 {
		return fmt.Errorf("network.interval must be positive")
	}
	return nil
}

// FraudRules applies the configured thresholds over the default rules.
func (c *Config) FraudRules() *fraud.Rules {
	r := fraud.DefaultRules()
	f := c.Fraud
	r.LookbackDays = f.LookbackDays
	r.UpcodingThreshold = f.UpcodingThreshold
	r.PhantomThreshold = f.PhantomThreshold
	r.UnbundlingRisk = f.UnbundlingRisk
	r.PriceMismatchMultiplier = f.PriceMismatchMultiplier
	r.SuspiciousDistanceMiles = f.SuspiciousDistanceMiles
	r.DuplicateWindow = f.DuplicateWindow
	r.MaxPatientVisitsPerWindow = f.MaxPatientVisitsPerWindow
	r.ConfidenceBands = f.ConfidenceBands
	r.MinPatientsForRatios = f.MinPatientsForRatios
	r.MinModifierOccurrences = f.MinModifierOccurrences

	r.TimeConflictExempt = make([]provider.ProviderType, 0, len(f.TimeConflictExempt))
	for _, t := range f.TimeConflictExempt {
		if t = strings.TrimSpace(t); t != "" {
			r.TimeConflictExempt = append(r.TimeConflictExempt, provider.ProviderType(strings.ToUpper(t)))
		}
	}
	if len(f.PatternWeights) > 0 {
		r.PatternWeights = make(map[string]float64, len(f.PatternWeights))
		for id, w := range f.PatternWeights {
			r.PatternWeights[strings.ToUpper(id)] = w
		}
	}
	return r
}

func providerTypeNames(types []provider.ProviderType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func (c *Config) RiskConfig() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.Weights = c.Fraud.Weights
	cfg.ScoreBands = c.Fraud.ScoreBands
	cfg.LookbackDays = c.Fraud.LookbackDays
	cfg.AdvisorWeight = c.Advisor.Weight
	return cfg
}

func (c *Config) ProcessorConfig() claims.Config {
	return claims.Config{
		ApprovalThreshold: c.Fraud.ApprovalThreshold,
		BatchConcurrency:  c.Batch.Concurrency,
	}
}

func (c *Config) NetworkAnalyzerConfig() network.Config {
	cfg := network.DefaultConfig()
	cfg.LookbackDays = c.Network.LookbackDays
	cfg.MaxProviders = c.Network.MaxProviders
	return cfg
}

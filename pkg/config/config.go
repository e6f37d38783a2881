// SPDX-License-Identifier: Apache-2.0

// Package config loads engine settings from YAML files, profile
// overlays, environment variables and CLI flags, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aegislabs/aegis/pkg/classify"
	"github.com/aegislabs/aegis/pkg/resilience"
)

// Config is the full engine configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Retry      RetryConfig      `koanf:"retry"`
	Alerting   AlertingConfig   `koanf:"alerting"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

type ClassifierConfig struct {
	HistoryCapacity int    `koanf:"history_capacity"`
	PatternFile     string `koanf:"pattern_file"` // optional YAML pattern pack
}

// RetryPolicy is one entry of the retry policy table, keyed
// "{category}" or "{category}_{subcategory}". Zero fields inherit the
// built-in default.
type RetryPolicy struct {
	MaxAttempts             int           `koanf:"max_attempts"`
	InitialDelay            time.Duration `koanf:"initial_delay"`
	MaxDelay                time.Duration `koanf:"max_delay"`
	BackoffMultiplier       float64       `koanf:"backoff_multiplier"`
	JitterFactor            float64       `koanf:"jitter_factor"`
	RetryableCategories     []string      `koanf:"retryable_categories"`
	RetryableSubcategories  []string      `koanf:"retryable_subcategories"`
	CircuitBreakerThreshold int           `koanf:"circuit_breaker_threshold"`
	CircuitBreakerWindow    time.Duration `koanf:"circuit_breaker_window"`
	HalfOpenMaxAttempts     int           `koanf:"half_open_max_attempts"`
	AdaptiveAdjustment      bool          `koanf:"adaptive_adjustment"`
}

type RetryConfig struct {
	Policies map[string]RetryPolicy `koanf:"policies"`
}

type AlertingConfig struct {
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	SweepTimeout      time.Duration `koanf:"sweep_timeout"`
	SuppressionWindow time.Duration `koanf:"suppression_window"`
	AuditDBPath       string        `koanf:"audit_db_path"` // empty keeps the in-memory store
}

// Load reads configuration from an optional YAML file and the
// environment (AEGIS_LOG_LEVEL -> log.level).
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile loads the base file, then overlays
// "<base>.<profile>.yaml" when it exists, then the environment.
func LoadWithProfile(path, profile string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load profile config %s: %w", profilePath, err)
		}
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI parses a minimal flag set: --config PATH, --profile NAME
// (--env is an alias), and repeated --set key=value overrides.
func LoadWithCLI(args []string) (*Config, error) {
	var (
		path    string
		profile string
		sets    []string
	)
	next := func(i *int) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", args[*i-1])
		}
		return args[*i], nil
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--config":
			path, err = next(&i)
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--profile" || arg == "--env":
			profile, err = next(&i)
		case strings.HasPrefix(arg, "--profile="):
			profile = strings.TrimPrefix(arg, "--profile=")
		case strings.HasPrefix(arg, "--env="):
			profile = strings.TrimPrefix(arg, "--env=")
		case arg == "--set":
			var kv string
			kv, err = next(&i)
			sets = append(sets, kv)
		case strings.HasPrefix(arg, "--set="):
			sets = append(sets, strings.TrimPrefix(arg, "--set="))
		}
		if err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")
	setDefaults(k)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load profile config %s: %w", profilePath, err)
		}
	}
	if err := loadEnv(k); err != nil {
		return nil, err
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}
	return unmarshal(k)
}

// profileConfigPath returns "<dir>/<name>.<profile>.<ext>" when that
// file exists, empty otherwise.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")
	k.Set("classifier.history_capacity", classify.DefaultHistoryCapacity)
	k.Set("alerting.sweep_interval", "60s")
	k.Set("alerting.sweep_timeout", "30s")
	k.Set("alerting.suppression_window", "5m")
}

func loadEnv(k *koanf.Koanf) error {
	return k.Load(env.Provider("AEGIS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AEGIS_")), "_", ".", -1)
	}), nil)
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RetryTable converts configured policies into a resolvable policy
// table, inheriting unset fields from the built-in default.
func (c *Config) RetryTable() map[string]resilience.RetryConfig {
	table := resilience.DefaultConfigTable()
	for key, policy := range c.Retry.Policies {
		base := resilience.DefaultRetryConfig()
		if existing, ok := table[key]; ok {
			base = existing
		}
		table[key] = mergePolicy(base, policy)
	}
	return table
}

func mergePolicy(base resilience.RetryConfig, p RetryPolicy) resilience.RetryConfig {
	if p.MaxAttempts > 0 {
		base.MaxAttempts = p.MaxAttempts
	}
	if p.InitialDelay > 0 {
		base.InitialDelay = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		base.MaxDelay = p.MaxDelay
	}
	if p.BackoffMultiplier > 0 {
		base.BackoffMultiplier = p.BackoffMultiplier
	}
	if p.JitterFactor > 0 {
		base.JitterFactor = p.JitterFactor
	}
	if len(p.RetryableCategories) > 0 {
		cats := make([]classify.Category, 0, len(p.RetryableCategories))
		for _, c := range p.RetryableCategories {
			cats = append(cats, classify.Category(c))
		}
		base.RetryableCategories = cats
	}
	if len(p.RetryableSubcategories) > 0 {
		base.RetryableSubcategories = p.RetryableSubcategories
	}
	if p.CircuitBreakerThreshold > 0 {
		base.CircuitBreakerThreshold = p.CircuitBreakerThreshold
	}
	if p.CircuitBreakerWindow > 0 {
		base.CircuitBreakerWindow = p.CircuitBreakerWindow
	}
	if p.HalfOpenMaxAttempts > 0 {
		base.HalfOpenMaxAttempts = p.HalfOpenMaxAttempts
	}
	if p.AdaptiveAdjustment {
		base.AdaptiveAdjustment = true
	}
	return base
}

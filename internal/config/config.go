// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Dispatcher configuration
	Simulator SimulatorConfig `yaml:"simulator"`

	// Log analysis configuration
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Stub target server configuration
	Stub StubConfig `yaml:"stub"`

	// Event bus configuration
	Bus BusConfig `yaml:"bus"`

	// Summary history configuration
	History HistoryConfig `yaml:"history"`

	// Metrics endpoint configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// SimulatorConfig holds load generation settings.
type SimulatorConfig struct {
	URL         string        `envconfig:"SENTI_TARGET_URL" yaml:"url"`
	Method      string        `envconfig:"SENTI_METHOD" yaml:"method"`
	Requests    int           `envconfig:"SENTI_REQUESTS" yaml:"requests"`
	Concurrency int           `envconfig:"SENTI_CONCURRENCY" yaml:"concurrency"`
	Quantize    string        `envconfig:"SENTI_QUANTIZE" yaml:"quantize"` // true, false or none
	Timeout     time.Duration `envconfig:"SENTI_TIMEOUT" yaml:"timeout"`
	RateLimit   float64       `envconfig:"SENTI_RATE_LIMIT" yaml:"rate_limit"` // requests/sec, 0 = unlimited
	CorpusFile  string        `envconfig:"SENTI_CORPUS_FILE" yaml:"corpus_file"`
	LogFile     string        `envconfig:"SENTI_LOG_FILE" yaml:"log_file"`
	ExcerptLen  int           `envconfig:"SENTI_EXCERPT_LEN" yaml:"excerpt_len"`
}

// AnalyzerConfig holds log analysis settings.
type AnalyzerConfig struct {
	LogFile   string `envconfig:"SENTI_ANALYZE_LOG_FILE" yaml:"log_file"`
	Window    int    `envconfig:"SENTI_WINDOW" yaml:"window"`
	ChartPath string `envconfig:"SENTI_CHART_PATH" yaml:"chart_path"`
	Format    string `envconfig:"SENTI_REPORT_FORMAT" yaml:"format"`
	MaxPoints int    `envconfig:"SENTI_CHART_MAX_POINTS" yaml:"max_points"`
}

// StubConfig holds settings for the local stub inference target.
type StubConfig struct {
	Host      string        `envconfig:"SENTI_STUB_HOST" yaml:"host"`
	Port      int           `envconfig:"SENTI_STUB_PORT" yaml:"port"`
	Delay     time.Duration `envconfig:"SENTI_STUB_DELAY" yaml:"delay"`
	Jitter    time.Duration `envconfig:"SENTI_STUB_JITTER" yaml:"jitter"`
	RateLimit float64       `envconfig:"SENTI_STUB_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
	FailRate  float64       `envconfig:"SENTI_STUB_FAIL_RATE" yaml:"fail_rate"`   // fraction of 503 answers
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"SENTI_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"SENTI_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"SENTI_KAFKA_GROUP" yaml:"kafka_group"`
	JournalPath  string `envconfig:"SENTI_EVENT_LOG" yaml:"journal_path"` // empty = disabled
}

// HistoryConfig holds Redis summary history settings.
type HistoryConfig struct {
	RedisURL string `envconfig:"SENTI_HISTORY_REDIS_URL" yaml:"redis_url"` // empty = disabled
	Key      string `envconfig:"SENTI_HISTORY_KEY" yaml:"key"`
	Limit    int    `envconfig:"SENTI_HISTORY_LIMIT" yaml:"limit"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `envconfig:"SENTI_METRICS_ADDR" yaml:"addr"` // empty = disabled
	Path string `envconfig:"SENTI_METRICS_PATH" yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"SENTI_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"SENTI_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Simulator = SimulatorConfig{
		URL:         "http://localhost:8000/predict",
		Method:      "GET",
		Requests:    1,
		Concurrency: 1,
		Quantize:    "true",
		Timeout:     30 * time.Second,
		LogFile:     "logs/simulator.log",
		ExcerptLen:  30,
	}

	cfg.Analyzer = AnalyzerConfig{
		LogFile:   "logs/simulator.log",
		Window:    10,
		ChartPath: "latency_report.html",
		Format:    "text",
		MaxPoints: 2000,
	}

	cfg.Stub = StubConfig{
		Host:  "127.0.0.1",
		Port:  8000,
		Delay: 20 * time.Millisecond,
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "sentiment-loadsim",
	}

	cfg.History = HistoryConfig{
		Key:   "senti:history",
		Limit: 50,
	}

	cfg.Metrics = MetricsConfig{
		Path: "/metrics",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Simulator validation
	if u, err := url.Parse(c.Simulator.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid target url: %q", c.Simulator.URL))
	}

	validMethods := map[string]bool{"GET": true, "POST": true}
	if !validMethods[strings.ToUpper(c.Simulator.Method)] {
		errs = append(errs, fmt.Sprintf("invalid method: %s (must be GET or POST)", c.Simulator.Method))
	}

	if c.Simulator.Requests < 1 {
		errs = append(errs, "requests must be positive")
	}

	if c.Simulator.Concurrency < 1 {
		errs = append(errs, "concurrency must be positive")
	}

	if _, _, err := ParseQuantize(c.Simulator.Quantize); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Simulator.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	if c.Simulator.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if c.Simulator.ExcerptLen < 1 {
		errs = append(errs, "excerpt_len must be positive")
	}

	// Analyzer validation
	if c.Analyzer.Window < 1 {
		errs = append(errs, "window must be positive")
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Analyzer.Format] {
		errs = append(errs, fmt.Sprintf("invalid report format: %s (must be text or json)", c.Analyzer.Format))
	}

	if c.Analyzer.MaxPoints < 0 {
		errs = append(errs, "max_points must not be negative")
	}

	// Stub validation
	if c.Stub.Port < 1 || c.Stub.Port > 65535 {
		errs = append(errs, "stub port must be between 1 and 65535")
	}
	if c.Stub.Delay < 0 || c.Stub.Jitter < 0 {
		errs = append(errs, "stub delay and jitter must not be negative")
	}
	if c.Stub.RateLimit < 0 {
		errs = append(errs, "stub rate_limit must not be negative")
	}
	if c.Stub.FailRate < 0 || c.Stub.FailRate > 1 {
		errs = append(errs, "stub fail_rate must be between 0 and 1")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true, "none": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory, kafka, or none)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers required when bus type is kafka")
	}

	// History validation
	if c.History.Limit < 1 {
		errs = append(errs, "history limit must be positive")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ParseQuantize interprets the boolean-like variant toggle.
// The second return value reports whether the flag should be sent at all.
func ParseQuantize(v string) (quantize bool, send bool, err error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true, nil
	case "0", "false", "no", "n", "off":
		return false, true, nil
	case "none", "omit", "":
		return false, false, nil
	default:
		return false, false, fmt.Errorf("invalid quantize value: %q (must be true, false or none)", v)
	}
}

// StubAddress returns the stub server listen address.
func (c *Config) StubAddress() string {
	return fmt.Sprintf("%s:%d", c.Stub.Host, c.Stub.Port)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Events     EventsConfig     `mapstructure:"events"`
	Capability CapabilityConfig `mapstructure:"capability"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

func (g GeneralConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(g.LogFormat)) {
	case "", "json", "console":
	default:
		return fmt.Errorf("general.log_format must be json or console, got %q", g.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(g.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("general.log_level unsupported: %q", g.LogLevel)
	}
	return nil
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address    string        `mapstructure:"address"`
	JWTSecret  string        `mapstructure:"jwt_secret"` // empty disables auth
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// LLMConfig configures the completion service. An empty APIKey means no
// completion service is available.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a completion service is configured.
func (l LLMConfig) Enabled() bool { return strings.TrimSpace(l.APIKey) != "" }

// WorkersConfig holds per-worker call budgets keyed by worker id.
type WorkersConfig struct {
	RateLimitPerMinute map[string]int `mapstructure:"rate_limit_per_minute"`
}

// DefaultRateLimits are applied for workers missing from the config.
var DefaultRateLimits = map[string]int{
	"retrieval":  30,
	"web_search": 10,
	"synthesis":  10,
	"citation":   20,
	"compliance": 20,
	"export":     30,
}

// Normalize fills defaults for workers without an explicit budget.
func (w WorkersConfig) Normalize() WorkersConfig {
	out := make(map[string]int, len(DefaultRateLimits))
	for k, v := range DefaultRateLimits {
		out[k] = v
	}
	for k, v := range w.RateLimitPerMinute {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	w.RateLimitPerMinute = out
	return w
}

func (w WorkersConfig) Validate() error {
	for k, v := range w.RateLimitPerMinute {
		if v < 0 {
			return fmt.Errorf("workers.rate_limit_per_minute.%s cannot be negative", k)
		}
	}
	return nil
}

// WorkflowConfig tunes the research pipeline.
type WorkflowConfig struct {
	RefineThreshold float64       `mapstructure:"refine_threshold"`
	WebMaxResults   int           `mapstructure:"web_max_results"`
	MaxSteps        int           `mapstructure:"max_steps"`
	Supervisor      string        `mapstructure:"supervisor"` // linear or llm
	HistoryWindow   int           `mapstructure:"history_window"`
	EventTimeout    time.Duration `mapstructure:"event_timeout"`
}

// Normalize applies defaults for unset workflow values.
func (w WorkflowConfig) Normalize() WorkflowConfig {
	if w.WebMaxResults <= 0 {
		w.WebMaxResults = 5
	}
	if w.MaxSteps == 0 {
		w.MaxSteps = 20
	}
	w.Supervisor = strings.ToLower(strings.TrimSpace(w.Supervisor))
	if w.Supervisor == "" {
		w.Supervisor = "linear"
	}
	if w.HistoryWindow <= 0 {
		w.HistoryWindow = 5
	}
	if w.EventTimeout <= 0 {
		w.EventTimeout = 2 * time.Second
	}
	return w
}

func (w WorkflowConfig) Validate() error {
	if w.RefineThreshold < 0 || w.RefineThreshold > 1 {
		return fmt.Errorf("workflow.refine_threshold must be within [0,1]")
	}
	if w.MaxSteps < 6 {
		return fmt.Errorf("workflow.max_steps must be at least 6")
	}
	if w.Supervisor != "linear" && w.Supervisor != "llm" {
		return fmt.Errorf("workflow.supervisor must be linear or llm, got %q", w.Supervisor)
	}
	return nil
}

// SourcesConfig contains evidence source configurations
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // brave, serper or empty
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (w WebSearchConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(w.Provider)) {
	case "":
	case "brave":
		if w.BraveAPIKey == "" {
			return fmt.Errorf("sources.web_search.brave_api_key required for brave provider")
		}
	case "serper":
		if w.SerperAPIKey == "" {
			return fmt.Errorf("sources.web_search.serper_api_key required for serper provider")
		}
	default:
		return fmt.Errorf("sources.web_search.provider unsupported: %q", w.Provider)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	File     FileConfig     `mapstructure:"file"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether a redis address was supplied.
func (r RedisConfig) Configured() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port, defaulting the port to 6379.
func (r RedisConfig) Addr() string {
	port := strings.TrimSpace(r.Port)
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// FileConfig contains file storage settings
type FileConfig struct {
	ReportDir string `mapstructure:"report_dir"`
	CorpusDir string `mapstructure:"corpus_dir"`
	IndexPath string `mapstructure:"index_path"` // empty keeps the retrieval index in memory
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether enough settings exist to build a DSN.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || (strings.TrimSpace(p.Host) != "" && strings.TrimSpace(p.DBName) != "")
}

// DSN builds a postgres connection string from URL or discrete fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) == "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when host is provided")
	}
	return nil
}

// EventsConfig controls the progress event bridge.
type EventsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Stream   string        `mapstructure:"stream"`
	Group    string        `mapstructure:"group"`
	Consumer string        `mapstructure:"consumer"`
	MaxLen   int64         `mapstructure:"max_len"`
	Block    time.Duration `mapstructure:"block"`
	MinIdle  time.Duration `mapstructure:"min_idle"`
}

// CapabilityConfig controls worker card signing.
type CapabilityConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.run_timeout", 5*time.Minute)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("workflow.refine_threshold", 0.8)
	v.SetDefault("workflow.web_max_results", 5)
	v.SetDefault("workflow.max_steps", 20)
	v.SetDefault("workflow.supervisor", "linear")
	v.SetDefault("workflow.history_window", 5)
	v.SetDefault("workflow.event_timeout", 2*time.Second)
	v.SetDefault("sources.web_search.timeout", 15*time.Second)
	v.SetDefault("storage.file.report_dir", "./reports")
	v.SetDefault("events.stream", "research.job.progress")
	v.SetDefault("events.group", "job-status")
	v.SetDefault("events.max_len", 10000)
	v.SetDefault("events.block", 5*time.Second)
	v.SetDefault("events.min_idle", time.Minute)
}

// Load reads configuration from path (or the default search paths when
// empty) merged with RESEARCHD_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESEARCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Workers = cfg.Workers.Normalize()
	cfg.Workflow = cfg.Workflow.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on failure.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []func() error{
		c.General.Validate,
		c.Workers.Validate,
		c.Workflow.Validate,
		c.Sources.WebSearch.Validate,
		c.Storage.Postgres.Validate,
	}
	for _, fn := range validators {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the refetch system
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Fetch        FetchConfig        `mapstructure:"fetch"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Batch        BatchConfig        `mapstructure:"batch"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
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

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings used for scheduler locks.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// LLMConfig configures the reasoning collaborator used for satisfaction
// judgments and directive rationale. When APIKey is empty the deterministic
// heuristic judge is used instead.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// FetchConfig contains capability provider settings.
type FetchConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	DefaultTimeoutMS int           `mapstructure:"default_timeout_ms"`
	MaxTimeoutMS     int           `mapstructure:"max_timeout_ms"`
	MaxChars         int           `mapstructure:"max_chars"`
	ScrollDelay      time.Duration `mapstructure:"scroll_delay"`
	Headless         bool          `mapstructure:"headless"`
}

// Normalize applies defaults for unset fetch values.
func (f FetchConfig) Normalize() FetchConfig {
	if f.DefaultTimeoutMS <= 0 {
		f.DefaultTimeoutMS = 15000
	}
	if f.MaxTimeoutMS <= 0 {
		f.MaxTimeoutMS = 120000
	}
	if f.MaxChars <= 0 {
		f.MaxChars = 20000
	}
	if f.ScrollDelay <= 0 {
		f.ScrollDelay = 500 * time.Millisecond
	}
	if strings.TrimSpace(f.UserAgent) == "" {
		f.UserAgent = "refetch/1.0 (+contact@example.com)"
	}
	return f
}

// OrchestratorConfig contains retry loop settings.
type OrchestratorConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	AttemptCeiling time.Duration `mapstructure:"attempt_ceiling"`
}

// Normalize applies defaults for unset orchestrator values.
func (o OrchestratorConfig) Normalize() OrchestratorConfig {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.AttemptCeiling <= 0 {
		o.AttemptCeiling = 3 * time.Minute
	}
	return o
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// BatchConfig configures the prompts-file batch runner and its scheduler.
type BatchConfig struct {
	PromptsFile  string `mapstructure:"prompts_file"`
	CronSchedule string `mapstructure:"cron_schedule"`
}

// LoadConfig loads config from file, with REFETCH_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10080")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("fetch.headless", true)
	viper.SetDefault("orchestrator.max_retries", 3)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("batch.prompts_file", "prompts.txt")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("REFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Fetch = config.Fetch.Normalize()
	config.Orchestrator = config.Orchestrator.Normalize()

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}

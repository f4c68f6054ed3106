// Package config loads pipeline configuration from a YAML file, a .env file and
// REPORTS_* environment variables.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Download   DownloadConfig   `mapstructure:"download"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	API        APIConfig        `mapstructure:"api"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // "console" or "json"
}

// HTTPConfig holds outbound HTTP settings.
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// BrowserConfig holds scripted browser settings.
type BrowserConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ExecPath     string        `mapstructure:"exec_path"`
	Headless     bool          `mapstructure:"headless"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	MaxYearPages int           `mapstructure:"max_year_pages"`
}

// DiscoveryConfig holds the fiscal-year window and output cap.
type DiscoveryConfig struct {
	WindowYears  int `mapstructure:"window_years"`
	MaxDocuments int `mapstructure:"max_documents"`
}

// DownloadConfig holds artifact validation settings.
type DownloadConfig struct {
	MinSizeBytes int64 `mapstructure:"min_size_bytes"`
}

// ExtractionConfig holds extraction adapter settings.
type ExtractionConfig struct {
	Provider         string        `mapstructure:"provider"` // "gemini", "deepseek", "qwen"
	Model            string        `mapstructure:"model"`
	MaxChars         int           `mapstructure:"max_chars"`
	MinChars         int           `mapstructure:"min_chars"`
	CallDelay        time.Duration `mapstructure:"call_delay"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	RateLimitRetries int           `mapstructure:"rate_limit_retries"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	VocabularyFile   string        `mapstructure:"vocabulary_file"`
	PromptsDir       string        `mapstructure:"prompts_dir"`
}

// LLMConfig holds extraction service credentials.
type LLMConfig struct {
	GeminiAPIKey   string `mapstructure:"gemini_api_key"`
	DeepSeekAPIKey string `mapstructure:"deepseek_api_key"`
	QwenAPIKey     string `mapstructure:"qwen_api_key"`
}

// DatabaseConfig enables the Postgres repositories when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig enables the distributed run lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr           string `mapstructure:"addr"`
	MaxParallelRun int    `mapstructure:"max_parallel_runs"`
}

// Load reads configuration.
// Config file search order, unless path is given:
//  1. ./config/config.yaml
//  2. ~/.annualreports/config.yaml
//
// Environment variables override file values. Format: REPORTS_<SECTION>_<KEY>,
// e.g. REPORTS_EXTRACTION_PROVIDER. A .env file in the working directory is loaded
// first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(filepath.Join(homeDir(), ".annualreports"))
	}

	v.SetEnvPrefix("REPORTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "error reading config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "error unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return eris.New("data_dir must be set")
	case c.Discovery.WindowYears < 1:
		return eris.New("discovery.window_years must be positive")
	case c.Discovery.MaxDocuments < 1:
		return eris.New("discovery.max_documents must be positive")
	case c.Extraction.MinChars < 0 || c.Extraction.MaxChars <= c.Extraction.MinChars:
		return eris.New("extraction.max_chars must exceed extraction.min_chars")
	}
	return nil
}

// setDefaults sets defaults for every config value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.download_timeout", 120*time.Second)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout", 60*time.Second)
	v.SetDefault("browser.max_year_pages", 10)

	v.SetDefault("discovery.window_years", 10)
	v.SetDefault("discovery.max_documents", 10)

	v.SetDefault("download.min_size_bytes", 1024)

	v.SetDefault("extraction.provider", "gemini")
	v.SetDefault("extraction.max_chars", 100000)
	v.SetDefault("extraction.min_chars", 1000)
	v.SetDefault("extraction.call_delay", 5*time.Second)
	v.SetDefault("extraction.call_timeout", 120*time.Second)
	v.SetDefault("extraction.rate_limit_retries", 2)
	v.SetDefault("extraction.rate_limit_backoff", 30*time.Second)

	v.SetDefault("redis.lock_ttl", 2*time.Hour)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.max_parallel_runs", 4)
}

// bindLegacyEnv keeps the provider-native variable names working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("llm.gemini_api_key", "REPORTS_LLM_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("llm.deepseek_api_key", "REPORTS_LLM_DEEPSEEK_API_KEY", "DEEPSEEK_API_KEY")
	_ = v.BindEnv("llm.qwen_api_key", "REPORTS_LLM_QWEN_API_KEY", "DASHSCOPE_API_KEY", "QWEN_API_KEY")
	_ = v.BindEnv("database.url", "REPORTS_DATABASE_URL", "DATABASE_URL")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

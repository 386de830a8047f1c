package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the diagnostic service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings. MaxProcessingTime
// bounds a whole diagnostic run; DefaultTimeout bounds internal housekeeping
// operations such as audit writes.
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// LLMConfig contains the language model provider settings
type LLMConfig struct {
	APIKey     string           `mapstructure:"api_key"`
	BaseURL    string           `mapstructure:"base_url"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	MaxRetries int              `mapstructure:"max_retries"`
	Routing    LLMRoutingConfig `mapstructure:"routing"`
}

// LLMRoutingConfig defines which model to use for each pipeline step
type LLMRoutingConfig struct {
	Extraction string `mapstructure:"extraction"` // structured symptom extraction
	Critique   string `mapstructure:"critique"`   // evidence critique
	Synthesis  string `mapstructure:"synthesis"`  // final report synthesis
	Vision     string `mapstructure:"vision"`     // medical image description
	Fallback   string `mapstructure:"fallback"`
}

// Model returns the routed model name for a step, falling back when unset.
func (r LLMRoutingConfig) Model(name string) string {
	if name != "" {
		return name
	}
	return r.Fallback
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if l.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	return nil
}

// PipelineConfig contains orchestration settings for a diagnostic run
type PipelineConfig struct {
	BranchTimeout    time.Duration `mapstructure:"branch_timeout"`
	MaxSearchResults int           `mapstructure:"max_search_results"`
	LexiconFile      string        `mapstructure:"lexicon_file"`
	CasesFile        string        `mapstructure:"cases_file"`
	DrugDatabaseFile string        `mapstructure:"drug_database_file"`
	RetentionDays    int           `mapstructure:"retention_days"`
	RetentionCron    string        `mapstructure:"retention_cron"`
}

// Normalize applies defaults for unset pipeline values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.BranchTimeout <= 0 {
		p.BranchTimeout = 45 * time.Second
	}
	if p.MaxSearchResults <= 0 {
		p.MaxSearchResults = 5
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = 90
	}
	if strings.TrimSpace(p.RetentionCron) == "" {
		p.RetentionCron = "@daily"
	}
	return p
}

// SourcesConfig contains evidence source configurations
type SourcesConfig struct {
	PubMed   PubMedConfig   `mapstructure:"pubmed"`
	OpenAlex OpenAlexConfig `mapstructure:"openalex"`
}

// PubMedConfig contains PubMed E-utilities settings. The email is required by
// NCBI for usage tracking; the API key is optional but raises rate limits.
type PubMedConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Email      string        `mapstructure:"email"`
	APIKey     string        `mapstructure:"api_key"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// OpenAlexConfig contains OpenAlex works API settings
type OpenAlexConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Email      string        `mapstructure:"email"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage and persistence settings
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
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string, preferring an explicit URL.
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

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains telemetry and cost tracking settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.max_processing_time", "5m")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.max_retries", 2)
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	viper.SetDefault("pipeline.branch_timeout", "45s")
	viper.SetDefault("pipeline.max_search_results", 5)
	viper.SetDefault("pipeline.retention_days", 90)
	viper.SetDefault("pipeline.retention_cron", "@daily")
	viper.SetDefault("sources.pubmed.endpoint", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	viper.SetDefault("sources.pubmed.rate_limit", 3.0)
	viper.SetDefault("sources.pubmed.max_results", 5)
	viper.SetDefault("sources.pubmed.timeout", "15s")
	viper.SetDefault("sources.openalex.endpoint", "https://api.openalex.org/works")
	viper.SetDefault("sources.openalex.max_results", 5)
	viper.SetDefault("sources.openalex.timeout", "15s")
	viper.SetDefault("storage.redis.cache_ttl", "24h")

	if path == "" {
		viper.AddConfigPath("./config") // path to look for the config file in
		viper.AddConfigPath(".")        // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("AURA")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (AURA_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Pipeline = config.Pipeline.Normalize()

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}

// Package config provides configuration management for the review pipeline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	SSLModeDisable    = "disable"
	SSLModeRequire    = "require"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "SLR"

// Config holds all configuration for the pipeline processes.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Temporal     TemporalConfig     `mapstructure:"temporal"`
	Inference    InferenceConfig    `mapstructure:"inference"`
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	HTTPPort int    `mapstructure:"http_port"`
	// MetricsPort is where worker processes expose /metrics.
	MetricsPort     int           `mapstructure:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// SSLMode is one of require, verify-ca, verify-full or disable.
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MigrationPath     string        `mapstructure:"migration_path"`
	MigrationAutoRun  bool          `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds the job substrate configuration.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	// Queues configures one worker pool per workload class.
	Queues QueuesConfig `mapstructure:"queues"`
	// JobTimeouts is the wall-clock budget of each job type.
	JobTimeouts JobTimeoutsConfig `mapstructure:"job_timeouts"`
	// HeartbeatTimeout bounds how long a running activity may go silent.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// ActivityMaxAttempts bounds activity retries inside a job.
	ActivityMaxAttempts int32 `mapstructure:"activity_max_attempts"`
}

// QueuesConfig lists the named task queues.
type QueuesConfig struct {
	Fast      QueueConfig `mapstructure:"fast"`
	Articles  QueueConfig `mapstructure:"articles"`
	Synthesis QueueConfig `mapstructure:"synthesis"`
	Import    QueueConfig `mapstructure:"import"`
	External  QueueConfig `mapstructure:"external"`
}

// QueueConfig configures one task queue and its worker pool.
type QueueConfig struct {
	// TaskQueue is the Temporal task queue name.
	TaskQueue string `mapstructure:"task_queue"`
	// Concurrency is the number of jobs a worker runs at once.
	Concurrency int `mapstructure:"concurrency"`
	// Enabled controls whether this process polls the queue.
	Enabled bool `mapstructure:"enabled"`
}

// JobTimeoutsConfig holds the wall-clock budget per job type.
type JobTimeoutsConfig struct {
	Search     time.Duration `mapstructure:"search"`
	Screening  time.Duration `mapstructure:"screening"`
	Extraction time.Duration `mapstructure:"extraction"`
	Scoring    time.Duration `mapstructure:"scoring"`
	Import     time.Duration `mapstructure:"import"`
}

// InferenceConfig configures the text-generation service client.
type InferenceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// APIKey is loaded only from SLR_INFERENCE_API_KEY.
	APIKey          string `mapstructure:"-"`
	ScreeningModel  string `mapstructure:"screening_model"`
	ExtractionModel string `mapstructure:"extraction_model"`
	// RepairModel is the smaller model used for the single JSON repair attempt.
	RepairModel   string        `mapstructure:"repair_model"`
	Temperature   float64       `mapstructure:"temperature"`
	TopP          float64       `mapstructure:"top_p"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Stop          []string      `mapstructure:"stop"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

// PaperSourcesConfig holds per-source settings.
type PaperSourcesConfig struct {
	PubMed   PaperSourceConfig `mapstructure:"pubmed"`
	ArXiv    PaperSourceConfig `mapstructure:"arxiv"`
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
	// MaxRetries and RetryDelay configure the shared retrying client.
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

// PaperSourceConfig configures one source connector.
type PaperSourceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded only from the environment.
	APIKey     string        `mapstructure:"-"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	MaxResults int           `mapstructure:"max_results"`
	// Email is sent to sources that offer a polite pool (OpenAlex, NCBI).
	Email string `mapstructure:"email"`
}

// KafkaConfig configures the notification bus and the external trigger topic.
type KafkaConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Brokers            []string      `mapstructure:"brokers"`
	NotificationsTopic string        `mapstructure:"notifications_topic"`
	TriggerTopic       string        `mapstructure:"trigger_topic"`
	TriggerGroupID     string        `mapstructure:"trigger_group_id"`
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
}

// PipelineConfig configures the per-article pipeline.
type PipelineConfig struct {
	// MinContentLength is the number of characters below which an article is
	// discarded without calling the inference service.
	MinContentLength int `mapstructure:"min_content_length"`
	// FullTextDir is the root relative full-text paths are resolved against.
	FullTextDir string `mapstructure:"full_text_dir"`
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	ValidationThreshold float64 `mapstructure:"validation_threshold"`
	// TermsFile optionally replaces the built-in weighted-term table.
	TermsFile    string `mapstructure:"terms_file"`
	AnalysisType string `mapstructure:"analysis_type"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s@%s:%d/%s?%s",
		url.UserPassword(c.User, c.Password).String(),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP listen address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the worker metrics listen address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// All returns the queues keyed by their logical name, in a stable order.
func (q QueuesConfig) All() []NamedQueue {
	return []NamedQueue{
		{Name: "fast", QueueConfig: q.Fast},
		{Name: "articles", QueueConfig: q.Articles},
		{Name: "synthesis", QueueConfig: q.Synthesis},
		{Name: "import", QueueConfig: q.Import},
		{Name: "external", QueueConfig: q.External},
	}
}

// NamedQueue pairs a logical queue name with its configuration.
type NamedQueue struct {
	Name string
	QueueConfig
}

// Load reads configuration from defaults, an optional config.yaml and
// SLR_-prefixed environment variables, in increasing priority.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/slr-pipeline")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates mapstructure:"-" fields from the environment only, so
// keys never come from a config file.
func loadSecrets(cfg *Config) {
	cfg.Inference.APIKey = os.Getenv(EnvPrefix + "_INFERENCE_API_KEY")
	cfg.PaperSources.PubMed.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_PUBMED_API_KEY")
	cfg.PaperSources.ArXiv.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_ARXIV_API_KEY")
	cfg.PaperSources.OpenAlex.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_OPENALEX_API_KEY")
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "slr")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "slr_pipeline")
	// Use SLR_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Temporal
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "slr-pipeline")
	v.SetDefault("temporal.heartbeat_timeout", "2m")
	v.SetDefault("temporal.activity_max_attempts", 3)
	v.SetDefault("temporal.queues.fast.task_queue", "slr-fast")
	v.SetDefault("temporal.queues.fast.concurrency", 8)
	v.SetDefault("temporal.queues.fast.enabled", true)
	v.SetDefault("temporal.queues.articles.task_queue", "slr-articles")
	v.SetDefault("temporal.queues.articles.concurrency", 2)
	v.SetDefault("temporal.queues.articles.enabled", true)
	v.SetDefault("temporal.queues.synthesis.task_queue", "slr-synthesis")
	v.SetDefault("temporal.queues.synthesis.concurrency", 2)
	v.SetDefault("temporal.queues.synthesis.enabled", true)
	v.SetDefault("temporal.queues.import.task_queue", "slr-import")
	v.SetDefault("temporal.queues.import.concurrency", 1)
	v.SetDefault("temporal.queues.import.enabled", true)
	v.SetDefault("temporal.queues.external.task_queue", "slr-external")
	v.SetDefault("temporal.queues.external.concurrency", 2)
	v.SetDefault("temporal.queues.external.enabled", true)
	v.SetDefault("temporal.job_timeouts.search", "10m")
	v.SetDefault("temporal.job_timeouts.screening", "6h")
	v.SetDefault("temporal.job_timeouts.extraction", "12h")
	v.SetDefault("temporal.job_timeouts.scoring", "15m")
	v.SetDefault("temporal.job_timeouts.import", "2h")

	// Inference
	v.SetDefault("inference.base_url", "http://localhost:11434")
	v.SetDefault("inference.screening_model", "llama3.1:8b")
	v.SetDefault("inference.extraction_model", "llama3.1:70b")
	v.SetDefault("inference.repair_model", "llama3.2:3b")
	v.SetDefault("inference.temperature", 0.1)
	v.SetDefault("inference.top_p", 0.9)
	v.SetDefault("inference.max_tokens", 2048)
	v.SetDefault("inference.stop", []string{})
	v.SetDefault("inference.timeout", "120s")
	v.SetDefault("inference.max_retries", 3)
	v.SetDefault("inference.retry_delay", "2s")
	v.SetDefault("inference.max_retry_delay", "30s")

	// Paper sources
	v.SetDefault("paper_sources.max_retries", 3)
	v.SetDefault("paper_sources.retry_delay", "1s")
	v.SetDefault("paper_sources.max_retry_delay", "20s")

	v.SetDefault("paper_sources.pubmed.enabled", true)
	v.SetDefault("paper_sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("paper_sources.pubmed.timeout", "30s")
	v.SetDefault("paper_sources.pubmed.rate_limit", 3.0) // NCBI limit without an API key
	v.SetDefault("paper_sources.pubmed.max_results", 200)
	v.SetDefault("paper_sources.pubmed.email", "")

	v.SetDefault("paper_sources.arxiv.enabled", true)
	v.SetDefault("paper_sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("paper_sources.arxiv.timeout", "30s")
	v.SetDefault("paper_sources.arxiv.rate_limit", 0.33) // one request every three seconds
	v.SetDefault("paper_sources.arxiv.max_results", 100)
	v.SetDefault("paper_sources.arxiv.email", "")

	v.SetDefault("paper_sources.openalex.enabled", true)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.timeout", "30s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.max_results", 200)
	v.SetDefault("paper_sources.openalex.email", "")

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.notifications_topic", "slr.notifications")
	v.SetDefault("kafka.trigger_topic", "slr.jobs.requested")
	v.SetDefault("kafka.trigger_group_id", "slr-trigger-listener")
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "5s")

	// Pipeline
	v.SetDefault("pipeline.min_content_length", 100)
	v.SetDefault("pipeline.full_text_dir", "")

	// Scoring
	v.SetDefault("scoring.validation_threshold", 7.0)
	v.SetDefault("scoring.terms_file", "")
	v.SetDefault("scoring.analysis_type", "domain_score")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "slr")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal host_port is required")
	}
	for _, q := range c.Temporal.Queues.All() {
		if q.TaskQueue == "" {
			return fmt.Errorf("temporal queue %q: task_queue is required", q.Name)
		}
		if q.Concurrency <= 0 {
			return fmt.Errorf("temporal queue %q: concurrency must be positive", q.Name)
		}
	}
	timeouts := map[string]time.Duration{
		"search":     c.Temporal.JobTimeouts.Search,
		"screening":  c.Temporal.JobTimeouts.Screening,
		"extraction": c.Temporal.JobTimeouts.Extraction,
		"scoring":    c.Temporal.JobTimeouts.Scoring,
		"import":     c.Temporal.JobTimeouts.Import,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("temporal job timeout %q must be positive", name)
		}
	}

	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference base_url is required")
	}
	if c.Inference.ScreeningModel == "" || c.Inference.ExtractionModel == "" || c.Inference.RepairModel == "" {
		return fmt.Errorf("inference screening_model, extraction_model and repair_model are required")
	}
	if c.Inference.MaxRetries < 0 {
		return fmt.Errorf("inference max_retries must not be negative")
	}

	if c.Pipeline.MinContentLength < 0 {
		return fmt.Errorf("pipeline min_content_length must not be negative")
	}
	if c.Scoring.ValidationThreshold < 0 || c.Scoring.ValidationThreshold > 10 {
		return fmt.Errorf("scoring validation_threshold must be between 0 and 10")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

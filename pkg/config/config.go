// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Remote, Bootstrap, Search, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Remote    RemoteConfig    `yaml:"remote"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AdminAuth requires an API key on the admin routes. Keys live in the
	// admin_keys table; AdminKey adds one static key on top.
	AdminAuth bool   `yaml:"adminAuth"`
	AdminKey  string `yaml:"adminKey"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents   string `yaml:"searchEvents"`
	IndexLifecycle string `yaml:"indexLifecycle"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// RemoteConfig lists the endpoints of the index/rank computation service.
type RemoteConfig struct {
	BuildIndexAPI         string        `yaml:"buildIndexApi"`
	IndexStatusAPI        string        `yaml:"indexStatusApi"`
	GenerateWordsAPI      string        `yaml:"generateWordsApi"`
	JaccardLoadAPI        string        `yaml:"jaccardLoadApi"`
	JaccardStatusAPI      string        `yaml:"jaccardStatusApi"`
	JaccardBuildAPI       string        `yaml:"jaccardBuildApi"`
	JaccardRunPageRankAPI string        `yaml:"jaccardRunPagerankApi"`
	PageRankScoreAPI      string        `yaml:"pagerankScoreApi"`
	SimilarityScoreAPI    string        `yaml:"similarityScoreApi"`
	JaccardPassword       string        `yaml:"jaccardPassword"`
	RequestTimeout        time.Duration `yaml:"requestTimeout"`
	BreakerThreshold      int           `yaml:"breakerThreshold"`
	BreakerReset          time.Duration `yaml:"breakerReset"`
}

// PollConfig controls how often a remote job is probed and how long the
// coordinator waits for it.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BootstrapConfig controls the index lifecycle coordinator.
type BootstrapConfig struct {
	CatalogPath      string     `yaml:"catalogPath"`
	TitleIndexPath   string     `yaml:"titleIndexPath"`
	ContentIndexPath string     `yaml:"contentIndexPath"`
	BatchSize        int        `yaml:"batchSize"`
	IndexPoll        PollConfig `yaml:"indexPoll"`
	GraphLoadPoll    PollConfig `yaml:"graphLoadPoll"`
	GraphBuildPoll   PollConfig `yaml:"graphBuildPoll"`
	PageRankPoll     PollConfig `yaml:"pagerankPoll"`
}

// SearchConfig controls the search pipeline and its HTTP surface.
type SearchConfig struct {
	SuggestionLimit       int           `yaml:"suggestionLimit"`
	ContentMaxWords       int           `yaml:"contentMaxWords"`
	ContentMaxLength      int           `yaml:"contentMaxLength"`
	ClassMaxWords         int           `yaml:"classMaxWords"`
	ClassMaxLength        int           `yaml:"classMaxLength"`
	DefaultTopN           int           `yaml:"defaultTopN"`
	CaseInsensitive       bool          `yaml:"caseInsensitive"`
	ExcludeSeeds          bool          `yaml:"excludeSeeds"`
	SuggestionConcurrency int           `yaml:"suggestionConcurrency"`
	SessionTTL            time.Duration `yaml:"sessionTTL"`
	WordCacheTTL          time.Duration `yaml:"wordCacheTTL"`
	RateLimitPerSecond    float64       `yaml:"rateLimitPerSecond"`
	RateLimitBurst        int           `yaml:"rateLimitBurst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the coordinator and pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Bootstrap.BatchSize <= 0 {
		errs = append(errs, errors.New("bootstrap.batchSize must be positive"))
	}
	polls := map[string]PollConfig{
		"indexPoll":      c.Bootstrap.IndexPoll,
		"graphLoadPoll":  c.Bootstrap.GraphLoadPoll,
		"graphBuildPoll": c.Bootstrap.GraphBuildPoll,
		"pagerankPoll":   c.Bootstrap.PageRankPoll,
	}
	for name, p := range polls {
		if p.Interval <= 0 || p.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("bootstrap.%s interval and timeout must be positive", name))
		}
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, errors.New("remote.requestTimeout must be positive"))
	}
	if c.Search.SuggestionLimit <= 0 {
		errs = append(errs, errors.New("search.suggestionLimit must be positive"))
	}
	return errors.Join(errs...)
}

func defaultConfig() *Config {
	remoteBase := "http://localhost:8000"
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "booksearch",
			User:            "booksearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "booksearch-group",
			Topics: KafkaTopics{
				SearchEvents:   "search-events",
				IndexLifecycle: "index-lifecycle",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Remote: RemoteConfig{
			BuildIndexAPI:         remoteBase + "/indexAPI/build",
			IndexStatusAPI:        remoteBase + "/indexAPI/status",
			GenerateWordsAPI:      remoteBase + "/engine/generateWords",
			JaccardLoadAPI:        remoteBase + "/jacardAPI/load",
			JaccardStatusAPI:      remoteBase + "/jacardAPI/status",
			JaccardBuildAPI:       remoteBase + "/jacardAPI/build",
			JaccardRunPageRankAPI: remoteBase + "/jacardAPI/run_pagerank",
			PageRankScoreAPI:      remoteBase + "/jacardAPI/pagerank",
			SimilarityScoreAPI:    remoteBase + "/jacardAPI/similar",
			RequestTimeout:        10 * time.Second,
			BreakerThreshold:      5,
			BreakerReset:          30 * time.Second,
		},
		Bootstrap: BootstrapConfig{
			CatalogPath:      "books_data/catalog.json",
			TitleIndexPath:   "books_data/index_TableT.json",
			ContentIndexPath: "books_data/index_TableTC.json",
			BatchSize:        500,
			IndexPoll:        PollConfig{Interval: 500 * time.Millisecond, Timeout: 30 * time.Minute},
			GraphLoadPoll:    PollConfig{Interval: 200 * time.Millisecond, Timeout: 5 * time.Minute},
			GraphBuildPoll:   PollConfig{Interval: 300 * time.Millisecond, Timeout: 5 * time.Minute},
			PageRankPoll:     PollConfig{Interval: 500 * time.Millisecond, Timeout: 5 * time.Minute},
		},
		Search: SearchConfig{
			SuggestionLimit:       10,
			ContentMaxWords:       100,
			ContentMaxLength:      50,
			ClassMaxWords:         50,
			ClassMaxLength:        50,
			DefaultTopN:           5,
			SuggestionConcurrency: 4,
			SessionTTL:            30 * time.Minute,
			WordCacheTTL:          10 * time.Minute,
			RateLimitPerSecond:    20,
			RateLimitBurst:        40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads BS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BS_ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
		cfg.Server.AdminAuth = true
	}
	if v := os.Getenv("BS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v, ok := os.LookupEnv("BS_KAFKA_BROKERS"); ok {
		if v == "" {
			cfg.Kafka.Brokers = nil
		} else {
			cfg.Kafka.Brokers = strings.Split(v, ",")
		}
	}
	if v := os.Getenv("BS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BS_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.setBase(strings.TrimRight(v, "/"))
	}
	if v := os.Getenv("BS_JACCARD_PASSWORD"); v != "" {
		cfg.Remote.JaccardPassword = v
	}
	if v := os.Getenv("BS_CATALOG_PATH"); v != "" {
		cfg.Bootstrap.CatalogPath = v
	}
	if v := os.Getenv("BS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// setBase rewrites every endpoint to live under base, keeping the default paths.
func (r *RemoteConfig) setBase(base string) {
	r.BuildIndexAPI = base + "/indexAPI/build"
	r.IndexStatusAPI = base + "/indexAPI/status"
	r.GenerateWordsAPI = base + "/engine/generateWords"
	r.JaccardLoadAPI = base + "/jacardAPI/load"
	r.JaccardStatusAPI = base + "/jacardAPI/status"
	r.JaccardBuildAPI = base + "/jacardAPI/build"
	r.JaccardRunPageRankAPI = base + "/jacardAPI/run_pagerank"
	r.PageRankScoreAPI = base + "/jacardAPI/pagerank"
	r.SimilarityScoreAPI = base + "/jacardAPI/similar"
}

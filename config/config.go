package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/romangod6/listing-harvester/internal/extract"
)

// EnvPrefix is the prefix of environment overrides, e.g. HARVESTER_DATABASE_URL.
const EnvPrefix = "HARVESTER"

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	// URL is a file path for sqlite and a connection string for postgres.
	URL string `mapstructure:"url"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Target is one paginated source to crawl.
type Target struct {
	Name            string `mapstructure:"name"`
	RootURL         string `mapstructure:"root_url"`
	PageURLTemplate string `mapstructure:"page_url_template"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type CheckpointConfig struct {
	// Backend is store (checkpoints collection) or file.
	Backend string `mapstructure:"backend"`
	// Path is the checkpoint directory of the file backend.
	Path string `mapstructure:"path"`
}

type CrawlerConfig struct {
	RootURL             string           `mapstructure:"root_url"`
	PageURLTemplate     string           `mapstructure:"page_url_template"`
	Targets             []Target         `mapstructure:"targets"`
	UserAgent           string           `mapstructure:"user_agent"`
	OnExhausted         string           `mapstructure:"on_exhausted"`
	MaxConcurrentCrawls int              `mapstructure:"max_concurrent_crawls"`
	CrawlInterval       string           `mapstructure:"crawl_interval"`
	Schedule            string           `mapstructure:"schedule"`
	RequestsPerMinute   float64          `mapstructure:"requests_per_minute"`
	Burst               int              `mapstructure:"burst"`
	Retry               RetryConfig      `mapstructure:"retry"`
	Checkpoint          CheckpointConfig `mapstructure:"checkpoint"`
}

type ExtractorConfig struct {
	// Kind is html (selector driven) or remote (extraction service).
	Kind      string            `mapstructure:"kind"`
	Endpoint  string            `mapstructure:"endpoint"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Selectors extract.Selectors `mapstructure:"selectors"`
}

type PricingConfig struct {
	MaxAgeDays     int    `mapstructure:"max_age_days"`
	LRUSize        int    `mapstructure:"lru_size"`
	SearchEndpoint string `mapstructure:"search_endpoint"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// ConfigError is a configuration problem found before any run starts.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "harvester.db")

	v.SetDefault("server.port", 8080)

	v.SetDefault("crawler.root_url", "")
	v.SetDefault("crawler.page_url_template", "")
	v.SetDefault("crawler.user_agent", "Listing Harvester Bot v1.0")
	v.SetDefault("crawler.on_exhausted", "continue")
	v.SetDefault("crawler.max_concurrent_crawls", 5)
	v.SetDefault("crawler.crawl_interval", "24h")
	v.SetDefault("crawler.schedule", "")
	v.SetDefault("crawler.requests_per_minute", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.retry.max_attempts", 3)
	v.SetDefault("crawler.retry.base_delay", "4s")
	v.SetDefault("crawler.retry.multiplier", 2.0)
	v.SetDefault("crawler.retry.max_delay", "10s")
	v.SetDefault("crawler.checkpoint.backend", "store")
	v.SetDefault("crawler.checkpoint.path", "checkpoints")

	sel := extract.DefaultSelectors()
	v.SetDefault("extractor.kind", "html")
	v.SetDefault("extractor.endpoint", "")
	v.SetDefault("extractor.timeout", "30s")
	v.SetDefault("extractor.selectors.listing", sel.Listing)
	v.SetDefault("extractor.selectors.title", sel.Title)
	v.SetDefault("extractor.selectors.price", sel.Price)
	v.SetDefault("extractor.selectors.description", sel.Description)
	v.SetDefault("extractor.selectors.link", sel.Link)
	v.SetDefault("extractor.selectors.image", sel.Image)
	v.SetDefault("extractor.selectors.item", sel.Item)
	v.SetDefault("extractor.selectors.pagination", sel.Pagination)

	v.SetDefault("pricing.max_age_days", 7)
	v.SetDefault("pricing.lru_size", 1024)
	v.SetDefault("pricing.search_endpoint", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "logs")
}

// LoadConfig reads .env, then config.yaml from path (or ./ and ./config when
// path is empty), then HARVESTER_* environment overrides. A missing config
// file is not an error; the result is validated.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting as a *ConfigError.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return &ConfigError{Field: "database.driver", Message: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if c.Database.URL == "" {
		return &ConfigError{Field: "database.url", Message: "must be set"}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: fmt.Sprintf("%d is out of range", c.Server.Port)}
	}

	switch c.Crawler.OnExhausted {
	case "continue", "abort":
	default:
		return &ConfigError{Field: "crawler.on_exhausted", Message: fmt.Sprintf("must be continue or abort, got %q", c.Crawler.OnExhausted)}
	}
	if c.Crawler.MaxConcurrentCrawls < 1 {
		return &ConfigError{Field: "crawler.max_concurrent_crawls", Message: "must be at least 1"}
	}
	if c.Crawler.RequestsPerMinute < 0 {
		return &ConfigError{Field: "crawler.requests_per_minute", Message: "must not be negative"}
	}

	r := c.Crawler.Retry
	if r.MaxAttempts < 1 {
		return &ConfigError{Field: "crawler.retry.max_attempts", Message: "must be at least 1"}
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return &ConfigError{Field: "crawler.retry", Message: "delays must not be negative"}
	}
	if r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
		return &ConfigError{Field: "crawler.retry.base_delay", Message: "exceeds max_delay"}
	}
	if r.Multiplier < 1 {
		return &ConfigError{Field: "crawler.retry.multiplier", Message: "must be at least 1"}
	}

	switch c.Crawler.Checkpoint.Backend {
	case "store":
	case "file":
		if c.Crawler.Checkpoint.Path == "" {
			return &ConfigError{Field: "crawler.checkpoint.path", Message: "required for the file backend"}
		}
	default:
		return &ConfigError{Field: "crawler.checkpoint.backend", Message: fmt.Sprintf("must be store or file, got %q", c.Crawler.Checkpoint.Backend)}
	}

	seen := map[string]int{}
	for i, t := range c.Targets() {
		if t.RootURL == "" {
			return &ConfigError{Field: fmt.Sprintf("crawler.targets[%d].root_url", i), Message: "must be set"}
		}
		// one root URL is one checkpoint key; two targets on it would share it
		if j, dup := seen[t.RootURL]; dup {
			return &ConfigError{Field: fmt.Sprintf("crawler.targets[%d].root_url", i), Message: fmt.Sprintf("duplicates target %d", j)}
		}
		seen[t.RootURL] = i
		if t.PageURLTemplate != "" && !strings.Contains(t.PageURLTemplate, "{page}") {
			return &ConfigError{Field: fmt.Sprintf("crawler.targets[%d].page_url_template", i), Message: "must contain {page}"}
		}
	}

	switch c.Extractor.Kind {
	case "html":
		if c.Extractor.Selectors.Listing == "" {
			return &ConfigError{Field: "extractor.selectors.listing", Message: "must be set"}
		}
	case "remote":
		if c.Extractor.Endpoint == "" {
			return &ConfigError{Field: "extractor.endpoint", Message: "required for the remote extractor"}
		}
	default:
		return &ConfigError{Field: "extractor.kind", Message: fmt.Sprintf("must be html or remote, got %q", c.Extractor.Kind)}
	}

	if c.Pricing.MaxAgeDays < 1 {
		return &ConfigError{Field: "pricing.max_age_days", Message: "must be at least 1"}
	}
	return nil
}

// Targets returns every configured source; the single crawler.root_url
// comes first when set.
func (c *Config) Targets() []Target {
	var out []Target
	if c.Crawler.RootURL != "" {
		out = append(out, Target{
			Name:            c.Crawler.RootURL,
			RootURL:         c.Crawler.RootURL,
			PageURLTemplate: c.Crawler.PageURLTemplate,
		})
	}
	for _, t := range c.Crawler.Targets {
		if t.Name == "" {
			t.Name = t.RootURL
		}
		out = append(out, t)
	}
	return out
}

func (c *Config) GetCrawlDuration() time.Duration {
	duration, err := time.ParseDuration(c.Crawler.CrawlInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return duration
}

// CronSpec is the schedule of periodic crawls, falling back to the crawl
// interval.
func (c *Config) CronSpec() string {
	if c.Crawler.Schedule != "" {
		return c.Crawler.Schedule
	}
	return "@every " + c.GetCrawlDuration().String()
}

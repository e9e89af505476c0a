// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Forum   ForumConfig   `mapstructure:"forum"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Geocode GeocodeConfig `mapstructure:"geocode"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ForumConfig points the crawl at a forum section.
type ForumConfig struct {
	RootURL string `mapstructure:"root_url"`
	// SessionCookie is sent verbatim as the Cookie header when set.
	SessionCookie string `mapstructure:"session_cookie"`
	UserAgent     string `mapstructure:"user_agent"`
}

// HTTPConfig configures fetch timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// CrawlerConfig bounds a crawl run and its pacing.
type CrawlerConfig struct {
	MaxForumPages        int     `mapstructure:"max_forum_pages"`
	MaxTopicPages        int     `mapstructure:"max_topic_pages"`
	FetchIntervalSeconds int     `mapstructure:"fetch_interval_seconds"`
	MaxConcurrency       int     `mapstructure:"max_concurrency"`
	RequestsPerSecond    float64 `mapstructure:"requests_per_second"`
	RobotsRefreshMinutes int     `mapstructure:"robots_refresh_minutes"`
}

// GeocodeConfig selects and tunes the geocoding provider.
type GeocodeConfig struct {
	Provider           string  `mapstructure:"provider"`
	GoogleAPIKey       string  `mapstructure:"google_api_key"`
	YandexAPIKey       string  `mapstructure:"yandex_api_key"`
	TTLDays            int     `mapstructure:"ttl_days"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
	NegativeTTLMinutes int     `mapstructure:"negative_ttl_minutes"`
	CountrySuffix      string  `mapstructure:"country_suffix"`
	Language           string  `mapstructure:"language"`
}

// DBConfig controls access to the relational database. An empty provider
// selects the in-memory store.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for run-report publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("forum.root_url", "https://www.rusfishing.ru/forum/forums/platnyye-prudy.63/")
	v.SetDefault("forum.user_agent", "fishing-map-crawler/1.0 (+https://github.com/fishingmap/forum-crawler)")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("crawler.max_forum_pages", 3)
	v.SetDefault("crawler.max_topic_pages", 2)
	v.SetDefault("crawler.fetch_interval_seconds", 1800)
	v.SetDefault("crawler.max_concurrency", 3)
	v.SetDefault("crawler.requests_per_second", 1.5)
	v.SetDefault("crawler.robots_refresh_minutes", 60)
	v.SetDefault("geocode.provider", "yandex")
	v.SetDefault("geocode.ttl_days", 30)
	v.SetDefault("geocode.min_confidence", 0.4)
	v.SetDefault("geocode.negative_ttl_minutes", 10)
	v.SetDefault("geocode.country_suffix", "Россия")
	v.SetDefault("geocode.language", "ru")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Forum.RootURL == "" {
		return fmt.Errorf("forum.root_url is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxForumPages <= 0 || c.Crawler.MaxTopicPages <= 0 {
		return fmt.Errorf("crawler page bounds must be > 0")
	}
	if c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.Crawler.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawler.requests_per_second must be > 0")
	}
	switch c.Geocode.Provider {
	case "google":
		if c.Geocode.GoogleAPIKey == "" {
			return fmt.Errorf("geocode.google_api_key is required when geocode.provider is google")
		}
	case "yandex":
		if c.Geocode.YandexAPIKey == "" {
			return fmt.Errorf("geocode.yandex_api_key is required when geocode.provider is yandex")
		}
	default:
		return fmt.Errorf("geocode.provider must be google or yandex")
	}
	if c.Geocode.MinConfidence < 0 || c.Geocode.MinConfidence > 1 {
		return fmt.Errorf("geocode.min_confidence must be within [0, 1]")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	return nil
}

// HTTPTimeout returns the per-attempt fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FetchInterval returns the scheduler period.
func (c Config) FetchInterval() time.Duration {
	return time.Duration(c.Crawler.FetchIntervalSeconds) * time.Second
}

// GeocodeTTL returns how long a geocode result stays fresh.
func (c Config) GeocodeTTL() time.Duration {
	return time.Duration(c.Geocode.TTLDays) * 24 * time.Hour
}

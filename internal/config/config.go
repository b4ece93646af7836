// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-tracker/internal/storage"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Site    SiteConfig    `mapstructure:"site"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Geocode GeocodeConfig `mapstructure:"geocode"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SiteConfig describes the tracked listing site.
type SiteConfig struct {
	Domain          string            `mapstructure:"domain"`
	OfferLinkPrefix string            `mapstructure:"offer_link_prefix"`
	PageParam       string            `mapstructure:"page_param"`
	StartURLs       map[string]string `mapstructure:"start_urls"`
	Headers         map[string]string `mapstructure:"headers"`
}

// HTTPHeader converts the configured headers for the fetcher.
func (s SiteConfig) HTTPHeader() http.Header {
	h := make(http.Header, len(s.Headers))
	for k, v := range s.Headers {
		h.Set(k, v)
	}
	return h
}

// Entities lists the configured entities in sorted order.
func (s SiteConfig) Entities() []string {
	out := make([]string, 0, len(s.StartURLs))
	for e := range s.StartURLs {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// CrawlerConfig governs run behavior and politeness.
type CrawlerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRPS          float64       `mapstructure:"max_rps"`
	ListingDelayMin time.Duration `mapstructure:"listing_delay_min"`
	ListingDelayMax time.Duration `mapstructure:"listing_delay_max"`
	DetailDelayMin  time.Duration `mapstructure:"detail_delay_min"`
	DetailDelayMax  time.Duration `mapstructure:"detail_delay_max"`
	ImageDelay      time.Duration `mapstructure:"image_delay"`
	ExpireOnAbsence bool          `mapstructure:"expire_on_absence"`
	HierarchiesFile string        `mapstructure:"hierarchies_file"`
}

// StorageConfig selects the raw-artifact backend.
type StorageConfig struct {
	Backend      string               `mapstructure:"backend"`
	BaseDir      string               `mapstructure:"base_dir"`
	GCSBucket    string               `mapstructure:"gcs_bucket"`
	PathTemplate storage.PathTemplate `mapstructure:"path_template"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// GeocodeConfig configures reverse geocoding of offer coordinates.
type GeocodeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	Delay   time.Duration `mapstructure:"delay"`
}

// NotifyConfig configures watchdog notifications.
type NotifyConfig struct {
	Backend    string        `mapstructure:"backend"`
	Recipients []string      `mapstructure:"recipients"`
	Window     time.Duration `mapstructure:"window"`
	SMS        SMSConfig     `mapstructure:"sms"`
	PubSub     PubSubConfig  `mapstructure:"pubsub"`
	Filter     FilterConfig  `mapstructure:"filter"`
}

// SMSConfig holds SMS gateway credentials.
type SMSConfig struct {
	URL      string        `mapstructure:"url"`
	Key      string        `mapstructure:"key"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PubSubConfig names the notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// FilterConfig selects which offers trigger a notification.
type FilterConfig struct {
	Entities []string `mapstructure:"entities"`
	MaxPrice float64  `mapstructure:"max_price"`
	MinRooms int      `mapstructure:"min_rooms"`
	MinArea  float64  `mapstructure:"min_area"`
}

// Storage and notification backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
	BackendSMS    = "sms"
	BackendPubSub = "pubsub"
	BackendNone   = "none"
)

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
	v.SetDefault("logging.development", true)
	v.SetDefault("site.domain", "https://www.otodom.pl")
	v.SetDefault("site.offer_link_prefix", "/pl/oferta/")
	v.SetDefault("site.page_param", "page")
	v.SetDefault("site.start_urls", map[string]string{
		"houses": "https://www.otodom.pl/pl/wyniki/sprzedaz/dom/cala-polska?limit=72",
	})
	v.SetDefault("site.headers", map[string]string{
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "pl-PL,pl;q=0.9,en;q=0.8",
	})
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.user_agent", "listing-tracker/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_rps", 1.0)
	v.SetDefault("crawler.listing_delay_min", "1s")
	v.SetDefault("crawler.listing_delay_max", "3s")
	v.SetDefault("crawler.detail_delay_min", "1600ms")
	v.SetDefault("crawler.detail_delay_max", "3s")
	v.SetDefault("crawler.image_delay", "40ms")
	v.SetDefault("crawler.expire_on_absence", false)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "data/artifacts")
	v.SetDefault("storage.path_template", string(storage.DefaultPathTemplate))
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("geocode.enabled", false)
	v.SetDefault("geocode.delay", "40ms")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("notify.window", "24h")
	v.SetDefault("notify.sms.timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := url.ParseRequestURI(c.Site.Domain); err != nil {
		return fmt.Errorf("site.domain must be an absolute URL: %w", err)
	}
	if len(c.Site.StartURLs) == 0 {
		return fmt.Errorf("site.start_urls must name at least one entity")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxRPS < 0 {
		return fmt.Errorf("crawler.max_rps must be >= 0")
	}
	if c.Crawler.ListingDelayMax < c.Crawler.ListingDelayMin {
		return fmt.Errorf("crawler.listing_delay_max must be >= crawler.listing_delay_min")
	}
	if c.Crawler.DetailDelayMax < c.Crawler.DetailDelayMin {
		return fmt.Errorf("crawler.detail_delay_max must be >= crawler.detail_delay_min")
	}
	if c.Crawler.ImageDelay < 0 {
		return fmt.Errorf("crawler.image_delay must be >= 0")
	}
	if c.Storage.PathTemplate != "" {
		if err := c.Storage.PathTemplate.Validate(); err != nil {
			return fmt.Errorf("storage.path_template: %w", err)
		}
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Geocode.Enabled && c.Geocode.APIKey == "" {
		return fmt.Errorf("geocode.api_key must be set when geocoding is enabled")
	}
	switch c.Notify.Backend {
	case BackendNone:
	case BackendSMS:
		if c.Notify.SMS.Key == "" || c.Notify.SMS.Password == "" {
			return fmt.Errorf("notify.sms.key and notify.sms.password must be set for the sms backend")
		}
	case BackendPubSub:
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicID == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}
	return nil
}

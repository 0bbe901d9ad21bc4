// Package conf loads and validates edge settings.
package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// NEWSROOM_EDGE_RELEASE_VERSION=v3.
const EnvPrefix = "NEWSROOM_EDGE"

// Settings is the full edge configuration.
type Settings struct {
	Main      MainSettings      `mapstructure:"main"`
	Site      SiteSettings      `mapstructure:"site"`
	Release   Release           `mapstructure:"release"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Network   NetworkSettings   `mapstructure:"network"`
	WebServer WebServerSettings `mapstructure:"webserver"`
	Clients   ClientSettings    `mapstructure:"clients"`
	Push      PushSettings      `mapstructure:"push"`
	Content   ContentSettings   `mapstructure:"content"`
	Sentry    SentrySettings    `mapstructure:"sentry"`
	PWA       PWASettings       `mapstructure:"pwa"`
}

type MainSettings struct {
	Name        string `mapstructure:"name"`
	LogLevel    string `mapstructure:"log_level"`
	LogEncoding string `mapstructure:"log_encoding"`
}

// SiteSettings describes the content site the edge fronts.
type SiteSettings struct {
	URL             string `mapstructure:"url"`
	Name            string `mapstructure:"name"`
	ShortName       string `mapstructure:"short_name"`
	Description     string `mapstructure:"description"`
	StartURL        string `mapstructure:"start_url"`
	ThemeColor      string `mapstructure:"theme_color"`
	BackgroundColor string `mapstructure:"background_color"`
	Lang            string `mapstructure:"lang"`
}

// Origin returns scheme://host of the site URL.
func (s SiteSettings) Origin() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

type CacheSettings struct {
	// Backend is "sqlite", "mysql" or "memory".
	Backend  string `mapstructure:"backend"`
	DataDir  string `mapstructure:"data_dir"`
	MySQLDSN string `mapstructure:"mysql_dsn"`
	// OfflineDocument is the shell fallback served to offline navigations.
	OfflineDocument string `mapstructure:"offline_document"`
	// Precache lists shell entries stored at install, the offline document
	// included.
	Precache []string `mapstructure:"precache"`
	// StaticPrefixes are same-origin path prefixes treated as static assets.
	StaticPrefixes []string `mapstructure:"static_prefixes"`
	// PrecacheConcurrency bounds parallel fetches during install.
	PrecacheConcurrency int `mapstructure:"precache_concurrency"`
}

type NetworkSettings struct {
	UserAgent string `mapstructure:"user_agent"`
	// Timeout bounds origin fetches. Zero leaves fetches unbounded; failure
	// is then detected only when the connection errors.
	Timeout Duration `mapstructure:"timeout"`
	// UpstreamOrigins are origins besides the site that proxy-form requests
	// may reach, such as an image CDN.
	UpstreamOrigins []string `mapstructure:"upstream_origins"`
}

type WebServerSettings struct {
	Listen string `mapstructure:"listen"`
	// AllowedOrigins for the client websocket, in addition to the site origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ClientSettings struct {
	PingInterval Duration `mapstructure:"ping_interval"`
	PongWait     Duration `mapstructure:"pong_wait"`
	// LaunchTTL is how long a queued window launch waits for a client.
	LaunchTTL Duration `mapstructure:"launch_ttl"`
}

type PushSettings struct {
	Enabled     bool                 `mapstructure:"enabled"`
	MQTT        MQTTSettings         `mapstructure:"mqtt"`
	ServiceURLs []string             `mapstructure:"service_urls"`
	RateLimit   float64              `mapstructure:"rate_limit"`
	RateBurst   int                  `mapstructure:"rate_burst"`
	Defaults    NotificationDefaults `mapstructure:"defaults"`
}

type MQTTSettings struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      byte   `mapstructure:"qos"`
}

// NotificationDefaults fill descriptor fields a push payload leaves out.
type NotificationDefaults struct {
	Title string `mapstructure:"title"`
	Body  string `mapstructure:"body"`
	Icon  string `mapstructure:"icon"`
	Badge string `mapstructure:"badge"`
	Tag   string `mapstructure:"tag"`
	URL   string `mapstructure:"url"`
}

type ContentSettings struct {
	GraphQLURL string   `mapstructure:"graphql_url"`
	UserAgent  string   `mapstructure:"user_agent"`
	Timeout    Duration `mapstructure:"timeout"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type PWASettings struct {
	Scope string `mapstructure:"scope"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.name", "newsroom-edge")
	v.SetDefault("main.log_level", "info")
	v.SetDefault("main.log_encoding", "json")

	v.SetDefault("site.url", "http://localhost:3000")
	v.SetDefault("site.name", "Heavy Status")
	v.SetDefault("site.short_name", "Heavy Status")
	v.SetDefault("site.description", "Breaking news, live updates, and in-depth coverage delivered instantly.")
	v.SetDefault("site.start_url", "/today")
	v.SetDefault("site.theme_color", "#0b0b0c")
	v.SetDefault("site.background_color", "#ffffff")
	v.SetDefault("site.lang", "en-US")

	v.SetDefault("release.prefix", "newsroom")
	v.SetDefault("release.version", "v1")
	v.SetDefault("release.legacy_prefixes", []string{"heavy-status-", "workbox-"})
	v.SetDefault("release.skip_waiting", false)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.data_dir", "data")
	v.SetDefault("cache.offline_document", "/offline.html")
	v.SetDefault("cache.precache", []string{
		"/offline.html",
		"/icons/icon-192.png",
		"/icons/icon-512.png",
		"/icons/maskable-512.png",
		"/icons/apple-touch-icon.png",
	})
	v.SetDefault("cache.static_prefixes", []string{"/_next/static/", "/icons/"})
	v.SetDefault("cache.precache_concurrency", 4)

	v.SetDefault("network.user_agent", "newsroom-edge/1.0")
	v.SetDefault("network.timeout", "0s")

	v.SetDefault("webserver.listen", ":8080")

	v.SetDefault("clients.ping_interval", "54s")
	v.SetDefault("clients.pong_wait", "60s")
	v.SetDefault("clients.launch_ttl", "5m")

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.mqtt.topic", "newsroom/push")
	v.SetDefault("push.mqtt.client_id", "newsroom-edge")
	v.SetDefault("push.mqtt.qos", 1)
	v.SetDefault("push.rate_limit", 5.0)
	v.SetDefault("push.rate_burst", 10)
	v.SetDefault("push.defaults.title", "Heavy Status")
	v.SetDefault("push.defaults.body", "Open Heavy Status for the latest update.")
	v.SetDefault("push.defaults.icon", "/icons/icon-192.png")
	v.SetDefault("push.defaults.badge", "/icons/icon-72.png")
	v.SetDefault("push.defaults.tag", "newsroom")
	v.SetDefault("push.defaults.url", "/today")

	v.SetDefault("content.user_agent", "newsroom-nextjs/1.0")
	v.SetDefault("content.timeout", "10s")

	v.SetDefault("pwa.scope", "/")
}

// Loader reads settings from file and environment and can watch the file
// for changes.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader creates a loader. An empty configFile searches the default
// locations for newsroom-edge.yaml.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	setDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("newsroom-edge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/newsroom-edge")
		v.AddConfigPath("/etc/newsroom-edge")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads the config file (if any) and returns validated settings.
func (l *Loader) Load() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Settings, error) {
	var s Settings
	if err := l.v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Watch calls onChange with freshly decoded settings whenever the config
// file changes. Invalid edits are reported through onError and otherwise
// ignored.
func (l *Loader) Watch(onChange func(*Settings), onError func(error)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		l.mu.Lock()
		s, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(s)
	})
	l.v.WatchConfig()
}

// ConfigFile returns the file the loader read, or "" when none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load is a convenience wrapper for one-shot loading.
func Load(configFile string) (*Settings, error) {
	return NewLoader(configFile).Load()
}

// Validate checks settings for values the edge cannot run with.
func (s *Settings) Validate() error {
	u, err := url.Parse(s.Site.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.url must be an absolute URL, got %q", s.Site.URL)
	}
	if err := s.Release.Validate(); err != nil {
		return fmt.Errorf("invalid release: %w", err)
	}
	switch s.Cache.Backend {
	case "sqlite", "memory":
	case "mysql":
		if s.Cache.MySQLDSN == "" {
			return fmt.Errorf("cache.mysql_dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", s.Cache.Backend)
	}
	if !strings.HasPrefix(s.Cache.OfflineDocument, "/") {
		return fmt.Errorf("cache.offline_document must be an absolute path, got %q", s.Cache.OfflineDocument)
	}
	if p, w := s.Clients.PingInterval.Std(), s.Clients.PongWait.Std(); p > 0 && w > 0 && p >= w {
		return fmt.Errorf("clients.ping_interval must be shorter than clients.pong_wait")
	}
	if s.Network.Timeout.Std() < 0 {
		return fmt.Errorf("network.timeout must not be negative")
	}
	for _, o := range s.Network.UpstreamOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" || strings.Trim(u.Path, "/") != "" {
			return fmt.Errorf("network.upstream_origins entries must be scheme://host, got %q", o)
		}
	}
	return nil
}

// LaunchTTLOrDefault falls back to five minutes for unset or sub-second values.
func (c ClientSettings) LaunchTTLOrDefault() time.Duration {
	if c.LaunchTTL.Std() < time.Second {
		return 5 * time.Minute
	}
	return c.LaunchTTL.Std()
}

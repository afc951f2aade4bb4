package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"metal-price-alerts/internal/logging"
)

// DefaultFeedURL is the quote feed polled by the monitor.
const DefaultFeedURL = "https://www.guojijinjia.com/d/gold.js"

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// FeedConfig covers the upstream quote source.
type FeedConfig struct {
	URL            string          `mapstructure:"url"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	MaxAttempts    int             `mapstructure:"max_attempts"`
	Backoff        []time.Duration `mapstructure:"backoff"`
	UserAgent      string          `mapstructure:"user_agent"`
}

// MonitorConfig governs the scan cadence and detector thresholds.
type MonitorConfig struct {
	ScanIntervalMS        int64              `mapstructure:"scan_interval_ms"`
	Symbols               []string           `mapstructure:"symbols"`
	Thresholds            map[string]float64 `mapstructure:"thresholds"`
	DefaultThreshold      float64            `mapstructure:"default_threshold"`
	CooldownMS            int64              `mapstructure:"cooldown_ms"`
	FailureAlertThreshold int                `mapstructure:"failure_alert_threshold"`
	// AdvisoryLockKey serialises cycles across instances on postgres. Zero disables it.
	AdvisoryLockKey       int64              `mapstructure:"advisory_lock_key"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	WebhookURL   string            `mapstructure:"webhook_url"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	SymbolLabels map[string]string `mapstructure:"symbol_labels"`
}

// HTTPConfig configures the read-only API.
type HTTPConfig struct {
	Enabled    bool                `mapstructure:"enabled"`
	Addr       string              `mapstructure:"addr"`
	StaleAfter time.Duration       `mapstructure:"stale_after"`
	Groups     map[string][]string `mapstructure:"groups"`
	Window     int                 `mapstructure:"window"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables keep precedence.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("METALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "metalwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", ".data/prices.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("feed.url", DefaultFeedURL)
	v.SetDefault("feed.request_timeout", "5s")
	v.SetDefault("feed.max_attempts", 3)
	v.SetDefault("feed.backoff", []string{"2s", "5s", "10s"})
	v.SetDefault("feed.user_agent", "metalwatch/1.0")

	v.SetDefault("monitor.scan_interval_ms", 60000)
	v.SetDefault("monitor.symbols", []string{"gds_AUTD", "gds_AGTD", "hf_XAU", "hf_XAG"})
	v.SetDefault("monitor.default_threshold", 5.0)
	v.SetDefault("monitor.cooldown_ms", 900000)
	v.SetDefault("monitor.failure_alert_threshold", 5)

	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.stale_after", "5m")
	v.SetDefault("http.window", 200)
	v.SetDefault("http.groups", map[string][]string{
		"gold":   {"gds_AUTD", "hf_XAU"},
		"silver": {"gds_AGTD", "hf_XAG"},
	})

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Monitor.ScanIntervalMS <= 0 {
		return fmt.Errorf("monitor.scan_interval_ms must be greater than zero")
	}
	if c.Monitor.CooldownMS < 0 {
		return fmt.Errorf("monitor.cooldown_ms cannot be negative")
	}
	if len(c.MonitoredSymbols()) == 0 {
		return fmt.Errorf("monitor.symbols must list at least one symbol")
	}
	if c.Monitor.DefaultThreshold < 0 {
		return fmt.Errorf("monitor.default_threshold cannot be negative")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url 必须配置")
	}
	if c.Feed.MaxAttempts <= 0 {
		return fmt.Errorf("feed.max_attempts must be greater than zero")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path 必须配置")
		}
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

// MonitoredSymbols returns the trimmed, non-empty symbol list.
func (c *Config) MonitoredSymbols() []string {
	out := make([]string, 0, len(c.Monitor.Symbols))
	for _, raw := range c.Monitor.Symbols {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Threshold returns the fluctuation threshold for symbol. Viper lower-cases map
// keys, so the lookup is case-insensitive. Missing or zero entries fall back to
// the default.
func (c *Config) Threshold(symbol string) float64 {
	for key, value := range c.Monitor.Thresholds {
		if strings.EqualFold(key, symbol) && value > 0 {
			return value
		}
	}
	if c.Monitor.DefaultThreshold > 0 {
		return c.Monitor.DefaultThreshold
	}
	return 5
}

// ScanInterval converts the configured cadence to a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Monitor.ScanIntervalMS) * time.Millisecond
}

// CooldownWindow converts the configured cooldown to a duration.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.Monitor.CooldownMS) * time.Millisecond
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

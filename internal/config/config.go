package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OpenAQ     OpenAQConfig     `yaml:"openaq" mapstructure:"openaq"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Sensors    SensorsConfig    `yaml:"sensors" mapstructure:"sensors"`
	Handoff    HandoffConfig    `yaml:"handoff" mapstructure:"handoff"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres destination.
type StoreConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Database    string `yaml:"database" mapstructure:"database"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	SSLMode     string `yaml:"sslmode" mapstructure:"sslmode"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DSN returns the connection string. An explicit database_url wins over the
// discrete host/port/database fields.
func (s StoreConfig) DSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	if s.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(s.SSLMode)
	}
	return u.String()
}

// OpenAQConfig holds upstream API settings.
type OpenAQConfig struct {
	BaseURL                 string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey                  string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MeasurementsTimeoutSecs int     `yaml:"measurements_timeout_secs" mapstructure:"measurements_timeout_secs"`
	RequestsPerSecond       float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UserAgent               string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout for reference endpoints.
func (o OpenAQConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// MeasurementsTimeout returns the per-request timeout for measurement pages.
func (o OpenAQConfig) MeasurementsTimeout() time.Duration {
	return time.Duration(o.MeasurementsTimeoutSecs) * time.Second
}

// ExtractConfig bounds each paginated extraction.
type ExtractConfig struct {
	Countries    PageConfig         `yaml:"countries" mapstructure:"countries"`
	Locations    LocationsConfig    `yaml:"locations" mapstructure:"locations"`
	Measurements MeasurementsConfig `yaml:"measurements" mapstructure:"measurements"`
}

// PageConfig is the page size and safety ceiling for one endpoint.
type PageConfig struct {
	Limit    int `yaml:"limit" mapstructure:"limit"`
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`
}

// LocationsConfig configures per-country location extraction.
type LocationsConfig struct {
	Limit       int      `yaml:"limit" mapstructure:"limit"`
	MaxPages    int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxResults  int      `yaml:"max_results" mapstructure:"max_results"`
	FallbackISO []string `yaml:"fallback_iso" mapstructure:"fallback_iso"`
}

// MeasurementsConfig configures per-sensor measurement extraction.
type MeasurementsConfig struct {
	Limit        int    `yaml:"limit" mapstructure:"limit"`
	MaxPages     int    `yaml:"max_pages" mapstructure:"max_pages"`
	MaxResults   int    `yaml:"max_results" mapstructure:"max_results"`
	DatetimeFrom string `yaml:"datetime_from" mapstructure:"datetime_from"`
	DatetimeTo   string `yaml:"datetime_to" mapstructure:"datetime_to"`
	LookbackDays int    `yaml:"lookback_days" mapstructure:"lookback_days"`
}

// Window resolves the measurement time window. Explicit bounds win; an unset
// bound is derived from now and lookback_days.
func (m MeasurementsConfig) Window(now time.Time) (from, to string) {
	to = m.DatetimeTo
	if to == "" {
		to = now.UTC().Format("2006-01-02")
	}
	from = m.DatetimeFrom
	if from == "" {
		days := m.LookbackDays
		if days <= 0 {
			days = 7
		}
		end, err := time.Parse("2006-01-02", to)
		if err != nil {
			end = now.UTC()
		}
		from = end.AddDate(0, 0, -days).Format("2006-01-02")
	}
	return from, to
}

// SensorsConfig selects which stored locations feed measurement extraction.
type SensorsConfig struct {
	CountryCode string `yaml:"country_code" mapstructure:"country_code"`
	Locality    string `yaml:"locality" mapstructure:"locality"`
}

// HandoffConfig selects where extract tasks leave their batches for load tasks.
type HandoffConfig struct {
	Backend string      `yaml:"backend" mapstructure:"backend"`
	Dir     string      `yaml:"dir" mapstructure:"dir"`
	Minio   MinioConfig `yaml:"minio" mapstructure:"minio"`
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// PipelineConfig configures task retries and the serve loop interval.
type PipelineConfig struct {
	Retries         int `yaml:"retries" mapstructure:"retries"`
	RetryDelaySecs  int `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	IntervalMinutes int `yaml:"interval_minutes" mapstructure:"interval_minutes"`
}

// RetryDelay returns the fixed delay between task attempts.
func (p PipelineConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySecs) * time.Second
}

// Interval returns the time between scheduled runs in serve mode.
func (p PipelineConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMinutes) * time.Minute
}

// MetricsConfig configures Prometheus metric export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// MonitoringConfig configures task log alerting in serve mode.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// ServerConfig configures the serve mode HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultFallbackISO is used when the countries table has no codes yet.
var DefaultFallbackISO = []string{"CL", "AR", "BR", "CO", "PE", "US", "DE", "CN", "IN", "GB"}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OPENAQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by the compose deployment.
	bindings := map[string][]string{
		"store.host":     {"OPENAQ_STORE_HOST", "POSTGRES_HOST"},
		"store.port":     {"OPENAQ_STORE_PORT", "POSTGRES_PORT"},
		"store.database": {"OPENAQ_STORE_DATABASE", "POSTGRES_DB"},
		"store.user":     {"OPENAQ_STORE_USER", "POSTGRES_USER"},
		"store.password": {"OPENAQ_STORE_PASSWORD", "POSTGRES_PASSWORD"},
		"openaq.api_key": {"OPENAQ_OPENAQ_API_KEY", "OPENAQ_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.database", "openaq_data")
	v.SetDefault("store.user", "openaq_user")
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("openaq.base_url", "https://api.openaq.org/v3")
	v.SetDefault("openaq.timeout_secs", 30)
	v.SetDefault("openaq.measurements_timeout_secs", 60)
	v.SetDefault("openaq.requests_per_second", 1.0)
	v.SetDefault("openaq.user_agent", "openaq-sync/1.0")
	v.SetDefault("extract.countries.limit", 100)
	v.SetDefault("extract.countries.max_pages", 10)
	v.SetDefault("extract.locations.limit", 100)
	v.SetDefault("extract.locations.max_pages", 20)
	v.SetDefault("extract.locations.max_results", 2000)
	v.SetDefault("extract.locations.fallback_iso", DefaultFallbackISO)
	v.SetDefault("extract.measurements.limit", 1000)
	v.SetDefault("extract.measurements.max_pages", 100)
	v.SetDefault("extract.measurements.max_results", 50000)
	v.SetDefault("extract.measurements.lookback_days", 7)
	v.SetDefault("sensors.country_code", "CL")
	v.SetDefault("sensors.locality", "temuco")
	v.SetDefault("handoff.backend", "file")
	v.SetDefault("handoff.dir", "/tmp/openaq")
	v.SetDefault("handoff.minio.bucket", "openaq-handoff")
	v.SetDefault("handoff.minio.prefix", "handoff")
	v.SetDefault("pipeline.retries", 2)
	v.SetDefault("pipeline.retry_delay_secs", 300)
	v.SetDefault("pipeline.interval_minutes", 360)
	v.SetDefault("metrics.job", "openaq_sync")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Unmarshal only sees environment variables for keys viper already
	// knows, so optional keys are registered with their zero value.
	for _, key := range []string{
		"store.database_url",
		"extract.measurements.datetime_from",
		"extract.measurements.datetime_to",
		"handoff.minio.endpoint",
		"handoff.minio.access_key",
		"handoff.minio.secret_key",
		"metrics.pushgateway_url",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("handoff.minio.use_ssl", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
// Modes: "extract" (API + store), "store" (store only), "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" && (c.Store.Host == "" || c.Store.Database == "") {
			errs = append(errs, "store.database_url or store.host/store.database is required")
		}
	}
	requireAPI := func() {
		if c.OpenAQ.BaseURL == "" {
			errs = append(errs, "openaq.base_url is required")
		}
		if c.OpenAQ.APIKey == "" {
			errs = append(errs, "openaq.api_key is required")
		}
		for name, lim := range map[string]int{
			"extract.countries.limit":    c.Extract.Countries.Limit,
			"extract.locations.limit":    c.Extract.Locations.Limit,
			"extract.measurements.limit": c.Extract.Measurements.Limit,
		} {
			if lim <= 0 {
				errs = append(errs, fmt.Sprintf("%s must be > 0", name))
			}
		}
		switch c.Handoff.Backend {
		case "file", "":
		case "minio":
			if c.Handoff.Minio.Endpoint == "" {
				errs = append(errs, "handoff.minio.endpoint is required for the minio backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("handoff.backend %q is not supported", c.Handoff.Backend))
		}
	}

	switch mode {
	case "extract":
		requireStore()
		requireAPI()
	case "store":
		requireStore()
	case "serve":
		requireStore()
		requireAPI()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Pipeline.IntervalMinutes <= 0 {
			errs = append(errs, "pipeline.interval_minutes must be > 0")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with credentials masked, suitable for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "redacted"
	}
	c.Store.Password = mask(c.Store.Password)
	if c.Store.DatabaseURL != "" {
		if u, err := url.Parse(c.Store.DatabaseURL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "redacted")
			}
			c.Store.DatabaseURL = u.String()
		}
	}
	c.OpenAQ.APIKey = mask(c.OpenAQ.APIKey)
	c.Handoff.Minio.SecretKey = mask(c.Handoff.Minio.SecretKey)
	c.Monitoring.WebhookURL = mask(c.Monitoring.WebhookURL)
	return c
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is constructed once at
// process start and passed by reference; no component reads the environment
// directly.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Console     ConsoleConfig     `mapstructure:"console" yaml:"console"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots" yaml:"screenshots"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Journal     JournalConfig     `mapstructure:"journal" yaml:"journal"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the Chrome instance launched for each run.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args"`
	Debug    bool     `mapstructure:"debug" yaml:"debug"`
}

// NetworkConfig bounds every suspension point in the pipeline.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ConsoleConfig describes the partner console being automated and the values
// applied verbatim to the version form.
type ConsoleConfig struct {
	// DashboardURL is the organization-scoped apps dashboard, e.g.
	// https://partners.shopify.com/1234567/apps. The console group id is
	// derived from its path.
	DashboardURL string `mapstructure:"dashboard_url" yaml:"dashboard_url"`
	// PartnerOrgID overrides the group id parsed from DashboardURL when set.
	PartnerOrgID int64 `mapstructure:"partner_org_id" yaml:"partner_org_id"`

	CallbackURL string `mapstructure:"callback_url" yaml:"callback_url"`
	RedirectURL string `mapstructure:"redirect_url" yaml:"redirect_url"`
	ScopesCSV   string `mapstructure:"scopes" yaml:"scopes"`

	// EmbedApp is the target state of the embed capability toggle.
	EmbedApp bool `mapstructure:"embed_app" yaml:"embed_app"`

	// AppNameSuffix completes the derived display name: "<brand> x <suffix>".
	AppNameSuffix string `mapstructure:"app_name_suffix" yaml:"app_name_suffix"`

	// InteractiveReauth blocks on a reauth wall until an operator completes the
	// challenge instead of failing fast.
	InteractiveReauth bool          `mapstructure:"interactive_reauth" yaml:"interactive_reauth"`
	ReauthWait        time.Duration `mapstructure:"reauth_wait" yaml:"reauth_wait"`
}

// SessionConfig locates the persisted authenticated-session state.
type SessionConfig struct {
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
}

// ScreenshotsConfig gates the per-stage diagnostic screenshot side channel.
type ScreenshotsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig configures the workflow HTTP endpoint.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RatePerMinute   int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// JournalConfig configures the optional Postgres run journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "partnerforge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.element_timeout", "5s")
	v.SetDefault("network.post_load_wait", "1500ms")

	// -- Console --
	v.SetDefault("console.partner_org_id", 0)
	v.SetDefault("console.embed_app", true)
	v.SetDefault("console.app_name_suffix", "Retention")
	v.SetDefault("console.interactive_reauth", false)
	v.SetDefault("console.reauth_wait", "10m")

	// -- Session --
	v.SetDefault("session.state_file", "~/.partnerforge/session_state.json")

	// -- Screenshots --
	v.SetDefault("screenshots.enabled", false)
	v.SetDefault("screenshots.dir", "screenshots")

	// -- Server --
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.request_timeout", "10m")
	v.SetDefault("server.rate_per_minute", 6)
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Journal --
	v.SetDefault("journal.enabled", false)
}

// NewConfigFromViper creates a validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("journal.dsn", "PARTNERFORGE_JOURNAL_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var dashboardPathPattern = regexp.MustCompile(`^/(\d+)(/|$)`)

// GroupID returns the console group identifier: the configured override when
// set, otherwise the numeric first path segment of DashboardURL.
func (c ConsoleConfig) GroupID() (int64, error) {
	if c.PartnerOrgID > 0 {
		return c.PartnerOrgID, nil
	}
	u, err := url.Parse(c.DashboardURL)
	if err != nil {
		return 0, fmt.Errorf("malformed dashboard_url %q: %w", c.DashboardURL, err)
	}
	m := dashboardPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return 0, fmt.Errorf("dashboard_url %q does not embed an organization id", c.DashboardURL)
	}
	var id int64
	if _, err := fmt.Sscanf(m[1], "%d", &id); err != nil {
		return 0, fmt.Errorf("dashboard_url organization id %q: %w", m[1], err)
	}
	return id, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.ElementTimeout <= 0 {
		return fmt.Errorf("network.element_timeout must be a positive duration")
	}
	if c.Console.ReauthWait <= 0 {
		return fmt.Errorf("console.reauth_wait must be a positive duration")
	}
	if c.Server.RatePerMinute <= 0 {
		return fmt.Errorf("server.rate_per_minute must be a positive integer")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required when journal.enabled is true")
	}
	return nil
}

// ValidateForRun checks the fields a workflow run cannot start without.
// Kept separate from Validate so that commands which never drive the console
// (e.g. version) do not demand console configuration.
func (c *Config) ValidateForRun() error {
	if c.Console.DashboardURL == "" {
		return fmt.Errorf("console.dashboard_url is required")
	}
	if _, err := c.Console.GroupID(); err != nil {
		return err
	}
	if c.Console.CallbackURL == "" {
		return fmt.Errorf("console.callback_url is required")
	}
	if c.Console.RedirectURL == "" {
		return fmt.Errorf("console.redirect_url is required")
	}
	if c.Console.ScopesCSV == "" {
		return fmt.Errorf("console.scopes is required")
	}
	if c.Session.StateFile == "" {
		return fmt.Errorf("session.state_file is required")
	}
	return nil
}

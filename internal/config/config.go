// Package config loads application configuration from YAML with environment
// overrides and hot reload.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config is the application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Tickets  TicketsConfig  `mapstructure:"tickets"`
	Email    EmailConfig    `mapstructure:"email"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	BaseURL string `mapstructure:"base_url"`
	Debug   bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres | mysql | sqlite3
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Name         string `mapstructure:"name"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// TicketsConfig carries tenant ticket numbering and defaults.
type TicketsConfig struct {
	AccountID       int64 `mapstructure:"account_id"`
	DisplayIDFloor  int64 `mapstructure:"display_id_floor"`
	DefaultStatus   int   `mapstructure:"default_status"`
	DefaultPriority int   `mapstructure:"default_priority"`
	DefaultSource   int   `mapstructure:"default_source"`
}

type EmailConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	From     string          `mapstructure:"from"`
	FromName string          `mapstructure:"from_name"`
	ReplyTo  string          `mapstructure:"reply_to"`
	SMTP     SMTPConfig      `mapstructure:"smtp"`
	Inbound  InboundConfig   `mapstructure:"inbound"`
	Accounts []MailboxConfig `mapstructure:"accounts"`
}

type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	AuthType   string `mapstructure:"auth_type"` // plain | login
	TLSMode    string `mapstructure:"tls_mode"`  // none | starttls | smtps
	SkipVerify bool   `mapstructure:"skip_verify"`
}

// InboundConfig scopes the poller. Address is the helpdesk target address;
// mail not naming it as a recipient is discarded. CutoffDate (ISO 8601)
// keeps the first poll of a pre-existing mailbox from ingesting its history.
type InboundConfig struct {
	Address         string        `mapstructure:"address"`
	CutoffDate      string        `mapstructure:"cutoff_date"`
	Schedule        string        `mapstructure:"schedule"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAuthFailures int           `mapstructure:"max_auth_failures"`
}

// Cutoff parses CutoffDate, accepting a full timestamp or a bare date.
// Unset yields the zero time; a malformed value is an error so a typo does
// not silently open the whole mailbox history.
func (c *InboundConfig) Cutoff() (time.Time, error) {
	raw := strings.TrimSpace(c.CutoffDate)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid cutoff_date %q (want RFC 3339 or YYYY-MM-DD)", raw)
}

// MailboxConfig describes one polled mailbox.
type MailboxConfig struct {
	ID       int64  `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Protocol string `mapstructure:"protocol"` // imap | imaps | pop3 | pop3s
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the given directory with hot reload support.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")
		v.SetConfigName("config")
		v.AddConfigPath(configPath)
		setDefaults(v)

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("read config: %w", readErr)
				return
			}
		}

		v.SetEnvPrefix("OPENDESK")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			err = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			newCfg := &Config{}
			if unmarshalErr := v.Unmarshal(newCfg); unmarshalErr != nil {
				fmt.Printf("config reload failed: %v\n", unmarshalErr)
				return
			}
			mu.Lock()
			cfg = newCfg
			mu.Unlock()
			fmt.Printf("configuration reloaded from %s\n", e.Name)
		})
	})
	return err
}

// LoadFromFile loads configuration from a specific file, mainly for tests.
func LoadFromFile(configFile string) error {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "opendesk")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.base_url", "http://localhost:8080")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "opendesk.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("tickets.account_id", 1)
	v.SetDefault("tickets.display_id_floor", 7000)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.tls_mode", "starttls")
	v.SetDefault("email.inbound.schedule", "0 * * * * *")
	v.SetDefault("email.inbound.timeout", "5m")
	v.SetDefault("email.inbound.max_auth_failures", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// GetServerAddr returns the server listen address.
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the app runs in production mode.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// EffectiveTLSMode normalizes the SMTP TLS mode setting.
func (c *SMTPConfig) EffectiveTLSMode() string {
	switch strings.ToLower(strings.TrimSpace(c.TLSMode)) {
	case "smtps":
		return "smtps"
	case "none", "plain", "off":
		return "none"
	default:
		return "starttls"
	}
}

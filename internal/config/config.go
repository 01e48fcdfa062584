package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gotrs-io/gotrs-mailverify/internal/database"
)

// EnvPrefix prefixes environment overrides, e.g. MAILVERIFY_SERVER_PORT.
const EnvPrefix = "MAILVERIFY"

var (
	hooks   []func(*Config)
	hooksMu sync.Mutex
)

// Config represents the service configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoSchema      bool          `mapstructure:"auto_schema"`
}

// VerifyConfig covers operational knobs only; the verification policy itself is fixed.
type VerifyConfig struct {
	ResultCleanupDelay time.Duration `mapstructure:"result_cleanup_delay"`
	ResultRetention    time.Duration `mapstructure:"result_retention"`
	SweepSchedule      string        `mapstructure:"sweep_schedule"`
	SMTPTimeout        time.Duration `mapstructure:"smtp_timeout"`
	IMAPDialTimeout    time.Duration `mapstructure:"imap_dial_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers every key so env overrides resolve without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gotrs-mailverify")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 75*time.Second)

	v.SetDefault("database.driver", string(database.PostgreSQL))
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailverify")
	v.SetDefault("database.user", "mailverify")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "mailverify.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_schema", false)

	v.SetDefault("verify.result_cleanup_delay", 60*time.Second)
	v.SetDefault("verify.result_retention", 10*time.Minute)
	v.SetDefault("verify.sweep_schedule", "*/30 * * * * *")
	v.SetDefault("verify.smtp_timeout", 30*time.Second)
	v.SetDefault("verify.imap_dial_timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config.yaml from configPath (optional), applies MAILVERIFY_* env
// overrides, and watches the file for changes. The result is also served by Get.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		fileLoaded = false
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}

	if fileLoaded {
		watch(v)
	}
	return loaded, nil
}

// LoadFromFile reads one explicit YAML file without watching it.
func LoadFromFile(configFile string) (*Config, error) {
	if _, err := os.Stat(configFile); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configFile)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(configFile), "."))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

func decode(v *viper.Viper) (*Config, error) {
	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return out, nil
}

func watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[CONFIG] Config file changed: %s", e.Name)
		newCfg, err := decode(v)
		if err != nil {
			log.Printf("[CONFIG] Failed to reload config: %v", err)
			return
		}

		hooksMu.Lock()
		pending := append([]func(*Config){}, hooks...)
		hooksMu.Unlock()
		for _, hook := range pending {
			hook(newCfg)
		}
		log.Println("[CONFIG] Configuration reloaded")
	})
	v.WatchConfig()
}

// OnReload registers fn to run after a successful hot reload.
func OnReload(fn func(*Config)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, fn)
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch database.DatabaseType(c.Database.Driver) {
	case database.PostgreSQL, database.MySQL, database.SQLite:
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	if c.Verify.ResultCleanupDelay <= 0 {
		return fmt.Errorf("verify.result_cleanup_delay must be positive")
	}
	if c.Verify.ResultRetention < c.Verify.ResultCleanupDelay {
		return fmt.Errorf("verify.result_retention must not be shorter than result_cleanup_delay")
	}
	return nil
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// Connection converts the section into database connection settings.
func (c *DatabaseConfig) Connection() database.DatabaseConfig {
	return database.DatabaseConfig{
		Type:            database.DatabaseType(c.Driver),
		Host:            c.Host,
		Port:            c.Port,
		Database:        c.Name,
		Username:        c.User,
		Password:        c.Password,
		SSLMode:         c.SSLMode,
		Path:            c.Path,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

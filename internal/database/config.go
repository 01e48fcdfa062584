package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DatabaseType names a supported SQL driver.
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite3"
)

// DatabaseConfig holds connection settings for the account store.
type DatabaseConfig struct {
	Type     DatabaseType
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	// Path is the sqlite file; ":memory:" for an ephemeral database.
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ValidateConfig checks that the settings needed by the selected driver are present.
func ValidateConfig(config DatabaseConfig) error {
	switch config.Type {
	case SQLite:
		if config.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
		return nil
	case PostgreSQL, MySQL:
	case "":
		return fmt.Errorf("database type is required")
	default:
		return fmt.Errorf("unsupported database type: %s", config.Type)
	}

	if config.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Port <= 0 {
		return fmt.Errorf("database port is required")
	}
	if config.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Username == "" {
		return fmt.Errorf("database username is required")
	}
	return nil
}

// DSN renders the driver-specific connection string.
func (c DatabaseConfig) DSN() string {
	switch c.Type {
	case MySQL:
		// user:password@tcp(host:port)/dbname?params
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	case SQLite:
		if c.Path == ":memory:" {
			return "file::memory:?cache=shared&_foreign_keys=on"
		}
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", c.Path)
	default:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, quoteValue(c.Password), c.Database, sslMode)
	}
}

// Redacted returns a loggable description of the target without credentials.
func (c DatabaseConfig) Redacted() string {
	if c.Type == SQLite {
		return fmt.Sprintf("sqlite3://%s", c.Path)
	}
	u := url.URL{
		Scheme: string(c.Type),
		User:   url.User(c.Username),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

func quoteValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

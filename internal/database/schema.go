package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var mailAccountsDDL = map[string]string{
	"postgres": `CREATE TABLE IF NOT EXISTS mail_accounts (
	id BIGSERIAL PRIMARY KEY,
	email VARCHAR(255) NOT NULL UNIQUE,
	username VARCHAR(255),
	password TEXT NOT NULL,
	smtp_host VARCHAR(255) NOT NULL,
	smtp_port INTEGER NOT NULL DEFAULT 0,
	smtp_secure BOOLEAN NOT NULL DEFAULT TRUE,
	imap_host VARCHAR(255) NOT NULL,
	imap_port INTEGER NOT NULL DEFAULT 0,
	imap_secure BOOLEAN NOT NULL DEFAULT TRUE,
	status VARCHAR(32) NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	"mysql": `CREATE TABLE IF NOT EXISTS mail_accounts (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	email VARCHAR(255) NOT NULL UNIQUE,
	username VARCHAR(255) NULL,
	password TEXT NOT NULL,
	smtp_host VARCHAR(255) NOT NULL,
	smtp_port INT NOT NULL DEFAULT 0,
	smtp_secure TINYINT(1) NOT NULL DEFAULT 1,
	imap_host VARCHAR(255) NOT NULL,
	imap_port INT NOT NULL DEFAULT 0,
	imap_secure TINYINT(1) NOT NULL DEFAULT 1,
	status VARCHAR(32) NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	"sqlite3": `CREATE TABLE IF NOT EXISTS mail_accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	username TEXT,
	password TEXT NOT NULL,
	smtp_host TEXT NOT NULL,
	smtp_port INTEGER NOT NULL DEFAULT 0,
	smtp_secure INTEGER NOT NULL DEFAULT 1,
	imap_host TEXT NOT NULL,
	imap_port INTEGER NOT NULL DEFAULT 0,
	imap_secure INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
}

// EnsureSchema creates the mail_accounts table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	ddl, ok := mailAccountsDDL[db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create mail_accounts: %w", err)
	}
	return nil
}

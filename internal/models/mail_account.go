package models

import (
	"time"

	"github.com/gotrs-io/gotrs-mailverify/internal/email/verify"
)

// Mail account lifecycle states.
const (
	MailAccountStatusPending  = "pending"
	MailAccountStatusActive   = "active"
	MailAccountStatusDisabled = "disabled"
)

// MailAccount is a candidate mailbox whose send/receive capability gets verified.
type MailAccount struct {
	ID         int64     `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	Username   *string   `json:"username,omitempty" db:"username"`
	Password   string    `json:"-" db:"password"`
	SMTPHost   string    `json:"smtp_host" db:"smtp_host"`
	SMTPPort   int       `json:"smtp_port" db:"smtp_port"`
	SMTPSecure bool      `json:"smtp_secure" db:"smtp_secure"`
	IMAPHost   string    `json:"imap_host" db:"imap_host"`
	IMAPPort   int       `json:"imap_port" db:"imap_port"`
	IMAPSecure bool      `json:"imap_secure" db:"imap_secure"`
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// MailboxConfig maps the stored record onto the connection settings used by a verification run.
func (a *MailAccount) MailboxConfig() verify.MailboxConfig {
	cfg := verify.MailboxConfig{
		Address:  a.Email,
		Password: a.Password,
		SMTP:     verify.Endpoint{Host: a.SMTPHost, Port: a.SMTPPort, Secure: a.SMTPSecure},
		IMAP:     verify.Endpoint{Host: a.IMAPHost, Port: a.IMAPPort, Secure: a.IMAPSecure},
	}
	if a.Username != nil {
		cfg.Username = *a.Username
	}
	return cfg
}

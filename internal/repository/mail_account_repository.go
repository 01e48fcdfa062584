package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-mailverify/internal/database"
	"github.com/gotrs-io/gotrs-mailverify/internal/models"
)

// ErrAccountNotFound is returned when no mail account has the requested id.
var ErrAccountNotFound = errors.New("mail account not found")

const mailAccountColumns = `id, email, username, password, smtp_host, smtp_port, smtp_secure,
	imap_host, imap_port, imap_secure, status, created_at, updated_at`

// MailAccountRepository reads and updates mail account records.
type MailAccountRepository struct {
	qb  *database.QueryBuilder
	now func() time.Time
}

// NewMailAccountRepository creates a repository on the given connection.
func NewMailAccountRepository(db *sqlx.DB) *MailAccountRepository {
	return &MailAccountRepository{qb: database.NewQueryBuilder(db), now: time.Now}
}

// GetByID loads a mail account.
func (r *MailAccountRepository) GetByID(ctx context.Context, id int64) (*models.MailAccount, error) {
	account := &models.MailAccount{}
	err := r.qb.GetContext(ctx, account,
		`SELECT `+mailAccountColumns+` FROM mail_accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail account %d: %w", id, err)
	}
	return account, nil
}

// UpdateStatus sets the lifecycle status of a mail account.
func (r *MailAccountRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := r.qb.ExecContext(ctx,
		`UPDATE mail_accounts SET status = ?, updated_at = ? WHERE id = ?`,
		status, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update mail account %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Activate marks a mail account as verified. It satisfies verify.AccountActivator.
func (r *MailAccountRepository) Activate(ctx context.Context, id int64) error {
	return r.UpdateStatus(ctx, id, models.MailAccountStatusActive)
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/models"
)

const mailAccountColumns = `id, name, host, port, username, secret, security, folder, sync_interval_sec,
	post_action, move_folder, unread_only, subject_filter, from_filter, default_priority,
	default_status, default_queue, default_assignee_id, enabled, last_sync_at, last_error`

// SaveMailAccount inserts a (when ID is zero) or updates an account record.
func (d *DB) SaveMailAccount(ctx context.Context, a *models.MailAccount) error {
	if a.Folder == "" {
		a.Folder = "INBOX"
	}
	if a.PostAction == "" {
		a.PostAction = models.PostActionMarkRead
	}
	if a.Security == "" {
		a.Security = models.SecuritySSL
	}

	if a.ID == 0 {
		err := d.QueryRowxContext(ctx, d.q(`
		INSERT INTO mail_accounts (
			name, host, port, username, secret, security, folder, sync_interval_sec,
			post_action, move_folder, unread_only, subject_filter, from_filter, default_priority,
			default_status, default_queue, default_assignee_id, enabled
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
			a.Name, a.Host, a.Port, a.Username, a.Secret, a.Security, a.Folder, a.SyncIntervalSec,
			a.PostAction, a.MoveFolder, a.UnreadOnly, a.SubjectFilter, a.FromFilter, a.DefaultPriority,
			a.DefaultStatus, a.DefaultQueue, a.DefaultAssigneeID, a.Enabled,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("failed to create mail account: %w", err)
		}
		return nil
	}

	res, err := d.ExecContext(ctx, d.q(`
	UPDATE mail_accounts SET
		name = ?, host = ?, port = ?, username = ?, secret = ?, security = ?, folder = ?, sync_interval_sec = ?,
		post_action = ?, move_folder = ?, unread_only = ?, subject_filter = ?, from_filter = ?, default_priority = ?,
		default_status = ?, default_queue = ?, default_assignee_id = ?, enabled = ?
	WHERE id = ?`),
		a.Name, a.Host, a.Port, a.Username, a.Secret, a.Security, a.Folder, a.SyncIntervalSec,
		a.PostAction, a.MoveFolder, a.UnreadOnly, a.SubjectFilter, a.FromFilter, a.DefaultPriority,
		a.DefaultStatus, a.DefaultQueue, a.DefaultAssigneeID, a.Enabled, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update mail account %d: %w", a.ID, err)
	}
	return expectRow(res, "db.SaveMailAccount", fmt.Sprintf("mail account %d", a.ID))
}

// GetMailAccount fetches one account.
func (d *DB) GetMailAccount(ctx context.Context, id int64) (*models.MailAccount, error) {
	var a models.MailAccount
	err := d.GetContext(ctx, &a, d.q(`SELECT `+mailAccountColumns+` FROM mail_accounts WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.NotFound, "db.GetMailAccount", "mail account %d not found", id)
		}
		return nil, fmt.Errorf("failed to get mail account %d: %w", id, err)
	}
	return &a, nil
}

// ListEnabledMailAccounts returns every account that should be synced.
func (d *DB) ListEnabledMailAccounts(ctx context.Context) ([]models.MailAccount, error) {
	var accounts []models.MailAccount
	err := d.SelectContext(ctx, &accounts, d.q(`SELECT `+mailAccountColumns+` FROM mail_accounts WHERE enabled = ? ORDER BY id`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail accounts: %w", err)
	}
	return accounts, nil
}

// MarkMailAccountSynced advances the account's last-sync timestamp and
// clears its last error.
func (d *DB) MarkMailAccountSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := d.ExecContext(ctx, d.q(`UPDATE mail_accounts SET last_sync_at = ?, last_error = '' WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark mail account %d synced: %w", id, err)
	}
	return nil
}

// SetMailAccountError records the reason the last sync of an account aborted.
func (d *DB) SetMailAccountError(ctx context.Context, id int64, msg string) error {
	_, err := d.ExecContext(ctx, d.q(`UPDATE mail_accounts SET last_error = ? WHERE id = ?`), msg, id)
	if err != nil {
		return fmt.Errorf("failed to set mail account %d error: %w", id, err)
	}
	return nil
}

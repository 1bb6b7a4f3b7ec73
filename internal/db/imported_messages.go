package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Imported message states.
const (
	MessagePending  = "pending"
	MessageImported = "imported"
	MessageRejected = "rejected"
)

// ClaimMessage records a message key before any ticket effect. It reports
// false when the key already exists, which is the importer's dedup boundary.
// A pending claim taken before staleBefore was abandoned by its owner and is
// taken over.
func (d *DB) ClaimMessage(ctx context.Context, accountID int64, key string, staleBefore time.Time) (bool, error) {
	res, err := d.ExecContext(ctx, d.q(`
	INSERT INTO imported_messages (message_key, account_id, status, imported_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (message_key) DO UPDATE SET account_id = excluded.account_id, imported_at = excluded.imported_at
	WHERE imported_messages.status = ? AND imported_messages.imported_at < ?`),
		key, accountID, MessagePending, time.Now().UTC(), MessagePending, staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim message %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteMessage settles a claimed key with its outcome and the entities it produced.
func (d *DB) CompleteMessage(ctx context.Context, key, status string, ticketID, commentID *string) error {
	_, err := d.ExecContext(ctx, d.q(`
	UPDATE imported_messages SET status = ?, ticket_id = ?, comment_id = ?, imported_at = ?
	WHERE message_key = ?`), status, ticketID, commentID, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("failed to complete message %s: %w", key, err)
	}
	return nil
}

// ReleaseMessage drops a pending claim so the message is retried later.
func (d *DB) ReleaseMessage(ctx context.Context, key string) error {
	_, err := d.ExecContext(ctx, d.q(`DELETE FROM imported_messages WHERE message_key = ? AND status = ?`), key, MessagePending)
	if err != nil {
		return fmt.Errorf("failed to release message %s: %w", key, err)
	}
	return nil
}

// MessageStatus returns the stored status of a key, or "" when unknown.
func (d *DB) MessageStatus(ctx context.Context, key string) (string, error) {
	var status string
	err := d.GetContext(ctx, &status, d.q(`SELECT status FROM imported_messages WHERE message_key = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get message %s: %w", key, err)
	}
	return status, nil
}

// FindTicketByMessageKeys returns the ticket that any of keys was imported
// into. ok is false when none match.
func (d *DB) FindTicketByMessageKeys(ctx context.Context, keys []string) (ticketID string, ok bool, err error) {
	if len(keys) == 0 {
		return "", false, nil
	}
	query, args, err := sqlx.In(`
	SELECT ticket_id FROM imported_messages
	WHERE message_key IN (?) AND ticket_id IS NOT NULL
	ORDER BY imported_at LIMIT 1`, keys)
	if err != nil {
		return "", false, fmt.Errorf("failed to build thread lookup: %w", err)
	}
	err = d.GetContext(ctx, &ticketID, d.q(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up thread: %w", err)
	}
	return ticketID, true, nil
}

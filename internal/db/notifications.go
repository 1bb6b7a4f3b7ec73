package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"helpdesk-sync/internal/models"
)

const notificationColumns = `id, type, title, message, user_id, actor_id, ticket_id, is_read, created_at, trigger_key, dedup_key`

// CreateNotification inserts n. When n.DedupKey collides with an existing row
// nothing is written and false is returned.
func (d *DB) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	res, err := d.ExecContext(ctx, d.q(`
	INSERT INTO notifications (`+notificationColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (dedup_key) DO NOTHING`),
		n.ID, n.Type, n.Title, n.Message, n.UserID, n.ActorID, n.TicketID, n.Read, n.CreatedAt, n.TriggerKey, n.DedupKey)
	if err != nil {
		return false, fmt.Errorf("failed to create notification: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create notification: %w", err)
	}
	return rows > 0, nil
}

// TriggerRecipients returns the users that already hold a notification for
// ticketID carrying triggerKey.
func (d *DB) TriggerRecipients(ctx context.Context, ticketID, triggerKey string) ([]int64, error) {
	var ids []int64
	err := d.SelectContext(ctx, &ids, d.q(`
	SELECT DISTINCT user_id FROM notifications WHERE ticket_id = ? AND trigger_key = ? ORDER BY user_id`), ticketID, triggerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients of trigger %s: %w", triggerKey, err)
	}
	return ids, nil
}

// GetNotificationsByUserID returns a user's notifications, newest first.
func (d *DB) GetNotificationsByUserID(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []interface{}{userID}
	if unreadOnly {
		query += ` AND is_read = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	notifications := []models.Notification{}
	if err := d.SelectContext(ctx, &notifications, d.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get notifications by user_id %d: %w", userID, err)
	}
	return notifications, nil
}

// CountUnreadNotifications counts a user's unread notifications.
func (d *DB) CountUnreadNotifications(ctx context.Context, userID int64) (int, error) {
	var count int
	err := d.GetContext(ctx, &count, d.q(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = ?`), userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead flags one notification as read when it belongs to
// userID. It reports whether a row matched.
func (d *DB) MarkNotificationRead(ctx context.Context, id string, userID int64) (bool, error) {
	res, err := d.ExecContext(ctx, d.q(`UPDATE notifications SET is_read = ? WHERE id = ? AND user_id = ?`), true, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkAllNotificationsRead flags every unread notification of userID and
// returns how many changed.
func (d *DB) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	res, err := d.ExecContext(ctx, d.q(`UPDATE notifications SET is_read = ? WHERE user_id = ? AND is_read = ?`), true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read for user_id %d: %w", userID, err)
	}
	return res.RowsAffected()
}

package models

import "time"

// NotificationType tags what caused a notification.
type NotificationType string

const (
	NotificationDueSoon          NotificationType = "due_soon"
	NotificationOverdue          NotificationType = "overdue"
	NotificationReminder         NotificationType = "reminder"
	NotificationStatusChanged    NotificationType = "status_changed"
	NotificationCommentAdded     NotificationType = "comment_added"
	NotificationWatcherRemoved   NotificationType = "watcher_removed"
	NotificationParticipantAdded NotificationType = "participant_added"
	NotificationTicketAssigned   NotificationType = "ticket_assigned"
	NotificationTicketCreated    NotificationType = "ticket_created"
)

// Notification is immutable once stored except for Read.
type Notification struct {
	ID         string           `json:"id" db:"id"`
	Type       NotificationType `json:"type" db:"type"`
	Title      string           `json:"title" db:"title"`
	Message    string           `json:"message" db:"message"`
	UserID     int64            `json:"user_id" db:"user_id"`
	ActorID    *int64           `json:"actor_id,omitempty" db:"actor_id"`
	TicketID   *string          `json:"ticket_id,omitempty" db:"ticket_id"`
	Read       bool             `json:"read" db:"is_read"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	TriggerKey *string          `json:"-" db:"trigger_key"`
	DedupKey   *string          `json:"-" db:"dedup_key"`
}

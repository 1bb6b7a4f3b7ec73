package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"helpdesk-sync/internal/models"
)

// EventType is the "type" field of every pushed frame.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventPing         EventType = "ping"
	EventNotification EventType = "notification"
)

// Event is one frame delivered to a connection.
type Event struct {
	Type         EventType
	ConnectionID string
	Time         time.Time
	Notification *models.Notification
}

// NotificationEvent wraps a stored notification for delivery.
func NotificationEvent(n models.Notification) Event {
	return Event{Type: EventNotification, Time: time.Now(), Notification: &n}
}

// MarshalJSON flattens notification fields next to "type" so clients see
// {"type":"notification","id":...,"title":...}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Notification == nil {
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			ConnectionID string    `json:"connection_id,omitempty"`
			Time         time.Time `json:"time"`
		}{e.Type, e.ConnectionID, e.Time})
	}
	type alias models.Notification
	return json.Marshal(struct {
		Type             EventType               `json:"type"`
		NotificationType models.NotificationType `json:"notification_type"`
		*alias
	}{
		Type:             e.Type,
		NotificationType: e.Notification.Type,
		alias:            (*alias)(e.Notification),
	})
}

// WriteSSE writes e as one Server-Sent Events frame: "data: <json>\n\n".
func WriteSSE(w io.Writer, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

package models

// TicketEvent describes a ticket store mutation that may notify people.
// It arrives from the ticket service over Kafka or is raised in-process.
type TicketEvent struct {
	Type      NotificationType `json:"type"`
	TicketID  string           `json:"ticket_id"`
	ActorID   *int64           `json:"actor_id,omitempty"`
	UserID    *int64           `json:"user_id,omitempty"` // subject of watcher/assignment events
	OldStatus string           `json:"old_status,omitempty"`
	NewStatus string           `json:"new_status,omitempty"`
	Excerpt   string           `json:"excerpt,omitempty"`
}

package models

import (
	"fmt"
	"time"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketPending  TicketStatus = "pending"
	TicketResolved TicketStatus = "resolved"
	TicketClosed   TicketStatus = "closed"
)

// IsOpen reports whether automation should still evaluate the ticket.
func (s TicketStatus) IsOpen() bool {
	return s == TicketOpen || s == TicketPending
}

// Ticket is a support request. DueDate is date-only and always stored at
// local midnight; ReminderAt keeps its time of day.
type Ticket struct {
	ID             string       `json:"id" db:"id"`
	Number         int64        `json:"number" db:"number"`
	Subject        string       `json:"subject" db:"subject"`
	Description    string       `json:"description" db:"description"`
	Status         TicketStatus `json:"status" db:"status"`
	Priority       string       `json:"priority" db:"priority"`
	Queue          string       `json:"queue" db:"queue"`
	AssigneeID     *int64       `json:"assignee_id,omitempty" db:"assignee_id"`
	DueDate        *time.Time   `json:"due_date,omitempty" db:"due_date"`
	ReminderAt     *time.Time   `json:"reminder_at,omitempty" db:"reminder_at"`
	LastRemindedAt *time.Time   `json:"last_reminded_at,omitempty" db:"last_reminded_at"`
	MailAccountID  *int64       `json:"mail_account_id,omitempty" db:"mail_account_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`

	Watchers     []int64       `json:"watchers,omitempty" db:"-"`
	Participants []Participant `json:"participants,omitempty" db:"-"`
}

// Reference renders the human ticket number, e.g. T-000042.
func (t Ticket) Reference() string {
	return FormatTicketNumber(t.Number)
}

// FormatTicketNumber renders n as T-000042.
func FormatTicketNumber(n int64) string {
	return fmt.Sprintf("T-%06d", n)
}

// NormalizeDueDate drops the time-of-day component of d in loc.
func NormalizeDueDate(d time.Time, loc *time.Location) time.Time {
	d = d.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// Provenance records how a participant joined a ticket's thread.
type Provenance string

const (
	ProvenanceCreator Provenance = "creator"
	ProvenanceCC      Provenance = "cc"
	ProvenanceManual  Provenance = "manual"
	ProvenanceReply   Provenance = "reply"
)

// Participant is an address associated with a ticket's email thread.
type Participant struct {
	TicketID   string     `json:"ticket_id" db:"ticket_id"`
	Email      string     `json:"email" db:"email"`
	Name       string     `json:"name" db:"name"`
	UserID     *int64     `json:"user_id,omitempty" db:"user_id"`
	Provenance Provenance `json:"provenance" db:"provenance"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Comment is a message appended to a ticket's thread.
type Comment struct {
	ID          string    `json:"id" db:"id"`
	TicketID    string    `json:"ticket_id" db:"ticket_id"`
	AuthorEmail string    `json:"author_email" db:"author_email"`
	AuthorName  string    `json:"author_name" db:"author_name"`
	Body        string    `json:"body" db:"body"`
	BodyHTML    string    `json:"body_html,omitempty" db:"body_html"`
	MessageKey  string    `json:"-" db:"message_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Attachment is a file stored against a ticket or one of its comments.
type Attachment struct {
	ID        string    `json:"id" db:"id"`
	TicketID  string    `json:"ticket_id" db:"ticket_id"`
	CommentID *string   `json:"comment_id,omitempty" db:"comment_id"`
	Filename  string    `json:"filename" db:"filename"`
	MIMEType  string    `json:"mime_type" db:"mime_type"`
	Size      int64     `json:"size" db:"size"`
	Content   []byte    `json:"-" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package models

import "time"

// PostAction is applied to a remote message once it has been handled.
type PostAction string

const (
	PostActionMarkRead PostAction = "mark_read"
	PostActionDelete   PostAction = "delete"
	PostActionMove     PostAction = "move"
)

// Transport security modes for a mail account.
const (
	SecuritySSL  = "ssl"  // implicit TLS
	SecurityTLS  = "tls"  // STARTTLS
	SecurityNone = "none" // plaintext
)

// MailAccount is the admin-owned mailbox configuration. Read-only to the sync
// subsystem apart from LastSyncAt and LastError.
type MailAccount struct {
	ID                int64      `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Host              string     `json:"host" db:"host"`
	Port              int        `json:"port" db:"port"`
	Username          string     `json:"username" db:"username"`
	Secret            string     `json:"-" db:"secret"`
	Security          string     `json:"security" db:"security"`
	Folder            string     `json:"folder" db:"folder"`
	SyncIntervalSec   int        `json:"sync_interval_sec" db:"sync_interval_sec"`
	PostAction        PostAction `json:"post_action" db:"post_action"`
	MoveFolder        string     `json:"move_folder" db:"move_folder"`
	UnreadOnly        bool       `json:"unread_only" db:"unread_only"`
	SubjectFilter     string     `json:"subject_filter" db:"subject_filter"`
	FromFilter        string     `json:"from_filter" db:"from_filter"`
	DefaultPriority   string     `json:"default_priority" db:"default_priority"`
	DefaultStatus     string     `json:"default_status" db:"default_status"`
	DefaultQueue      string     `json:"default_queue" db:"default_queue"`
	DefaultAssigneeID *int64     `json:"default_assignee_id,omitempty" db:"default_assignee_id"`
	Enabled           bool       `json:"enabled" db:"enabled"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastError         string     `json:"last_error" db:"last_error"`
}

// Address is a mailbox address with an optional display name.
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// InboundAttachment is an attachment carried by an inbound message.
type InboundAttachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// InboundMessage is a fetched message. It only lives for one import pass.
type InboundMessage struct {
	UID         uint32
	MessageID   string
	From        Address
	Cc          []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Date        time.Time
	InReplyTo   []string
	References  []string
	Attachments []InboundAttachment
	Seen        bool
}

// MessageSummary is what a mailbox listing returns before a full fetch.
type MessageSummary struct {
	UID uint32
}

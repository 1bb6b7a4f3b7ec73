package db

type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS mail_accounts (
	id                  {{autoid}},
	name                TEXT NOT NULL,
	host                TEXT NOT NULL,
	port                INTEGER NOT NULL,
	username            TEXT NOT NULL,
	secret              TEXT NOT NULL DEFAULT '',
	security            TEXT NOT NULL DEFAULT 'ssl',
	folder              TEXT NOT NULL DEFAULT 'INBOX',
	sync_interval_sec   INTEGER NOT NULL DEFAULT 300,
	post_action         TEXT NOT NULL DEFAULT 'mark_read',
	move_folder         TEXT NOT NULL DEFAULT '',
	unread_only         BOOLEAN NOT NULL DEFAULT TRUE,
	subject_filter      TEXT NOT NULL DEFAULT '',
	from_filter         TEXT NOT NULL DEFAULT '',
	default_priority    TEXT NOT NULL DEFAULT 'normal',
	default_status      TEXT NOT NULL DEFAULT 'open',
	default_queue       TEXT NOT NULL DEFAULT '',
	default_assignee_id BIGINT,
	enabled             BOOLEAN NOT NULL DEFAULT TRUE,
	last_sync_at        {{ts}},
	last_error          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tickets (
	id               TEXT PRIMARY KEY,
	number           BIGINT NOT NULL UNIQUE,
	subject          TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'open',
	priority         TEXT NOT NULL DEFAULT 'normal',
	queue            TEXT NOT NULL DEFAULT '',
	assignee_id      BIGINT,
	due_date         {{ts}},
	reminder_at      {{ts}},
	last_reminded_at {{ts}},
	mail_account_id  BIGINT,
	created_at       {{ts}} NOT NULL,
	updated_at       {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);

CREATE TABLE IF NOT EXISTS ticket_watchers (
	ticket_id  TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	user_id    BIGINT NOT NULL,
	created_at {{ts}} NOT NULL,
	PRIMARY KEY (ticket_id, user_id)
);

CREATE TABLE IF NOT EXISTS ticket_participants (
	ticket_id  TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	user_id    BIGINT,
	provenance TEXT NOT NULL,
	created_at {{ts}} NOT NULL,
	PRIMARY KEY (ticket_id, email)
);

CREATE TABLE IF NOT EXISTS ticket_comments (
	id           TEXT PRIMARY KEY,
	ticket_id    TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	author_email TEXT NOT NULL DEFAULT '',
	author_name  TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	body_html    TEXT NOT NULL DEFAULT '',
	message_key  TEXT NOT NULL DEFAULT '',
	created_at   {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_comments_ticket ON ticket_comments(ticket_id);

CREATE TABLE IF NOT EXISTS ticket_attachments (
	id         TEXT PRIMARY KEY,
	ticket_id  TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	comment_id TEXT REFERENCES ticket_comments(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL,
	mime_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
	size       BIGINT NOT NULL DEFAULT 0,
	content    {{blob}},
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_messages (
	message_key TEXT PRIMARY KEY,
	account_id  BIGINT NOT NULL,
	status      TEXT NOT NULL,
	ticket_id   TEXT,
	comment_id  TEXT,
	imported_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_imported_messages_ticket ON imported_messages(ticket_id);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	user_id     BIGINT NOT NULL,
	actor_id    BIGINT,
	ticket_id   TEXT,
	is_read     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  {{ts}} NOT NULL,
	trigger_key TEXT,
	dedup_key   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications(dedup_key);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_trigger ON notifications(ticket_id, trigger_key);

CREATE TABLE IF NOT EXISTS contact_points (
	id         TEXT PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	type       TEXT NOT NULL,
	address    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at {{ts}} NOT NULL,
	UNIQUE (user_id, type, address)
)`,
	},
}

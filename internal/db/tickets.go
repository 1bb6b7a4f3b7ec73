package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/models"
)

const ticketColumns = `id, number, subject, description, status, priority, queue, assignee_id,
	due_date, reminder_at, last_reminded_at, mail_account_id, created_at, updated_at`

// CreateTicket inserts t, assigning ID and the next ticket number.
func (d *DB) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TicketOpen
	}

	query := d.q(`
	INSERT INTO tickets (
		id, number, subject, description, status, priority, queue, assignee_id,
		due_date, reminder_at, mail_account_id, created_at, updated_at
	)
	VALUES (?, (SELECT COALESCE(MAX(number), 0) + 1 FROM tickets), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING number`)

	err := d.QueryRowxContext(ctx, query,
		t.ID, t.Subject, t.Description, t.Status, t.Priority, t.Queue, t.AssigneeID,
		utcPtr(t.DueDate), utcPtr(t.ReminderAt), t.MailAccountID, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.Number)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetTicket fetches a ticket with its watchers and participants.
func (d *DB) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := d.GetContext(ctx, &t, d.q(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.NotFound, "db.GetTicket", "ticket %s not found", id)
		}
		return nil, fmt.Errorf("failed to get ticket %s: %w", id, err)
	}
	if err := d.loadRelations(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTicketByNumber fetches a ticket by its human number.
func (d *DB) GetTicketByNumber(ctx context.Context, number int64) (*models.Ticket, error) {
	var id string
	err := d.GetContext(ctx, &id, d.q(`SELECT id FROM tickets WHERE number = ?`), number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.NotFound, "db.GetTicketByNumber", "ticket %s not found", models.FormatTicketNumber(number))
		}
		return nil, fmt.Errorf("failed to get ticket %d: %w", number, err)
	}
	return d.GetTicket(ctx, id)
}

// ListScheduledOpenTickets returns open tickets that carry a due date or a
// reminder, with watchers loaded.
func (d *DB) ListScheduledOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.SelectContext(ctx, &tickets, d.q(`
	SELECT `+ticketColumns+`
	FROM tickets
	WHERE status IN (?, ?) AND (due_date IS NOT NULL OR reminder_at IS NOT NULL)
	ORDER BY number`), models.TicketOpen, models.TicketPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tickets: %w", err)
	}
	for i := range tickets {
		watchers, err := d.ListWatchers(ctx, tickets[i].ID)
		if err != nil {
			return nil, err
		}
		tickets[i].Watchers = watchers
	}
	return tickets, nil
}

// UpdateTicketStatus changes the status of a ticket.
func (d *DB) UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error {
	res, err := d.ExecContext(ctx, d.q(`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	return expectRow(res, "db.UpdateTicketStatus", "ticket "+id)
}

// SetLastReminded advances the reminder marker of a ticket.
func (d *DB) SetLastReminded(ctx context.Context, id string, at time.Time) error {
	_, err := d.ExecContext(ctx, d.q(`UPDATE tickets SET last_reminded_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set last reminded: %w", err)
	}
	return nil
}

// AddWatcher links a user to a ticket. Adding an existing watcher is a no-op.
func (d *DB) AddWatcher(ctx context.Context, ticketID string, userID int64) error {
	_, err := d.ExecContext(ctx, d.q(`
	INSERT INTO ticket_watchers (ticket_id, user_id, created_at) VALUES (?, ?, ?)
	ON CONFLICT (ticket_id, user_id) DO NOTHING`), ticketID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add watcher: %w", err)
	}
	return nil
}

// RemoveWatcher unlinks a user from a ticket and reports whether a row went away.
func (d *DB) RemoveWatcher(ctx context.Context, ticketID string, userID int64) (bool, error) {
	res, err := d.ExecContext(ctx, d.q(`DELETE FROM ticket_watchers WHERE ticket_id = ? AND user_id = ?`), ticketID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove watcher: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListWatchers returns the watcher user ids of a ticket.
func (d *DB) ListWatchers(ctx context.Context, ticketID string) ([]int64, error) {
	var ids []int64
	err := d.SelectContext(ctx, &ids, d.q(`SELECT user_id FROM ticket_watchers WHERE ticket_id = ? ORDER BY user_id`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchers: %w", err)
	}
	return ids, nil
}

// AddParticipant links an address to a ticket. It reports false when the
// address was already a participant; the existing provenance is kept.
func (d *DB) AddParticipant(ctx context.Context, p models.Participant) (bool, error) {
	res, err := d.ExecContext(ctx, d.q(`
	INSERT INTO ticket_participants (ticket_id, email, name, user_id, provenance, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (ticket_id, email) DO NOTHING`),
		p.TicketID, p.Email, p.Name, p.UserID, p.Provenance, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add participant: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListParticipants returns the participants of a ticket.
func (d *DB) ListParticipants(ctx context.Context, ticketID string) ([]models.Participant, error) {
	var ps []models.Participant
	err := d.SelectContext(ctx, &ps, d.q(`
	SELECT ticket_id, email, name, user_id, provenance, created_at
	FROM ticket_participants WHERE ticket_id = ? ORDER BY created_at, email`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return ps, nil
}


// AddComment appends a comment to a ticket.
func (d *DB) AddComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	_, err := d.ExecContext(ctx, d.q(`
	INSERT INTO ticket_comments (id, ticket_id, author_email, author_name, body, body_html, message_key, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.TicketID, c.AuthorEmail, c.AuthorName, c.Body, c.BodyHTML, c.MessageKey, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	if _, err := d.ExecContext(ctx, d.q(`UPDATE tickets SET updated_at = ? WHERE id = ?`), time.Now().UTC(), c.TicketID); err != nil {
		return fmt.Errorf("failed to touch ticket: %w", err)
	}
	return nil
}

// ListComments returns a ticket's comments, oldest first.
func (d *DB) ListComments(ctx context.Context, ticketID string) ([]models.Comment, error) {
	var cs []models.Comment
	err := d.SelectContext(ctx, &cs, d.q(`
	SELECT id, ticket_id, author_email, author_name, body, body_html, message_key, created_at
	FROM ticket_comments WHERE ticket_id = ? ORDER BY created_at, id`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return cs, nil
}

// AddAttachment stores a file against a ticket or comment.
func (d *DB) AddAttachment(ctx context.Context, a *models.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	a.Size = int64(len(a.Content))
	_, err := d.ExecContext(ctx, d.q(`
	INSERT INTO ticket_attachments (id, ticket_id, comment_id, filename, mime_type, size, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TicketID, a.CommentID, a.Filename, a.MIMEType, a.Size, a.Content, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add attachment %s: %w", a.Filename, err)
	}
	return nil
}

// ListAttachments returns attachment metadata for a ticket.
func (d *DB) ListAttachments(ctx context.Context, ticketID string) ([]models.Attachment, error) {
	var as []models.Attachment
	err := d.SelectContext(ctx, &as, d.q(`
	SELECT id, ticket_id, comment_id, filename, mime_type, size, created_at
	FROM ticket_attachments WHERE ticket_id = ? ORDER BY created_at, filename`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return as, nil
}

func (d *DB) loadRelations(ctx context.Context, t *models.Ticket) error {
	watchers, err := d.ListWatchers(ctx, t.ID)
	if err != nil {
		return err
	}
	participants, err := d.ListParticipants(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Watchers = watchers
	t.Participants = participants
	return nil
}

func expectRow(res sql.Result, op, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, op, "%s not found", what)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

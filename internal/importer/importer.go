// Package importer turns inbound mail into tickets and comments. Every
// message produces its effect at most once, however many passes see it.
package importer

import (
	"context"
	"strings"
	"time"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/db"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/utils"
)

// Outcome is what importing one message did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"   // new ticket
	OutcomeReplied   Outcome = "replied"   // comment on an existing ticket
	OutcomeDuplicate Outcome = "duplicate" // already handled in an earlier pass
	OutcomeInFlight  Outcome = "in_flight" // claimed by another pass that has not settled it
	OutcomeFiltered  Outcome = "filtered"  // rejected by the account filters, left untouched
	OutcomeRejected  Outcome = "rejected"  // invalid, recorded so it is not retried
)

// Store is the persistence the importer needs.
type Store interface {
	ClaimMessage(ctx context.Context, accountID int64, key string, staleBefore time.Time) (bool, error)
	CompleteMessage(ctx context.Context, key, status string, ticketID, commentID *string) error
	ReleaseMessage(ctx context.Context, key string) error
	MessageStatus(ctx context.Context, key string) (string, error)
	FindTicketByMessageKeys(ctx context.Context, keys []string) (string, bool, error)

	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, number int64) (*models.Ticket, error)
	AddParticipant(ctx context.Context, p models.Participant) (bool, error)
	AddComment(ctx context.Context, c *models.Comment) error
	AddAttachment(ctx context.Context, a *models.Attachment) error

	ListEnabledMailAccounts(ctx context.Context) ([]models.MailAccount, error)
	GetMailAccount(ctx context.Context, id int64) (*models.MailAccount, error)
	MarkMailAccountSynced(ctx context.Context, id int64, at time.Time) error
	SetMailAccountError(ctx context.Context, id int64, msg string) error
}

// Notifier is told about tickets and comments created from mail.
type Notifier interface {
	NotifyTicketEvent(ctx context.Context, ev models.TicketEvent) (int, error)
}

// claimLease is how long a pending claim blocks other passes before it is
// considered abandoned.
const claimLease = 15 * time.Minute

// Importer applies single messages to the ticket store.
type Importer struct {
	store    Store
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
}

// New creates an Importer. notifier may be nil.
func New(store Store, notifier Notifier, logger *logging.Logger) *Importer {
	return &Importer{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Import handles one fetched message for account. The returned ticket id is
// empty for filtered, rejected and in-flight messages. Transient failures
// release the claim so the next pass retries the message.
func (im *Importer) Import(ctx context.Context, account models.MailAccount, msg *models.InboundMessage) (Outcome, string, error) {
	key := MessageKey(msg)

	status, err := im.store.MessageStatus(ctx, key)
	if err != nil {
		return "", "", apperr.New(apperr.Internal, "importer.Import", err)
	}
	switch status {
	case db.MessageImported, db.MessageRejected:
		im.logger.Debugf("Message %s already %s, skipping", key, status)
		return OutcomeDuplicate, "", nil
	}

	parent, err := im.findThread(ctx, msg)
	if err != nil {
		return "", "", err
	}
	if parent == nil && !matchesFilters(account, msg) {
		im.logger.Debugf("Message %s from %s filtered out for account %d", key, msg.From.Email, account.ID)
		return OutcomeFiltered, "", nil
	}

	claimed, err := im.store.ClaimMessage(ctx, account.ID, key, im.now().Add(-claimLease))
	if err != nil {
		return "", "", apperr.New(apperr.Internal, "importer.Import", err)
	}
	if !claimed {
		im.logger.Debugf("Message %s is being imported by another pass", key)
		return OutcomeInFlight, "", nil
	}
	// A claimed message is settled even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if verr := validate(msg); verr != nil {
		if err := im.complete(ctx, key, db.MessageRejected, nil, nil); err != nil {
			im.logger.Errorf("Failed to record rejected message %s: %v", key, err)
			im.release(ctx, key)
			return "", "", apperr.New(apperr.Internal, "importer.Import", err)
		}
		return OutcomeRejected, "", verr
	}

	var (
		outcome  Outcome
		ticketID string
	)
	if parent != nil {
		ticketID, err = im.reply(ctx, parent, key, msg)
		outcome = OutcomeReplied
	} else {
		ticketID, err = im.create(ctx, account, key, msg)
		outcome = OutcomeCreated
	}
	if err != nil {
		im.release(ctx, key)
		return "", "", err
	}
	return outcome, ticketID, nil
}

func (im *Importer) release(ctx context.Context, key string) {
	if err := im.store.ReleaseMessage(ctx, key); err != nil {
		im.logger.Errorf("Failed to release message %s: %v", key, err)
	}
}

// complete settles a claim. A claim left pending would be taken over after
// the lease and import the message twice, so it is retried.
func (im *Importer) complete(ctx context.Context, key, status string, ticketID, commentID *string) error {
	return utils.Retry(ctx, im.logger, 3, 100*time.Millisecond, func() error {
		return im.store.CompleteMessage(ctx, key, status, ticketID, commentID)
	})
}

func validate(msg *models.InboundMessage) error {
	if strings.TrimSpace(msg.From.Email) == "" || !strings.Contains(msg.From.Email, "@") {
		return apperr.Newf(apperr.ValidationFailure, "importer.Import", "message has no usable sender")
	}
	if strings.TrimSpace(msg.Subject) == "" && plainBody(msg) == "" && len(msg.Attachments) == 0 {
		return apperr.Newf(apperr.ValidationFailure, "importer.Import", "message from %s is empty", msg.From.Email)
	}
	return nil
}

// findThread returns the ticket msg replies to, or nil. Stored message keys
// win over ticket numbers found in headers or the subject.
func (im *Importer) findThread(ctx context.Context, msg *models.InboundMessage) (*models.Ticket, error) {
	if keys := threadKeys(msg); len(keys) > 0 {
		ticketID, ok, err := im.store.FindTicketByMessageKeys(ctx, keys)
		if err != nil {
			return nil, apperr.New(apperr.Internal, "importer.findThread", err)
		}
		if ok {
			t, err := im.store.GetTicket(ctx, ticketID)
			if err == nil {
				return t, nil
			}
			if !apperr.Is(err, apperr.NotFound) {
				return nil, err
			}
		}
	}
	for _, number := range ticketNumbers(msg) {
		t, err := im.store.GetTicketByNumber(ctx, number)
		if err == nil {
			return t, nil
		}
		if !apperr.Is(err, apperr.NotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (im *Importer) create(ctx context.Context, account models.MailAccount, key string, msg *models.InboundMessage) (string, error) {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	accountID := account.ID
	ticket := &models.Ticket{
		Subject:       subject,
		Description:   plainBody(msg),
		Status:        models.TicketStatus(account.DefaultStatus),
		Priority:      account.DefaultPriority,
		Queue:         account.DefaultQueue,
		AssigneeID:    account.DefaultAssigneeID,
		MailAccountID: &accountID,
	}
	if ticket.Priority == "" {
		ticket.Priority = "normal"
	}

	// Concurrent creators may race for the next ticket number.
	err := utils.Retry(ctx, im.logger, 3, 50*time.Millisecond, func() error {
		ticket.ID = ""
		return im.store.CreateTicket(ctx, ticket)
	})
	if err != nil {
		return "", apperr.New(apperr.Internal, "importer.create", err)
	}

	// From here on the ticket exists, so the claim is never released and
	// secondary failures are only logged.
	if _, err := im.store.AddParticipant(ctx, models.Participant{
		TicketID: ticket.ID, Email: msg.From.Email, Name: msg.From.Name, Provenance: models.ProvenanceCreator,
	}); err != nil {
		im.logger.Errorf("Failed to add creator %s to %s: %v", msg.From.Email, ticket.Reference(), err)
	}
	own := strings.ToLower(account.Username)
	for _, cc := range msg.Cc {
		if cc.Email == "" || cc.Email == msg.From.Email || cc.Email == own {
			continue
		}
		if _, err := im.store.AddParticipant(ctx, models.Participant{
			TicketID: ticket.ID, Email: cc.Email, Name: cc.Name, Provenance: models.ProvenanceCC,
		}); err != nil {
			im.logger.Errorf("Failed to add cc %s to %s: %v", cc.Email, ticket.Reference(), err)
		}
	}
	im.storeAttachments(ctx, ticket.ID, nil, msg)

	if err := im.complete(ctx, key, db.MessageImported, &ticket.ID, nil); err != nil {
		im.logger.Errorf("Failed to complete message %s: %v", key, err)
	}
	im.logger.Infof("Created ticket %s from message %s (account %d)", ticket.Reference(), key, account.ID)

	im.notify(ctx, models.TicketEvent{Type: models.NotificationTicketCreated, TicketID: ticket.ID})
	return ticket.ID, nil
}

func (im *Importer) reply(ctx context.Context, ticket *models.Ticket, key string, msg *models.InboundMessage) (string, error) {
	at := msg.Date
	if at.IsZero() {
		at = time.Now()
	}
	comment := &models.Comment{
		TicketID:    ticket.ID,
		AuthorEmail: msg.From.Email,
		AuthorName:  msg.From.Name,
		Body:        plainBody(msg),
		BodyHTML:    msg.HTMLBody,
		MessageKey:  key,
		CreatedAt:   at,
	}
	if err := im.store.AddComment(ctx, comment); err != nil {
		return "", apperr.New(apperr.Internal, "importer.reply", err)
	}
	added, err := im.store.AddParticipant(ctx, models.Participant{
		TicketID: ticket.ID, Email: msg.From.Email, Name: msg.From.Name, Provenance: models.ProvenanceReply,
	})
	if err != nil {
		im.logger.Errorf("Failed to add participant %s to %s: %v", msg.From.Email, ticket.Reference(), err)
	}
	im.storeAttachments(ctx, ticket.ID, &comment.ID, msg)

	if err := im.complete(ctx, key, db.MessageImported, &ticket.ID, &comment.ID); err != nil {
		im.logger.Errorf("Failed to complete message %s: %v", key, err)
	}
	im.logger.Infof("Added comment %s to %s from message %s", comment.ID, ticket.Reference(), key)

	im.notify(ctx, models.TicketEvent{Type: models.NotificationCommentAdded, TicketID: ticket.ID, Excerpt: comment.Body})
	if added {
		im.notify(ctx, models.TicketEvent{Type: models.NotificationParticipantAdded, TicketID: ticket.ID, Excerpt: msg.From.Email})
	}
	return ticket.ID, nil
}

func (im *Importer) storeAttachments(ctx context.Context, ticketID string, commentID *string, msg *models.InboundMessage) {
	for _, a := range msg.Attachments {
		if err := im.store.AddAttachment(ctx, &models.Attachment{
			TicketID:  ticketID,
			CommentID: commentID,
			Filename:  a.Filename,
			MIMEType:  a.MIMEType,
			Content:   a.Content,
		}); err != nil {
			im.logger.Errorf("Failed to store attachment %s on ticket %s: %v", a.Filename, ticketID, err)
		}
	}
}

func (im *Importer) notify(ctx context.Context, ev models.TicketEvent) {
	if im.notifier == nil {
		return
	}
	if _, err := im.notifier.NotifyTicketEvent(ctx, ev); err != nil {
		im.logger.Errorf("Failed to notify %s on ticket %s: %v", ev.Type, ev.TicketID, err)
	}
}

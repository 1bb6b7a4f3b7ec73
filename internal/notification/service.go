package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store is the persistence the Service needs.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
	GetNotificationsByUserID(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID int64) (int, error)
	MarkNotificationRead(ctx context.Context, id string, userID int64) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
}

// Publisher pushes a stored notification to the user out of band.
// Failures never affect the stored record.
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
	Name() string
}

// Request describes a notification to create.
type Request struct {
	Type     models.NotificationType
	Title    string
	Message  string
	UserID   int64
	ActorID  *int64
	TicketID *string
	// TriggerKey is set by date-driven producers, e.g. "due_soon:2026-10-18".
	// At most one notification per ticket, key and user is ever stored.
	TriggerKey string
}

// ListOptions pages a user's notifications.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// selfSuppressed lists types that are never sent to the user who caused them.
var selfSuppressed = map[models.NotificationType]bool{
	models.NotificationCommentAdded:     true,
	models.NotificationStatusChanged:    true,
	models.NotificationWatcherRemoved:   true,
	models.NotificationParticipantAdded: true,
	models.NotificationTicketAssigned:   true,
}

// Service creates notifications, serves them per user and fans them out to publishers.
type Service struct {
	store      Store
	logger     *logging.Logger
	publishers []Publisher
}

// New constructs a notification Service.
func New(store Store, logger *logging.Logger, publishers ...Publisher) *Service {
	return &Service{store: store, logger: logger, publishers: publishers}
}

// AddPublisher registers an extra delivery channel.
func (s *Service) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// Create stores a notification and publishes it. It returns nil without
// error when the notification is suppressed or already exists for its
// trigger key.
func (s *Service) Create(ctx context.Context, req Request) (*models.Notification, error) {
	if req.UserID <= 0 {
		return nil, apperr.Newf(apperr.ValidationFailure, "notification.Create", "invalid user id %d", req.UserID)
	}
	if req.Type == "" {
		return nil, apperr.Newf(apperr.ValidationFailure, "notification.Create", "notification type is required")
	}
	if req.ActorID != nil && *req.ActorID == req.UserID && selfSuppressed[req.Type] {
		s.logger.Debugf("Suppressed %s notification for actor %d", req.Type, req.UserID)
		return nil, nil
	}

	n := models.Notification{
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		UserID:    req.UserID,
		ActorID:   req.ActorID,
		TicketID:  req.TicketID,
		CreatedAt: time.Now(),
	}
	if n.Title == "" {
		n.Title = defaultTitle(req.Type)
	}
	if req.TriggerKey != "" {
		ticket := ""
		if req.TicketID != nil {
			ticket = *req.TicketID
		}
		trigger := req.TriggerKey
		dedup := fmt.Sprintf("%s:%s:%d", ticket, trigger, req.UserID)
		n.TriggerKey = &trigger
		n.DedupKey = &dedup
	}

	created, err := s.store.CreateNotification(ctx, &n)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "notification.Create", err)
	}
	if !created {
		s.logger.Debugf("Notification %s for user %d already exists", req.TriggerKey, req.UserID)
		return nil, nil
	}
	s.logger.Infof("Created %s notification %s for user %d", n.Type, n.ID, n.UserID)

	s.publish(ctx, n)
	return &n, nil
}

func (s *Service) publish(ctx context.Context, n models.Notification) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, n); err != nil {
			s.logger.Debugf("Publisher %s did not deliver notification %s: %v", p.Name(), n.ID, err)
		}
	}
}

// ListForUser returns a page of userID's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, opts ListOptions) ([]models.Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	list, err := s.store.GetNotificationsByUserID(ctx, userID, opts.UnreadOnly, limit, offset)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "notification.ListForUser", err)
	}
	return list, nil
}

// MarkRead flags one notification read. It reports false when id does not
// exist or belongs to another user.
func (s *Service) MarkRead(ctx context.Context, id string, userID int64) (bool, error) {
	ok, err := s.store.MarkNotificationRead(ctx, id, userID)
	if err != nil {
		return false, apperr.New(apperr.Internal, "notification.MarkRead", err)
	}
	return ok, nil
}

// MarkAllRead flags every unread notification of userID and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, apperr.New(apperr.Internal, "notification.MarkAllRead", err)
	}
	return n, nil
}

// UnreadCount returns the number of unread notifications of userID.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, apperr.New(apperr.Internal, "notification.UnreadCount", err)
	}
	return n, nil
}

// NotifyTicketEvent resolves the recipients of a ticket mutation and creates
// one notification for each. It returns the number created.
func (s *Service) NotifyTicketEvent(ctx context.Context, ev models.TicketEvent) (int, error) {
	ticket, err := s.store.GetTicket(ctx, ev.TicketID)
	if err != nil {
		return 0, err
	}

	var recipients []int64
	switch ev.Type {
	case models.NotificationWatcherRemoved, models.NotificationTicketAssigned:
		if ev.UserID == nil {
			return 0, apperr.Newf(apperr.ValidationFailure, "notification.NotifyTicketEvent", "%s event without user_id", ev.Type)
		}
		recipients = []int64{*ev.UserID}
	case models.NotificationStatusChanged, models.NotificationCommentAdded,
		models.NotificationParticipantAdded, models.NotificationTicketCreated:
		recipients = Audience(ticket)
	default:
		return 0, apperr.Newf(apperr.ValidationFailure, "notification.NotifyTicketEvent", "unsupported event type %q", ev.Type)
	}

	title, message := describeEvent(ticket, ev)
	created := 0
	for _, userID := range recipients {
		n, err := s.Create(ctx, Request{
			Type:     ev.Type,
			Title:    title,
			Message:  message,
			UserID:   userID,
			ActorID:  ev.ActorID,
			TicketID: &ticket.ID,
		})
		if err != nil {
			s.logger.Errorf("Failed to notify user %d of %s on %s: %v", userID, ev.Type, ticket.Reference(), err)
			continue
		}
		if n != nil {
			created++
		}
	}
	return created, nil
}

// Audience is the assignee followed by the watchers and linked participants
// of a ticket, without duplicates.
func Audience(t *models.Ticket) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if t.AssigneeID != nil {
		add(*t.AssigneeID)
	}
	for _, w := range t.Watchers {
		add(w)
	}
	for _, p := range t.Participants {
		if p.UserID != nil {
			add(*p.UserID)
		}
	}
	return out
}

func describeEvent(t *models.Ticket, ev models.TicketEvent) (string, string) {
	ref := t.Reference()
	switch ev.Type {
	case models.NotificationStatusChanged:
		return fmt.Sprintf("%s status changed", ref),
			fmt.Sprintf("%s moved from %s to %s", t.Subject, orDash(ev.OldStatus), orDash(ev.NewStatus))
	case models.NotificationCommentAdded:
		return fmt.Sprintf("New comment on %s", ref), excerpt(ev.Excerpt, 200)
	case models.NotificationWatcherRemoved:
		return fmt.Sprintf("You no longer watch %s", ref), t.Subject
	case models.NotificationParticipantAdded:
		return fmt.Sprintf("Participant added to %s", ref), excerpt(ev.Excerpt, 200)
	case models.NotificationTicketAssigned:
		return fmt.Sprintf("%s assigned to you", ref), t.Subject
	case models.NotificationTicketCreated:
		return fmt.Sprintf("New ticket %s", ref), t.Subject
	}
	return defaultTitle(ev.Type), t.Subject
}

func defaultTitle(t models.NotificationType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

package automation

import (
	"context"
	"time"

	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/notification"
)

// Store is the persistence the Scanner needs.
type Store interface {
	ListScheduledOpenTickets(ctx context.Context) ([]models.Ticket, error)
	TriggerRecipients(ctx context.Context, ticketID, triggerKey string) ([]int64, error)
	SetLastReminded(ctx context.Context, id string, at time.Time) error
	UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error
}

// Notifier creates notifications; a nil result means it already existed.
type Notifier interface {
	Create(ctx context.Context, req notification.Request) (*models.Notification, error)
}

// Result counts tickets that produced at least one new notification.
type Result struct {
	DueSoonCount    int `json:"due_soon_count"`
	OverdueCount    int `json:"overdue_count"`
	ReminderCount   int `json:"reminder_count"`
	AutoClosedCount int `json:"auto_closed_count"`
	ErrorCount      int `json:"error_count"`
}

// Scanner evaluates every scheduled open ticket. Concurrent runs are safe:
// the notification store rejects a second row for the same trigger key.
type Scanner struct {
	store    Store
	notifier Notifier
	logger   *logging.Logger
	policy   Policy
	loc      *time.Location
	now      func() time.Time
}

// NewScanner creates a Scanner that reckons days in loc.
func NewScanner(store Store, notifier Notifier, logger *logging.Logger, loc *time.Location, policy Policy) *Scanner {
	if loc == nil {
		loc = time.Local
	}
	return &Scanner{
		store:    store,
		notifier: notifier,
		logger:   logger,
		policy:   policy,
		loc:      loc,
		now:      time.Now,
	}
}

// Run performs one scan at the current time.
func (s *Scanner) Run(ctx context.Context) (*Result, error) {
	return s.RunAt(ctx, s.now())
}

// RunAt performs one scan as if it were now. A failing ticket is counted
// and logged; the scan continues with the next one. Once the tickets are
// listed the scan runs to the end even if ctx is canceled.
func (s *Scanner) RunAt(ctx context.Context, now time.Time) (*Result, error) {
	now = now.In(s.loc)
	tickets, err := s.store.ListScheduledOpenTickets(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	result := &Result{}
	for _, t := range tickets {
		if err := s.scanTicket(ctx, t, now, result); err != nil {
			result.ErrorCount++
			s.logger.Errorf("Automation failed for ticket %s: %v", t.Reference(), err)
		}
	}
	s.logger.Infof("Automation scan: due_soon=%d overdue=%d reminder=%d auto_closed=%d errors=%d (%d tickets)",
		result.DueSoonCount, result.OverdueCount, result.ReminderCount, result.AutoClosedCount, result.ErrorCount, len(tickets))
	return result, nil
}

func (s *Scanner) scanTicket(ctx context.Context, t models.Ticket, now time.Time, result *Result) error {
	history, err := s.history(ctx, t, now)
	if err != nil {
		return err
	}

	for _, intent := range Decide(t, history, now, s.policy) {
		// Counted even when a later recipient fails; the next scan only
		// reaches the recipients still missing.
		created, err := s.emit(ctx, t, intent)
		if created > 0 {
			switch intent.Type {
			case models.NotificationDueSoon:
				result.DueSoonCount++
			case models.NotificationOverdue:
				result.OverdueCount++
			case models.NotificationReminder:
				result.ReminderCount++
			}
		}
		if err != nil {
			return err
		}

		switch {
		case intent.AutoClose:
			if err := s.store.UpdateTicketStatus(ctx, t.ID, models.TicketClosed); err != nil {
				return err
			}
			result.AutoClosedCount++
			s.logger.Infof("Auto-closed overdue ticket %s", t.Reference())
		case intent.Type == models.NotificationReminder:
			if err := s.store.SetLastReminded(ctx, t.ID, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) history(ctx context.Context, t models.Ticket, now time.Time) (History, error) {
	h := History{Notified: make(map[string][]int64)}
	for _, key := range TriggerKeys(t, now).All() {
		users, err := s.store.TriggerRecipients(ctx, t.ID, key)
		if err != nil {
			return h, err
		}
		h.Notified[key] = users
	}
	return h, nil
}

// emit creates the intent's notification for every recipient and returns how
// many were new. A failing recipient does not stop the others; the first
// error is returned.
func (s *Scanner) emit(ctx context.Context, t models.Ticket, intent Intent) (int, error) {
	ticketID := t.ID
	created := 0
	var firstErr error
	for _, userID := range intent.Recipients {
		n, err := s.notifier.Create(ctx, notification.Request{
			Type:       intent.Type,
			Title:      intent.Title,
			Message:    intent.Message,
			UserID:     userID,
			TicketID:   &ticketID,
			TriggerKey: intent.TriggerKey,
		})
		if err != nil {
			s.logger.Warnf("Failed to notify user %d of %s on %s: %v", userID, intent.TriggerKey, t.Reference(), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n != nil {
			created++
		}
	}
	return created, firstErr
}

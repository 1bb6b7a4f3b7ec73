// Package automation scans scheduled tickets and raises date-driven
// notifications: due_soon on the due day, overdue once per day after it and
// reminder once per configured reminder time.
package automation

import (
	"fmt"
	"math"
	"slices"
	"time"

	"helpdesk-sync/internal/models"
)

// Policy holds the tunable parts of a scan.
type Policy struct {
	// AutoCloseAfterDays closes open tickets that have been overdue for at
	// least this many days. Zero disables auto-close.
	AutoCloseAfterDays int
}

// History tells Decide which recipients already hold a notification for
// each trigger key.
type History struct {
	Notified map[string][]int64
}

// Pending returns the members of audience not yet notified for key.
func (h History) Pending(key string, audience []int64) []int64 {
	done := h.Notified[key]
	var out []int64
	for _, id := range audience {
		if !slices.Contains(done, id) {
			out = append(out, id)
		}
	}
	return out
}

// Intent is one notification batch a ticket is due for.
type Intent struct {
	Type       models.NotificationType
	TriggerKey string
	Recipients []int64
	Title      string
	Message    string
	// AutoClose marks a status_changed intent that closes the ticket once
	// its recipients are notified. It is returned even when none remain.
	AutoClose bool
}

// Keys are the trigger keys a ticket can fire at a point in time.
type Keys struct {
	DueSoon   string
	Overdue   string
	AutoClose string
	Reminder  string
}

// All returns the non-empty keys.
func (k Keys) All() []string {
	var out []string
	for _, key := range []string{k.DueSoon, k.Overdue, k.AutoClose, k.Reminder} {
		if key != "" {
			out = append(out, key)
		}
	}
	return out
}

// TriggerKeys returns the keys for t at now. A key is empty when the ticket
// has no matching schedule field.
func TriggerKeys(t models.Ticket, now time.Time) Keys {
	var k Keys
	day := now.Format(time.DateOnly)
	if t.DueDate != nil {
		k.DueSoon = fmt.Sprintf("%s:%s", models.NotificationDueSoon, day)
		k.Overdue = fmt.Sprintf("%s:%s", models.NotificationOverdue, day)
		k.AutoClose = AutoCloseKey(now)
	}
	if t.ReminderAt != nil {
		k.Reminder = fmt.Sprintf("%s:%d", models.NotificationReminder, t.ReminderAt.Unix())
	}
	return k
}

// AutoCloseKey is the trigger key of the status_changed notification sent
// when a ticket is closed automatically on day.
func AutoCloseKey(day time.Time) string {
	return fmt.Sprintf("auto_close:%s", day.Format(time.DateOnly))
}

// Decide returns what t is due for at now, a time in the scan's location.
// It is pure: history and now fully determine the result.
func Decide(t models.Ticket, h History, now time.Time, p Policy) []Intent {
	if !t.Status.IsOpen() {
		return nil
	}
	keys := TriggerKeys(t, now)
	today := models.NormalizeDueDate(now, now.Location())
	ref := t.Reference()

	var intents []Intent
	if t.DueDate != nil {
		due := models.NormalizeDueDate(*t.DueDate, now.Location())
		audience := dueAudience(t)
		switch {
		case due.Equal(today):
			if pending := h.Pending(keys.DueSoon, audience); len(pending) > 0 {
				intents = append(intents, Intent{
					Type:       models.NotificationDueSoon,
					TriggerKey: keys.DueSoon,
					Recipients: pending,
					Title:      fmt.Sprintf("%s is due today", ref),
					Message:    t.Subject,
				})
			}
		case due.Before(today):
			days := daysBetween(due, today)
			if pending := h.Pending(keys.Overdue, audience); len(pending) > 0 {
				intents = append(intents, Intent{
					Type:       models.NotificationOverdue,
					TriggerKey: keys.Overdue,
					Recipients: pending,
					Title:      fmt.Sprintf("%s is overdue", ref),
					Message:    fmt.Sprintf("%s was due %s (%d day(s) ago)", t.Subject, due.Format(time.DateOnly), days),
				})
			}
			if p.AutoCloseAfterDays > 0 && days >= p.AutoCloseAfterDays {
				intents = append(intents, Intent{
					Type:       models.NotificationStatusChanged,
					TriggerKey: keys.AutoClose,
					Recipients: h.Pending(keys.AutoClose, audience),
					Title:      fmt.Sprintf("%s closed automatically", ref),
					Message:    fmt.Sprintf("%s was overdue for %d day(s)", t.Subject, days),
					AutoClose:  true,
				})
			}
		}
	}

	if t.ReminderAt != nil && !t.ReminderAt.After(now) &&
		(t.LastRemindedAt == nil || t.LastRemindedAt.Before(*t.ReminderAt)) {
		if pending := h.Pending(keys.Reminder, reminderAudience(t)); len(pending) > 0 {
			intents = append(intents, Intent{
				Type:       models.NotificationReminder,
				TriggerKey: keys.Reminder,
				Recipients: pending,
				Title:      fmt.Sprintf("Reminder: %s", ref),
				Message:    t.Subject,
			})
		}
	}
	return intents
}

// dueAudience is the assignee plus watchers.
func dueAudience(t models.Ticket) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	if t.AssigneeID != nil {
		seen[*t.AssigneeID] = true
		out = append(out, *t.AssigneeID)
	}
	for _, w := range t.Watchers {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// reminderAudience is the assignee, or the watchers of an unassigned ticket.
func reminderAudience(t models.Ticket) []int64 {
	if t.AssigneeID != nil {
		return []int64{*t.AssigneeID}
	}
	return dueAudience(t)
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}

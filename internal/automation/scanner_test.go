package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-sync/internal/db"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/notification"
	"helpdesk-sync/internal/testutil"
)

type scanFixture struct {
	store   *db.DB
	scanner *Scanner
}

func newScanFixture(t *testing.T, policy Policy) *scanFixture {
	t.Helper()
	store := testutil.NewTestDB(t)
	logger := testutil.NewTestLogger()
	svc := notification.New(store, logger)
	return &scanFixture{store: store, scanner: NewScanner(store, svc, logger, zone, policy)}
}

func (f *scanFixture) ticket(t *testing.T, due, reminder *time.Time, watchers ...int64) *models.Ticket {
	t.Helper()
	ctx := context.Background()
	ticket := &models.Ticket{Subject: "Login broken", AssigneeID: ptr[int64](1), DueDate: due, ReminderAt: reminder}
	require.NoError(t, f.store.CreateTicket(ctx, ticket))
	for _, w := range watchers {
		require.NoError(t, f.store.AddWatcher(ctx, ticket.ID, w))
	}
	return ticket
}

func (f *scanFixture) notifications(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.Get(&n, `SELECT COUNT(*) FROM notifications`))
	return n
}

func TestScannerDueSoonOncePerDay(t *testing.T) {
	f := newScanFixture(t, Policy{})
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, zone)
	f.ticket(t, day(2026, 10, 18), nil, 2, 3)

	result, err := f.scanner.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DueSoonCount)
	assert.Zero(t, result.ErrorCount)
	assert.Equal(t, 3, f.notifications(t))

	result, err = f.scanner.RunAt(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.DueSoonCount)
	assert.Equal(t, 3, f.notifications(t))

	for _, user := range []int64{1, 2, 3} {
		count, err := f.store.CountUnreadNotifications(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "user %d", user)
	}
}

func TestScannerOverdueDaily(t *testing.T) {
	f := newScanFixture(t, Policy{})
	ctx := context.Background()
	f.ticket(t, day(2026, 10, 17), nil)

	first := time.Date(2026, 10, 18, 8, 0, 0, 0, zone)
	result, err := f.scanner.RunAt(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueCount)

	result, err = f.scanner.RunAt(ctx, first.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.OverdueCount)

	result, err = f.scanner.RunAt(ctx, first.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueCount)
	assert.Equal(t, 2, f.notifications(t))
}

func TestScannerReminderOnce(t *testing.T) {
	f := newScanFixture(t, Policy{})
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, zone)
	ticket := f.ticket(t, nil, ptr(now.Add(-30*time.Minute)), 5)

	result, err := f.scanner.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReminderCount)

	result, err = f.scanner.RunAt(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.ReminderCount)

	stored, err := f.store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRemindedAt)

	// the assignee gets the reminder, watchers do not
	count, err := f.store.CountUnreadNotifications(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, count)

	// a new reminder time fires again
	next := now.Add(2 * time.Hour)
	_, err = f.store.ExecContext(ctx, `UPDATE tickets SET reminder_at = ?, last_reminded_at = NULL WHERE id = ?`, next.UTC(), ticket.ID)
	require.NoError(t, err)
	result, err = f.scanner.RunAt(ctx, next.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReminderCount)
	assert.Equal(t, 2, f.notifications(t))
}

func TestScannerSkipsClosedTickets(t *testing.T) {
	f := newScanFixture(t, Policy{})
	ctx := context.Background()
	ticket := f.ticket(t, day(2026, 10, 18), nil)
	require.NoError(t, f.store.UpdateTicketStatus(ctx, ticket.ID, models.TicketResolved))

	result, err := f.scanner.RunAt(ctx, time.Date(2026, 10, 18, 8, 0, 0, 0, zone))
	require.NoError(t, err)
	assert.Equal(t, Result{}, *result)
	assert.Zero(t, f.notifications(t))
}

func TestScannerAutoClose(t *testing.T) {
	f := newScanFixture(t, Policy{AutoCloseAfterDays: 3})
	ctx := context.Background()
	ticket := f.ticket(t, day(2026, 10, 14), nil, 2)

	result, err := f.scanner.RunAt(ctx, time.Date(2026, 10, 18, 8, 0, 0, 0, zone))
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueCount)
	assert.Equal(t, 1, result.AutoClosedCount)

	stored, err := f.store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketClosed, stored.Status)

	list, err := f.store.GetNotificationsByUserID(ctx, 2, false, 10, 0)
	require.NoError(t, err)
	kinds := map[models.NotificationType]bool{}
	for _, n := range list {
		kinds[n.Type] = true
	}
	assert.True(t, kinds[models.NotificationOverdue])
	assert.True(t, kinds[models.NotificationStatusChanged])

	result, err = f.scanner.RunAt(ctx, time.Date(2026, 10, 19, 8, 0, 0, 0, zone))
	require.NoError(t, err)
	assert.Equal(t, Result{}, *result)
}

// flakyNotifier fails the listed calls (1-based) once each.
type flakyNotifier struct {
	next  Notifier
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (n *flakyNotifier) Create(ctx context.Context, req notification.Request) (*models.Notification, error) {
	n.mu.Lock()
	n.calls++
	fail := n.fail[n.calls]
	n.mu.Unlock()
	if fail {
		return nil, errors.New("store unavailable")
	}
	return n.next.Create(ctx, req)
}

func TestScannerRetriesRecipientsMissedByAFailedRun(t *testing.T) {
	store := testutil.NewTestDB(t)
	logger := testutil.NewTestLogger()
	notifier := &flakyNotifier{next: notification.New(store, logger), fail: map[int]bool{2: true}}
	f := &scanFixture{store: store, scanner: NewScanner(store, notifier, logger, zone, Policy{})}
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, zone)
	f.ticket(t, day(2026, 10, 18), nil, 2, 3)

	result, err := f.scanner.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Equal(t, 1, result.DueSoonCount)
	assert.Equal(t, 2, f.notifications(t))

	result, err = f.scanner.RunAt(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.ErrorCount)
	assert.Equal(t, 1, result.DueSoonCount)
	assert.Equal(t, 3, f.notifications(t))

	for _, user := range []int64{1, 2, 3} {
		count, err := store.CountUnreadNotifications(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "user %d", user)
	}
}

func TestScannerClosesOnlyAfterNotifying(t *testing.T) {
	store := testutil.NewTestDB(t)
	logger := testutil.NewTestLogger()
	// Call 1 is the overdue notice, call 2 the status_changed one.
	notifier := &flakyNotifier{next: notification.New(store, logger), fail: map[int]bool{2: true}}
	f := &scanFixture{store: store, scanner: NewScanner(store, notifier, logger, zone, Policy{AutoCloseAfterDays: 3})}
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, zone)
	ticket := f.ticket(t, day(2026, 10, 14), nil)

	result, err := f.scanner.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Zero(t, result.AutoClosedCount)
	stored, err := store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketOpen, stored.Status)

	result, err = f.scanner.RunAt(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.OverdueCount)
	assert.Equal(t, 1, result.AutoClosedCount)
	stored, err = store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketClosed, stored.Status)

	list, err := store.GetNotificationsByUserID(ctx, 1, false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestScannerFinishesAfterCancel(t *testing.T) {
	f := newScanFixture(t, Policy{})
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, zone)
	f.ticket(t, day(2026, 10, 18), nil, 2)
	f.ticket(t, day(2026, 10, 17), nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	tickets, err := f.store.ListScheduledOpenTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 2)

	canceling := &cancelingStore{Store: f.store, cancel: cancel}
	scanner := NewScanner(canceling, notification.New(f.store, testutil.NewTestLogger()), testutil.NewTestLogger(), zone, Policy{})
	result, err := scanner.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DueSoonCount)
	assert.Equal(t, 1, result.OverdueCount)
	assert.Equal(t, 4, f.notifications(t))
}

// cancelingStore cancels the caller's context right after listing tickets.
type cancelingStore struct {
	Store
	cancel context.CancelFunc
}

func (s *cancelingStore) ListScheduledOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	tickets, err := s.Store.ListScheduledOpenTickets(ctx)
	s.cancel()
	return tickets, err
}

func TestScannerConcurrentRuns(t *testing.T) {
	f := newScanFixture(t, Policy{})
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, zone)
	f.ticket(t, day(2026, 10, 18), nil, 2, 3)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scanner.RunAt(context.Background(), now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, f.notifications(t))
}

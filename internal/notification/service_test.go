package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/testutil"
)

type recordingPublisher struct {
	mu   sync.Mutex
	got  []models.Notification
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, n models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	if p.fail {
		return errors.New("offline")
	}
	return nil
}

func (p *recordingPublisher) Name() string { return "recording" }

func int64p(v int64) *int64 { return &v }

func newTicket(t *testing.T, svc *Service, store interface {
	CreateTicket(context.Context, *models.Ticket) error
}) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{Subject: "Printer on fire", AssigneeID: int64p(7)}
	require.NoError(t, store.CreateTicket(context.Background(), ticket))
	return ticket
}

func TestCreateSuppressesSelfNotification(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger())
	ctx := context.Background()

	n, err := svc.Create(ctx, Request{Type: models.NotificationCommentAdded, UserID: 5, ActorID: int64p(5)})
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = svc.Create(ctx, Request{Type: models.NotificationCommentAdded, UserID: 6, ActorID: int64p(5)})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "comment added", n.Title)

	count, err := svc.UnreadCount(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateValidates(t *testing.T) {
	svc := New(testutil.NewTestDB(t), testutil.NewTestLogger())
	_, err := svc.Create(context.Background(), Request{Type: models.NotificationReminder})
	assert.True(t, apperr.Is(err, apperr.ValidationFailure))
}

func TestCreateDeduplicatesTriggerKey(t *testing.T) {
	store := testutil.NewTestDB(t)
	pub := &recordingPublisher{}
	svc := New(store, testutil.NewTestLogger(), pub)
	ctx := context.Background()
	ticket := newTicket(t, svc, store)

	req := Request{Type: models.NotificationDueSoon, UserID: 7, TicketID: &ticket.ID, TriggerKey: "due_soon:2026-10-18"}
	first, err := svc.Create(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, second)

	list, err := svc.ListForUser(ctx, 7, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, pub.got, 1)
}

func TestPublisherFailureKeepsNotification(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger(), &recordingPublisher{fail: true})

	n, err := svc.Create(context.Background(), Request{Type: models.NotificationReminder, UserID: 3, Title: "Call back"})
	require.NoError(t, err)
	require.NotNil(t, n)

	count, err := svc.UnreadCount(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListForUserNewestFirstAndScoped(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger())
	ctx := context.Background()

	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		n := &models.Notification{Type: models.NotificationReminder, Title: string(rune('a' + i)), UserID: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		_, err := store.CreateNotification(ctx, n)
		require.NoError(t, err)
	}
	_, err := store.CreateNotification(ctx, &models.Notification{Type: models.NotificationReminder, Title: "other", UserID: 2, CreatedAt: base})
	require.NoError(t, err)

	page, err := svc.ListForUser(ctx, 1, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Title)
	assert.Equal(t, "b", page[1].Title)

	page, err = svc.ListForUser(ctx, 1, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Title)
}

func TestMarkReadOwnership(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger())
	ctx := context.Background()

	n, err := svc.Create(ctx, Request{Type: models.NotificationReminder, UserID: 1})
	require.NoError(t, err)

	ok, err := svc.MarkRead(ctx, n.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "other users cannot read it")

	ok, err = svc.MarkRead(ctx, "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.MarkRead(ctx, n.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	unread, err := svc.ListForUser(ctx, 1, ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestMarkAllRead(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, Request{Type: models.NotificationReminder, UserID: 4})
		require.NoError(t, err)
	}
	changed, err := svc.MarkAllRead(ctx, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 3, changed)

	count, err := svc.UnreadCount(ctx, 4)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotifyTicketEventAudience(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger())
	ctx := context.Background()
	ticket := newTicket(t, svc, store)
	require.NoError(t, store.AddWatcher(ctx, ticket.ID, 8))
	require.NoError(t, store.AddWatcher(ctx, ticket.ID, 9))

	created, err := svc.NotifyTicketEvent(ctx, models.TicketEvent{
		Type:      models.NotificationStatusChanged,
		TicketID:  ticket.ID,
		ActorID:   int64p(8),
		OldStatus: "open",
		NewStatus: "pending",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created, "assignee and the other watcher; the actor is suppressed")

	list, err := svc.ListForUser(ctx, 9, ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "T-000001 status changed", list[0].Title)
	assert.Contains(t, list[0].Message, "open to pending")
}

func TestNotifyTicketEventWatcherRemoved(t *testing.T) {
	store := testutil.NewTestDB(t)
	svc := New(store, testutil.NewTestLogger())
	ctx := context.Background()
	ticket := newTicket(t, svc, store)

	created, err := svc.NotifyTicketEvent(ctx, models.TicketEvent{
		Type: models.NotificationWatcherRemoved, TicketID: ticket.ID, ActorID: int64p(7), UserID: int64p(11),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	_, err = svc.NotifyTicketEvent(ctx, models.TicketEvent{Type: models.NotificationWatcherRemoved, TicketID: ticket.ID})
	assert.True(t, apperr.Is(err, apperr.ValidationFailure))

	_, err = svc.NotifyTicketEvent(ctx, models.TicketEvent{Type: models.NotificationCommentAdded, TicketID: "missing"})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/db"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func TestMigrationsRecordVersion(t *testing.T) {
	d := testutil.NewTestDB(t)

	var version int
	require.NoError(t, d.Get(&version, `SELECT MAX(version) FROM schema_version`))
	assert.Positive(t, version)
}

func TestCreateTicketAssignsSequentialNumbers(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	first := &models.Ticket{Subject: "Printer on fire"}
	second := &models.Ticket{Subject: "VPN down", AssigneeID: ptr(int64(7))}
	require.NoError(t, d.CreateTicket(ctx, first))
	require.NoError(t, d.CreateTicket(ctx, second))

	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, int64(2), second.Number)
	assert.Equal(t, models.TicketOpen, first.Status)

	got, err := d.GetTicketByNumber(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "VPN down", got.Subject)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, int64(7), *got.AssigneeID)

	_, err = d.GetTicket(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestWatchers(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	tk := &models.Ticket{Subject: "s"}
	require.NoError(t, d.CreateTicket(ctx, tk))
	require.NoError(t, d.AddWatcher(ctx, tk.ID, 3))
	require.NoError(t, d.AddWatcher(ctx, tk.ID, 3))
	require.NoError(t, d.AddWatcher(ctx, tk.ID, 1))

	ids, err := d.ListWatchers(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	removed, err := d.RemoveWatcher(ctx, tk.ID, 3)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = d.RemoveWatcher(ctx, tk.ID, 3)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestParticipantsKeepProvenance(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	tk := &models.Ticket{Subject: "s"}
	require.NoError(t, d.CreateTicket(ctx, tk))

	added, err := d.AddParticipant(ctx, models.Participant{TicketID: tk.ID, Email: "alice@example.com", Provenance: models.ProvenanceCreator})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = d.AddParticipant(ctx, models.Participant{TicketID: tk.ID, Email: "alice@example.com", Provenance: models.ProvenanceReply})
	require.NoError(t, err)
	assert.False(t, added)

	_, err = d.AddParticipant(ctx, models.Participant{TicketID: tk.ID, Email: "bob@example.com", Provenance: models.ProvenanceCC})
	require.NoError(t, err)

	ps, err := d.ListParticipants(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, models.ProvenanceCreator, ps[0].Provenance)
}

func TestListScheduledOpenTickets(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)
	loc := time.FixedZone("UTC+2", 2*3600)
	due := time.Date(2026, 10, 20, 0, 0, 0, 0, loc)
	reminder := time.Date(2026, 10, 19, 9, 0, 0, 0, loc)

	scheduled := &models.Ticket{Subject: "scheduled", DueDate: &due}
	reminded := &models.Ticket{Subject: "reminded", ReminderAt: &reminder}
	plain := &models.Ticket{Subject: "plain"}
	closed := &models.Ticket{Subject: "closed", Status: models.TicketClosed, DueDate: &due}
	for _, tk := range []*models.Ticket{scheduled, reminded, plain, closed} {
		require.NoError(t, d.CreateTicket(ctx, tk))
	}
	require.NoError(t, d.AddWatcher(ctx, scheduled.ID, 9))

	tickets, err := d.ListScheduledOpenTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	byID := map[string]models.Ticket{}
	for _, tk := range tickets {
		byID[tk.ID] = tk
	}
	assert.Equal(t, []int64{9}, byID[scheduled.ID].Watchers)
	require.NotNil(t, byID[scheduled.ID].DueDate)
	assert.True(t, byID[scheduled.ID].DueDate.Equal(due))
	require.NotNil(t, byID[reminded.ID].ReminderAt)
	assert.True(t, byID[reminded.ID].ReminderAt.Equal(reminder))
	assert.NotContains(t, byID, plain.ID)
	assert.NotContains(t, byID, closed.ID)
}

func TestClaimMessageIsTheDedupBoundary(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	long := time.Now().Add(-time.Hour)
	ok, err := d.ClaimMessage(ctx, 1, "<a@example.com>", long)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ClaimMessage(ctx, 1, "<a@example.com>", long)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := d.MessageStatus(ctx, "<a@example.com>")
	require.NoError(t, err)
	assert.Equal(t, db.MessagePending, status)

	require.NoError(t, d.ReleaseMessage(ctx, "<a@example.com>"))
	status, err = d.MessageStatus(ctx, "<a@example.com>")
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestAbandonedClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	ok, err := d.ClaimMessage(ctx, 1, "<a@example.com>", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	// Anything claimed before the cutoff counts as abandoned.
	ok, err = d.ClaimMessage(ctx, 1, "<a@example.com>", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// Settled claims are never taken over.
	require.NoError(t, d.CompleteMessage(ctx, "<a@example.com>", db.MessageRejected, nil, nil))
	ok, err = d.ClaimMessage(ctx, 1, "<a@example.com>", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := d.MessageStatus(ctx, "<a@example.com>")
	require.NoError(t, err)
	assert.Equal(t, db.MessageRejected, status)
}

func TestCompletedMessagesResolveThreads(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	tk := &models.Ticket{Subject: "s"}
	require.NoError(t, d.CreateTicket(ctx, tk))

	_, err := d.ClaimMessage(ctx, 1, "<root@example.com>", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, d.CompleteMessage(ctx, "<root@example.com>", db.MessageImported, &tk.ID, nil))

	// Completed claims are never released.
	require.NoError(t, d.ReleaseMessage(ctx, "<root@example.com>"))

	id, ok, err := d.FindTicketByMessageKeys(ctx, []string{"<other@example.com>", "<root@example.com>"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, tk.ID, id)

	_, ok, err = d.FindTicketByMessageKeys(ctx, []string{"<other@example.com>"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.FindTicketByMessageKeys(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotificationDedupAndOwnership(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	key := "t1:due_soon:2026-10-18:5"
	first := &models.Notification{Type: models.NotificationDueSoon, Title: "Due soon", UserID: 5,
		TicketID: ptr("t1"), TriggerKey: ptr("due_soon:2026-10-18"), DedupKey: &key}
	created, err := d.CreateNotification(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &models.Notification{Type: models.NotificationDueSoon, Title: "Due soon", UserID: 5, DedupKey: &key}
	created, err = d.CreateNotification(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	// Undeduplicated rows never collide.
	for i := 0; i < 2; i++ {
		created, err = d.CreateNotification(ctx, &models.Notification{Type: models.NotificationCommentAdded, Title: "c", UserID: 5})
		require.NoError(t, err)
		assert.True(t, created)
	}

	users, err := d.TriggerRecipients(ctx, "t1", "due_soon:2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, users)
	users, err = d.TriggerRecipients(ctx, "t1", "overdue:2026-10-18")
	require.NoError(t, err)
	assert.Empty(t, users)

	unread, err := d.CountUnreadNotifications(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	ok, err := d.MarkNotificationRead(ctx, first.ID, 6)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = d.MarkNotificationRead(ctx, first.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := d.GetNotificationsByUserID(ctx, 5, true, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := d.MarkAllNotificationsRead(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err = d.GetNotificationsByUserID(ctx, 6, false, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMailAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	a := &models.MailAccount{Name: "support", Host: "imap.example.com", Port: 993, Username: "support@example.com", Enabled: true}
	require.NoError(t, d.SaveMailAccount(ctx, a))
	require.NotZero(t, a.ID)
	require.NoError(t, d.SaveMailAccount(ctx, &models.MailAccount{Name: "off", Host: "h", Port: 993, Username: "u"}))

	accounts, err := d.ListEnabledMailAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "INBOX", accounts[0].Folder)
	assert.Equal(t, models.PostActionMarkRead, accounts[0].PostAction)

	require.NoError(t, d.SetMailAccountError(ctx, a.ID, "login failed"))
	got, err := d.GetMailAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "login failed", got.LastError)
	assert.Nil(t, got.LastSyncAt)

	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	require.NoError(t, d.MarkMailAccountSynced(ctx, a.ID, at))
	got, err = d.GetMailAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(at))

	_, err = d.GetMailAccount(ctx, 999)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestContactPoints(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewTestDB(t)

	created, err := d.CreateContactPoint(ctx, &models.ContactPoint{UserID: 4, Type: models.ContactPointTelegram, Address: "12345"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = d.CreateContactPoint(ctx, &models.ContactPoint{UserID: 4, Type: models.ContactPointTelegram, Address: "12345"})
	require.NoError(t, err)
	assert.False(t, created)

	cps, err := d.GetContactPointsByUserID(ctx, 4, models.ContactPointTelegram)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, "active", cps[0].Status)

	cps, err = d.GetContactPointsByUserID(ctx, 5, models.ContactPointTelegram)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

package importer

import (
	"context"
	"sort"
	"sync"

	"helpdesk-sync/internal/mailbox"
	"helpdesk-sync/internal/models"
)

// fakeMailbox is an in-memory folder keyed by UID.
type fakeMailbox struct {
	mu          sync.Mutex
	messages    map[uint32]*models.InboundMessage
	fetchErr    map[uint32]error
	postActions map[uint32]models.PostAction
	listErr     error
	closed      int
}

func newFakeMailbox(msgs ...*models.InboundMessage) *fakeMailbox {
	m := &fakeMailbox{
		messages:    make(map[uint32]*models.InboundMessage),
		fetchErr:    make(map[uint32]error),
		postActions: make(map[uint32]models.PostAction),
	}
	for _, msg := range msgs {
		m.messages[msg.UID] = msg
	}
	return m
}

func (m *fakeMailbox) List(_ context.Context, _ string, opts mailbox.ListOptions) ([]models.MessageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.MessageSummary
	for uid, msg := range m.messages {
		if opts.UnreadOnly && msg.Seen {
			continue
		}
		out = append(out, models.MessageSummary{UID: uid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

func (m *fakeMailbox) Fetch(_ context.Context, uid uint32) (*models.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fetchErr[uid]; err != nil {
		return nil, err
	}
	msg := *m.messages[uid]
	return &msg, nil
}

func (m *fakeMailbox) ApplyPostAction(_ context.Context, uid uint32, action models.PostAction, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postActions[uid] = action
	switch action {
	case models.PostActionDelete, models.PostActionMove:
		delete(m.messages, uid)
	default:
		m.messages[uid].Seen = true
	}
	return nil
}

func (m *fakeMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// markAllUnread simulates post-actions that never reached the server.
func (m *fakeMailbox) markAllUnread() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		msg.Seen = false
	}
}

type fakeDialer struct {
	boxes map[int64]*fakeMailbox
	errs  map[int64]error
}

func (d *fakeDialer) Connect(_ context.Context, account models.MailAccount) (mailbox.Session, error) {
	if err := d.errs[account.ID]; err != nil {
		return nil, err
	}
	return d.boxes[account.ID], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.TicketEvent
}

func (n *recordingNotifier) NotifyTicketEvent(_ context.Context, ev models.TicketEvent) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return 1, nil
}

func (n *recordingNotifier) count(t models.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Type == t {
			c++
		}
	}
	return c
}

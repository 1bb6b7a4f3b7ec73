// Package mailbox speaks IMAP to one configured account. It only exposes the
// operations the importer needs: list, fetch, post-process and log out.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/models"
)

// ListOptions narrows a mailbox listing.
type ListOptions struct {
	UnreadOnly bool
	Since      time.Time // zero means no lower bound
	Limit      int       // most recent N; zero means all
}

// Session is an authenticated mailbox session. Close must be called on every
// exit path.
type Session interface {
	List(ctx context.Context, folder string, opts ListOptions) ([]models.MessageSummary, error)
	Fetch(ctx context.Context, uid uint32) (*models.InboundMessage, error)
	ApplyPostAction(ctx context.Context, uid uint32, action models.PostAction, moveFolder string) error
	Close() error
}

// Dialer opens sessions for mail accounts.
type Dialer interface {
	Connect(ctx context.Context, account models.MailAccount) (Session, error)
}

// IMAPDialer opens IMAP sessions with go-imap v2.
type IMAPDialer struct{}

// NewIMAPDialer creates an IMAP dialer.
func NewIMAPDialer() *IMAPDialer {
	return &IMAPDialer{}
}

// Connect dials, authenticates and returns a session. Network problems are
// reported as NetworkFailure, rejected credentials as AuthFailure.
func (d *IMAPDialer) Connect(_ context.Context, account models.MailAccount) (Session, error) {
	addr := net.JoinHostPort(account.Host, strconv.Itoa(account.Port))
	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: account.Host},
	}

	var client *imapclient.Client
	var err error
	switch account.Security {
	case models.SecurityTLS:
		client, err = imapclient.DialStartTLS(addr, opts)
	case models.SecurityNone:
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, apperr.New(apperr.NetworkFailure, "mailbox.connect", fmt.Errorf("connecting to IMAP %s: %w", addr, err))
	}

	if err := client.Login(account.Username, account.Secret).Wait(); err != nil {
		_ = client.Close()
		return nil, apperr.New(apperr.AuthFailure, "mailbox.connect", fmt.Errorf("authentication failed for %s: %w", account.Username, err))
	}

	return &imapSession{client: client}, nil
}

type imapSession struct {
	client   *imapclient.Client
	selected string
}

func (s *imapSession) selectFolder(folder string) error {
	if folder == "" {
		folder = "INBOX"
	}
	if s.selected == folder {
		return nil
	}
	if _, err := s.client.Select(folder, nil).Wait(); err != nil {
		return apperr.New(apperr.NetworkFailure, "mailbox.select", fmt.Errorf("selecting %s: %w", folder, err))
	}
	s.selected = folder
	return nil
}

// List returns the UIDs matching opts in ascending order.
func (s *imapSession) List(_ context.Context, folder string, opts ListOptions) ([]models.MessageSummary, error) {
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if opts.UnreadOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if !opts.Since.IsZero() {
		criteria.Since = opts.Since
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, apperr.New(apperr.NetworkFailure, "mailbox.list", fmt.Errorf("searching messages: %w", err))
	}

	uids := data.AllUIDs()
	if opts.Limit > 0 && len(uids) > opts.Limit {
		uids = uids[len(uids)-opts.Limit:]
	}

	summaries := make([]models.MessageSummary, 0, len(uids))
	for _, uid := range uids {
		summaries = append(summaries, models.MessageSummary{UID: uint32(uid)})
	}
	return summaries, nil
}

// Fetch downloads and parses one message without setting \Seen.
func (s *imapSession) Fetch(_ context.Context, uid uint32) (*models.InboundMessage, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, apperr.Newf(apperr.NotFound, "mailbox.fetch", "message UID %d not found", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, apperr.New(apperr.NetworkFailure, "mailbox.fetch", fmt.Errorf("collecting message %d: %w", uid, err))
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, apperr.New(apperr.NetworkFailure, "mailbox.fetch", fmt.Errorf("closing fetch: %w", err))
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, apperr.Newf(apperr.ValidationFailure, "mailbox.fetch", "message UID %d has no body", uid)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	parsed.UID = uid
	for _, f := range buf.Flags {
		if f == imap.FlagSeen {
			parsed.Seen = true
		}
	}
	return parsed, nil
}

// ApplyPostAction marks, moves or deletes a handled message.
func (s *imapSession) ApplyPostAction(_ context.Context, uid uint32, action models.PostAction, moveFolder string) error {
	set := imap.UIDSetNum(imap.UID(uid))
	switch action {
	case models.PostActionDelete:
		if err := s.store(set, imap.FlagDeleted); err != nil {
			return err
		}
		if err := s.client.UIDExpunge(set).Close(); err != nil {
			return apperr.New(apperr.NetworkFailure, "mailbox.postAction", fmt.Errorf("expunging %d: %w", uid, err))
		}
		return nil
	case models.PostActionMove:
		if moveFolder == "" {
			return apperr.Newf(apperr.ValidationFailure, "mailbox.postAction", "move action without target folder")
		}
		if _, err := s.client.Move(set, moveFolder).Wait(); err != nil {
			return apperr.New(apperr.NetworkFailure, "mailbox.postAction", fmt.Errorf("moving %d to %s: %w", uid, moveFolder, err))
		}
		return nil
	default:
		return s.store(set, imap.FlagSeen)
	}
}

func (s *imapSession) store(set imap.UIDSet, flag imap.Flag) error {
	cmd := s.client.Store(set, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil)
	if err := cmd.Close(); err != nil {
		return apperr.New(apperr.NetworkFailure, "mailbox.store", fmt.Errorf("setting %s: %w", flag, err))
	}
	return nil
}

// Close logs out and closes the connection.
func (s *imapSession) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("logging out: %w", err)
	}
	return s.client.Close()
}

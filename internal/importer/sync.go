package importer

import (
	"context"
	"time"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/mailbox"
	"helpdesk-sync/internal/models"
)

// SyncOptions bounds a pass over one mailbox.
type SyncOptions struct {
	LookbackDays int // only list messages received in the last N days; 0 disables
	MaxPerPass   int // most recent N messages per pass; 0 means all
}

// MessageError describes one message that could not be handled.
type MessageError struct {
	UID       uint32      `json:"uid"`
	MessageID string      `json:"message_id,omitempty"`
	Kind      apperr.Kind `json:"kind"`
	Error     string      `json:"error"`
}

// Result summarises one pass over one account. A reply counts as both
// replied and skipped since it did not create a ticket. Deferred messages
// were claimed by another pass and are left in the mailbox untouched.
type Result struct {
	AccountID     int64          `json:"account_id"`
	ImportedCount int            `json:"imported_count"`
	RepliedCount  int            `json:"replied_count"`
	SkippedCount  int            `json:"skipped_count"`
	FilteredCount int            `json:"filtered_count"`
	DeferredCount int            `json:"deferred_count"`
	ErrorCount    int            `json:"error_count"`
	Errors        []MessageError `json:"errors,omitempty"`
	Aborted       string         `json:"aborted,omitempty"`
}

// Summary aggregates a pass over every enabled account.
type Summary struct {
	ImportedCount int      `json:"imported_count"`
	RepliedCount  int      `json:"replied_count"`
	SkippedCount  int      `json:"skipped_count"`
	FilteredCount int      `json:"filtered_count"`
	DeferredCount int      `json:"deferred_count"`
	ErrorCount    int      `json:"error_count"`
	Accounts      []Result `json:"accounts"`
}

func (s *Summary) add(r Result) {
	s.ImportedCount += r.ImportedCount
	s.RepliedCount += r.RepliedCount
	s.SkippedCount += r.SkippedCount
	s.FilteredCount += r.FilteredCount
	s.DeferredCount += r.DeferredCount
	s.ErrorCount += r.ErrorCount
	s.Accounts = append(s.Accounts, r)
}

// Syncer runs import passes against remote mailboxes.
type Syncer struct {
	store    Store
	dialer   mailbox.Dialer
	importer *Importer
	logger   *logging.Logger
	opts     SyncOptions
	now      func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(store Store, dialer mailbox.Dialer, importer *Importer, logger *logging.Logger, opts SyncOptions) *Syncer {
	return &Syncer{
		store:    store,
		dialer:   dialer,
		importer: importer,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// SyncAll runs one pass over every enabled account. A failing account is
// recorded in its Result and does not stop the others.
func (s *Syncer) SyncAll(ctx context.Context) (*Summary, error) {
	accounts, err := s.store.ListEnabledMailAccounts(ctx)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "importer.SyncAll", err)
	}
	summary := &Summary{Accounts: []Result{}}
	for _, account := range accounts {
		r, err := s.SyncAccount(ctx, account)
		if err != nil {
			s.logger.Errorf("Mail sync of account %d (%s) failed: %v", account.ID, account.Name, err)
		}
		summary.add(*r)
	}
	return summary, nil
}

// SyncAccountByID runs one pass over a single account.
func (s *Syncer) SyncAccountByID(ctx context.Context, id int64) (*Result, error) {
	account, err := s.store.GetMailAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncAccount(ctx, *account)
}

// SyncAccount runs one pass over account. Connection and listing failures
// abort the pass, are stored as the account's last error and are returned
// together with a Result carrying one error. Per-message failures are only
// counted. The last sync time advances only when the pass reaches the end.
// Once the mailbox is listed the pass runs to the end even if ctx is canceled.
func (s *Syncer) SyncAccount(ctx context.Context, account models.MailAccount) (*Result, error) {
	started := s.now()
	result := &Result{AccountID: account.ID}

	session, err := s.dialer.Connect(ctx, account)
	if err != nil {
		return s.abort(ctx, account, result, err), err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Warnf("Failed to close mailbox session of account %d: %v", account.ID, cerr)
		}
	}()

	opts := mailbox.ListOptions{UnreadOnly: account.UnreadOnly, Limit: s.opts.MaxPerPass}
	if s.opts.LookbackDays > 0 {
		opts.Since = started.AddDate(0, 0, -s.opts.LookbackDays)
	}
	summaries, err := session.List(ctx, account.Folder, opts)
	if err != nil {
		return s.abort(ctx, account, result, err), err
	}
	s.logger.Infof("Account %d: %d message(s) to process in %s", account.ID, len(summaries), account.Folder)

	ctx = context.WithoutCancel(ctx)
	for _, summary := range summaries {
		s.handle(ctx, session, account, summary.UID, result)
	}

	if err := s.store.MarkMailAccountSynced(ctx, account.ID, started); err != nil {
		s.logger.Errorf("Failed to record sync time of account %d: %v", account.ID, err)
	}
	s.logger.Infof("Account %d synced: imported=%d replied=%d skipped=%d filtered=%d deferred=%d errors=%d",
		account.ID, result.ImportedCount, result.RepliedCount, result.SkippedCount, result.FilteredCount, result.DeferredCount, result.ErrorCount)
	return result, nil
}

func (s *Syncer) handle(ctx context.Context, session mailbox.Session, account models.MailAccount, uid uint32, result *Result) {
	msg, err := session.Fetch(ctx, uid)
	if err != nil {
		result.fail(uid, "", err)
		s.logger.Warnf("Account %d: failed to fetch uid %d: %v", account.ID, uid, err)
		return
	}

	outcome, _, err := s.importer.Import(ctx, account, msg)
	if err != nil {
		result.fail(uid, msg.MessageID, err)
		s.logger.Warnf("Account %d: failed to import uid %d (%s): %v", account.ID, uid, msg.MessageID, err)
		if outcome != OutcomeRejected {
			return
		}
	}

	switch outcome {
	case OutcomeCreated:
		result.ImportedCount++
	case OutcomeReplied:
		result.RepliedCount++
		result.SkippedCount++
	case OutcomeDuplicate:
		result.SkippedCount++
	case OutcomeFiltered:
		result.FilteredCount++
		return
	case OutcomeInFlight:
		result.DeferredCount++
		return
	}

	if err := session.ApplyPostAction(ctx, uid, account.PostAction, account.MoveFolder); err != nil {
		result.fail(uid, msg.MessageID, err)
		s.logger.Warnf("Account %d: post-action %s failed for uid %d: %v", account.ID, account.PostAction, uid, err)
	}
}

// abort records a pass-level failure on the account.
func (s *Syncer) abort(ctx context.Context, account models.MailAccount, result *Result, err error) *Result {
	result.ErrorCount++
	result.Aborted = string(apperr.KindOf(err))
	s.logger.Errorf("Account %d: sync aborted: %v", account.ID, err)
	if serr := s.store.SetMailAccountError(ctx, account.ID, err.Error()); serr != nil {
		s.logger.Errorf("Failed to record error on account %d: %v", account.ID, serr)
	}
	return result
}

func (r *Result) fail(uid uint32, messageID string, err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, MessageError{
		UID:       uid,
		MessageID: messageID,
		Kind:      apperr.KindOf(err),
		Error:     err.Error(),
	})
}

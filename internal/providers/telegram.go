package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/utils"
)

// ErrQueueFull is returned by Publish when the delivery queue is saturated.
var ErrQueueFull = errors.New("telegram queue full")

// ContactStore looks up where a user wants out-of-band notifications.
type ContactStore interface {
	GetContactPointsByUserID(ctx context.Context, userID int64, typ string) ([]models.ContactPoint, error)
}

// MessageSender is the part of the bot API used for delivery.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramOptions tunes a Telegram publisher.
type TelegramOptions struct {
	RatePerSecond int
	QueueSize     int
	Workers       int
	RetryDelay    time.Duration
}

// Telegram mirrors stored notifications to the Telegram chats registered as
// contact points. Delivery is queued and runs on a small worker pool.
type Telegram struct {
	sender   MessageSender
	contacts ContactStore
	logger   *logging.Logger
	limiter  *rate.Limiter
	opts     TelegramOptions
	tasks    chan models.Notification
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewTelegram creates a publisher backed by the bot identified by token.
func NewTelegram(token string, contacts ContactStore, logger *logging.Logger, opts TelegramOptions) (*Telegram, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return NewTelegramWithSender(b, contacts, logger, opts), nil
}

// NewTelegramWithSender creates a publisher around an existing sender.
func NewTelegramWithSender(sender MessageSender, contacts ContactStore, logger *logging.Logger, opts TelegramOptions) *Telegram {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 25
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Telegram{
		sender:   sender,
		contacts: contacts,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(float64(opts.RatePerSecond)), opts.RatePerSecond),
		opts:     opts,
		tasks:    make(chan models.Notification, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name identifies the publisher in logs.
func (t *Telegram) Name() string {
	return "telegram"
}

// Start launches the worker pool.
func (t *Telegram) Start(wg *sync.WaitGroup) {
	for i := 0; i < t.opts.Workers; i++ {
		wg.Add(1)
		go t.worker(wg, i)
	}
}

// Stop asks the workers to exit once their current delivery is done.
func (t *Telegram) Stop() {
	t.cancel()
}

// Publish queues n for delivery without blocking.
func (t *Telegram) Publish(_ context.Context, n models.Notification) error {
	select {
	case t.tasks <- n:
		return nil
	default:
		t.logger.Errorf("Telegram queue full, dropping notification %s", n.ID)
		return ErrQueueFull
	}
}

func (t *Telegram) worker(wg *sync.WaitGroup, id int) {
	defer wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			t.logger.Infof("Telegram worker %d stopped", id)
			return
		case n := <-t.tasks:
			t.deliver(t.ctx, n)
		}
	}
}

func (t *Telegram) deliver(ctx context.Context, n models.Notification) {
	cps, err := t.contacts.GetContactPointsByUserID(ctx, n.UserID, models.ContactPointTelegram)
	if err != nil {
		t.logger.Errorf("Failed to load Telegram contact points for user %d: %v", n.UserID, err)
		return
	}
	for _, cp := range cps {
		if err := t.send(ctx, n, cp); err != nil {
			t.logger.Errorf("Telegram delivery of %s to contact point %s failed: %v", n.ID, cp.ID, err)
			continue
		}
		t.logger.Debugf("Notification %s sent to Telegram chat %s", n.ID, cp.Address)
	}
}

func (t *Telegram) send(ctx context.Context, n models.Notification, cp models.ContactPoint) error {
	chatID, err := strconv.ParseInt(cp.Address, 10, 64)
	if err != nil || chatID == 0 {
		return fmt.Errorf("invalid chat id %q for contact point %s", cp.Address, cp.ID)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	text := fmt.Sprintf("*%s*\n%s", bot.EscapeMarkdown(n.Title), bot.EscapeMarkdown(n.Message))
	return utils.Retry(ctx, t.logger, 3, t.opts.RetryDelay, func() error {
		_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: tgmodels.ParseModeMarkdown,
		})
		if err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
		}
		return nil
	})
}

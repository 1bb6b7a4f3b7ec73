// Package kafka consumes ticket mutation events published by the ticket
// service and turns them into notifications.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventHandler reacts to one ticket event.
type EventHandler interface {
	NotifyTicketEvent(ctx context.Context, ev models.TicketEvent) (int, error)
}

// WatcherStore keeps the local watcher links in step with the events.
type WatcherStore interface {
	RemoveWatcher(ctx context.Context, ticketID string, userID int64) (bool, error)
}

type Consumer struct {
	reader   MessageReader
	handler  EventHandler
	watchers WatcherStore
	logger   *logging.Logger
}

// NewConsumer creates a consumer-group reader for cfg.Topic.
func NewConsumer(cfg Config, handler EventHandler, watchers WatcherStore, logger *logging.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewConsumerWithReader(reader, handler, watchers, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader MessageReader, handler EventHandler, watchers WatcherStore, logger *logging.Logger) *Consumer {
	return &Consumer{reader: reader, handler: handler, watchers: watchers, logger: logger}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if err := c.reader.Close(); err != nil {
				c.logger.Errorf("Failed to close Kafka reader: %v", err)
			}
		}()
		c.logger.Infof("Kafka consumer started")

		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			if err := c.handle(ctx, msg); err != nil {
				c.logger.Errorf("Ticket event at offset %d dropped: %v", msg.Offset, err)
			}
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
			}
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var ev models.TicketEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("unmarshal ticket event: %w", err)
	}
	if ev.Type == "" || ev.TicketID == "" {
		return fmt.Errorf("invalid ticket event: missing type or ticket_id")
	}
	if ev.Type == models.NotificationWatcherRemoved {
		if ev.UserID == nil {
			return fmt.Errorf("invalid ticket event: %s without user_id", ev.Type)
		}
		// The removed user is still told, even on redelivery.
		removed, err := c.watchers.RemoveWatcher(ctx, ev.TicketID, *ev.UserID)
		if err != nil {
			return err
		}
		if !removed {
			c.logger.Debugf("User %d was not watching ticket %s", *ev.UserID, ev.TicketID)
		}
	}
	created, err := c.handler.NotifyTicketEvent(ctx, ev)
	if err != nil {
		return err
	}
	c.logger.Infof("Processed %s event for ticket %s: %d notification(s)", ev.Type, ev.TicketID, created)
	return nil
}

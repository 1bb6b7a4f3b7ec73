package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/automation"
	"helpdesk-sync/internal/config"
	"helpdesk-sync/internal/importer"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
	"helpdesk-sync/internal/notification"
)

// MailSyncer runs mailbox import passes.
type MailSyncer interface {
	SyncAll(ctx context.Context) (*importer.Summary, error)
	SyncAccountByID(ctx context.Context, id int64) (*importer.Result, error)
}

// AutomationRunner runs one automation scan.
type AutomationRunner interface {
	Run(ctx context.Context) (*automation.Result, error)
}

// Notifications serves a user's notifications.
type Notifications interface {
	ListForUser(ctx context.Context, userID int64, opts notification.ListOptions) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string, userID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// ContactStore persists out-of-band contact points.
type ContactStore interface {
	CreateContactPoint(ctx context.Context, cp *models.ContactPoint) (bool, error)
	GetContactPointsByUserID(ctx context.Context, userID int64, typ string) ([]models.ContactPoint, error)
}

type Handler struct {
	deps   Deps
	logger *logging.Logger
	config config.Config
}

func NewHandler(deps Deps, logger *logging.Logger, cfg config.Config) *Handler {
	return &Handler{deps: deps, logger: logger, config: cfg}
}

// TriggerMailSync runs a pass synchronously. The pass is not tied to the
// client connection so a disconnect does not leave it half done.
func (h *Handler) TriggerMailSync(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	if raw := c.Query("account_id"); raw != "" {
		accountID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || accountID <= 0 {
			writeError(c, apperr.Newf(apperr.ValidationFailure, "api.TriggerMailSync", "invalid account_id %q", raw))
			return
		}
		result, err := h.deps.Syncer.SyncAccountByID(ctx, accountID)
		if result == nil {
			h.logger.Errorf("Mail sync of account %d failed: %v", accountID, err)
			writeError(c, err)
			return
		}
		// Account-level failures are part of the result and stored on the account.
		c.JSON(http.StatusOK, result)
		return
	}

	summary, err := h.deps.Syncer.SyncAll(ctx)
	if err != nil && summary == nil {
		h.logger.Errorf("Mail sync failed: %v", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) TriggerAutomationScan(c *gin.Context) {
	result, err := h.deps.Scanner.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil && result == nil {
		h.logger.Errorf("Automation scan failed: %v", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	opts := notification.ListOptions{UnreadOnly: c.Query("unread_only") == "true"}
	var err error
	if opts.Limit, err = intQuery(c, "limit"); err != nil {
		writeError(c, err)
		return
	}
	if opts.Offset, err = intQuery(c, "offset"); err != nil {
		writeError(c, err)
		return
	}

	userID := currentUser(c)
	list, err := h.deps.Notifications.ListForUser(c.Request.Context(), userID, opts)
	if err != nil {
		h.logger.Errorf("Failed to list notifications for user %d: %v", userID, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.deps.Notifications.UnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.deps.Notifications.MarkRead(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, apperr.Newf(apperr.NotFound, "api.MarkRead", "notification %s not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	changed, err := h.deps.Notifications.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": changed})
}

type telegramRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

func (h *Handler) RegisterTelegram(c *gin.Context) {
	var req telegramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.ValidationFailure, "api.RegisterTelegram", err))
		return
	}
	chatID := strings.TrimSpace(req.ChatID)
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		writeError(c, apperr.Newf(apperr.ValidationFailure, "api.RegisterTelegram", "chat_id must be numeric"))
		return
	}

	cp := models.ContactPoint{UserID: currentUser(c), Type: models.ContactPointTelegram, Address: chatID}
	created, err := h.deps.Contacts.CreateContactPoint(c.Request.Context(), &cp)
	if err != nil {
		h.logger.Errorf("Failed to create contact point: %v", err)
		writeError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"created": false})
		return
	}
	h.logger.Infof("Created contact point: %s", cp.ID)
	c.JSON(http.StatusCreated, cp)
}

func (h *Handler) ListTelegram(c *gin.Context) {
	cps, err := h.deps.Contacts.GetContactPointsByUserID(c.Request.Context(), currentUser(c), models.ContactPointTelegram)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cps)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Newf(apperr.ValidationFailure, "api", "invalid %s %q", name, raw)
	}
	return v, nil
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"helpdesk-sync/internal/auth"
	"helpdesk-sync/internal/config"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/realtime"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Syncer        MailSyncer
	Scanner       AutomationRunner
	Notifications Notifications
	Contacts      ContactStore
	Registry      *realtime.Registry
	Tokens        *auth.Service
}

func NewRouter(deps Deps, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(deps, logger, cfg)
	api := r.Group(cfg.API.BasePath)
	{
		// Scheduler triggers
		triggers := api.Group("/triggers", TriggerSecretRequired(cfg.Auth.TriggerSecret))
		triggers.POST("/mail-sync", h.TriggerMailSync)
		triggers.POST("/automation-scan", h.TriggerAutomationScan)

		api.GET("/realtime/debug", TriggerSecretRequired(cfg.Auth.TriggerSecret), h.RealtimeDebug)

		user := api.Group("", AuthRequired(deps.Tokens))
		// Notifications
		user.GET("/notifications", h.ListNotifications)
		user.GET("/notifications/unread-count", h.UnreadCount)
		user.POST("/notifications/read-all", h.MarkAllRead)
		user.POST("/notifications/:id/read", h.MarkRead)
		user.GET("/notifications/stream", h.Stream)
		user.GET("/notifications/ws", h.WebSocket)

		// Contact Points
		user.POST("/contact-points/telegram", h.RegisterTelegram)
		user.GET("/contact-points/telegram", h.ListTelegram)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": deps.Registry.ActiveConnectionCount()})
	})
	return r
}

package api

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/auth"
	"helpdesk-sync/internal/logging"
)

const userIDKey = "user_id"

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// TriggerSecretRequired checks the bearer secret of scheduler triggers. An
// empty secret leaves the endpoints open.
func TriggerSecretRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			abortWithError(c, apperr.Newf(apperr.Unauthorized, "api.TriggerSecretRequired", "invalid trigger secret"))
			return
		}
		c.Next()
	}
}

// AuthRequired resolves the calling user from a JWT bearer token. Streaming
// clients that cannot set headers may pass the token as access_token.
func AuthRequired(tokens *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			token = c.Query("access_token")
		}
		if token == "" {
			abortWithError(c, apperr.Newf(apperr.Unauthorized, "api.AuthRequired", "authorization required"))
			return
		}
		userID, err := tokens.VerifyToken(token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

type errorBody struct {
	Error struct {
		Kind    apperr.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
}

// writeError renders err in the stable error shape.
func writeError(c *gin.Context, err error) {
	var body errorBody
	body.Error.Kind = apperr.KindOf(err)
	body.Error.Message = err.Error()
	if body.Error.Kind == apperr.Internal {
		body.Error.Message = "internal error"
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

func abortWithError(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}

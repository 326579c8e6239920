package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"video-sharing/pkg/auth"
	"video-sharing/pkg/database"
	"video-sharing/pkg/metrics"
	"video-sharing/pkg/models"
)

const (
	sessionKey = "session"
	userKey    = "user"
)

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, c.FullPath(), status, elapsed)

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", elapsed,
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			h.log.Warnw("request failed", fields...)
			return
		}
		h.log.Debugw("request", fields...)
	}
}

// loadSession attaches the caller's session, if the cookie carries a
// valid one. Invalid or expired cookies are treated as logged out.
func (h *Handler) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(h.sessions.CookieName())
		if err == nil && token != "" {
			if claims, err := h.sessions.ValidateJWT(token); err == nil {
				c.Set(sessionKey, claims)
			}
		}
		c.Next()
	}
}

func sessionFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// currentUser resolves the session to the stored account. A valid token
// whose user no longer exists yields nil, as does a request without one.
func (h *Handler) currentUser(c *gin.Context) (*models.User, error) {
	if v, ok := c.Get(userKey); ok {
		return v.(*models.User), nil
	}
	claims, ok := sessionFrom(c)
	if !ok {
		return nil, nil
	}
	rec, err := h.store.Get(c.Request.Context(), database.Users, database.Conditions{models.FieldID: claims.UserID})
	if err != nil || rec == nil {
		return nil, err
	}
	user, err := models.UserFromRecord(rec)
	if err != nil {
		return nil, err
	}
	c.Set(userKey, user)
	return user, nil
}

// userFrom returns the account attached by RequireAuth.
func userFrom(c *gin.Context) *models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	return v.(*models.User)
}

// RequireAuth rejects requests whose session does not name an existing
// user. The stored record, not the token, is what later checks see.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.currentUser(c)
		if err != nil {
			h.internalError(c, err, "failed to load session")
			c.Abort()
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "please log in first"})
			return
		}
		c.Next()
	}
}

// RequireAdmin checks the stored is_admin flag. It must run after
// RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := userFrom(c)
		if user == nil || !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}
		c.Next()
	}
}

func (h *Handler) rateLimit(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.AuthLimiter != nil && !h.opts.AuthLimiter.Allow(c.ClientIP()) {
			metrics.RecordRateLimited(route)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, please try again later"})
			return
		}
		c.Next()
	}
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(ttl.Seconds()), "/", "", h.sessions.Secure(), true)
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.sessions.Secure(), true)
}

// startSession issues a session cookie for the user.
func (h *Handler) startSession(c *gin.Context, userID int64, username string, isAdmin bool, ttl time.Duration) error {
	token, err := h.sessions.GenerateJWT(userID, username, isAdmin, ttl)
	if err != nil {
		return err
	}
	h.setSessionCookie(c, token, ttl)
	return nil
}

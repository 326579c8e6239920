package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"video-sharing/pkg/auth"
	"video-sharing/pkg/database"
	"video-sharing/pkg/ratelimit"
	"video-sharing/pkg/s3"
)

type Options struct {
	MaxUploadBytes int64
	AllowedTypes   []string

	// UploadsDir is served at UploadsURL when media is kept on local disk.
	UploadsDir string
	UploadsURL string
	// PublicDir holds the browser front end; empty disables it.
	PublicDir string

	// AuthLimiter throttles login and registration; nil disables it.
	AuthLimiter *ratelimit.Limiter
	// TrustedProxies may set X-Forwarded-For. Nil trusts none.
	TrustedProxies []string
}

// Handler serves the JSON API. Authorization happens here; the store
// below it never checks who is calling.
type Handler struct {
	store    *database.Store
	sessions *auth.Sessions
	media    s3.Storage
	log      *zap.SugaredLogger
	opts     Options
}

func NewHandler(store *database.Store, sessions *auth.Sessions, media s3.Storage, log *zap.SugaredLogger, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 500 << 20
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = []string{"video/mp4", "video/avi", "video/mov", "video/wmv", "video/flv"}
	}
	return &Handler{
		store:    store,
		sessions: sessions,
		media:    media,
		log:      log,
		opts:     opts,
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	// Only listed proxies may set the client address the rate limiter keys on.
	if err := r.SetTrustedProxies(h.opts.TrustedProxies); err != nil {
		h.log.Warnw("invalid trusted proxies, trusting none", "proxies", h.opts.TrustedProxies, "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), h.requestLogger(), h.loadSession())
	r.MaxMultipartMemory = 32 << 20

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.opts.UploadsDir != "" && h.opts.UploadsURL != "" {
		r.Static(h.opts.UploadsURL, h.opts.UploadsDir)
	}

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.rateLimit("register"), h.Register)
	authGroup.POST("/login", h.rateLimit("login"), h.Login)
	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/me", h.Me)
	authGroup.GET("/check", h.Check)

	videos := api.Group("/videos")
	videos.GET("", h.ListVideos)
	videos.GET("/:id", h.GetVideo)
	videos.POST("/upload", h.RequireAuth(), RequireAdmin(), h.UploadVideo)
	videos.DELETE("/:id", h.RequireAuth(), RequireAdmin(), h.DeleteVideo)
	videos.POST("/:id/progress", h.RequireAuth(), h.SaveProgress)

	users := api.Group("/users", h.RequireAuth())
	users.GET("/history", h.History)
	users.DELETE("/history", h.ClearHistory)
	users.DELETE("/history/:videoId", h.DeleteHistoryEntry)
	users.GET("/stats", h.Stats)
	users.PUT("/profile", h.UpdateProfile)
	users.PUT("/password", h.ChangePassword)
	users.GET("/favorites", h.Favorites)

	r.NoRoute(h.serveFrontend)
	return r
}

// serveFrontend returns files from PublicDir and falls back to index.html
// so client-side routes load the single page app. Unknown API paths get
// a JSON 404.
func (h *Handler) serveFrontend(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") || h.opts.PublicDir == "" || c.Request.Method != http.MethodGet {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rel := path.Clean("/" + c.Request.URL.Path)
	file := filepath.Join(h.opts.PublicDir, filepath.FromSlash(rel))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}
	ext := path.Ext(rel)
	if ext == ".js" || ext == ".css" {
		c.String(http.StatusNotFound, "File not found")
		return
	}
	index := filepath.Join(h.opts.PublicDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(index)
}

// internalError logs err and answers with a generic 500.
func (h *Handler) internalError(c *gin.Context, err error, msg string) {
	h.log.Errorw(msg, "error", err, "method", c.Request.Method, "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

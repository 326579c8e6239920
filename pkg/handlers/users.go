package handlers

import (
	"cmp"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"video-sharing/pkg/auth"
	"video-sharing/pkg/database"
	"video-sharing/pkg/models"
)

const (
	unknownVideo  = "unknown video"
	recentWatched = 5
)

type profileRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" form:"currentPassword"`
	NewPassword     string `json:"newPassword" form:"newPassword"`
}

// historyItem is a play history entry joined with the video it points at.
type historyItem struct {
	*models.PlayHistory
	Title           string     `json:"title"`
	ThumbnailPath   *string    `json:"thumbnail_path"`
	DurationSeconds float64    `json:"duration_seconds"`
	VideoCreatedAt  *time.Time `json:"video_created_at"`
}

func newestWatchedFirst(a, b *models.PlayHistory) int {
	if c := b.LastWatched.Compare(a.LastWatched); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// historyFor returns the user's history entries, newest first, along
// with every video keyed by id.
func (h *Handler) historyFor(c *gin.Context, userID int64) ([]*models.PlayHistory, map[int64]*models.Video, error) {
	ctx := c.Request.Context()
	recs, err := h.store.Query(ctx, database.PlayHistory, database.Conditions{models.FieldUserID: userID})
	if err != nil {
		return nil, nil, err
	}
	entries := make([]*models.PlayHistory, 0, len(recs))
	for _, rec := range recs {
		e, err := models.PlayHistoryFromRecord(rec)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
	}
	slices.SortStableFunc(entries, newestWatchedFirst)

	videoRecs, err := h.store.Query(ctx, database.Videos, nil)
	if err != nil {
		return nil, nil, err
	}
	videos := make(map[int64]*models.Video, len(videoRecs))
	for _, rec := range videoRecs {
		v, err := models.VideoFromRecord(rec)
		if err != nil {
			return nil, nil, err
		}
		videos[v.ID] = v
	}
	return entries, videos, nil
}

// History joins the caller's play history with the videos it points at.
// Entries for deleted videos are kept and shown as unknown.
func (h *Handler) History(c *gin.Context) {
	user := userFrom(c)
	entries, videos, err := h.historyFor(c, user.ID)
	if err != nil {
		h.internalError(c, err, "failed to load play history")
		return
	}

	out := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		item := historyItem{PlayHistory: e, Title: unknownVideo}
		if v, ok := videos[e.VideoID]; ok {
			item.Title = v.Title
			item.ThumbnailPath = v.ThumbnailPath
			item.DurationSeconds = v.DurationSeconds
			created := v.CreatedAt
			item.VideoCreatedAt = &created
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

func (h *Handler) DeleteHistoryEntry(c *gin.Context) {
	user := userFrom(c)
	videoID, ok := parseID(c.Param("videoId"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}
	_, err := h.store.Delete(c.Request.Context(), database.PlayHistory, database.Conditions{
		models.FieldUserID:  user.ID,
		models.FieldVideoID: videoID,
	})
	if err != nil {
		h.internalError(c, err, "failed to clear play history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "play history cleared"})
}

// ClearHistory deletes the caller's entries one id at a time, since a
// store delete removes a single match.
func (h *Handler) ClearHistory(c *gin.Context) {
	user := userFrom(c)
	ctx := c.Request.Context()
	entries, err := h.store.Query(ctx, database.PlayHistory, database.Conditions{models.FieldUserID: user.ID})
	if err != nil {
		h.internalError(c, err, "failed to clear play history")
		return
	}
	removed := 0
	for _, e := range entries {
		n, err := h.store.Delete(ctx, database.PlayHistory, database.Conditions{models.FieldID: e.ID()})
		if err != nil {
			h.internalError(c, err, "failed to clear play history")
			return
		}
		removed += n
	}
	c.JSON(http.StatusOK, gin.H{"message": "all play history cleared", "removed": removed})
}

func (h *Handler) Stats(c *gin.Context) {
	user := userFrom(c)
	entries, videos, err := h.historyFor(c, user.ID)
	if err != nil {
		h.internalError(c, err, "failed to load statistics")
		return
	}

	distinct := make(map[int64]struct{}, len(entries))
	var totalDuration float64
	for _, e := range entries {
		distinct[e.VideoID] = struct{}{}
		totalDuration += e.WatchDurationSeconds
	}

	recent := make([]gin.H, 0, recentWatched)
	for _, e := range entries[:min(recentWatched, len(entries))] {
		title, duration := unknownVideo, 0.0
		if v, ok := videos[e.VideoID]; ok {
			title, duration = v.Title, v.DurationSeconds
		}
		recent = append(recent, gin.H{
			models.FieldVideoID:             e.VideoID,
			models.FieldTitle:               title,
			models.FieldLastWatched:         e.LastWatched,
			models.FieldLastPositionSeconds: e.LastPositionSeconds,
			models.FieldDurationSeconds:     duration,
		})
	}

	c.JSON(http.StatusOK, gin.H{"stats": gin.H{
		"totalWatched":  len(distinct),
		"totalDuration": totalDuration,
		"recentWatched": recent,
	}})
}

// UpdateProfile changes username and email. The lookups give precise
// messages; UpdateUnique rejects a rename that raced past them. The
// session cookie is reissued with its remaining lifetime so the new
// username shows up without logging in again.
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := userFrom(c)
	var req profileRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please fill in all required fields"})
		return
	}
	if !emailPattern.MatchString(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please enter a valid email address"})
		return
	}

	ctx := c.Request.Context()
	taken, err := h.store.Get(ctx, database.Users, database.Conditions{models.FieldUsername: req.Username})
	if err != nil {
		h.internalError(c, err, "failed to update profile")
		return
	}
	if taken != nil && taken.ID() != user.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username already taken"})
		return
	}
	taken, err = h.store.Get(ctx, database.Users, database.Conditions{models.FieldEmail: req.Email})
	if err != nil {
		h.internalError(c, err, "failed to update profile")
		return
	}
	if taken != nil && taken.ID() != user.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already taken"})
		return
	}

	n, err := h.store.UpdateUnique(ctx, database.Users, database.Conditions{models.FieldID: user.ID}, database.Record{
		models.FieldUsername: req.Username,
		models.FieldEmail:    req.Email,
	}, models.FieldUsername, models.FieldEmail)
	var conflict *database.ConflictError
	if errors.As(err, &conflict) {
		msg := "username already taken"
		if conflict.Field == models.FieldEmail {
			msg = "email already taken"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if err != nil {
		h.internalError(c, err, "failed to update profile")
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	rec, err := h.store.Get(ctx, database.Users, database.Conditions{models.FieldID: user.ID})
	if err == nil && rec == nil {
		err = errors.New("user vanished after update")
	}
	if err != nil {
		h.internalError(c, err, "failed to update profile")
		return
	}
	updated, err := models.UserFromRecord(rec)
	if err != nil {
		h.internalError(c, err, "failed to update profile")
		return
	}

	if claims, ok := sessionFrom(c); ok {
		if remaining := time.Until(time.Unix(claims.ExpiresAt, 0)); remaining > 0 {
			if err := h.startSession(c, updated.ID, updated.Username, updated.IsAdmin, remaining); err != nil {
				h.log.Warnw("failed to refresh session after profile update", "user_id", updated.ID, "error", err)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated", "user": updated.Public()})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	user := userFrom(c)
	var req passwordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please fill in all password fields"})
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new password must be at least 8 characters"})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current password is incorrect"})
		return
	}

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.internalError(c, err, "failed to change password")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.Update(ctx, database.Users, database.Conditions{models.FieldID: user.ID}, database.Record{
		models.FieldPasswordHash: hashed,
	}); err != nil {
		h.internalError(c, err, "failed to change password")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// Favorites is reserved; nothing stores favorites yet.
func (h *Handler) Favorites(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"favorites": []database.Record{}})
}

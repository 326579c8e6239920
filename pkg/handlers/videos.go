package handlers

import (
	"cmp"
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"video-sharing/pkg/database"
	"video-sharing/pkg/models"
)

const (
	fieldUploaderName = "uploader_name"
	unknownUploader   = "unknown user"
)

type uploadRequest struct {
	Title       string                `form:"title" json:"title"`
	Description string                `form:"description" json:"description"`
	URL         string                `form:"url" json:"url"`
	Duration    float64               `form:"duration" json:"duration"`
	Video       *multipart.FileHeader `form:"video" json:"-"`
}

type progressRequest struct {
	Position float64 `form:"position" json:"position"`
	Duration float64 `form:"duration" json:"duration"`
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

// videoView is a video as the API returns it.
type videoView struct {
	*models.Video
	UploaderName string `json:"uploader_name"`
}

func newestVideosFirst(a, b videoView) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (h *Handler) uploaderNames(c *gin.Context) (map[int64]string, error) {
	users, err := h.store.Query(c.Request.Context(), database.Users, nil)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID()] = u.String(models.FieldUsername)
	}
	return names, nil
}

func withUploader(rec database.Record, names map[int64]string) (videoView, error) {
	video, err := models.VideoFromRecord(rec)
	if err != nil {
		return videoView{}, err
	}
	name, ok := names[video.UploadedBy]
	if !ok {
		name = unknownUploader
	}
	return videoView{Video: video, UploaderName: name}, nil
}

// ListVideos returns every video, newest first. The optional q parameter
// keeps videos whose title or description contains it, ignoring case.
func (h *Handler) ListVideos(c *gin.Context) {
	videos, err := h.store.Query(c.Request.Context(), database.Videos, nil)
	if err != nil {
		h.internalError(c, err, "failed to load videos")
		return
	}
	names, err := h.uploaderNames(c)
	if err != nil {
		h.internalError(c, err, "failed to load videos")
		return
	}

	q := strings.ToLower(strings.TrimSpace(c.Query("q")))
	out := make([]videoView, 0, len(videos))
	for _, rec := range videos {
		v, err := withUploader(rec, names)
		if err != nil {
			h.internalError(c, err, "failed to load videos")
			return
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(v.Title), q) &&
			!strings.Contains(strings.ToLower(v.Description), q) {
			continue
		}
		out = append(out, v)
	}
	slices.SortStableFunc(out, newestVideosFirst)

	c.JSON(http.StatusOK, gin.H{"videos": out})
}

func (h *Handler) GetVideo(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	ctx := c.Request.Context()
	video, err := h.store.Get(ctx, database.Videos, database.Conditions{models.FieldID: id})
	if err != nil {
		h.internalError(c, err, "failed to load video")
		return
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	names, err := h.uploaderNames(c)
	if err != nil {
		h.internalError(c, err, "failed to load video")
		return
	}

	view, err := withUploader(video, names)
	if err != nil {
		h.internalError(c, err, "failed to load video")
		return
	}

	var history *models.PlayHistory
	user, err := h.currentUser(c)
	if err != nil {
		h.internalError(c, err, "failed to load video")
		return
	}
	if user != nil {
		rec, err := h.store.Get(ctx, database.PlayHistory, database.Conditions{
			models.FieldUserID:  user.ID,
			models.FieldVideoID: id,
		})
		if err == nil && rec != nil {
			history, err = models.PlayHistoryFromRecord(rec)
		}
		if err != nil {
			h.internalError(c, err, "failed to load video")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"video": view, "playHistory": history})
}

// UploadVideo registers a video from either an uploaded file or an
// external http(s) URL. Stored media is removed again if the record
// cannot be written.
func (h *Handler) UploadVideo(c *gin.Context) {
	user := userFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	var req uploadRequest
	if err := c.ShouldBind(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "video file is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload request"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please enter a video title"})
		return
	}
	if req.Duration < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration must not be negative"})
		return
	}

	ctx := c.Request.Context()
	var (
		filename string
		location string
		size     int64
		stored   bool
	)
	switch {
	case req.Video != nil:
		contentType := req.Video.Header.Get("Content-Type")
		if !slices.Contains(h.opts.AllowedTypes, contentType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported video format, please upload MP4, AVI, MOV, WMV or FLV"})
			return
		}
		if req.Video.Size > h.opts.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "video file is too large"})
			return
		}
		f, err := req.Video.Open()
		if err != nil {
			h.internalError(c, err, "video upload failed, please try again later")
			return
		}
		location, err = h.media.Save(ctx, req.Video.Filename, f, contentType)
		f.Close()
		if err != nil {
			h.internalError(c, err, "video upload failed, please try again later")
			return
		}
		filename, size, stored = req.Video.Filename, req.Video.Size, true

	case req.URL != "":
		u, err := url.ParseRequestURI(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "please provide a valid http or https video url"})
			return
		}
		location = u.String()
		filename = path.Base(u.Path)
		if filename == "/" || filename == "." {
			filename = u.Host
		}

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "please select a video file or provide a video url"})
		return
	}

	rec, err := h.store.Insert(ctx, database.Videos, database.Record{
		models.FieldTitle:           req.Title,
		models.FieldDescription:     req.Description,
		models.FieldFilename:        filename,
		models.FieldFilepathOrURL:   location,
		models.FieldThumbnailPath:   nil,
		models.FieldDurationSeconds: req.Duration,
		models.FieldFileSizeBytes:   size,
		models.FieldUploadedBy:      user.ID,
	})
	if err != nil {
		if stored {
			if rmErr := h.media.Remove(ctx, location); rmErr != nil {
				h.log.Warnw("failed to remove orphaned upload", "location", location, "error", rmErr)
			}
		}
		h.internalError(c, err, "video upload failed, please try again later")
		return
	}

	view, err := withUploader(rec, map[int64]string{user.ID: user.Username})
	if err != nil {
		h.internalError(c, err, "video upload failed, please try again later")
		return
	}
	h.log.Infow("video uploaded", "video_id", view.ID, "title", view.Title, "uploaded_by", user.ID)
	c.JSON(http.StatusCreated, gin.H{"message": "video uploaded", "video": view})
}

// DeleteVideo removes the video record, then its stored media on a best
// effort basis. Media stays in place when the record cannot be deleted.
// Play history entries pointing at the video are left in place.
func (h *Handler) DeleteVideo(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	ctx := c.Request.Context()
	rec, err := h.store.Get(ctx, database.Videos, database.Conditions{models.FieldID: id})
	if err != nil {
		h.internalError(c, err, "failed to delete video")
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	video, err := models.VideoFromRecord(rec)
	if err != nil {
		h.internalError(c, err, "failed to delete video")
		return
	}

	n, err := h.store.Delete(ctx, database.Videos, database.Conditions{models.FieldID: id})
	if err != nil {
		h.internalError(c, err, "failed to delete video")
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	locations := []string{video.FilepathOrURL}
	if video.ThumbnailPath != nil {
		locations = append(locations, *video.ThumbnailPath)
	}
	for _, location := range locations {
		if location == "" {
			continue
		}
		if err := h.media.Remove(ctx, location); err != nil {
			h.log.Warnw("failed to remove video media", "video_id", id, "location", location, "error", err)
		}
	}
	h.log.Infow("video deleted", "video_id", id)
	c.JSON(http.StatusOK, gin.H{"message": "video deleted"})
}

// SaveProgress records how far the caller got in a video, creating the
// history entry on first play.
func (h *Handler) SaveProgress(c *gin.Context) {
	user := userFrom(c)
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	var req progressRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid progress"})
		return
	}
	if req.Position < 0 || req.Duration < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid progress"})
		return
	}

	ctx := c.Request.Context()
	video, err := h.store.Get(ctx, database.Videos, database.Conditions{models.FieldID: id})
	if err != nil {
		h.internalError(c, err, "failed to save progress")
		return
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	key := database.Conditions{models.FieldUserID: user.ID, models.FieldVideoID: id}
	progress := database.Record{
		models.FieldLastPositionSeconds:  req.Position,
		models.FieldWatchDurationSeconds: req.Duration,
		models.FieldLastWatched:          time.Now().UTC().Format(database.TimeLayout),
	}
	n, err := h.store.Update(ctx, database.PlayHistory, key, progress)
	if err == nil && n == 0 {
		progress[models.FieldUserID] = user.ID
		progress[models.FieldVideoID] = id
		_, err = h.store.Insert(ctx, database.PlayHistory, progress)
	}
	if err != nil {
		h.internalError(c, err, "failed to save progress")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "progress saved"})
}

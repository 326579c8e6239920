package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"video-sharing/pkg/database"
)

func TestUserFromRecord(t *testing.T) {
	rec := database.Record{
		"id":            float64(1755168092284),
		"username":      "admin",
		"email":         "admin@example.com",
		"password_hash": "$2a$10$x",
		"is_admin":      true,
		"created_at":    "2025-08-14T10:41:32.284Z",
		"updated_at":    "2025-08-14T10:41:32.287Z",
	}

	u, err := UserFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1755168092284), u.ID)
	assert.True(t, u.IsAdmin)
	assert.Equal(t, "$2a$10$x", u.PasswordHash)
	assert.Equal(t, time.Date(2025, 8, 14, 10, 41, 32, 284_000_000, time.UTC), u.CreatedAt.UTC())

	pub := u.Public()
	assert.Equal(t, u.ID, pub.ID)
	assert.Equal(t, "admin", pub.Username)
}

func TestVideoFromRecordToleratesMissingFields(t *testing.T) {
	v, err := VideoFromRecord(database.Record{
		"id":             float64(5),
		"title":          "demo",
		"thumbnail_path": nil,
		"created_at":     "",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.ID)
	assert.Equal(t, "demo", v.Title)
	assert.Nil(t, v.ThumbnailPath)
	assert.True(t, v.CreatedAt.IsZero())
	assert.Zero(t, v.FileSizeBytes)
}

func TestPlayHistoryFromRecord(t *testing.T) {
	h, err := PlayHistoryFromRecord(database.Record{
		"id":                     float64(9),
		"user_id":                float64(1),
		"video_id":               float64(2),
		"last_position_seconds":  12.5,
		"watch_duration_seconds": float64(30),
		"last_watched":           "2025-08-14T11:00:00.000Z",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.VideoID)
	assert.Equal(t, 12.5, h.LastPositionSeconds)
	assert.Equal(t, 2025, h.LastWatched.Year())
}

package models

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"video-sharing/pkg/database"
)

// Record field names. Records stay schemaless in the store; these are the
// names the API layer reads and writes.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"

	FieldUsername     = "username"
	FieldEmail        = "email"
	FieldPasswordHash = "password_hash"
	FieldIsAdmin      = "is_admin"

	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldFilename        = "filename"
	FieldFilepathOrURL   = "filepath_or_url"
	FieldThumbnailPath   = "thumbnail_path"
	FieldDurationSeconds = "duration_seconds"
	FieldFileSizeBytes   = "file_size_bytes"
	FieldUploadedBy      = "uploaded_by"

	FieldUserID               = "user_id"
	FieldVideoID              = "video_id"
	FieldLastPositionSeconds  = "last_position_seconds"
	FieldWatchDurationSeconds = "watch_duration_seconds"
	FieldLastWatched          = "last_watched"
)

type User struct {
	ID           int64     `mapstructure:"id" json:"id"`
	Username     string    `mapstructure:"username" json:"username"`
	Email        string    `mapstructure:"email" json:"email"`
	PasswordHash string    `mapstructure:"password_hash" json:"-"`
	IsAdmin      bool      `mapstructure:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `mapstructure:"created_at" json:"created_at"`
	UpdatedAt    time.Time `mapstructure:"updated_at" json:"updated_at"`
}

type Video struct {
	ID              int64     `mapstructure:"id" json:"id"`
	Title           string    `mapstructure:"title" json:"title"`
	Description     string    `mapstructure:"description" json:"description"`
	Filename        string    `mapstructure:"filename" json:"filename"`
	FilepathOrURL   string    `mapstructure:"filepath_or_url" json:"filepath_or_url"`
	ThumbnailPath   *string   `mapstructure:"thumbnail_path" json:"thumbnail_path"`
	DurationSeconds float64   `mapstructure:"duration_seconds" json:"duration_seconds"`
	FileSizeBytes   int64     `mapstructure:"file_size_bytes" json:"file_size_bytes"`
	UploadedBy      int64     `mapstructure:"uploaded_by" json:"uploaded_by"`
	CreatedAt       time.Time `mapstructure:"created_at" json:"created_at"`
	UpdatedAt       time.Time `mapstructure:"updated_at" json:"updated_at"`
}

type PlayHistory struct {
	ID                   int64     `mapstructure:"id" json:"id"`
	UserID               int64     `mapstructure:"user_id" json:"user_id"`
	VideoID              int64     `mapstructure:"video_id" json:"video_id"`
	LastPositionSeconds  float64   `mapstructure:"last_position_seconds" json:"last_position_seconds"`
	WatchDurationSeconds float64   `mapstructure:"watch_duration_seconds" json:"watch_duration_seconds"`
	LastWatched          time.Time `mapstructure:"last_watched" json:"last_watched"`
	CreatedAt            time.Time `mapstructure:"created_at" json:"created_at"`
	UpdatedAt            time.Time `mapstructure:"updated_at" json:"updated_at"`
}

// PublicUser is what the API returns for a user: everything but the hash.
type PublicUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}

func UserFromRecord(r database.Record) (*User, error) {
	var u User
	if err := decode(r, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func VideoFromRecord(r database.Record) (*Video, error) {
	var v Video
	if err := decode(r, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func PlayHistoryFromRecord(r database.Record) (*PlayHistory, error) {
	var h PlayHistory
	if err := decode(r, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// decode tolerates records written by older versions: missing fields stay
// zero, numbers stored as floats land in integer fields and blank
// timestamps are left unset.
func decode(r database.Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(blankTimeHook, mapstructure.StringToTimeHookFunc(time.RFC3339Nano)),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(r))
}

func blankTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	if s, ok := data.(string); ok && s == "" {
		return time.Time{}, nil
	}
	return data, nil
}

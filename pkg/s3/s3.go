package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
)

// Storage keeps uploaded video files. Save returns the location recorded
// in the video's filepath_or_url field; Remove takes the same value.
type Storage interface {
	Save(ctx context.Context, filename string, body io.Reader, contentType string) (string, error)
	Remove(ctx context.Context, location string) error
}

// ObjectKey builds a collision-free name that keeps the original extension.
func ObjectKey(filename string) string {
	return "video-" + uuid.New().String() + strings.ToLower(filepath.Ext(filename))
}

func contentTypeFor(filename, given string) string {
	if given != "" {
		return given
	}
	return mime.TypeByExtension(filepath.Ext(filename))
}

type S3Config struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string // optional, for S3-compatible stores
}

type S3Storage struct {
	cfg      S3Config
	uploader *s3manager.Uploader
	client   *awss3.S3
}

func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: %w", err)
	}
	return &S3Storage{
		cfg:      cfg,
		uploader: s3manager.NewUploader(sess),
		client:   awss3.New(sess),
	}, nil
}

func (s *S3Storage) Save(ctx context.Context, filename string, body io.Reader, contentType string) (string, error) {
	key := ObjectKey(filename)
	if s.cfg.Prefix != "" {
		key = strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
	}

	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentTypeFor(filename, contentType)),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3: %w", key, err)
	}
	return result.Location, nil
}

// Remove deletes the object behind a location returned by Save.
// Locations outside the configured bucket are ignored.
func (s *S3Storage) Remove(ctx context.Context, location string) error {
	key, ok := s.keyFor(location)
	if !ok {
		return nil
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *S3Storage) keyFor(location string) (string, bool) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")
	switch {
	case strings.HasPrefix(u.Host, s.cfg.Bucket+"."):
		return path, path != ""
	case strings.HasPrefix(path, s.cfg.Bucket+"/"):
		key := strings.TrimPrefix(path, s.cfg.Bucket+"/")
		return key, key != ""
	}
	return "", false
}

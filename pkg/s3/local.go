package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes uploads into a directory that the HTTP layer also
// serves under URLPrefix.
type LocalStorage struct {
	dir       string
	urlPrefix string
}

func NewLocalStorage(dir, urlPrefix string) (*LocalStorage, error) {
	if err := os.MkdirAll(filepath.Join(dir, "thumbnails"), os.ModePerm); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalStorage{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (l *LocalStorage) Dir() string { return l.dir }

// Save returns a path of the form <urlPrefix>/<name>.
func (l *LocalStorage) Save(ctx context.Context, filename string, body io.Reader, contentType string) (string, error) {
	name := ObjectKey(filename)
	outFile, err := os.Create(filepath.Join(l.dir, name))
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, body); err != nil {
		_ = os.Remove(outFile.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	return l.urlPrefix + "/" + name, nil
}

// Remove deletes a file previously returned by Save. Unknown locations and
// files that are already gone are not errors.
func (l *LocalStorage) Remove(ctx context.Context, location string) error {
	rel := strings.TrimPrefix(location, l.urlPrefix+"/")
	if rel == location || rel == "" || strings.Contains(rel, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(l.dir, filepath.FromSlash(rel)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

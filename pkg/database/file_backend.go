package database

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// FileBackend keeps the dataset as one pretty-printed JSON document.
// Writes go through a pending file that is fsynced and renamed over the
// old document, so a crash leaves either the old or the new version.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load returns an empty dataset when the file does not exist yet.
func (b *FileBackend) Load(ctx context.Context) (Dataset, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return NewDataset(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", b.path)
	}
	d, err := decodeDataset(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", b.path)
	}
	return d, nil
}

func (b *FileBackend) Save(ctx context.Context, d Dataset) error {
	data, err := encodeDataset(d)
	if err != nil {
		return errors.Wrap(err, "encode dataset")
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	pending, err := renameio.NewPendingFile(b.path, renameio.WithPermissions(0o644))
	if err != nil {
		return errors.Wrap(err, "create pending data file")
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return errors.Wrap(err, "write data file")
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(err, "replace data file")
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

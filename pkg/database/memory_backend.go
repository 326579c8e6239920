package database

import (
	"context"
)

// MemoryBackend holds the dataset in process memory, for deployments
// without a writable disk. Data is lost when the process exits.
type MemoryBackend struct {
	data Dataset
}

// NewMemoryBackend starts from a copy of seed, or an empty dataset.
func NewMemoryBackend(seed Dataset) *MemoryBackend {
	if seed == nil {
		seed = NewDataset()
	}
	return &MemoryBackend{data: seed.Clone()}
}

func (b *MemoryBackend) Load(ctx context.Context) (Dataset, error) {
	return b.data.Clone(), nil
}

func (b *MemoryBackend) Save(ctx context.Context, d Dataset) error {
	b.data = d.Clone()
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

package database

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
)

const datasetDocument = "dataset"

type document struct {
	Name      string `gorm:"primary_key"`
	Body      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (document) TableName() string {
	return "documents"
}

// SQLBackend keeps the JSON document in a single row of a gorm-managed
// table. It exists for hosts where a database file is easier to back up
// than a loose JSON file; it adds no indexing or transactions.
type SQLBackend struct {
	db *gorm.DB
}

func NewSQLBackend(dialect, dsn string) (*SQLBackend, error) {
	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.AutoMigrate(&document{}).Error; err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate documents table")
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) Load(ctx context.Context) (Dataset, error) {
	var doc document
	err := b.db.Where("name = ?", datasetDocument).First(&doc).Error
	if gorm.IsRecordNotFoundError(err) {
		return NewDataset(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select dataset")
	}
	d, err := decodeDataset([]byte(doc.Body))
	if err != nil {
		return nil, errors.Wrap(err, "decode dataset")
	}
	return d, nil
}

func (b *SQLBackend) Save(ctx context.Context, d Dataset) error {
	data, err := encodeDataset(d)
	if err != nil {
		return errors.Wrap(err, "encode dataset")
	}
	doc := document{Name: datasetDocument, Body: string(data), UpdatedAt: time.Now()}
	if err := b.db.Save(&doc).Error; err != nil {
		return errors.Wrap(err, "save dataset")
	}
	return nil
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}

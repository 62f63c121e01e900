// Package storage defines the record store holding item metadata and vector records.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperjump/docvec/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Storage persists the two records of every item: the metadata record keyed by
// PK and the vector record keyed by item ID. Implementations must be safe for
// concurrent use; they perform no retries.
type Storage interface {
	// NextItemID returns a new, never previously issued item ID.
	NextItemID(ctx context.Context) (int64, error)

	// Metadata records
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, pk string) (*models.Item, error)
	DeleteItem(ctx context.Context, pk string) error
	ListItems(ctx context.Context) ([]*models.Item, error)

	// Vector records
	PutVector(ctx context.Context, rec *models.VectorRecord) error
	GetVector(ctx context.Context, itemID int64) (*models.VectorRecord, error)
	DeleteVector(ctx context.Context, itemID int64) error
	// ListVectors returns the vector records of application ordered by item PK;
	// an empty application returns every record.
	ListVectors(ctx context.Context, application string) ([]*models.VectorRecord, error)
	// SearchVectors returns the k records most similar to query whose
	// application is one of tags, by descending cosine similarity.
	SearchVectors(ctx context.Context, query []float32, tags []string, k int) ([]*models.VectorHit, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// ApplicationValidator is implemented by backends that cannot store every
// application name. Callers check it before writing an item.
type ApplicationValidator interface {
	ValidateApplication(application string) error
}

// Stats counts stored records.
type Stats struct {
	Backend string `json:"backend"`
	Items   int64  `json:"items"`
	Vectors int64  `json:"vectors"`
}

// newPK returns a time-ordered primary key, so lexical PK order is creation order.
func newPK() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate pk: %w", err)
	}
	return id.String(), nil
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
}

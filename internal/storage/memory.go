package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/vector"
)

// MemoryStorage is an in-memory Storage with brute-force similarity search.
// Suitable for tests and ephemeral deployments; nothing survives Close.
type MemoryStorage struct {
	mu      sync.RWMutex
	seq     int64
	items   map[string]*models.Item
	vectors map[int64]*models.VectorRecord
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items:   make(map[string]*models.Item),
		vectors: make(map[int64]*models.VectorRecord),
	}
}

// NextItemID returns the next value of an in-process counter.
func (m *MemoryStorage) NextItemID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

// CreateItem stores a copy of item, assigning its PK and creation time.
func (m *MemoryStorage) CreateItem(ctx context.Context, item *models.Item) error {
	pk, err := newPK()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item.PK = pk
	item.CreatedAt = time.Now().UTC()
	stored := *item
	m.items[pk] = &stored
	return nil
}

// GetItem returns a copy of the metadata record with the given PK.
func (m *MemoryStorage) GetItem(ctx context.Context, pk string) (*models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[pk]
	if !ok {
		return nil, notFound("item", pk)
	}
	out := *item
	return &out, nil
}

// DeleteItem removes a metadata record.
func (m *MemoryStorage) DeleteItem(ctx context.Context, pk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[pk]; !ok {
		return notFound("item", pk)
	}
	delete(m.items, pk)
	return nil
}

// ListItems returns copies of every metadata record ordered by PK.
func (m *MemoryStorage) ListItems(ctx context.Context) ([]*models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*models.Item, 0, len(m.items))
	for _, item := range m.items {
		out := *item
		items = append(items, &out)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PK < items[j].PK })
	return items, nil
}

// PutVector stores a copy of rec, replacing any record for the same item ID.
func (m *MemoryStorage) PutVector(ctx context.Context, rec *models.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[rec.ItemID] = copyVector(rec)
	return nil
}

// GetVector returns a copy of the vector record of itemID.
func (m *MemoryStorage) GetVector(ctx context.Context, itemID int64) (*models.VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.vectors[itemID]
	if !ok {
		return nil, notFound("vector", models.VectorKey(itemID))
	}
	return copyVector(rec), nil
}

// DeleteVector removes the vector record of itemID.
func (m *MemoryStorage) DeleteVector(ctx context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vectors[itemID]; !ok {
		return notFound("vector", models.VectorKey(itemID))
	}
	delete(m.vectors, itemID)
	return nil
}

// ListVectors returns copies of the vector records of application ordered by item PK.
func (m *MemoryStorage) ListVectors(ctx context.Context, application string) ([]*models.VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*models.VectorRecord, 0)
	for _, rec := range m.vectors {
		if application == "" || rec.Application == application {
			recs = append(recs, copyVector(rec))
		}
	}
	sortVectors(recs)
	return recs, nil
}

// SearchVectors ranks every in-scope vector record against query.
func (m *MemoryStorage) SearchVectors(ctx context.Context, query []float32, tags []string, k int) ([]*models.VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranker := vector.NewRanker(query, tags)
	for _, rec := range m.vectors {
		ranker.Offer(copyVector(rec))
	}
	return ranker.TopK(k), nil
}

// Stats returns the number of stored records.
func (m *MemoryStorage) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Stats{Backend: BackendMemory, Items: int64(len(m.items)), Vectors: int64(len(m.vectors))}, nil
}

// Close is a no-op for MemoryStorage.
func (m *MemoryStorage) Close() error {
	return nil
}

func copyVector(rec *models.VectorRecord) *models.VectorRecord {
	out := *rec
	out.Embedding = append([]float32(nil), rec.Embedding...)
	return &out
}

// sortVectors orders records by item PK, falling back to item ID for equal PKs.
func sortVectors(recs []*models.VectorRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ItemPK != recs[j].ItemPK {
			return recs[i].ItemPK < recs[j].ItemPK
		}
		return recs[i].ItemID < recs[j].ItemID
	})
}

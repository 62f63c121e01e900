package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/storage"
)

const testDims = 64

var errInjected = errors.New("injected failure")

// faultyStorage wraps a Storage, counts calls and fails selected operations.
type faultyStorage struct {
	storage.Storage

	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFaultyStorage(inner storage.Storage) *faultyStorage {
	return &faultyStorage{Storage: inner, fail: map[string]error{}, calls: map[string]int{}}
}

func (f *faultyStorage) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *faultyStorage) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = map[string]error{}
}

func (f *faultyStorage) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyStorage) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *faultyStorage) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.fail[op]
}

func (f *faultyStorage) NextItemID(ctx context.Context) (int64, error) {
	if err := f.hit("NextItemID"); err != nil {
		return 0, err
	}
	return f.Storage.NextItemID(ctx)
}

func (f *faultyStorage) CreateItem(ctx context.Context, item *models.Item) error {
	if err := f.hit("CreateItem"); err != nil {
		return err
	}
	return f.Storage.CreateItem(ctx, item)
}

func (f *faultyStorage) GetItem(ctx context.Context, pk string) (*models.Item, error) {
	if err := f.hit("GetItem"); err != nil {
		return nil, err
	}
	return f.Storage.GetItem(ctx, pk)
}

func (f *faultyStorage) DeleteItem(ctx context.Context, pk string) error {
	if err := f.hit("DeleteItem"); err != nil {
		return err
	}
	return f.Storage.DeleteItem(ctx, pk)
}

func (f *faultyStorage) ListItems(ctx context.Context) ([]*models.Item, error) {
	if err := f.hit("ListItems"); err != nil {
		return nil, err
	}
	return f.Storage.ListItems(ctx)
}

func (f *faultyStorage) PutVector(ctx context.Context, rec *models.VectorRecord) error {
	if err := f.hit("PutVector"); err != nil {
		return err
	}
	return f.Storage.PutVector(ctx, rec)
}

func (f *faultyStorage) GetVector(ctx context.Context, itemID int64) (*models.VectorRecord, error) {
	if err := f.hit("GetVector"); err != nil {
		return nil, err
	}
	return f.Storage.GetVector(ctx, itemID)
}

func (f *faultyStorage) DeleteVector(ctx context.Context, itemID int64) error {
	if err := f.hit("DeleteVector"); err != nil {
		return err
	}
	return f.Storage.DeleteVector(ctx, itemID)
}

func (f *faultyStorage) ListVectors(ctx context.Context, application string) ([]*models.VectorRecord, error) {
	if err := f.hit("ListVectors"); err != nil {
		return nil, err
	}
	return f.Storage.ListVectors(ctx, application)
}

func (f *faultyStorage) SearchVectors(ctx context.Context, query []float32, tags []string, k int) ([]*models.VectorHit, error) {
	if err := f.hit("SearchVectors"); err != nil {
		return nil, err
	}
	return f.Storage.SearchVectors(ctx, query, tags, k)
}

// stubEmbedder delegates to the mock embedder unless a hook overrides the result.
type stubEmbedder struct {
	*embedding.MockEmbedder
	calls atomic.Int32
	hook  func(ctx context.Context, text string) ([]float32, error)
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims)}
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.hook != nil {
		return e.hook(ctx, text)
	}
	return e.MockEmbedder.Embed(ctx, text)
}

type fixture struct {
	store    *Store
	storage  *faultyStorage
	embedder *stubEmbedder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, storage.NewMemoryStorage(), opts...)
}

func newSQLiteFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return newFixtureWith(t, st, opts...)
}

func newFixtureWith(t *testing.T, st storage.Storage, opts ...Option) *fixture {
	t.Helper()
	fs := newFaultyStorage(st)
	emb := newStubEmbedder()
	return &fixture{store: New(fs, emb, opts...), storage: fs, embedder: emb}
}

func (f *fixture) mustAdd(t *testing.T, title, text, app string) *models.Item {
	t.Helper()
	item, err := f.store.Add(context.Background(), &models.AddRequest{Title: title, Text: text, Application: app})
	if err != nil {
		t.Fatalf("Add(%q): %v", title, err)
	}
	return item
}

// assertEmpty checks that no record of either kind is left.
func (f *fixture) assertEmpty(t *testing.T) {
	t.Helper()
	st, err := f.storage.Storage.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Items != 0 || st.Vectors != 0 {
		t.Errorf("expected no records, got %d items and %d vectors", st.Items, st.Vectors)
	}
}

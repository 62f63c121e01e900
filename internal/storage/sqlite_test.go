package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docvec/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return newTestSQLite(t)
	})
}

func TestSQLiteStorage_SequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	first, err := store.NextItemID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	store, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	second, err := store.NextItemID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Errorf("item id reissued after reopen: %d then %d", first, second)
	}
}

func TestSQLiteStorage_ItemIDUnique(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	if err := store.CreateItem(ctx, &models.Item{ItemID: 1, Application: "chat", Text: "a", ArticleType: "api"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateItem(ctx, &models.Item{ItemID: 1, Application: "chat", Text: "b", ArticleType: "api"}); err == nil {
		t.Error("expected duplicate item_id to be rejected")
	}
}

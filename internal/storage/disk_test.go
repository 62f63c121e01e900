package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSizes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "docs.db")
	if err := os.WriteFile(base, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(base+"-wal", []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := fileSizes(base, sqliteSidecars...)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("got %d bytes, want 8 (missing -shm counts 0)", got)
	}

	got, err = fileSizes(filepath.Join(dir, "nope.db"), sqliteSidecars...)
	if err != nil || got != 0 {
		t.Errorf("missing files: got %d, %v", got, err)
	}
}

func TestSQLiteStorage_DiskUsageBytes(t *testing.T) {
	store := newTestSQLite(t)
	n, err := store.DiskUsageBytes()
	if err != nil {
		t.Fatal(err)
	}
	if n <= 0 {
		t.Errorf("expected a non-empty database file, got %d bytes", n)
	}
}

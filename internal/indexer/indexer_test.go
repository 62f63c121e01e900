package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docvec/internal/docstore"
	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/quota"
	"github.com/hyperjump/docvec/internal/storage"
)

// recordingAdder keeps every request and fails texts containing failOn.
type recordingAdder struct {
	mu     sync.Mutex
	reqs   []models.AddRequest
	nextID int64
	failOn string
	err    error
}

func (a *recordingAdder) Add(_ context.Context, req *models.AddRequest) (*models.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failOn != "" && strings.Contains(req.Text, a.failOn) {
		return nil, a.err
	}
	a.reqs = append(a.reqs, *req)
	a.nextID++
	return &models.Item{ItemID: a.nextID, Title: req.Title, Text: req.Text, Application: req.Application}, nil
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		if got := extensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestIndexFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"refunds.txt": "  Refunds   take\n\nfive days.  "})
	adder := &recordingAdder{}
	idx := NewIndexer(adder, nil)

	tmpl := models.AddRequest{Application: "demo", ArticleType: "faq", Principal: "ops"}
	items, err := idx.IndexFile(context.Background(), filepath.Join(dir, "refunds.txt"), tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || len(adder.reqs) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	want := models.AddRequest{Title: "refunds.txt", Text: "Refunds take five days.", Application: "demo", ArticleType: "faq", Principal: "ops"}
	if adder.reqs[0] != want {
		t.Errorf("request = %+v, want %+v", adder.reqs[0], want)
	}

	tmpl.Title = "Refund policy"
	if _, err := idx.IndexFile(context.Background(), filepath.Join(dir, "refunds.txt"), tmpl); err != nil {
		t.Fatal(err)
	}
	if adder.reqs[1].Title != "Refund policy" {
		t.Errorf("explicit title ignored: %q", adder.reqs[1].Title)
	}
}

func TestIndexFile_Chunked(t *testing.T) {
	dir := writeFiles(t, map[string]string{"long.md": "one two three four five six seven"})
	adder := &recordingAdder{}
	idx := NewIndexer(adder, nil, WithChunker(NewChunker(3, 1)))

	items, err := idx.IndexFile(context.Background(), filepath.Join(dir, "long.md"), models.AddRequest{Application: "chat"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	wantTitles := []string{"long.md (1/3)", "long.md (2/3)", "long.md (3/3)"}
	wantTexts := []string{"one two three", "three four five", "five six seven"}
	for i, req := range adder.reqs {
		if req.Title != wantTitles[i] || req.Text != wantTexts[i] {
			t.Errorf("chunk %d = %q / %q", i, req.Title, req.Text)
		}
	}
}

func TestIndexFile_Errors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"empty.txt":  " \n\t ",
		"code.go":    "package main",
		"broken.txt": "alpha FAIL omega",
	})
	adder := &recordingAdder{failOn: "FAIL", err: errors.New("store down")}
	idx := NewIndexer(adder, nil, WithExtensions([]string{".txt"}))
	ctx := context.Background()

	if _, err := idx.IndexFile(ctx, filepath.Join(dir, "empty.txt"), models.AddRequest{}); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("empty file: got %v", err)
	}
	if _, err := idx.IndexFile(ctx, filepath.Join(dir, "code.go"), models.AddRequest{}); err == nil {
		t.Error("disallowed extension should fail")
	}
	if _, err := idx.IndexFile(ctx, dir, models.AddRequest{}); err == nil {
		t.Error("directory is not a regular file")
	}
	if _, err := idx.IndexFile(ctx, filepath.Join(dir, "missing.txt"), models.AddRequest{}); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := idx.IndexFile(ctx, filepath.Join(dir, "broken.txt"), models.AddRequest{}); err == nil || !strings.Contains(err.Error(), "store down") {
		t.Errorf("adder error should propagate, got %v", err)
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt":           "alpha",
		"nested/b.md":     "bravo",
		"nested/c.bin":    "charlie",
		".hidden/d.txt":   "delta",
		".e.txt":          "echo",
		"nested/fail.txt": "FAIL",
	})
	adder := &recordingAdder{failOn: "FAIL", err: errors.New("boom")}
	idx := NewIndexer(adder, nil, WithExtensions([]string{"txt", "md"}), WithConcurrency(3))

	report, err := idx.IndexDirectory(context.Background(), dir, models.AddRequest{Title: "ignored", Application: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Files != 2 || len(report.Items) != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failed) != 1 || !strings.HasSuffix(report.Failed[0].Path, "fail.txt") {
		t.Errorf("failed = %v", report.Failed)
	}
	titles := map[string]bool{}
	for _, req := range adder.reqs {
		titles[req.Title] = true
		if req.Application != "demo" {
			t.Errorf("application = %q", req.Application)
		}
	}
	if !reflect.DeepEqual(titles, map[string]bool{"a.txt": true, "b.md": true}) {
		t.Errorf("indexed titles = %v", titles)
	}

	if _, err := idx.IndexDirectory(context.Background(), filepath.Join(dir, "a.txt"), models.AddRequest{}); err == nil {
		t.Error("file is not a directory")
	}
}

func TestIndexDirectory_StopsOnQuota(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo", "c.txt": "charlie"})
	ledger := quota.NewMemoryLedger(quota.Allowances{Default: 1}, time.Hour)
	store := docstore.New(storage.NewMemoryStorage(), embedding.NewMockEmbedder(16),
		docstore.WithQuotaGate(quota.NewGate(ledger, quota.Policy{Add: true}, time.Second)))
	idx := NewIndexer(store, nil)

	report, err := idx.IndexDirectory(context.Background(), dir, models.AddRequest{Application: "demo", Principal: "ops"})
	if !errors.Is(err, docstore.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if report.Files != 1 || len(report.Failed) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestIndexDirectory_IntoStore(t *testing.T) {
	dir := writeFiles(t, map[string]string{"refunds.txt": "refunds take five days", "shipping.md": "shipping takes two weeks"})
	store := docstore.New(storage.NewMemoryStorage(), embedding.NewMockEmbedder(64))
	idx := NewIndexer(store, nil, WithConcurrency(2))
	ctx := context.Background()

	if _, err := idx.IndexDirectory(ctx, dir, models.AddRequest{Application: "demo"}); err != nil {
		t.Fatal(err)
	}
	list, err := store.List(ctx, &models.ListQuery{Application: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if list.Total != 2 {
		t.Fatalf("listed %d items", list.Total)
	}
	resp, err := store.Search(ctx, &models.SearchQuery{Query: "refunds", Tags: []string{"demo"}, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Item.Title != "refunds.txt" {
		t.Errorf("search results = %+v", resp.Results)
	}
}

func TestChunker(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		text          string
		want          []string
	}{
		{"blank", 5, 1, "   \n\t  ", nil},
		{"disabled", 0, 0, "a  b\nc", []string{"a b c"}},
		{"fits", 5, 1, "a b c", []string{"a b c"}},
		{"overlap", 3, 1, "a b c d e f g", []string{"a b c", "c d e", "e f g"}},
		{"uneven tail", 3, 0, "a b c d", []string{"a b c", "d"}},
		{"overlap >= size", 2, 2, "a b c", []string{"a b", "b c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.size, tt.overlap).Chunk(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}

	var nilChunker *Chunker
	if got := nilChunker.Chunk("x  y"); !reflect.DeepEqual(got, []string{"x y"}) {
		t.Errorf("nil chunker: %q", got)
	}
}

func TestPreprocess(t *testing.T) {
	tests := map[string]string{
		"  a  b  ":        "a b",
		"line\r\n\tnext":  "line next",
		"bell\x07ed":      "belled",
		"":                "",
		"\n\n":            "",
	}
	for in, want := range tests {
		if got := Preprocess(in); got != want {
			t.Errorf("Preprocess(%q) = %q, want %q", in, got, want)
		}
	}
}

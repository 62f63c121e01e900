package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/docstore"
	"github.com/hyperjump/docvec/internal/indexer"
	"github.com/hyperjump/docvec/internal/models"
)

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"refunds"}, "refunds"},
		{[]string{"how", "are", "refunds", "processed"}, "how are refunds processed"},
		{[]string{"  padded query "}, "padded query"},
		{[]string{" ", ""}, ""},
	}
	for _, tt := range tests {
		if got := buildSearchQuery(tt.args); got != tt.want {
			t.Errorf("buildSearchQuery(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./test.db"
embedding:
  provider: mock
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	configPath := writeTestConfig(t)
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Embedding.Provider != "mock" || cfg.Embedding.Dimensions != 32 {
		t.Errorf("embedding config = %+v", cfg.Embedding)
	}
}

// writeTestConfig writes a config using a SQLite file and the mock embedder.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  backend: sqlite
  database_path: "./data/docs.db"
embedding:
  provider: mock
  dimensions: 32
ingest:
  debounce: 20ms
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(ctx context.Context, configPath string, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestCommands_AddSearchListDelete(t *testing.T) {
	configPath := writeTestConfig(t)
	ctx := context.Background()

	out, err := execute(ctx, configPath, "add", "--app", "demo", "--title", "Refunds",
		"--text", "refunds are processed within five days", "-o", "json")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var item models.Item
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("add output %q: %v", out, err)
	}
	if item.PK == "" || item.Application != "demo" || item.Title != "Refunds" {
		t.Fatalf("item = %+v", item)
	}
	if _, err := execute(ctx, configPath, "add", "--app", "hidden", "--title", "Hidden",
		"--text", "refunds are processed in the hidden app"); err != nil {
		t.Fatalf("add hidden: %v", err)
	}

	out, err = execute(ctx, configPath, "search", "--app", "demo", "-o", "json", "how", "are", "refunds", "processed")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("search output %q: %v", out, err)
	}
	if resp.Total != 1 || resp.Results[0].Item.PK != item.PK {
		t.Errorf("search results = %+v", resp.Results)
	}

	out, err = execute(ctx, configPath, "search", "--tag", "hidden", "-o", "json", "refunds")
	if err != nil {
		t.Fatalf("search by tag: %v", err)
	}
	resp = models.SearchResponse{}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Item.Application != "hidden" {
		t.Errorf("tag search results = %+v", resp.Results)
	}

	out, err = execute(ctx, configPath, "list", "--app", "demo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.HasPrefix(out, "1 items") || !strings.Contains(out, item.PK) {
		t.Errorf("list output:\n%s", out)
	}

	out, err = execute(ctx, configPath, "delete", item.PK)
	if err != nil || !strings.Contains(out, "deleted "+item.PK) {
		t.Fatalf("delete: %q, %v", out, err)
	}
	_, err = execute(ctx, configPath, "get", item.PK)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("get after delete: %v, want not found", err)
	}
}

func TestCommands_AddFlagValidation(t *testing.T) {
	configPath := writeTestConfig(t)
	ctx := context.Background()
	for name, args := range map[string][]string{
		"no source":     {"add", "--app", "demo"},
		"two sources":   {"add", "--app", "demo", "--text", "x", "--file", "y.txt"},
		"no app":        {"add", "--text", "x"},
		"no title":      {"add", "--app", "demo", "--text", "x"},
		"bad output":    {"add", "--app", "demo", "--text", "x", "-o", "yaml"},
		"missing query": {"search", "--app", "demo"},
	} {
		if _, err := execute(ctx, configPath, args...); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCommands_AddDirectory(t *testing.T) {
	configPath := writeTestConfig(t)
	docs := t.TempDir()
	for name, content := range map[string]string{
		"refunds.txt":  "refunds are processed within five days",
		"shipping.md":  "# Shipping\n\norders ship in two days",
		"image.png":    "\x89PNG\x00\x00",
		".hidden/x.md": "ignored",
	} {
		path := filepath.Join(docs, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(context.Background(), configPath, "add", "--app", "docs", "--dir", docs, "-o", "json")
	if err != nil {
		t.Fatalf("add --dir: %v", err)
	}
	var report struct {
		Files   int            `json:"files"`
		Items   []*models.Item `json:"items"`
		Skipped int            `json:"skipped"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("report %q: %v", out, err)
	}
	if report.Files != 2 || len(report.Items) != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestCommands_WatchInitialSync(t *testing.T) {
	configPath := writeTestConfig(t)
	docs := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(docs, name), []byte("contents of "+name), 0600); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, configPath, "watch", "--app", "docs", docs)
		done <- err
	}()

	statePath := filepath.Join(filepath.Dir(configPath), "data", "sources.yaml")
	deadline := time.Now().Add(10 * time.Second)
	for {
		if sources, err := indexer.OpenSources(statePath); err == nil && sources.Len() == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial sync did not record both files")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	out, err := execute(context.Background(), configPath, "list", "--app", "docs", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var list models.ListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil || list.Total != 2 {
		t.Errorf("list = %+v, err %v", list, err)
	}
}

func TestCommands_ConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etc", "docvec.yaml")
	ctx := context.Background()

	out, err := execute(ctx, path, "config", "init", "--provider", "mock", "--database", "./data/docs.db")
	if err != nil || !strings.Contains(out, "wrote "+path) {
		t.Fatalf("config init: %q, %v", out, err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != config.ProviderMock || cfg.Server.Port != 8080 {
		t.Errorf("loaded config = %+v", cfg)
	}
	if want := filepath.Join(dir, "etc", "data", "docs.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database path = %s, want %s", cfg.Storage.DatabasePath, want)
	}

	if _, err := execute(ctx, path, "config", "init", "--provider", "mock"); err == nil {
		t.Error("init over an existing file should fail without --force")
	}
	if _, err := execute(ctx, path, "config", "init", "--provider", "bogus", "--force"); err == nil {
		t.Error("init should reject an unknown provider")
	}

	// The written file drives the other commands.
	if _, err := execute(ctx, path, "add", "--app", "demo", "--title", "A", "--text", "hello"); err != nil {
		t.Fatalf("add with generated config: %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(context.Background(), writeTestConfig(t), "version")
	if err != nil || !strings.Contains(out, "docvec version dev") {
		t.Errorf("version: %q, %v", out, err)
	}
}

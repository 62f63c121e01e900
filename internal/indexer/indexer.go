// Package indexer ingests files into the document store: it extracts their
// text, optionally splits it into chunks, and adds one item per chunk.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docvec/internal/docstore"
	"github.com/hyperjump/docvec/internal/extract"
	"github.com/hyperjump/docvec/internal/models"
)

// ErrEmptyDocument is returned for files without extractable text.
var ErrEmptyDocument = errors.New("document has no text")

// Adder stores one item. *docstore.Store implements it.
type Adder interface {
	Add(ctx context.Context, req *models.AddRequest) (*models.Item, error)
}

// Indexer turns files into items.
type Indexer struct {
	adder       Adder
	extractor   *extract.Extractor
	chunker     *Chunker
	extensions  []string
	concurrency int
	logger      *zap.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithChunker splits file text into overlapping word windows, one item each.
func WithChunker(c *Chunker) Option {
	return func(idx *Indexer) { idx.chunker = c }
}

// WithExtensions restricts ingestion to files with one of exts (case-insensitive,
// leading dot optional). Without it every file the extractor accepts is ingested.
func WithExtensions(exts []string) Option {
	return func(idx *Indexer) { idx.extensions = exts }
}

// WithConcurrency bounds the number of files ingested at once by IndexDirectory.
func WithConcurrency(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.concurrency = n
		}
	}
}

// NewIndexer returns an Indexer adding items through adder. extractor may be
// nil, in which case a default extractor is used.
func NewIndexer(adder Adder, extractor *extract.Extractor, opts ...Option) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		adder:       adder,
		extractor:   extractor,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexFile adds the text of the file at path. tmpl supplies the application,
// article type and principal of every item; its title defaults to the file's
// base name, suffixed with the chunk position when the text is split.
// Items added before a failing chunk are returned along with the error.
func (idx *Indexer) IndexFile(ctx context.Context, path string, tmpl models.AddRequest) ([]*models.Item, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !idx.Accepts(absPath) {
		return nil, fmt.Errorf("%s: extension %q not allowed", absPath, filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	text, err := idx.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}
	chunks := idx.chunker.Chunk(Preprocess(text))
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", absPath, ErrEmptyDocument)
	}

	title := tmpl.Title
	if title == "" {
		title = filepath.Base(absPath)
	}
	items := make([]*models.Item, 0, len(chunks))
	for i, chunk := range chunks {
		req := tmpl
		req.Text = chunk
		req.Title = title
		if len(chunks) > 1 {
			req.Title = fmt.Sprintf("%s (%d/%d)", title, i+1, len(chunks))
		}
		item, err := idx.adder.Add(ctx, &req)
		if err != nil {
			return items, fmt.Errorf("add %s chunk %d/%d: %w", absPath, i+1, len(chunks), err)
		}
		items = append(items, item)
	}
	idx.logger.Debug("file indexed",
		zap.String("path", absPath), zap.Int("items", len(items)), zap.String("application", tmpl.Application))
	return items, nil
}

// FileError records a file that could not be ingested.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

// Report summarizes an IndexDirectory run.
type Report struct {
	Files   int
	Items   []*models.Item
	Skipped int
	Failed  []FileError
}

// IndexDirectory walks dir recursively, skipping hidden entries and files with
// disallowed extensions, and indexes the rest with IndexFile; titles are always
// the file names. A failing file is recorded in the report and the walk goes
// on, except for quota exhaustion and cancellation, which stop the run.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, tmpl models.AddRequest) (*Report, error) {
	absDir, err := absDirectory(dir)
	if err != nil {
		return nil, err
	}
	paths, skipped, err := idx.collect(absDir)
	report := &Report{Skipped: skipped}
	if err != nil {
		return report, err
	}

	tmpl.Title = ""
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items, err := idx.IndexFile(gctx, path, tmpl)
			mu.Lock()
			defer mu.Unlock()
			report.Items = append(report.Items, items...)
			if err == nil {
				report.Files++
				return nil
			}
			if errors.Is(err, docstore.ErrQuotaExceeded) || gctx.Err() != nil {
				return err
			}
			idx.logger.Warn("file not indexed", zap.String("path", path), zap.Error(err))
			report.Failed = append(report.Failed, FileError{Path: path, Err: err})
			return nil
		})
	}
	err = g.Wait()

	sort.Slice(report.Items, func(i, j int) bool { return report.Items[i].ItemID < report.Items[j].ItemID })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Path < report.Failed[j].Path })
	idx.logger.Info("directory indexed",
		zap.String("dir", absDir),
		zap.Int("files", report.Files),
		zap.Int("items", len(report.Items)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)))
	return report, err
}

// collect returns the regular, accepted, non-hidden files under absDir in
// lexical order, and how many other files it passed over.
func (idx *Indexer) collect(absDir string) (paths []string, skipped int, err error) {
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path != absDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() || !idx.Accepts(path) {
			skipped++
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, skipped, fmt.Errorf("walk %s: %w", absDir, err)
	}
	return paths, skipped, nil
}

func absDirectory(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return "", fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absDir)
	}
	return absDir, nil
}

// Accepts reports whether path has an extension the indexer ingests.
func (idx *Indexer) Accepts(path string) bool {
	ext := filepath.Ext(path)
	if len(idx.extensions) == 0 {
		return idx.extractor.Supports(ext)
	}
	return extensionAllowed(ext, idx.extensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	ext = strings.TrimPrefix(ext, ".")
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docvec/internal/docstore"
	"github.com/hyperjump/docvec/internal/models"
)

// Store is the part of the document store a Syncer writes through.
type Store interface {
	Adder
	Delete(ctx context.Context, pk string) error
}

// Syncer keeps the items built from files in line with the files on disk. A
// changed file gets its new version added before the items of the previous
// version are deleted; a removed file takes its items with it.
type Syncer struct {
	idx     *Indexer
	store   Store
	sources *Sources
	tmpl    models.AddRequest
	logger  *zap.Logger
}

// NewSyncer returns a Syncer ingesting with idx into store. tmpl supplies the
// application, article type and principal of every item; titles are file names.
func NewSyncer(idx *Indexer, store Store, sources *Sources, tmpl models.AddRequest) *Syncer {
	tmpl.Title = ""
	return &Syncer{idx: idx, store: store, sources: sources, tmpl: tmpl, logger: idx.logger}
}

// SyncFile ingests path unless its size and modification time match the
// version already ingested. It reports whether new items were added.
func (s *Syncer) SyncFile(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if errors.Is(err, os.ErrNotExist) {
		_, err := s.RemovePath(ctx, absPath)
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}

	prev, known := s.sources.Get(absPath)
	if known && prev.ModTime == info.ModTime().UnixNano() && prev.Size == info.Size() {
		if len(prev.Stale) == 0 {
			return false, nil
		}
		prev.Stale = s.deleteItems(ctx, prev.Stale)
		return false, s.sources.Put(prev)
	}

	items, err := s.idx.IndexFile(ctx, absPath, s.tmpl)
	if err != nil {
		// Drop the partial new version; the previous one stays searchable.
		if leftover := s.deleteItems(ctx, itemPKs(items)); len(leftover) > 0 {
			s.logger.Error("could not remove partially ingested items",
				zap.String("path", absPath), zap.Strings("item_pks", leftover))
		}
		return false, err
	}

	src := Source{
		Path:    absPath,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
		PKs:     itemPKs(items),
	}
	if known {
		src.Stale = s.deleteItems(ctx, concat(prev.PKs, prev.Stale))
	}
	if err := s.sources.Put(src); err != nil {
		return true, err
	}
	s.logger.Info("file synced", zap.String("path", absPath), zap.Int("items", len(items)), zap.Bool("replaced", known))
	return true, nil
}

// RemovePath deletes the items of path, or of every recorded file under it
// when path is a directory, and returns how many were deleted.
func (s *Syncer) RemovePath(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, p := range s.sources.Under(absPath) {
		src, ok := s.sources.Get(p)
		if !ok {
			continue
		}
		pks := concat(src.PKs, src.Stale)
		failed := s.deleteItems(ctx, pks)
		removed += len(pks) - len(failed)
		if len(failed) == 0 {
			errs = append(errs, s.sources.Remove(p))
			continue
		}
		src.PKs, src.Stale = nil, failed
		errs = append(errs, s.sources.Put(src), fmt.Errorf("%s: %d items not deleted", p, len(failed)))
	}
	if removed > 0 {
		s.logger.Info("removed items of deleted files", zap.String("path", absPath), zap.Int("items", removed))
	}
	return removed, errors.Join(errs...)
}

// SyncReport summarizes a SyncDirectory run.
type SyncReport struct {
	Changed   int
	Unchanged int
	Skipped   int
	Removed   int
	Failed    []FileError
}

// SyncDirectory brings every accepted file under dir up to date and removes
// the items of recorded files that no longer exist there.
func (s *Syncer) SyncDirectory(ctx context.Context, dir string) (*SyncReport, error) {
	absDir, err := absDirectory(dir)
	if err != nil {
		return nil, err
	}
	paths, skipped, err := s.idx.collect(absDir)
	report := &SyncReport{Skipped: skipped}
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.idx.concurrency)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			changed, err := s.SyncFile(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && (errors.Is(err, docstore.ErrQuotaExceeded) || gctx.Err() != nil):
				return err
			case err != nil:
				s.logger.Warn("file not synced", zap.String("path", path), zap.Error(err))
				report.Failed = append(report.Failed, FileError{Path: path, Err: err})
			case changed:
				report.Changed++
			default:
				report.Unchanged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	for _, p := range s.sources.Under(absDir) {
		if present[p] {
			continue
		}
		n, err := s.RemovePath(ctx, p)
		report.Removed += n
		if err != nil {
			report.Failed = append(report.Failed, FileError{Path: p, Err: err})
		}
	}
	return report, nil
}

// FileChanged implements watcher.Handler.
func (s *Syncer) FileChanged(ctx context.Context, path string) {
	if _, err := s.SyncFile(ctx, path); err != nil {
		s.logger.Warn("file not synced", zap.String("path", path), zap.Error(err))
	}
}

// FileRemoved implements watcher.Handler. A path that exists again by the time
// the event is handled, as with editors that save by renaming, is synced instead.
func (s *Syncer) FileRemoved(ctx context.Context, path string) {
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && s.idx.Accepts(path) {
		s.FileChanged(ctx, path)
		return
	}
	if _, err := s.RemovePath(ctx, path); err != nil {
		s.logger.Warn("items of removed file not deleted", zap.String("path", path), zap.Error(err))
	}
}

// deleteItems deletes pks and returns those whose delete failed. Items that
// are already gone count as deleted.
func (s *Syncer) deleteItems(ctx context.Context, pks []string) []string {
	var failed []string
	for _, pk := range pks {
		if err := s.store.Delete(ctx, pk); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			s.logger.Warn("item delete failed", zap.String("item_pk", pk), zap.Error(err))
			failed = append(failed, pk)
		}
	}
	return failed
}

func itemPKs(items []*models.Item) []string {
	pks := make([]string, len(items))
	for i, item := range items {
		pks[i] = item.PK
	}
	return pks
}

func concat(a, b []string) []string {
	return append(append(make([]string, 0, len(a)+len(b)), a...), b...)
}

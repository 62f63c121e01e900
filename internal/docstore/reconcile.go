package docstore

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/storage"
)

// repair outcomes
type outcome int

const (
	repaired outcome = iota
	skipped
	failed
)

// Reconcile scans every record pair and repairs what a crashed or failed
// writer left behind: vector records whose metadata record is gone, metadata
// records older than the grace period with no vector record, and vector
// records whose application disagrees with their metadata record. Each repair
// re-reads both records under the item lock before writing.
func (s *Store) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	var (
		items []*models.Item
		recs  []*models.VectorRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		items, err = s.storage.ListItems(gctx)
		return err
	})
	g.Go(func() (err error) {
		recs, err = s.storage.ListVectors(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, unavailable(err, "scan records")
	}

	report := &models.ReconcileReport{ItemsScanned: len(items), VectorsScanned: len(recs)}
	byPK := make(map[string]*models.Item, len(items))
	for _, item := range items {
		byPK[item.PK] = item
	}
	byID := make(map[int64]*models.VectorRecord, len(recs))
	for _, rec := range recs {
		byID[rec.ItemID] = rec
	}

	tally := func(o outcome, counter *int) {
		switch o {
		case repaired:
			*counter++
		case skipped:
			report.Skipped++
		case failed:
			report.Failures++
		}
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item, ok := byPK[rec.ItemPK]
		switch {
		case !ok || item.ItemID != rec.ItemID:
			tally(s.removeOrphanVector(ctx, rec), &report.OrphanVectorsRemoved)
		case item.Application != rec.Application:
			tally(s.repairScope(ctx, item), &report.ScopeMismatchRepaired)
		}
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if rec, ok := byID[item.ItemID]; ok && rec.ItemPK == item.PK {
			continue
		}
		tally(s.removeOrphanItem(ctx, item), &report.OrphanItemsRemoved)
	}

	s.logger.Info("reconcile finished",
		zap.Int("items_scanned", report.ItemsScanned),
		zap.Int("vectors_scanned", report.VectorsScanned),
		zap.Int("orphan_vectors_removed", report.OrphanVectorsRemoved),
		zap.Int("orphan_items_removed", report.OrphanItemsRemoved),
		zap.Int("scope_mismatch_repaired", report.ScopeMismatchRepaired),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", report.Failures))
	return report, nil
}

func (s *Store) removeOrphanVector(ctx context.Context, seen *models.VectorRecord) outcome {
	unlock := s.locks.lock(seen.ItemID)
	defer unlock()

	rec, err := s.storage.GetVector(ctx, seen.ItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return skipped
	}
	if err != nil {
		return s.repairFailed("read vector record", seen.ItemPK, seen.ItemID, err)
	}
	if rec.ItemPK != seen.ItemPK {
		return skipped
	}
	item, err := s.storage.GetItem(ctx, rec.ItemPK)
	switch {
	case err == nil && item.ItemID == rec.ItemID:
		// Metadata record appeared since the scan.
		return skipped
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return s.repairFailed("read metadata record", rec.ItemPK, rec.ItemID, err)
	}

	if err := s.storage.DeleteVector(ctx, rec.ItemID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return s.repairFailed("delete orphan vector record", rec.ItemPK, rec.ItemID, err)
	}
	s.logger.Warn("removed orphan vector record", zap.String("vector_key", rec.Key()), zap.String("item_pk", rec.ItemPK))
	return repaired
}

func (s *Store) removeOrphanItem(ctx context.Context, seen *models.Item) outcome {
	if s.now().Sub(seen.CreatedAt) < s.gracePeriod {
		// May be an add still in flight in another process.
		return skipped
	}
	unlock := s.locks.lock(seen.ItemID)
	defer unlock()

	if _, err := s.storage.GetItem(ctx, seen.PK); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return skipped
		}
		return s.repairFailed("read metadata record", seen.PK, seen.ItemID, err)
	}
	rec, err := s.storage.GetVector(ctx, seen.ItemID)
	if err == nil && rec.ItemPK == seen.PK {
		return skipped
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return s.repairFailed("read vector record", seen.PK, seen.ItemID, err)
	}

	if err := s.storage.DeleteItem(ctx, seen.PK); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return s.repairFailed("delete orphan metadata record", seen.PK, seen.ItemID, err)
	}
	s.logger.Warn("removed metadata record without vector record", zap.String("item_pk", seen.PK), zap.Int64("item_id", seen.ItemID))
	return repaired
}

// repairScope rewrites the vector record's application from its metadata record.
func (s *Store) repairScope(ctx context.Context, seen *models.Item) outcome {
	unlock := s.locks.lock(seen.ItemID)
	defer unlock()

	item, err := s.storage.GetItem(ctx, seen.PK)
	if errors.Is(err, storage.ErrNotFound) {
		return skipped
	}
	if err != nil {
		return s.repairFailed("read metadata record", seen.PK, seen.ItemID, err)
	}
	rec, err := s.storage.GetVector(ctx, item.ItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return skipped
	}
	if err != nil {
		return s.repairFailed("read vector record", item.PK, item.ItemID, err)
	}
	if rec.ItemPK != item.PK || rec.Application == item.Application {
		return skipped
	}

	was := rec.Application
	rec.Application = item.Application
	if err := s.storage.PutVector(ctx, rec); err != nil {
		return s.repairFailed("rewrite vector record", item.PK, item.ItemID, err)
	}
	s.logger.Warn("repaired vector record scope",
		zap.String("item_pk", item.PK), zap.String("was", was), zap.String("application", item.Application))
	return repaired
}

func (s *Store) repairFailed(step, pk string, itemID int64, err error) outcome {
	s.logger.Error("reconcile repair failed",
		zap.String("step", step), zap.String("item_pk", pk), zap.Int64("item_id", itemID), zap.Error(err))
	return failed
}

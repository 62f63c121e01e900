// Package docstore is the document vector store: it keeps every item's
// metadata record and vector record paired, searches vector records within a
// set of scope tags, and gates operations on the caller's quota.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/quota"
	"github.com/hyperjump/docvec/internal/storage"
	"github.com/hyperjump/docvec/internal/vector"
)

// Store coordinates storage, the embedding provider and the quota gate.
// It is safe for concurrent use.
type Store struct {
	storage  storage.Storage
	embedder embedding.Embedder
	gate     *quota.Gate
	locks    itemLocks
	logger   *zap.Logger
	now      func() time.Time

	dimensions      int
	embedTimeout    time.Duration
	rollbackTimeout time.Duration
	defaultLimit    int
	maxLimit        int
	joinConcurrency int
	gracePeriod     time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQuotaGate sets the quota gate. Without one nothing is gated.
func WithQuotaGate(g *quota.Gate) Option {
	return func(s *Store) { s.gate = g }
}

// WithEmbedTimeout bounds each embedding call; 0 leaves only the caller's deadline.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Store) { s.embedTimeout = d }
}

// WithRollbackTimeout bounds compensating writes, which ignore caller cancellation.
func WithRollbackTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.rollbackTimeout = d
		}
	}
}

// WithSearchLimits sets the default and maximum number of search results.
func WithSearchLimits(defaultLimit, maxLimit int) Option {
	return func(s *Store) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// WithJoinConcurrency bounds concurrent metadata lookups per request.
func WithJoinConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.joinConcurrency = n
		}
	}
}

// WithGracePeriod sets how old a metadata record without a vector record must
// be before Reconcile removes it.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Store) { s.gracePeriod = d }
}

// New returns a Store. Vectors must have the embedder's dimensionality.
func New(st storage.Storage, emb embedding.Embedder, opts ...Option) *Store {
	s := &Store{
		storage:         st,
		embedder:        emb,
		gate:            quota.NewGate(quota.Unlimited{}, quota.Policy{}, 0),
		logger:          zap.NewNop(),
		now:             time.Now,
		dimensions:      emb.Dimensions(),
		rollbackTimeout: 10 * time.Second,
		defaultLimit:    10,
		maxLimit:        100,
		joinConcurrency: 8,
		gracePeriod:     10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores a new item: metadata record first, then its embedding as the
// vector record. If the embedding or the vector write fails, the metadata
// record is removed again; if that removal fails too, a *PartialFailureError
// is returned.
func (s *Store) Add(ctx context.Context, req *models.AddRequest) (*models.Item, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, validationf("text is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, validationf("title is required")
	}
	if v, ok := s.storage.(storage.ApplicationValidator); ok {
		if err := v.ValidateApplication(req.Application); err != nil {
			return nil, validationf("%v", err)
		}
	}
	if err := s.checkQuota(ctx, quota.OpAdd, req.Principal, req.Application); err != nil {
		return nil, err
	}

	itemID, err := s.storage.NextItemID(ctx)
	if err != nil {
		return nil, unavailable(err, "allocate item id")
	}
	unlock := s.locks.lock(itemID)
	defer unlock()

	articleType := req.ArticleType
	if articleType == "" {
		articleType = models.DefaultArticleType
	}
	item := &models.Item{
		ItemID:      itemID,
		Application: req.Application,
		Title:       req.Title,
		Text:        req.Text,
		ArticleType: articleType,
	}
	if err := s.storage.CreateItem(ctx, item); err != nil {
		return nil, unavailable(err, "create metadata record")
	}

	emb, err := s.embed(ctx, req.Text)
	if err != nil {
		return nil, s.rollbackAdd(ctx, item, false, err)
	}

	rec := &models.VectorRecord{
		ItemPK:      item.PK,
		ItemID:      item.ItemID,
		Application: item.Application,
		Embedding:   emb,
	}
	if err := s.storage.PutVector(ctx, rec); err != nil {
		return nil, s.rollbackAdd(ctx, item, true, unavailable(err, "write vector record"))
	}

	_ = s.gate.Record(ctx, quota.OpAdd, req.Principal, req.Application)
	s.logger.Debug("item added",
		zap.String("item_pk", item.PK),
		zap.Int64("item_id", item.ItemID),
		zap.String("application", item.Application))
	return item, nil
}

// rollbackAdd removes the metadata record of a failed add, and the vector
// record too when its write may have landed. It runs detached from ctx's
// cancellation. cause is returned unless a cleanup write fails.
func (s *Store) rollbackAdd(ctx context.Context, item *models.Item, vectorWritten bool, cause error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rollbackTimeout)
	defer cancel()

	var errs []error
	step := "rollback_metadata"
	if vectorWritten {
		if err := s.storage.DeleteVector(rctx, item.ItemID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, err)
			step = "rollback_vector"
		}
	}
	if err := s.storage.DeleteItem(rctx, item.PK); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, err)
		step = "rollback_metadata"
	}
	if len(errs) == 0 {
		s.logger.Debug("add rolled back", zap.String("item_pk", item.PK), zap.Error(cause))
		return cause
	}

	pf := &PartialFailureError{
		Op:     "add",
		PK:     item.PK,
		ItemID: item.ItemID,
		Step:   step,
		Err:    errors.Join(append([]error{cause}, errs...)...),
	}
	s.logPartialFailure(pf)
	return pf
}

// Search embeds the query and returns the most similar items whose
// application is one of q.Tags, best first.
func (s *Store) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if q == nil {
		return nil, validationf("query is required")
	}
	if err := q.Normalize(s.defaultLimit, s.maxLimit); err != nil {
		return nil, newKindError(ErrValidation, err, "invalid search")
	}
	if err := s.checkQuota(ctx, quota.OpSearch, q.Principal, q.App); err != nil {
		return nil, err
	}

	emb, err := s.embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}
	hits, err := s.storage.SearchVectors(ctx, emb, q.Tags, q.Limit)
	if err != nil {
		return nil, unavailable(err, "search vector records")
	}

	recs := make([]*models.VectorRecord, len(hits))
	for i, h := range hits {
		recs[i] = h.Record
	}
	items, err := s.join(ctx, recs, vector.NewTagSet(q.Tags))
	if err != nil {
		return nil, err
	}

	results := make([]*models.SearchResult, 0, len(hits))
	for i, item := range items {
		if item == nil {
			continue
		}
		results = append(results, &models.SearchResult{Item: item, Score: hits[i].Score, Rank: len(results) + 1})
	}

	_ = s.gate.Record(ctx, quota.OpSearch, q.Principal, q.App)
	return &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
		Query:     q.Query,
	}, nil
}

// List returns every item of one application ordered by PK.
func (s *Store) List(ctx context.Context, q *models.ListQuery) (*models.ListResponse, error) {
	if q == nil || q.Application == "" {
		return nil, validationf("application is required")
	}
	if err := s.checkQuota(ctx, quota.OpList, q.Principal, q.Application); err != nil {
		return nil, err
	}

	recs, err := s.storage.ListVectors(ctx, q.Application)
	if err != nil {
		return nil, unavailable(err, "list vector records")
	}
	items, err := s.join(ctx, recs, vector.NewTagSet([]string{q.Application}))
	if err != nil {
		return nil, err
	}
	data := make([]*models.Item, 0, len(items))
	for _, item := range items {
		if item != nil {
			data = append(data, item)
		}
	}

	_ = s.gate.Record(ctx, quota.OpList, q.Principal, q.Application)
	return &models.ListResponse{Total: len(data), Data: data}, nil
}

// Get returns the metadata record with the given PK.
func (s *Store) Get(ctx context.Context, pk string) (*models.Item, error) {
	if pk == "" {
		return nil, validationf("item pk is required")
	}
	item, err := s.storage.GetItem(ctx, pk)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFoundf(err, "item %s", pk)
	}
	if err != nil {
		return nil, unavailable(err, "read metadata record")
	}
	return item, nil
}

// Delete removes both records of the item with the given PK. The vector
// record goes first so a failure between the two writes never leaves a
// searchable vector without metadata.
func (s *Store) Delete(ctx context.Context, pk string) error {
	if pk == "" {
		return validationf("item pk is required")
	}
	item, err := s.storage.GetItem(ctx, pk)
	if errors.Is(err, storage.ErrNotFound) {
		return notFoundf(err, "item %s", pk)
	}
	if err != nil {
		return unavailable(err, "read metadata record")
	}

	unlock := s.locks.lock(item.ItemID)
	defer unlock()

	rec, err := s.storage.GetVector(ctx, item.ItemID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("metadata record has no vector record",
			zap.String("item_pk", pk), zap.Int64("item_id", item.ItemID))
		return notFoundf(err, "vector record of item %s", pk)
	}
	if err != nil {
		return unavailable(err, "read vector record")
	}
	if rec.ItemPK != pk {
		s.logger.Warn("vector record belongs to another item",
			zap.String("item_pk", pk), zap.Int64("item_id", item.ItemID), zap.String("vector_item_pk", rec.ItemPK))
		return notFoundf(nil, "vector record of item %s", pk)
	}

	if err := s.storage.DeleteVector(ctx, item.ItemID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFoundf(err, "vector record of item %s", pk)
		}
		return unavailable(err, "delete vector record")
	}

	// The vector is gone; finish the pair even if the caller goes away.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rollbackTimeout)
	defer cancel()
	if err := s.storage.DeleteItem(dctx, pk); err != nil && !errors.Is(err, storage.ErrNotFound) {
		pf := &PartialFailureError{Op: "delete", PK: pk, ItemID: item.ItemID, Step: "delete_metadata", Err: err}
		s.logPartialFailure(pf)
		return pf
	}

	s.logger.Debug("item deleted", zap.String("item_pk", pk), zap.Int64("item_id", item.ItemID))
	return nil
}

// Stats reports record counts of the underlying storage.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	st, err := s.storage.Stats(ctx)
	if err != nil {
		return nil, unavailable(err, "read storage stats")
	}
	return st, nil
}

// Dimensions returns the embedding dimensionality the store enforces.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// QuotaPolicy returns the operations the quota gate checks.
func (s *Store) QuotaPolicy() quota.Policy {
	return s.gate.Policy()
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, providerFailure(err, "embed text")
	}
	if err := embedding.CheckDimensions(emb, s.dimensions); err != nil {
		return nil, providerFailure(err, "embed text")
	}
	return emb, nil
}

func (s *Store) checkQuota(ctx context.Context, op quota.Op, principal, scope string) error {
	err := s.gate.Check(ctx, op, principal, scope)
	if errors.Is(err, quota.ErrExceeded) {
		return newKindError(ErrQuotaExceeded, nil, "%s allowance exhausted for scope %q", op, scope)
	}
	if err != nil {
		return unavailable(err, "check quota")
	}
	return nil
}

// join looks up the metadata record of each vector record, preserving order.
// Slots stay nil for vector records whose metadata record is missing, belongs
// to a different item, or is outside tags; those are logged and skipped.
func (s *Store) join(ctx context.Context, recs []*models.VectorRecord, tags vector.TagSet) ([]*models.Item, error) {
	items := make([]*models.Item, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.joinConcurrency)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			item, err := s.storage.GetItem(gctx, rec.ItemPK)
			if errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("skipping orphan vector record",
					zap.String("vector_key", rec.Key()), zap.String("item_pk", rec.ItemPK))
				return nil
			}
			if err != nil {
				return unavailable(err, "read metadata record %s", rec.ItemPK)
			}
			if item.ItemID != rec.ItemID {
				s.logger.Warn("skipping vector record pointing at another item",
					zap.String("vector_key", rec.Key()), zap.String("item_pk", rec.ItemPK), zap.Int64("item_id", item.ItemID))
				return nil
			}
			if item.Application != rec.Application || !tags.Contains(item.Application) {
				s.logger.Warn("skipping item with mismatched scope",
					zap.String("item_pk", item.PK),
					zap.String("item_application", item.Application),
					zap.String("vector_application", rec.Application))
				return nil
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) logPartialFailure(pf *PartialFailureError) {
	s.logger.Error("partial failure",
		zap.Bool("partial_failure", true),
		zap.String("op", pf.Op),
		zap.String("item_pk", pf.PK),
		zap.Int64("item_id", pf.ItemID),
		zap.String("step", pf.Step),
		zap.Error(pf.Err))
}

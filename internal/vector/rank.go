package vector

import (
	"sort"

	"github.com/hyperjump/docvec/internal/models"
)

// TagSet is an exact-match membership filter over vector record applications.
type TagSet map[string]struct{}

// NewTagSet builds a TagSet from tags. Empty tags are ignored.
func NewTagSet(tags []string) TagSet {
	set := make(TagSet, len(tags))
	for _, t := range tags {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Contains reports whether application is a member of the set.
func (s TagSet) Contains(application string) bool {
	_, ok := s[application]
	return ok
}

// Ranker accumulates scored vector records and returns the best k.
// Records outside the tag set or without an embedding are ignored.
type Ranker struct {
	query []float32
	tags  TagSet
	hits  []*models.VectorHit
}

// NewRanker returns a Ranker for query restricted to tags.
func NewRanker(query []float32, tags []string) *Ranker {
	return &Ranker{query: query, tags: NewTagSet(tags)}
}

// Offer scores rec against the query if it is in scope and has a comparable embedding.
func (r *Ranker) Offer(rec *models.VectorRecord) {
	if rec == nil || !r.tags.Contains(rec.Application) {
		return
	}
	if len(rec.Embedding) == 0 || len(rec.Embedding) != len(r.query) {
		return
	}
	r.hits = append(r.hits, &models.VectorHit{Record: rec, Score: Cosine(r.query, rec.Embedding)})
}

// TopK returns at most k hits ordered by descending score; equal scores are
// ordered by item PK ascending, which is insertion order for time-ordered PKs.
func (r *Ranker) TopK(k int) []*models.VectorHit {
	if k <= 0 || len(r.hits) == 0 {
		return nil
	}
	SortHits(r.hits)
	if k > len(r.hits) {
		k = len(r.hits)
	}
	return r.hits[:k]
}

// SortHits orders hits by descending score, then item PK ascending.
func SortHits(hits []*models.VectorHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.ItemPK < hits[j].Record.ItemPK
	})
}

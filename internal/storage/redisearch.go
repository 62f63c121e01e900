package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/vector"
)

// ensureIndex creates the vector index over data_vector:* hashes if FT.INFO does not find it.
func (s *RedisStorage) ensureIndex(ctx context.Context) error {
	if _, err := s.client.Do(ctx, "FT.INFO", s.index).Result(); err == nil {
		return nil
	}
	if s.dimensions <= 0 {
		return fmt.Errorf("redisearch mode requires embedding dimensions")
	}
	if _, err := s.client.Do(ctx, indexArgs(s.index, s.dimensions)...).Result(); err != nil {
		return fmt.Errorf("create redisearch index %s: %w", s.index, err)
	}
	return nil
}

// tagSeparator splits TAG values at index time. Applications containing it
// would be indexed as several tags, so ValidateApplication rejects them.
const tagSeparator = ","

// indexArgs builds FT.CREATE. Application tags are case sensitive so the KNN
// prefilter matches scope tags exactly.
func indexArgs(index string, dimensions int) []any {
	return []any{
		"FT.CREATE", index,
		"ON", "HASH",
		"PREFIX", "1", models.VectorKeyPrefix,
		"SCHEMA",
		fieldApplication, "TAG", "SEPARATOR", tagSeparator, "CASESENSITIVE",
		fieldItemPK, "TAG", "CASESENSITIVE",
		fieldOpenAIVector, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", dimensions,
		"DISTANCE_METRIC", "COSINE",
	}
}

// ValidateApplication rejects applications the RediSearch index cannot keep
// as a single tag. Scan mode stores any application.
func (s *RedisStorage) ValidateApplication(application string) error {
	if s.searchMode == SearchModeRediSearch && strings.Contains(application, tagSeparator) {
		return fmt.Errorf("application %q contains %q, which redisearch mode uses as its tag separator", application, tagSeparator)
	}
	return nil
}

func (s *RedisStorage) knnSearch(ctx context.Context, query []float32, tags []string, k int) ([]*models.VectorHit, error) {
	args := []any{"FT.SEARCH", s.index}
	args = append(args, knnArgs(query, tags, k)...)
	reply, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisearch knn query: %w", err)
	}
	hits, err := parseKNNReply(reply)
	if err != nil {
		return nil, err
	}
	vector.SortHits(hits)
	return hits, nil
}

// knnQuery builds the hybrid query restricting KNN candidates to the given applications.
func knnQuery(tags []string, k int) string {
	escaped := make([]string, len(tags))
	for i, t := range tags {
		escaped[i] = tagEscaper.Replace(t)
	}
	return fmt.Sprintf("(@%s:{%s})=>[KNN %d @%s $vec AS score]",
		fieldApplication, strings.Join(escaped, "|"), k, fieldOpenAIVector)
}

func knnArgs(query []float32, tags []string, k int) []any {
	return []any{
		knnQuery(tags, k),
		"PARAMS", "2", "vec", vector.Encode(query),
		"SORTBY", "score",
		"LIMIT", "0", k,
		"RETURN", "4", fieldItemPK, fieldItemID, fieldApplication, "score",
		"DIALECT", "2",
	}
}

// parseKNNReply decodes a RESP2 FT.SEARCH reply: [total, key, [field, value, ...], ...].
// RediSearch reports cosine distance; it is converted back to similarity.
func parseKNNReply(reply any) ([]*models.VectorHit, error) {
	arr, ok := reply.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("unexpected redisearch reply %T", reply)
	}
	var hits []*models.VectorHit
	for i := 1; i+1 < len(arr); i += 2 {
		key, _ := arr[i].(string)
		fields, ok := arr[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected fields for %s", key)
		}
		itemID, ok := models.ParseVectorKey(key)
		if !ok {
			continue
		}
		rec := &models.VectorRecord{ItemID: itemID}
		var distance float64
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			value, _ := fields[j+1].(string)
			switch name {
			case fieldItemPK:
				rec.ItemPK = value
			case fieldApplication:
				rec.Application = value
			case fieldItemID:
				if id, err := strconv.ParseInt(value, 10, 64); err == nil {
					rec.ItemID = id
				}
			case "score":
				d, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: bad score %q", key, value)
				}
				distance = d
			}
		}
		hits = append(hits, &models.VectorHit{Record: rec, Score: 1 - distance})
	}
	return hits, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/vector"
)

// Key layout shared with existing deployments of the docs service.
const (
	redisItemPrefix = ":core.docs_search.entities.ItemEntity:"
	redisSeqKey     = "docs_search:item_id_seq"

	fieldItemPK       = "item_pk"
	fieldItemID       = "item_id"
	fieldApplication  = "application"
	fieldTextVector   = "text_vector"
	fieldOpenAIVector = "openai_text_vector"

	scanBatch = 500
)

// Redis search modes.
const (
	// SearchModeScan ranks in process over SCAN results; works on any Redis.
	SearchModeScan = "scan"
	// SearchModeRediSearch runs KNN queries through a RediSearch vector index.
	SearchModeRediSearch = "redisearch"
)

// RedisOptions configures RedisStorage.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	SearchMode string
	Index      string
	Dimensions int
}

// RedisStorage implements Storage on Redis: metadata records are JSON strings,
// vector records are hashes at data_vector:<item_id>.
type RedisStorage struct {
	client     *goredis.Client
	searchMode string
	index      string
	dimensions int
}

// redisItemEntity is the stored JSON shape of a metadata record.
type redisItemEntity struct {
	PK           string           `json:"pk"`
	ItemID       int64            `json:"item_id"`
	ItemMetadata redisItemMetdata `json:"item_metadata"`
	CreatedAt    time.Time        `json:"created_at"`
}

type redisItemMetdata struct {
	Title       string `json:"title"`
	ArticleType string `json:"article_type"`
	Text        string `json:"text"`
	Application string `json:"application"`
}

// NewRedisStorage connects to Redis and, in redisearch mode, ensures the vector index exists.
func NewRedisStorage(ctx context.Context, opts RedisOptions) (*RedisStorage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		// FT.SEARCH replies are parsed in their RESP2 array form.
		Protocol: 2,
	})
	s, err := newRedisStorage(ctx, client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func newRedisStorage(ctx context.Context, client *goredis.Client, opts RedisOptions) (*RedisStorage, error) {
	s := &RedisStorage{
		client:     client,
		searchMode: opts.SearchMode,
		index:      opts.Index,
		dimensions: opts.Dimensions,
	}
	if s.searchMode == "" {
		s.searchMode = SearchModeScan
	}
	if s.index == "" {
		s.index = "data_vector_idx"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	switch s.searchMode {
	case SearchModeScan:
	case SearchModeRediSearch:
		if err := s.ensureIndex(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown redis search mode %q (supported: scan, redisearch)", s.searchMode)
	}
	return s, nil
}

func itemKey(pk string) string {
	return redisItemPrefix + pk
}

// NextItemID increments the item ID sequence.
func (s *RedisStorage) NextItemID(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, redisSeqKey).Result()
}

// CreateItem stores the metadata record under a fresh PK. SET NX guards against PK reuse.
func (s *RedisStorage) CreateItem(ctx context.Context, item *models.Item) error {
	pk, err := newPK()
	if err != nil {
		return err
	}
	createdAt := time.Now().UTC()
	data, err := json.Marshal(redisItemEntity{
		PK:     pk,
		ItemID: item.ItemID,
		ItemMetadata: redisItemMetdata{
			Title:       item.Title,
			ArticleType: item.ArticleType,
			Text:        item.Text,
			Application: item.Application,
		},
		CreatedAt: createdAt,
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	ok, err := s.client.SetNX(ctx, itemKey(pk), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("item %s already exists", pk)
	}
	item.PK = pk
	item.CreatedAt = createdAt
	return nil
}

// GetItem returns the metadata record with the given PK.
func (s *RedisStorage) GetItem(ctx context.Context, pk string) (*models.Item, error) {
	data, err := s.client.Get(ctx, itemKey(pk)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, notFound("item", pk)
	}
	if err != nil {
		return nil, err
	}
	return decodeItem(data)
}

func decodeItem(data []byte) (*models.Item, error) {
	var e redisItemEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &models.Item{
		PK:          e.PK,
		ItemID:      e.ItemID,
		Application: e.ItemMetadata.Application,
		Title:       e.ItemMetadata.Title,
		Text:        e.ItemMetadata.Text,
		ArticleType: e.ItemMetadata.ArticleType,
		CreatedAt:   e.CreatedAt,
	}, nil
}

// DeleteItem removes the metadata record with the given PK.
func (s *RedisStorage) DeleteItem(ctx context.Context, pk string) error {
	n, err := s.client.Del(ctx, itemKey(pk)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("item", pk)
	}
	return nil
}

// ListItems returns every metadata record ordered by PK.
func (s *RedisStorage) ListItems(ctx context.Context) ([]*models.Item, error) {
	keys, err := s.scanKeys(ctx, redisItemPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	items := make([]*models.Item, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Deleted between SCAN and MGET.
			continue
		}
		item, err := decodeItem([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keys[i], err)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PK < items[j].PK })
	return items, nil
}

// PutVector writes the vector hash of rec.ItemID.
func (s *RedisStorage) PutVector(ctx context.Context, rec *models.VectorRecord) error {
	return s.client.HSet(ctx, rec.Key(), map[string]any{
		fieldItemPK:       rec.ItemPK,
		fieldItemID:       rec.ItemID,
		fieldApplication:  rec.Application,
		fieldTextVector:   []byte{},
		fieldOpenAIVector: vector.Encode(rec.Embedding),
	}).Err()
}

// GetVector returns the vector record of itemID.
func (s *RedisStorage) GetVector(ctx context.Context, itemID int64) (*models.VectorRecord, error) {
	key := models.VectorKey(itemID)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, notFound("vector", key)
	}
	return decodeVector(key, fields)
}

func decodeVector(key string, fields map[string]string) (*models.VectorRecord, error) {
	rec := &models.VectorRecord{
		ItemPK:      fields[fieldItemPK],
		Application: fields[fieldApplication],
	}
	id, err := strconv.ParseInt(fields[fieldItemID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: bad item_id %q", key, fields[fieldItemID])
	}
	rec.ItemID = id
	if rec.Embedding, err = vector.Decode([]byte(fields[fieldOpenAIVector])); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return rec, nil
}

// DeleteVector removes the vector hash of itemID.
func (s *RedisStorage) DeleteVector(ctx context.Context, itemID int64) error {
	key := models.VectorKey(itemID)
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("vector", key)
	}
	return nil
}

// ListVectors returns the vector records of application ordered by item PK.
func (s *RedisStorage) ListVectors(ctx context.Context, application string) ([]*models.VectorRecord, error) {
	recs, err := s.loadVectors(ctx, func(rec *models.VectorRecord) bool {
		return application == "" || rec.Application == application
	})
	if err != nil {
		return nil, err
	}
	sortVectors(recs)
	return recs, nil
}

// SearchVectors ranks in-scope vector records against query using the configured search mode.
func (s *RedisStorage) SearchVectors(ctx context.Context, query []float32, tags []string, k int) ([]*models.VectorHit, error) {
	if len(tags) == 0 || k <= 0 {
		return nil, nil
	}
	if s.searchMode == SearchModeRediSearch {
		return s.knnSearch(ctx, query, tags, k)
	}
	set := vector.NewTagSet(tags)
	recs, err := s.loadVectors(ctx, func(rec *models.VectorRecord) bool {
		return set.Contains(rec.Application)
	})
	if err != nil {
		return nil, err
	}
	ranker := vector.NewRanker(query, tags)
	for _, rec := range recs {
		ranker.Offer(rec)
	}
	return ranker.TopK(k), nil
}

// loadVectors scans every vector hash and returns the ones keep accepts.
func (s *RedisStorage) loadVectors(ctx context.Context, keep func(*models.VectorRecord) bool) ([]*models.VectorRecord, error) {
	keys, err := s.scanKeys(ctx, models.VectorKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var valid []string
	for _, key := range keys {
		if _, ok := models.ParseVectorKey(key); ok {
			valid = append(valid, key)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(valid))
	for i, key := range valid {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	recs := make([]*models.VectorRecord, 0, len(valid))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeVector(valid[i], fields)
		if err != nil {
			return nil, err
		}
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *RedisStorage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Stats counts metadata and vector records.
func (s *RedisStorage) Stats(ctx context.Context) (*Stats, error) {
	items, err := s.scanKeys(ctx, redisItemPrefix+"*")
	if err != nil {
		return nil, err
	}
	vecKeys, err := s.scanKeys(ctx, models.VectorKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var vectors int64
	for _, k := range vecKeys {
		if _, ok := models.ParseVectorKey(k); ok {
			vectors++
		}
	}
	return &Stats{Backend: BackendRedis, Items: int64(len(items)), Vectors: vectors}, nil
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// tagEscaper escapes the characters RediSearch treats as separators inside a TAG query.
var tagEscaper = strings.NewReplacer(
	`\`, `\\`, ",", `\,`, ".", `\.`, "<", `\<`, ">", `\>`, "{", `\{`, "}", `\}`,
	"[", `\[`, "]", `\]`, `"`, `\"`, "'", `\'`, ":", `\:`, ";", `\;`, "!", `\!`,
	"@", `\@`, "#", `\#`, "$", `\$`, "%", `\%`, "^", `\^`, "&", `\&`, "*", `\*`,
	"(", `\(`, ")", `\)`, "-", `\-`, "+", `\+`, "=", `\=`, "~", `\~`, "|", `\|`,
	" ", `\ `, "/", `\/`,
)

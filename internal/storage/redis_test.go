package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/vector"
)

func newTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := NewRedisStorage(context.Background(), RedisOptions{Addr: mr.Addr(), SearchMode: SearchModeScan})
	if err != nil {
		t.Fatalf("NewRedisStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		store, _ := newTestRedis(t)
		return store
	})
}

func TestRedisStorage_KeyLayout(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	id, err := store.NextItemID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	item := &models.Item{ItemID: id, Application: "chat", Title: "Refunds", Text: "How refunds work", ArticleType: "api"}
	if err := store.CreateItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := store.PutVector(ctx, &models.VectorRecord{ItemPK: item.PK, ItemID: id, Application: "chat", Embedding: []float32{1, 2}}); err != nil {
		t.Fatal(err)
	}

	raw, err := mr.Get(":core.docs_search.entities.ItemEntity:" + item.PK)
	if err != nil {
		t.Fatalf("metadata key missing: %v", err)
	}
	var entity struct {
		PK           string `json:"pk"`
		ItemID       int64  `json:"item_id"`
		ItemMetadata struct {
			Title       string `json:"title"`
			ArticleType string `json:"article_type"`
			Text        string `json:"text"`
			Application string `json:"application"`
		} `json:"item_metadata"`
	}
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		t.Fatal(err)
	}
	if entity.PK != item.PK || entity.ItemID != id || entity.ItemMetadata.Application != "chat" || entity.ItemMetadata.Title != "Refunds" {
		t.Errorf("entity = %+v", entity)
	}

	key := models.VectorKey(id)
	if got := mr.HGet(key, "item_pk"); got != item.PK {
		t.Errorf("item_pk = %q", got)
	}
	if got := mr.HGet(key, "application"); got != "chat" {
		t.Errorf("application = %q", got)
	}
	if got := mr.HGet(key, "text_vector"); got != "" {
		t.Errorf("text_vector should be empty, got %q", got)
	}
	if got := mr.HGet(key, "openai_text_vector"); len(got) != 8 {
		t.Errorf("openai_text_vector should hold 2 float32s, got %d bytes", len(got))
	}
}

func TestRedisStorage_IgnoresForeignVectorKeys(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()
	mr.HSet("data_vector:not-a-number", "item_pk", "x")
	if err := store.PutVector(ctx, &models.VectorRecord{ItemPK: "p", ItemID: 1, Application: "chat", Embedding: []float32{1}}); err != nil {
		t.Fatal(err)
	}
	recs, err := store.ListVectors(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestRedisStorage_UnknownSearchMode(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := NewRedisStorage(context.Background(), RedisOptions{Addr: mr.Addr(), SearchMode: "bogus"}); err == nil {
		t.Error("expected error for unknown search mode")
	}
}

func TestKNNQuery(t *testing.T) {
	got := knnQuery([]string{"demo", "my-app", "a b"}, 5)
	want := `(@application:{demo|my\-app|a\ b})=>[KNN 5 @openai_text_vector $vec AS score]`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	args := knnArgs([]float32{1, 2}, []string{"chat"}, 3)
	joined := make([]string, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok {
			joined = append(joined, s)
		}
	}
	s := strings.Join(joined, " ")
	for _, part := range []string{"PARAMS 2 vec", "SORTBY score", "DIALECT 2"} {
		if !strings.Contains(s, part) {
			t.Errorf("args missing %q: %s", part, s)
		}
	}
	if b, ok := args[4].([]byte); !ok || len(b) != 8 {
		t.Errorf("vec param = %v", args[4])
	}
}

func TestIndexArgs(t *testing.T) {
	args := indexArgs("docs_idx", 4)
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	s := strings.Join(parts, " ")
	for _, want := range []string{
		"FT.CREATE docs_idx ON HASH PREFIX 1 " + models.VectorKeyPrefix,
		"application TAG SEPARATOR , CASESENSITIVE",
		"item_pk TAG CASESENSITIVE",
		"TYPE FLOAT32 DIM 4 DISTANCE_METRIC COSINE",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("FT.CREATE args missing %q:\n%s", want, s)
		}
	}
}

func TestRedisStorage_ValidateApplication(t *testing.T) {
	knn := &RedisStorage{searchMode: SearchModeRediSearch}
	for _, app := range []string{"demo", "Demo", "a|b", "my app", ""} {
		if err := knn.ValidateApplication(app); err != nil {
			t.Errorf("redisearch ValidateApplication(%q): %v", app, err)
		}
	}
	if err := knn.ValidateApplication("a,b"); err == nil {
		t.Error("redisearch mode must reject the tag separator")
	}

	scan, _ := newTestRedis(t)
	if err := scan.ValidateApplication("a,b"); err != nil {
		t.Errorf("scan mode stores any application: %v", err)
	}
	var _ ApplicationValidator = scan
}

func TestParseKNNReply(t *testing.T) {
	reply := []any{
		int64(3),
		"data_vector:2", []any{"item_pk", "pk-b", "item_id", "2", "application", "chat", "score", "0.25"},
		"data_vector:1", []any{"item_pk", "pk-a", "item_id", "1", "application", "demo", "score", "0.25"},
		"data_vector:seq", []any{"score", "0"},
	}
	hits, err := parseKNNReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	vector.SortHits(hits)
	if hits[0].Record.ItemPK != "pk-a" || hits[1].Record.ItemPK != "pk-b" {
		t.Errorf("tie should break by pk: %s, %s", hits[0].Record.ItemPK, hits[1].Record.ItemPK)
	}
	if math.Abs(hits[0].Score-0.75) > 1e-9 {
		t.Errorf("score = %v, want 0.75", hits[0].Score)
	}
	if hits[1].Record.ItemID != 2 || hits[1].Record.Application != "chat" {
		t.Errorf("record = %+v", hits[1].Record)
	}

	if _, err := parseKNNReply("nope"); err == nil {
		t.Error("expected error for malformed reply")
	}
}

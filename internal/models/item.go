// Package models defines core data structures for items, vector records, queries, and results.
package models

import (
	"strconv"
	"strings"
	"time"
)

// DefaultArticleType is the article type of items added programmatically.
const DefaultArticleType = "api"

// VectorKeyPrefix prefixes every vector record key.
const VectorKeyPrefix = "data_vector:"

// Item is the metadata record of a stored document.
type Item struct {
	PK          string    `json:"item_pk"`
	ItemID      int64     `json:"item_id"`
	Application string    `json:"application"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	ArticleType string    `json:"article_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// VectorRecord holds an item's embedding plus the routing fields search filters on.
// ItemPK points back at the owning Item; it does not own it.
type VectorRecord struct {
	ItemPK      string    `json:"item_pk"`
	ItemID      int64     `json:"item_id"`
	Application string    `json:"application"`
	Embedding   []float32 `json:"-"`
}

// Key returns the vector record key for the record's item.
func (v *VectorRecord) Key() string {
	return VectorKey(v.ItemID)
}

// VectorKey derives the vector record key from an item ID.
func VectorKey(itemID int64) string {
	return VectorKeyPrefix + strconv.FormatInt(itemID, 10)
}

// ParseVectorKey returns the item ID encoded in a vector record key.
func ParseVectorKey(key string) (int64, bool) {
	if !strings.HasPrefix(key, VectorKeyPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(key, VectorKeyPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AddRequest is the input for adding an item.
type AddRequest struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	Application string `json:"app_key"`
	ArticleType string `json:"article_type,omitempty"`
	Principal   string `json:"-"`
}

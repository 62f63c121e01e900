package models

import (
	"fmt"
	"strings"
)

// SearchQuery is a similarity search restricted to a set of scope tags.
// App is the scope key the quota ledger is consulted with.
type SearchQuery struct {
	Query     string   `json:"query"`
	Tags      []string `json:"tags,omitempty"`
	App       string   `json:"app_key,omitempty"`
	Principal string   `json:"-"`
	Limit     int      `json:"limit,omitempty"`
}

// Normalize validates the query, de-duplicates tags and clamps the limit to
// (0, maxLimit], using defaultLimit when unset.
func (q *SearchQuery) Normalize(defaultLimit, maxLimit int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	q.Tags = NormalizeTags(q.Tags)
	if len(q.Tags) == 0 {
		return fmt.Errorf("at least one scope tag is required")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}

// NormalizeTags drops empty tags and removes duplicates, keeping first-seen order.
// Tags are otherwise kept verbatim; scope membership is exact.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ListQuery selects every item of one application.
type ListQuery struct {
	Application string `json:"app_key"`
	Principal   string `json:"-"`
}

// ScopeTags composes the tags a search may match: base plus app, or only app
// in plugin mode.
func ScopeTags(base []string, app string, pluginMode bool) []string {
	if pluginMode {
		return NormalizeTags([]string{app})
	}
	tags := make([]string, 0, len(base)+1)
	tags = append(tags, base...)
	return NormalizeTags(append(tags, app))
}

// Package cli formats store responses for the docvec command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/docvec/internal/indexer"
	"github.com/hyperjump/docvec/internal/models"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q: use text or json", s)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, result := range response.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | App: %s\n", result.Rank, result.Score, result.Item.Application)
		writeItemBody(w, result.Item, 200)
	}
	return nil
}

// WriteItems writes a list response: a table of items in text form.
func WriteItems(w io.Writer, response *models.ListResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "%d items\n", response.Total)
	for _, item := range response.Data {
		fmt.Fprintf(w, "%-36s  %6d  %-10s  %s\n", item.PK, item.ItemID, item.ArticleType, TruncateWords(item.Title, 8))
	}
	return nil
}

// WriteItem writes one item with its full text.
func WriteItem(w io.Writer, item *models.Item, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, item)
	}
	fmt.Fprintf(w, "App: %s | Type: %s | Created: %s\n", item.Application, item.ArticleType, item.CreatedAt.Format("2006-01-02 15:04:05"))
	writeItemBody(w, item, 0)
	return nil
}

func writeItemBody(w io.Writer, item *models.Item, maxLen int) {
	fmt.Fprintf(w, "PK: %s (item %d)\n", item.PK, item.ItemID)
	if item.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", item.Title)
	}
	fmt.Fprintf(w, "\n%s\n\n", Truncate(item.Text, maxLen))
}

// WriteReconcileReport writes the outcome of a reconcile sweep.
func WriteReconcileReport(w io.Writer, r *models.ReconcileReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Scanned %d metadata records and %d vector records\n", r.ItemsScanned, r.VectorsScanned)
	fmt.Fprintf(w, "  orphan vector records removed:   %d\n", r.OrphanVectorsRemoved)
	fmt.Fprintf(w, "  orphan metadata records removed: %d\n", r.OrphanItemsRemoved)
	fmt.Fprintf(w, "  scope mismatches repaired:       %d\n", r.ScopeMismatchRepaired)
	fmt.Fprintf(w, "  skipped: %d  failures: %d\n", r.Skipped, r.Failures)
	return nil
}

// WriteIndexReport writes the outcome of a directory ingest.
func WriteIndexReport(w io.Writer, r *indexer.Report, format OutputFormat) error {
	if format == OutputJSON {
		failed := make([]map[string]string, 0, len(r.Failed))
		for _, f := range r.Failed {
			failed = append(failed, map[string]string{"path": f.Path, "error": f.Err.Error()})
		}
		return writeJSON(w, map[string]interface{}{
			"files":   r.Files,
			"items":   r.Items,
			"skipped": r.Skipped,
			"failed":  failed,
		})
	}
	fmt.Fprintf(w, "Indexed %d files into %d items (%d skipped, %d failed)\n", r.Files, len(r.Items), r.Skipped, len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  failed: %s\n", f.Error())
	}
	return nil
}

// WriteSyncReport writes the outcome of a directory sync.
func WriteSyncReport(w io.Writer, dir string, r *indexer.SyncReport) {
	fmt.Fprintf(w, "%s: %d changed, %d unchanged, %d skipped, %d items removed, %d failed\n",
		dir, r.Changed, r.Unchanged, r.Skipped, r.Removed, len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  failed: %s\n", f.Error())
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen bytes on a rune boundary and appends "..."
// if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxLen {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

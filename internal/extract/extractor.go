// Package extract turns document files into plain text for ingestion.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for content no registered format can read.
var ErrUnsupported = errors.New("unsupported document format")

// ErrTooLarge is returned for files over the extractor's size limit.
var ErrTooLarge = errors.New("document too large")

// Func extracts the text of one document held in memory.
type Func func(content []byte) (string, error)

// Extractor maps file extensions to extraction functions.
type Extractor struct {
	formats  map[string]Func
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes rejects files larger than n bytes; n <= 0 means no limit.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// WithFormat registers or replaces the extraction function for ext.
func WithFormat(ext string, fn Func) Option {
	return func(e *Extractor) { e.formats[normalizeExt(ext)] = fn }
}

// NewExtractor returns an Extractor that knows plain text, PDF, Office Open XML
// (docx, xlsx, pptx) and OpenDocument (odt, ods, odp) files.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{formats: map[string]Func{
		".txt":  extractPlain,
		".md":   extractPlain,
		".rst":  extractPlain,
		".pdf":  extractPDF,
		".docx": extractDOCX,
		".xlsx": extractExcel,
		".pptx": extractPPTX,
		".odt":  extractOpenDocument,
		".ods":  extractOpenDocument,
		".odp":  extractOpenDocument,
	}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if e.maxBytes > 0 {
		r = io.LimitReader(f, e.maxBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if e.maxBytes > 0 && int64(len(content)) > e.maxBytes {
		return "", fmt.Errorf("%s: %w (limit %d bytes)", path, ErrTooLarge, e.maxBytes)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content according to ext, which may omit the
// leading dot. Content with an unknown extension is accepted only when it
// looks like UTF-8 text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := e.formats[normalizeExt(ext)]; ok {
		return fn(content)
	}
	if looksLikeText(content) {
		return string(content), nil
	}
	return "", fmt.Errorf("%q: %w", ext, ErrUnsupported)
}

// Supports reports whether ext has a registered format.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.formats[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.formats))
	for ext := range e.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func looksLikeText(content []byte) bool {
	return utf8.Valid(content) && !bytes.ContainsRune(content, 0)
}

// extractPlain returns content as a string, replacing invalid UTF-8 sequences.
func extractPlain(content []byte) (string, error) {
	if utf8.Valid(content) {
		return string(content), nil
	}
	return strings.ToValidUTF8(string(content), "\uFFFD"), nil
}

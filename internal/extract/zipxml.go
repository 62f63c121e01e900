package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

// openZip opens an OOXML or OpenDocument package.
func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readPart returns the named entry, or nil if the package has none.
func readPart(zr *zip.Reader, name, format string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract %s: open %s: %w", format, name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("extract %s: read %s: %w", format, name, err)
		}
		return data, nil
	}
	return nil, nil
}

// textRuns appends the first submatch of every match of re in document order,
// unescaping XML entities and skipping blank runs.
func textRuns(b *strings.Builder, xml []byte, re *regexp.Regexp) {
	for _, m := range re.FindAllSubmatch(xml, -1) {
		run := strings.TrimSpace(html.UnescapeString(string(m[1])))
		if run == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(run)
	}
}

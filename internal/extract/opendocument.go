package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const openDocumentContentPart = "content.xml"

// Paragraphs, headings and spans without nested markup, in document order.
var openDocumentText = regexp.MustCompile(`<text:(?:p|h|span)(?:\s[^>]*)?>([^<]*)</text:(?:p|h|span)>`)

// extractOpenDocument reads content.xml of an OpenDocument text, spreadsheet or
// presentation package.
func extractOpenDocument(content []byte) (string, error) {
	zr, err := openZip(content, "OpenDocument")
	if err != nil {
		return "", err
	}
	xml, err := readPart(zr, openDocumentContentPart, "OpenDocument")
	if err != nil {
		return "", err
	}
	if xml == nil {
		return "", fmt.Errorf("extract OpenDocument: %s not found", openDocumentContentPart)
	}
	var b strings.Builder
	textRuns(&b, xml, openDocumentText)
	return b.String(), nil
}

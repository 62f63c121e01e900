package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPart = "[Content_Types].xml"
	docxDefaultPart  = "word/document.xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	wordText  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	slideText = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

	// Override elements list PartName and ContentType in either order.
	overrideElem = regexp.MustCompile(`<Override\s[^>]*>`)
	partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)
)

// extractDOCX returns the text runs of a Word document's main part, located
// through [Content_Types].xml when the package declares it.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	part, err := docxMainPart(zr)
	if err != nil {
		return "", err
	}
	body, err := readPart(zr, part, "DOCX")
	if err != nil {
		return "", err
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	var b strings.Builder
	textRuns(&b, body, wordText)
	return b.String(), nil
}

func docxMainPart(zr *zip.Reader) (string, error) {
	types, err := readPart(zr, contentTypesPart, "DOCX")
	if err != nil || types == nil {
		return docxDefaultPart, err
	}
	for _, elem := range overrideElem.FindAll(types, -1) {
		if !strings.Contains(string(elem), `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := partNameAttr.FindSubmatch(elem); m != nil {
			return strings.TrimPrefix(string(m[1]), "/"), nil
		}
	}
	return docxDefaultPart, nil
}

// extractPPTX returns the text runs of every slide, in slide number order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var b strings.Builder
	for _, s := range slides {
		xml, err := readPart(zr, s.name, "PPTX")
		if err != nil {
			return "", err
		}
		textRuns(&b, xml, slideText)
	}
	return b.String(), nil
}

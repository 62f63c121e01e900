package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipOf builds a package with the given entries, in order.
func zipOf(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(e[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wordBody(runs string) string {
	return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p w:rsidR="00AB">` + runs + `</w:p></w:body></w:document>`
}

func slide(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestExtractBytes_Plain(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
	}{
		{"txt", "Hello world\nLine 2", ".txt", "Hello world\nLine 2"},
		{"utf8", "caf\xc3\xa9", ".md", "café"},
		{"invalid utf8", "hello\x80world", ".rst", "hello�world"},
		{"ext without dot", "plain", "TXT", "plain"},
		{"unknown ext, text content", "raw content", ".xyz", "raw content"},
		{"no ext", "readme", "", "readme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_UnknownBinary(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte{0x89, 'P', 'N', 'G', 0, 0}, ".png")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestExtractBytes_Excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetCellValue("Sheet1", "A1", "Title")
	_ = f.SetCellValue("Sheet1", "A2", "Value 1")
	_ = f.SetCellValue("Sheet1", "B2", "Value 2")
	_ = f.SetCellValue("Sheet1", "A4", "After gap")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Title\nValue 1\tValue 2\nAfter gap" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_DOCX(t *testing.T) {
	e := NewExtractor()

	t.Run("default part", func(t *testing.T) {
		content := zipOf(t, [2]string{"word/document.xml", wordBody(`<w:r><w:t>Searchable</w:t></w:r><w:r><w:t xml:space="preserve"> docx &amp; more </w:t></w:r><w:r><w:tab/></w:r>`)})
		got, err := e.ExtractBytes(content, ".docx")
		if err != nil {
			t.Fatalf("ExtractBytes: %v", err)
		}
		if got != "Searchable docx & more" {
			t.Errorf("got %q", got)
		}
	})

	for _, override := range []string{
		`<Override PartName="/word/document2.xml" ContentType="` + docxMainType + `"/>`,
		`<Override ContentType="` + docxMainType + `" PartName="/word/document2.xml"/>`,
	} {
		t.Run("content types "+override[10:18], func(t *testing.T) {
			content := zipOf(t,
				[2]string{"[Content_Types].xml", `<Types><Override PartName="/docProps/core.xml" ContentType="application/xml"/>` + override + `</Types>`},
				[2]string{"word/document2.xml", wordBody(`<w:r><w:t>From document2</w:t></w:r>`)},
			)
			got, err := e.ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "From document2" {
				t.Errorf("got %q", got)
			}
		})
	}

	t.Run("missing part", func(t *testing.T) {
		if _, err := e.ExtractBytes(zipOf(t, [2]string{"other.xml", ""}), ".docx"); err == nil {
			t.Error("expected error when the main part is missing")
		}
	})
}

func TestExtractBytes_PPTX(t *testing.T) {
	e := NewExtractor()
	// Zip order differs from slide order; slide10 must sort after slide2.
	content := zipOf(t,
		[2]string{"ppt/slides/slide10.xml", slide("Tenth")},
		[2]string{"ppt/slides/slide2.xml", slide("Second")},
		[2]string{"ppt/slides/slide1.xml", slide("First")},
		[2]string{"ppt/slides/_rels/slide1.xml.rels", "<a:t>ignored</a:t>"},
	)
	got, err := e.ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "First Second Tenth" {
		t.Errorf("got %q", got)
	}

	empty, err := e.ExtractBytes(zipOf(t, [2]string{"docProps/core.xml", ""}), ".pptx")
	if err != nil || empty != "" {
		t.Errorf("deck without slides: %q, %v", empty, err)
	}
	if _, err := e.ExtractBytes([]byte("not a zip"), ".pptx"); err == nil {
		t.Error("expected error for invalid pptx")
	}
}

func TestExtractBytes_OpenDocument(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		ext  string
		xml  string
		want string
	}{
		{".odp", `<office:body><draw:page><text:h text:outline-level="1">Slide title</text:h><text:p>Body text</text:p></draw:page></office:body>`, "Slide title Body text"},
		{".ods", `<table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:p><text:span>Cell B</text:span></text:p></table:table-cell></table:table-row>`, "Cell A Cell B"},
		{".odt", `<office:text><text:p text:style-name="P1">Fish &amp; chips</text:p><text:p/></office:text>`, "Fish & chips"},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := e.ExtractBytes(zipOf(t, [2]string{"content.xml", `<office:document>` + tt.xml + `</office:document>`}), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := e.ExtractBytes(zipOf(t, [2]string{"other.xml", ""}), ".ods"); err == nil {
		t.Error("expected error when content.xml is missing")
	}
}

func TestExtractBytes_InvalidPDF(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("%PDF-1.4 truncated"), ".pdf"); err == nil {
		t.Error("expected error for a broken PDF")
	}
}

func TestExtract_Files(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, content []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}
	e := NewExtractor()

	got, err := e.Extract(write("notes.TXT", []byte("File content")))
	if err != nil || got != "File content" {
		t.Errorf("txt: %q, %v", got, err)
	}
	got, err = e.Extract(write("deck.pptx", zipOf(t, [2]string{"ppt/slides/slide1.xml", slide("From file")})))
	if err != nil || got != "From file" {
		t.Errorf("pptx: %q, %v", got, err)
	}

	sheet := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(sheet); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	_ = f.Close()
	got, err = e.Extract(sheet)
	if err != nil || got != "Searchable text" {
		t.Errorf("xlsx: %q, %v", got, err)
	}

	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExtract_MaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), 11), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewExtractor(WithMaxBytes(10)).Extract(path); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if got, err := NewExtractor(WithMaxBytes(11)).Extract(path); err != nil || len(got) != 11 {
		t.Errorf("at limit: %d bytes, %v", len(got), err)
	}
}

func TestExtractor_Formats(t *testing.T) {
	e := NewExtractor(WithFormat("CSV", func(b []byte) (string, error) { return "csv:" + string(b), nil }))
	if !e.Supports(".csv") || !e.Supports("pdf") || e.Supports(".png") {
		t.Error("Supports mismatch")
	}
	got, _ := e.ExtractBytes([]byte("a,b"), ".csv")
	if got != "csv:a,b" {
		t.Errorf("custom format: %q", got)
	}
	want := []string{".csv", ".docx", ".md", ".odp", ".ods", ".odt", ".pdf", ".pptx", ".rst", ".txt", ".xlsx"}
	if !reflect.DeepEqual(e.Extensions(), want) {
		t.Errorf("Extensions() = %v", e.Extensions())
	}
}

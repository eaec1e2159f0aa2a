package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPDFLoader_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := PDFLoader{}.Load(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "file not found") {
		t.Errorf("error should mention file not found: %v", err)
	}
}

func TestPDFLoader_CorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\nthis is not really a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	pages, err := PDFLoader{}.Load(context.Background(), path)
	if err == nil {
		t.Fatalf("expected error for corrupt PDF, got %d pages", len(pages))
	}
}

// buildPDF writes a minimal PDF with one Helvetica text line per page. An
// empty string produces a page without a content stream.
func buildPDF(pages ...string) []byte {
	kids := make([]string, 0, len(pages))
	// 1 catalog, 2 page tree, 3 font; page objects follow.
	next := 4
	var pageObjs []string
	for _, text := range pages {
		pageNum := next
		next++
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
		page := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >>"
		if text == "" {
			pageObjs = append(pageObjs, page+" >>")
			continue
		}
		contentNum := next
		next++
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		pageObjs = append(pageObjs,
			fmt.Sprintf("%s /Contents %d 0 R >>", page, contentNum),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}
	objs := append([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}, pageObjs...)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestPDFLoader_ExtractsPages(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lesson.pdf")
	content := buildPDF("Recursion is a function calling itself.", "Second page about stacks.", "")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	pages, err := PDFLoader{}.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []Page{
		{Number: 1, Text: "Recursion is a function calling itself."},
		{Number: 2, Text: "Second page about stacks."},
	}
	if len(pages) != len(want) {
		t.Fatalf("got %d pages, want %d (blank page should be skipped): %+v", len(pages), len(want), pages)
	}
	for i, w := range want {
		if pages[i].Number != w.Number {
			t.Errorf("page %d: Number = %d, want %d", i, pages[i].Number, w.Number)
		}
		if got := strings.TrimSpace(pages[i].Text); got != w.Text {
			t.Errorf("page %d: Text = %q, want %q", i, got, w.Text)
		}
	}
}

func TestPDFLoader_CancelledContext(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lesson.pdf")
	if err := os.WriteFile(path, buildPDF("One.", "Two."), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PDFLoader{}).Load(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestListPDFs(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "docs")

	// Missing directory is created and empty.
	paths, err := ListPDFs(dir)
	if err != nil {
		t.Fatalf("ListPDFs: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no files, got %v", paths)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("documents dir not created: %v", err)
	}

	for _, name := range []string{"b.pdf", "A.PDF", "notes.txt", "c.pdf.bak"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err = ListPDFs(dir)
	if err != nil {
		t.Fatalf("ListPDFs: %v", err)
	}
	want := []string{filepath.Join(dir, "A.PDF"), filepath.Join(dir, "b.pdf")}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("ListPDFs = %v, want %v", paths, want)
	}
}

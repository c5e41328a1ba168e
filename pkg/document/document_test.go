package document_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/lectern/pkg/document"
)

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(pages ...string) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")

	// 1 catalog, 2 pages, 3 font, then a page and a content stream per page.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

type countingSource struct {
	data  map[string][]byte
	calls atomic.Int32
	gate  chan struct{}
}

func (s *countingSource) Open(_ context.Context, pdfID string) ([]byte, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	d, ok := s.data[pdfID]
	if !ok {
		return nil, document.ErrNotFound
	}
	return d, nil
}

func TestValidateRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		start, end, count int
		ok                bool
	}{
		{1, 1, 1, true},
		{2, 5, 5, true},
		{0, 1, 5, false},
		{3, 2, 5, false},
		{1, 6, 5, false},
	}
	for _, tt := range tests {
		err := document.ValidateRange(tt.start, tt.end, tt.count)
		if tt.ok && err != nil {
			t.Errorf("ValidateRange(%d, %d, %d) = %v", tt.start, tt.end, tt.count, err)
		}
		if !tt.ok && !errors.Is(err, document.ErrInvalidPageRange) {
			t.Errorf("ValidateRange(%d, %d, %d) = %v, want ErrInvalidPageRange", tt.start, tt.end, tt.count, err)
		}
	}
}

func TestLibrary_PagesAndText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &countingSource{data: map[string][]byte{"doc": buildPDF("Page one", "Page two", "Page three")}}
	lib := document.NewLibrary(src)

	n, err := lib.PageCount(ctx, "doc")
	if err != nil || n != 3 {
		t.Fatalf("PageCount = %d, %v", n, err)
	}

	part, err := lib.GetPages(ctx, "doc", 2, 3)
	if err != nil {
		t.Fatalf("GetPages: %v", err)
	}
	if !bytes.HasPrefix(part, []byte("%PDF")) {
		t.Fatalf("GetPages did not return a PDF")
	}
	trimmed := document.NewLibrary(&countingSource{data: map[string][]byte{"part": part}})
	if n, err := trimmed.PageCount(ctx, "part"); err != nil || n != 2 {
		t.Errorf("trimmed PageCount = %d, %v, want 2", n, err)
	}

	text, err := lib.GetPageText(ctx, "doc", 2, 3)
	if err != nil {
		t.Fatalf("GetPageText: %v", err)
	}
	if !strings.Contains(text, "Page two") || !strings.Contains(text, "Page three") || strings.Contains(text, "Page one") {
		t.Errorf("GetPageText = %q", text)
	}

	if _, err := lib.GetPages(ctx, "doc", 2, 4); !errors.Is(err, document.ErrInvalidPageRange) {
		t.Errorf("out of range err = %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("source opened %d times, want 1", got)
	}
}

func TestLibrary_SingleflightDownload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &countingSource{data: map[string][]byte{"doc": buildPDF("x")}, gate: make(chan struct{})}
	lib := document.NewLibrary(src)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lib.PageCount(ctx, "doc"); err != nil {
				t.Errorf("PageCount: %v", err)
			}
		}()
	}
	for src.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	if _, err := lib.PageCount(ctx, "doc"); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("source opened %d times, want 1", got)
	}
}

func TestLibrary_CacheEviction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pdf := buildPDF("x")
	src := &countingSource{data: map[string][]byte{"a": pdf, "b": pdf}}
	lib := document.NewLibrary(src, document.WithCacheSize(1))
	for _, id := range []string{"a", "b", "a"} {
		if _, err := lib.PageCount(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3 with a one entry cache", got)
	}
}

func TestURLSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/doc 1.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("%PDF-data"))
	}))
	defer srv.Close()

	src := &document.URLSource{Template: srv.URL + "/files/{id}.pdf", Client: srv.Client()}
	data, err := src.Open(context.Background(), "doc 1")
	if err != nil || string(data) != "%PDF-data" {
		t.Fatalf("Open = %q, %v", data, err)
	}
	if _, err := src.Open(context.Background(), "missing"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
	if _, err := src.Open(context.Background(), "../etc"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("traversal err = %v", err)
	}
}

func TestDirSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "abc.pdf"), []byte("%PDF"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &document.DirSource{Dir: dir}
	if data, err := src.Open(context.Background(), "abc"); err != nil || string(data) != "%PDF" {
		t.Fatalf("Open = %q, %v", data, err)
	}
	if _, err := src.Open(context.Background(), "nope"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

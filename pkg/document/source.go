package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Source fetches the raw bytes of a stored PDF.
type Source interface {
	Open(ctx context.Context, pdfID string) ([]byte, error)
}

// maxDocumentBytes caps a single download.
const maxDocumentBytes = 200 << 20

func validID(pdfID string) bool {
	return pdfID != "" && pdfID != "." && pdfID != ".." && !strings.ContainsAny(pdfID, `/\`)
}

// URLSource downloads PDFs over HTTP. Template contains "{id}", which is
// replaced by the path-escaped document id.
type URLSource struct {
	Template string
	Client   *http.Client
}

// Open implements [Source]. HTTP 404 maps to [ErrNotFound].
func (s *URLSource) Open(ctx context.Context, pdfID string) ([]byte, error) {
	if !validID(pdfID) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, pdfID)
	}
	target := strings.ReplaceAll(s.Template, "{id}", url.PathEscape(pdfID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("document: build request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document: fetch %q: %w", pdfID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, pdfID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("document: fetch %q: status %d", pdfID, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("document: read %q: %w", pdfID, err)
	}
	return data, nil
}

// DirSource reads {Dir}/{id}.pdf from the local filesystem.
type DirSource struct {
	Dir string
}

// Open implements [Source].
func (s *DirSource) Open(_ context.Context, pdfID string) ([]byte, error) {
	if !validID(pdfID) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, pdfID)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, pdfID+".pdf"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, pdfID)
		}
		return nil, fmt.Errorf("document: read %q: %w", pdfID, err)
	}
	return data, nil
}

// Package blob defines the storage boundary for generated audio files.
//
// A [Store] accepts a fully buffered object and returns a public URL from
// which clients (and [Fetch]) can later stream it. Implementations live in
// sub-packages: cloudinary, supabase and an in-memory mock.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultChunkSize is the read size used by [Fetch] when chunkSize <= 0.
const DefaultChunkSize = 4096

// ErrEmptyObject is returned by stores when asked to upload zero bytes.
var ErrEmptyObject = errors.New("blob: object is empty")

// Object describes an uploaded object.
type Object struct {
	// URL is the public address of the object.
	URL string
	// Size is the stored size in bytes as reported by the backend.
	Size int64
}

// Store uploads objects to a backend that serves them over HTTP.
type Store interface {
	// Upload stores data at key. key carries the file extension. The returned
	// Object holds the public URL of the stored object.
	Upload(ctx context.Context, data []byte, key, contentType string) (Object, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// StatusError is returned by [Fetch] when the server responds with a
// non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("blob: fetch %s: status %d", e.URL, e.StatusCode)
}

// Fetch downloads url and calls fn with consecutive chunks of at most chunkSize
// bytes. Every chunk except the last is exactly chunkSize bytes long. The slice
// passed to fn is only valid for the duration of the call.
//
// Fetch stops at the first error returned by fn and returns it unchanged.
// A nil client selects [http.DefaultClient].
func Fetch(ctx context.Context, client *http.Client, url string, chunkSize int, fn func([]byte) error) error {
	if client == nil {
		client = http.DefaultClient
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("blob: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("blob: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("blob: read body: %w", err)
		}
	}
}

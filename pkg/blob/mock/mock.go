// Package mock provides an in-memory blob.Store for tests.
//
// Store keeps uploaded objects in memory and implements http.Handler so a
// test can serve them through httptest:
//
//	m := &mock.Store{}
//	srv := httptest.NewServer(m)
//	m.BaseURL = srv.URL
package mock

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/MrWong99/lectern/pkg/blob"
)

// UploadCall records one Upload invocation.
type UploadCall struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store is a mock implementation of blob.Store.
type Store struct {
	mu sync.Mutex

	// BaseURL prefixes every returned object URL. Defaults to "mem://".
	BaseURL string

	// UploadErr, if set, is returned from Upload.
	UploadErr error

	// UploadGate, if set, holds every Upload until it yields a value.
	UploadGate chan struct{}

	// PingErr, if set, is returned from Ping.
	PingErr error

	// UploadCalls records every Upload in order.
	UploadCalls []UploadCall

	objects map[string][]byte
}

// Upload records the call and keeps data under key.
func (s *Store) Upload(ctx context.Context, data []byte, key, contentType string) (blob.Object, error) {
	s.mu.Lock()
	s.UploadCalls = append(s.UploadCalls, UploadCall{Key: key, ContentType: contentType, Data: append([]byte(nil), data...)})
	gate := s.UploadGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return blob.Object{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UploadErr != nil {
		return blob.Object{}, s.UploadErr
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = append([]byte(nil), data...)
	base := s.BaseURL
	if base == "" {
		base = "mem:/"
	}
	return blob.Object{URL: strings.TrimRight(base, "/") + "/" + key, Size: int64(len(data))}, nil
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Put stores an object directly, without recording an upload.
func (s *Store) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = append([]byte(nil), data...)
}

// Object returns the stored bytes for key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

// UploadCount returns the number of Upload calls. Thread-safe.
func (s *Store) UploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.UploadCalls)
}

// ServeHTTP serves stored objects at /{key}.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, ok := s.Object(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(b)
}

var _ blob.Store = (*Store)(nil)

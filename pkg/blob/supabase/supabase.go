// Package supabase stores blobs in a Supabase Storage bucket.
//
// Objects are uploaded with upsert enabled so a retried upload for the same
// key replaces the earlier partial object, then addressed by the bucket's
// public URL. The bucket must be public for clients to stream the audio.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"github.com/MrWong99/lectern/pkg/blob"
)

// storageAPI is the subset of the storage-go client used by [Store].
type storageAPI interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	GetBucket(id string) (storage_go.Bucket, error)
}

// Store implements blob.Store on Supabase Storage.
type Store struct {
	storage storageAPI
	bucket  string
	folder  string
}

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithFolder sets a path prefix for every object key.
func WithFolder(folder string) Option {
	return func(s *Store) { s.folder = folder }
}

// New creates a Supabase Storage store for bucket. url and apiKey are the
// project URL and a service key.
func New(url, apiKey, bucket string, opts ...Option) (*Store, error) {
	if url == "" {
		return nil, errors.New("supabase: url must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("supabase: apiKey must not be empty")
	}
	if bucket == "" {
		return nil, errors.New("supabase: bucket must not be empty")
	}
	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: create client: %w", err)
	}
	return newStore(client.Storage, bucket, opts...), nil
}

func newStore(api storageAPI, bucket string, opts ...Option) *Store {
	s := &Store{storage: api, bucket: bucket}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) objectPath(key string) string {
	if s.folder == "" {
		return key
	}
	return s.folder + "/" + key
}

// Upload implements blob.Store. The storage-go client has no context support,
// so ctx is only checked before the request starts.
func (s *Store) Upload(ctx context.Context, data []byte, key, contentType string) (blob.Object, error) {
	if len(data) == 0 {
		return blob.Object{}, blob.ErrEmptyObject
	}
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}
	p := s.objectPath(key)
	upsert := true
	fo := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		fo.ContentType = &contentType
	}
	if _, err := s.storage.UploadFile(s.bucket, p, bytes.NewReader(data), fo); err != nil {
		return blob.Object{}, fmt.Errorf("supabase: upload %s: %w", p, err)
	}
	u := s.storage.GetPublicUrl(s.bucket, p)
	if u.SignedURL == "" {
		return blob.Object{}, fmt.Errorf("supabase: no public url for %s", p)
	}
	return blob.Object{URL: u.SignedURL, Size: int64(len(data))}, nil
}

// Ping implements blob.Store by reading the bucket metadata.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.storage.GetBucket(s.bucket); err != nil {
		return fmt.Errorf("supabase: get bucket %s: %w", s.bucket, err)
	}
	return nil
}

var _ blob.Store = (*Store)(nil)

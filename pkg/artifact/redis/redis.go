// Package redis layers a Redis read-through cache in front of another
// artifact.Store.
//
// Notes are immutable, so a cached entry never goes stale. The only
// invalidation is Delete. Redis failures are logged and the call falls
// through to the backend, so the cache can be lost without losing service.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lectern/pkg/artifact"
)

const (
	// KeyPrefix is prepended to every note key.
	KeyPrefix = "lectern:note:"

	// DefaultTTL bounds how long a note stays cached.
	DefaultTTL = 24 * time.Hour
)

// Store is the caching store.
type Store struct {
	backend artifact.Store
	client  goredis.UniversalClient
	ttl     time.Duration
}

var _ artifact.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithTTL overrides [DefaultTTL].
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New wraps backend. The Store owns both client and backend and closes them
// on Close.
func New(backend artifact.Store, client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{backend: backend, client: client, ttl: DefaultTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial parses a redis:// URL and wraps backend.
func Dial(backend artifact.Store, url string, opts ...Option) (*Store, error) {
	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("artifact redis: parse url: %w", err)
	}
	return New(backend, goredis.NewClient(redisOpts), opts...), nil
}

func cacheKey(key string) string { return KeyPrefix + key }

func (s *Store) get(ctx context.Context, key string) (*artifact.Note, bool) {
	raw, err := s.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.Warn("artifact redis: get failed", "key", key, "err", err)
		}
		return nil, false
	}
	var n artifact.Note
	if err := json.Unmarshal(raw, &n); err != nil {
		slog.Warn("artifact redis: corrupt entry", "key", key, "err", err)
		return nil, false
	}
	return &n, true
}

func (s *Store) put(ctx context.Context, n *artifact.Note) {
	raw, err := json.Marshal(n)
	if err != nil {
		slog.Warn("artifact redis: encode failed", "key", n.Key, "err", err)
		return
	}
	if err := s.client.SetNX(ctx, cacheKey(n.Key), raw, s.ttl).Err(); err != nil {
		slog.Warn("artifact redis: set failed", "key", n.Key, "err", err)
	}
}

// Find implements artifact.Store.
func (s *Store) Find(ctx context.Context, key string) (*artifact.Note, error) {
	if n, ok := s.get(ctx, key); ok {
		return n, nil
	}
	n, err := s.backend.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	s.put(ctx, n)
	return n, nil
}

// FindBySection implements artifact.Store. The section index lives in the
// backend; the result warms the key cache.
func (s *Store) FindBySection(ctx context.Context, pdfID, userID, topic, section, subsection string) (*artifact.Note, error) {
	n, err := s.backend.FindBySection(ctx, pdfID, userID, topic, section, subsection)
	if err != nil {
		return nil, err
	}
	s.put(ctx, n)
	return n, nil
}

// Insert implements artifact.Store. Only a note the backend accepted is
// cached.
func (s *Store) Insert(ctx context.Context, n *artifact.Note) (bool, error) {
	inserted, err := s.backend.Insert(ctx, n)
	if err != nil || !inserted {
		return inserted, err
	}
	s.put(ctx, n)
	return true, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		slog.Warn("artifact redis: del failed", "key", key, "err", err)
	}
	return s.backend.Delete(ctx, key)
}

// ListByPDF implements artifact.Store.
func (s *Store) ListByPDF(ctx context.Context, pdfID, userID string) ([]artifact.Note, error) {
	return s.backend.ListByPDF(ctx, pdfID, userID)
}

// Ping checks Redis and the backend concurrently.
func (s *Store) Ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.client.Ping(gctx).Err(); err != nil {
			return fmt.Errorf("artifact redis: ping: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.backend.Ping(gctx) })
	return g.Wait()
}

// Close implements artifact.Store.
func (s *Store) Close() error {
	return errors.Join(s.client.Close(), s.backend.Close())
}

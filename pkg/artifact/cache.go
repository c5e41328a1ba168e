package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Recorder receives one call per cache lookup. *observe.Metrics satisfies it.
type Recorder interface {
	RecordCacheLookup(ctx context.Context, hit bool)
}

// Cache is the lookup and write path used by explain sessions and the HTTP
// API. It stamps new notes and records hit and miss metrics.
type Cache struct {
	store    Store
	recorder Recorder
	now      func() time.Time
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithRecorder sets the lookup recorder.
func WithRecorder(r Recorder) CacheOption {
	return func(c *Cache) { c.recorder = r }
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache wraps store.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Backend returns the wrapped store.
func (c *Cache) Backend() Store { return c.store }

// Lookup returns the newest note for the section, or ErrNotFound.
func (c *Cache) Lookup(ctx context.Context, pdfID, userID, topic, section, subsection string) (*Note, error) {
	n, err := c.store.FindBySection(ctx, pdfID, userID, topic, section, subsection)
	c.record(ctx, err)
	return n, err
}

// Get returns the note for the composite key of the arguments.
func (c *Cache) Get(ctx context.Context, pdfID, topic string, start, end int) (*Note, error) {
	key, err := CompositeKey(pdfID, topic, start, end)
	if err != nil {
		return nil, err
	}
	n, err := c.store.Find(ctx, key)
	c.record(ctx, err)
	return n, err
}

// Store computes the note key, fills id, content type and timestamps, and
// inserts it once. When the key already exists the stored note is returned
// with inserted=false.
func (c *Cache) Store(ctx context.Context, note *Note) (stored *Note, inserted bool, err error) {
	key, err := CompositeKey(note.PDFID, note.Topic, note.StartPage, note.EndPage)
	if err != nil {
		return nil, false, err
	}
	n := *note
	n.Key = key
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ContentType == "" {
		n.ContentType = ContentTypeExplain
	}
	now := c.now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now

	inserted, err = c.store.Insert(ctx, &n)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return &n, true, nil
	}
	existing, err := c.store.Find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (c *Cache) record(ctx context.Context, err error) {
	if c.recorder == nil {
		return
	}
	switch {
	case err == nil:
		c.recorder.RecordCacheLookup(ctx, true)
	case errors.Is(err, ErrNotFound):
		c.recorder.RecordCacheLookup(ctx, false)
	}
}

// Package mock provides an in-memory artifact.Store with call counters. It
// also backs the "memory" notes backend.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/lectern/pkg/artifact"
)

// Store is an in-memory artifact.Store. The zero value is ready to use.
type Store struct {
	mu    sync.Mutex
	notes map[string]artifact.Note
	order []string

	// Err, if set, is returned by every method except Close.
	Err error

	// InsertErr, if set, is returned by Insert only.
	InsertErr error

	FindCalls          int
	FindBySectionCalls int
	InsertCalls        int
	DeleteCalls        int
	closed             bool
}

// Find implements artifact.Store.
func (s *Store) Find(_ context.Context, key string) (*artifact.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FindCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	n, ok := s.notes[key]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	return &n, nil
}

// FindBySection implements artifact.Store.
func (s *Store) FindBySection(_ context.Context, pdfID, userID, topic, section, subsection string) (*artifact.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FindBySectionCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	var best *artifact.Note
	for _, k := range s.order {
		n := s.notes[k]
		if n.Matches(pdfID, userID, topic, section, subsection) && (best == nil || !n.CreatedAt.Before(best.CreatedAt)) {
			best = &n
		}
	}
	if best == nil {
		return nil, artifact.ErrNotFound
	}
	return best, nil
}

// Insert implements artifact.Store.
func (s *Store) Insert(_ context.Context, note *artifact.Note) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if s.Err != nil {
		return false, s.Err
	}
	if s.InsertErr != nil {
		return false, s.InsertErr
	}
	if s.notes == nil {
		s.notes = make(map[string]artifact.Note)
	}
	if _, ok := s.notes[note.Key]; ok {
		return false, nil
	}
	s.notes[note.Key] = *note
	s.order = append(s.order, note.Key)
	return true, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.notes[key]; !ok {
		return artifact.ErrNotFound
	}
	delete(s.notes, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	return nil
}

// ListByPDF implements artifact.Store.
func (s *Store) ListByPDF(_ context.Context, pdfID, userID string) ([]artifact.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []artifact.Note{}
	for i := len(s.order) - 1; i >= 0; i-- {
		n := s.notes[s.order[i]]
		if n.PDFID == pdfID && n.CreatedBy == userID {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b artifact.Note) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Len returns the number of stored notes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// Ping implements artifact.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Close implements artifact.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ artifact.Store = (*Store)(nil)

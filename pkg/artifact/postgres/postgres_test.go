package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/artifact/postgres"
)

const testDim = 3

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("LECTERN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LECTERN_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS note_embeddings, notes CASCADE`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := postgres.New(ctx, dsn, testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func note(key, section string, created time.Time) *artifact.Note {
	return &artifact.Note{
		ID: key + "-id", Key: key, PDFID: "doc", Topic: "Cells", SectionTitle: section,
		StartPage: 1, EndPage: 2, ContentType: artifact.ContentTypeExplain,
		TextContent: "text " + key, CreatedBy: "u", CreatedAt: created, UpdatedAt: created,
	}
}

func TestStore_InsertOnceAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	inserted, err := s.Insert(ctx, note("k1", "Intro", now))
	if err != nil || !inserted {
		t.Fatalf("Insert = %v, %v", inserted, err)
	}
	dup := note("k1", "Intro", now)
	dup.TextContent = "overwritten"
	inserted, err = s.Insert(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("duplicate Insert = %v, %v", inserted, err)
	}
	got, err := s.Find(ctx, "k1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.TextContent != "text k1" {
		t.Errorf("TextContent = %q, want the first write", got.TextContent)
	}
	if _, err := s.Find(ctx, "missing"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Find(missing) err = %v", err)
	}
}

func TestStore_FindBySectionNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, k := range []string{"a", "b"} {
		if _, err := s.Insert(ctx, note(k, "Intro", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}
	got, err := s.FindBySection(ctx, "doc", "u", "Cells", "", "")
	if err != nil {
		t.Fatalf("FindBySection: %v", err)
	}
	if got.Key != "b" {
		t.Errorf("newest key = %q, want b", got.Key)
	}
	if _, err := s.FindBySection(ctx, "doc", "u", "Cells", "Other", ""); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("other section err = %v", err)
	}

	list, err := s.ListByPDF(ctx, "doc", "u")
	if err != nil || len(list) != 2 || list[0].Key != "b" {
		t.Fatalf("ListByPDF = %+v, %v", list, err)
	}
}

func TestStore_VectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for k, vec := range map[string][]float32{"near": {1, 0, 0}, "far": {0, 1, 0}} {
		if _, err := s.Insert(ctx, note(k, "", now)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := s.IndexEmbedding(ctx, k, vec); err != nil {
			t.Fatalf("IndexEmbedding: %v", err)
		}
	}
	results, err := s.SearchSimilar(ctx, "doc", "u", []float32{0.9, 0.1, 0}, 5)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 2 || results[0].Note.Key != "near" {
		t.Fatalf("results = %+v", results)
	}
	if err := s.IndexEmbedding(ctx, "near", []float32{1}); err == nil {
		t.Error("expected dimension mismatch error")
	}

	if err := s.Delete(ctx, "near"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "near"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
}

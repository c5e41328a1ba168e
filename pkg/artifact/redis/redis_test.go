package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/artifact/mock"
	"github.com/MrWong99/lectern/pkg/artifact/redis"
)

func newStore(t *testing.T) (*redis.Store, *mock.Store) {
	t.Helper()
	addr := os.Getenv("LECTERN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LECTERN_TEST_REDIS_ADDR not set, skipping Redis integration tests")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	backend := &mock.Store{}
	s := redis.New(backend, client, redis.WithTTL(time.Minute))
	t.Cleanup(func() { _ = s.Close() })
	return s, backend
}

func TestStore_ReadThrough(t *testing.T) {
	s, backend := newStore(t)
	ctx := context.Background()

	n := &artifact.Note{Key: "k", PDFID: "d", Topic: "t", StartPage: 1, EndPage: 1, CreatedBy: "u", TextContent: "x"}
	if ok, err := s.Insert(ctx, n); err != nil || !ok {
		t.Fatalf("Insert = %v, %v", ok, err)
	}
	for range 3 {
		got, err := s.Find(ctx, "k")
		if err != nil || got.TextContent != "x" {
			t.Fatalf("Find = %+v, %v", got, err)
		}
	}
	if backend.FindCalls != 0 {
		t.Errorf("backend Find called %d times, want 0", backend.FindCalls)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Find(ctx, "k"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Find after Delete err = %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_DuplicateInsertNotCached(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	first := &artifact.Note{Key: "k", TextContent: "first"}
	second := &artifact.Note{Key: "k", TextContent: "second"}
	if _, err := s.Insert(ctx, first); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Insert(ctx, second); err != nil || ok {
		t.Fatalf("second Insert = %v, %v", ok, err)
	}
	got, err := s.Find(ctx, "k")
	if err != nil || got.TextContent != "first" {
		t.Errorf("Find = %+v, %v", got, err)
	}
}

func TestDial_BadURL(t *testing.T) {
	t.Parallel()
	if _, err := redis.Dial(&mock.Store{}, "not a url"); err == nil {
		t.Error("expected error for malformed url")
	}
}

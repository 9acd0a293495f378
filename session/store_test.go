package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mm_session.enc")
	store := NewFileStore(path, NewAESCodec("test-pass"))
	ctx := context.Background()

	want := sampleState()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestFileStoreMissingIsNoSession(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.enc"), nil)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for missing file, got %v", err)
	}
}

func TestFileStoreCorruptIsNoSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mm_session.enc")
	if err := os.WriteFile(path, []byte("definitely not a session"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store := NewFileStore(path, NewAESCodec("test-pass"))
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for corrupt file, got %v", err)
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt cause to stay inspectable, got %v", err)
	}
}

func TestFileStoreDeleteIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mm_session.enc")
	store := NewFileStore(path, nil)
	ctx := context.Background()

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after delete, got %v", err)
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := NewRedisStore(newTestRedis(t), "", NewAESCodec("test-pass"), time.Hour)
	ctx := context.Background()

	want := sampleState()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after delete, got %v", err)
	}
}

func TestRedisStoreCorruptIsNoSession(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	if err := client.Set(ctx, defaultRedisKey, "garbage", 0).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	store := NewRedisStore(client, "", NewAESCodec("test-pass"), 0)
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for corrupt value, got %v", err)
	}
}

func TestStateStaleness(t *testing.T) {
	now := time.Unix(1700000000, 0)

	var empty *State
	if !empty.Stale(now, time.Hour) {
		t.Fatal("nil state must be stale")
	}
	if (&State{}).Stale(now, time.Hour) == false {
		t.Fatal("tokenless state must be stale")
	}

	s := &State{AuthToken: "tok", LastUsedAt: now.Unix() - 10}
	if s.Stale(now, time.Hour) {
		t.Fatal("recently used state must not be stale")
	}

	s.LastUsedAt = now.Unix() - 3601
	if !s.Stale(now, time.Hour) {
		t.Fatal("state unused beyond threshold must be stale")
	}

	s.Touch(now)
	if s.Stale(now, time.Hour) {
		t.Fatal("touched state must not be stale")
	}
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
)

// exerciseStore runs the shared behavior every adapter must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key is not found", func(t *testing.T) {
		v, found, err := s.Get(ctx, "nope")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found || v != "" {
			t.Fatalf("expected not found, got %q found=%v", v, found)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := s.Set(ctx, "accessToken", "a1"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := s.Set(ctx, "accessToken", "a2"); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		v, found, err := s.Get(ctx, "accessToken")
		if err != nil || !found || v != "a2" {
			t.Fatalf("expected a2, got %q found=%v err=%v", v, found, err)
		}
	})

	t.Run("batched operations", func(t *testing.T) {
		err := s.MultiSet(ctx, map[string]string{
			"refreshToken": "r1",
			"user":         `{"id":1}`,
		})
		if err != nil {
			t.Fatalf("multi set: %v", err)
		}

		got, err := s.MultiGet(ctx, "accessToken", "refreshToken", "user", "missing")
		if err != nil {
			t.Fatalf("multi get: %v", err)
		}
		want := map[string]string{"accessToken": "a2", "refreshToken": "r1", "user": `{"id":1}`}
		if len(got) != len(want) {
			t.Fatalf("expected %d keys, got %v", len(want), got)
		}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("key %s: expected %q, got %q", k, v, got[k])
			}
		}

		if err := s.MultiRemove(ctx, "accessToken", "refreshToken", "missing"); err != nil {
			t.Fatalf("multi remove: %v", err)
		}
		got, err = s.MultiGet(ctx, "accessToken", "refreshToken", "user")
		if err != nil {
			t.Fatalf("multi get after remove: %v", err)
		}
		if len(got) != 1 || got["user"] != `{"id":1}` {
			t.Fatalf("expected only user to remain, got %v", got)
		}
	})

	t.Run("remove single and empty batches", func(t *testing.T) {
		if err := s.Remove(ctx, "user"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := s.Remove(ctx, "user"); err != nil {
			t.Fatalf("remove missing: %v", err)
		}
		if _, found, _ := s.Get(ctx, "user"); found {
			t.Fatal("expected user removed")
		}
		if err := s.MultiSet(ctx, nil); err != nil {
			t.Fatalf("empty multi set: %v", err)
		}
		if got, err := s.MultiGet(ctx); err != nil || len(got) != 0 {
			t.Fatalf("empty multi get: %v %v", got, err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d keys", s.Len())
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.msgpack")
	exerciseStore(t, NewFileStore(path))
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.msgpack")

	first := NewFileStore(path)
	if err := first.MultiSet(ctx, map[string]string{"accessToken": "a", "refreshToken": "r"}); err != nil {
		t.Fatalf("multi set: %v", err)
	}

	second := NewFileStore(path)
	got, err := second.MultiGet(ctx, "accessToken", "refreshToken")
	if err != nil {
		t.Fatalf("multi get: %v", err)
	}
	if got["accessToken"] != "a" || got["refreshToken"] != "r" {
		t.Fatalf("unexpected reload result: %v", got)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.msgpack")
	if err := os.WriteFile(path, []byte{0xc1, 0xff, 0x00}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := NewFileStore(path).Get(context.Background(), "accessToken")
	if err == nil {
		t.Fatal("expected decode error for corrupt file")
	}
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLStore_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "campus.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := s.Set(ctx, "SCHEDULED_EVENTS", "[1,2]"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	s.Close()

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, found, err := reopened.Get(ctx, "SCHEDULED_EVENTS")
	if err != nil || !found || v != "[1,2]" {
		t.Fatalf("expected persisted value, got %q found=%v err=%v", v, found, err)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CAMPUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAMPUS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	prefix := "campus-test:" + t.Name() + ":"
	s := NewRedisStore(client, prefix)
	_ = s.MultiRemove(ctx, "accessToken", "refreshToken", "user", "nope")
	exerciseStore(t, s)
}

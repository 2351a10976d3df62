package taskvault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilesystemBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)

	t.Run("put then get", func(t *testing.T) {
		if err := backend.Put(ctx, "data.json", []byte(`{"a":1}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		data, err := backend.Get(ctx, "data.json")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(data) != `{"a":1}` {
			t.Errorf("content mismatch: %q", data)
		}
	})

	t.Run("missing key is ErrNotFound", func(t *testing.T) {
		if _, err := backend.Get(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := backend.Delete(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := backend.Exists(ctx, "data.json")
		if err != nil || !ok {
			t.Errorf("Exists(data.json) = %v, %v", ok, err)
		}
		ok, err = backend.Exists(ctx, "missing.json")
		if err != nil || ok {
			t.Errorf("Exists(missing.json) = %v, %v", ok, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := backend.Put(ctx, "short-lived.json", []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := backend.Delete(ctx, "short-lived.json"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if ok, _ := backend.Exists(ctx, "short-lived.json"); ok {
			t.Error("key exists after Delete")
		}
	})

	t.Run("list filters by prefix", func(t *testing.T) {
		for _, key := range []string{"tasks.json", "tasks.json.bak.1", "projects.json"} {
			if err := backend.Put(ctx, key, []byte("[]")); err != nil {
				t.Fatalf("Put %s failed: %v", key, err)
			}
		}
		keys, err := backend.List(ctx, "tasks.json.bak.")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(keys) != 1 || keys[0] != "tasks.json.bak.1" {
			t.Errorf("unexpected keys: %v", keys)
		}
	})

	t.Run("no temp file left behind", func(t *testing.T) {
		if err := backend.Put(ctx, "clean.json", []byte("[]")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "clean.json.tmp")); !os.IsNotExist(err) {
			t.Error("temp file survived the rename")
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := backend.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestStripedLocks(t *testing.T) {
	locks := NewStripedLocks(4)

	unlock := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		u := locks.Lock("a")
		u()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second Lock on same key acquired while held")
	default:
	}

	unlock()
	<-done
}

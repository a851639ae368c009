package blob

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
			if err := store.Put(ctx, "tickets/reg-1.png", payload, "image/png"); err != nil {
				t.Fatalf("Put: %v", err)
			}

			data, contentType, err := store.Get(ctx, "tickets/reg-1.png")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(data) != string(payload) {
				t.Errorf("payload mismatch: got %v", data)
			}
			if contentType != "image/png" {
				t.Errorf("contentType = %q, want image/png", contentType)
			}

			if err := store.Delete(ctx, "tickets/reg-1.png"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, _, err := store.Get(ctx, "tickets/reg-1.png"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(ctx, "tickets/absent.png"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDeleteMissingKeyIsNoOp(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Delete(ctx, "tickets/absent.png"); err != nil {
				t.Errorf("Delete of missing key = %v, want nil", err)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fsStore, err := NewFilesystem(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	if err := fsStore.Put(context.Background(), "../escape.png", []byte("x"), "image/png"); err == nil {
		t.Error("Put with path traversal key should fail")
	}
}

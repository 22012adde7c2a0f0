package localfs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/card-enricher/internal/infrastructure/storage"
)

func TestStorageRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), "http://localhost:8080/")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	handle, err := s.Store(ctx, []byte("thumbnail"), "image/webp")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	again, err := s.Store(ctx, []byte("thumbnail"), "image/webp")
	if err != nil || again != handle {
		t.Fatalf("expected content addressing, got %q vs %q (%v)", again, handle, err)
	}

	url, err := s.URL(ctx, handle)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if url != "http://localhost:8080/v1/blobs/"+handle {
		t.Fatalf("unexpected url %q", url)
	}

	data, mimeType, err := s.Open(ctx, handle)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(data) != "thumbnail" || mimeType != "image/webp" {
		t.Fatalf("unexpected blob %q %q", data, mimeType)
	}

	if err := s.Delete(ctx, handle); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, handle); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if url, _ := s.URL(ctx, handle); url != "" {
		t.Fatalf("expected empty url after delete, got %q", url)
	}
	if _, _, err := s.Open(ctx, handle); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestStorageRejectsPathHandles(t *testing.T) {
	s, err := New(t.TempDir(), "http://x")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bad := "../" + strings.Repeat("a", 61)
	if url, err := s.URL(context.Background(), bad); err != nil || url != "" {
		t.Fatalf("expected unknown handle, got %q %v", url, err)
	}
	if _, _, err := s.Open(context.Background(), bad); err == nil {
		t.Fatalf("expected error for invalid handle")
	}
}

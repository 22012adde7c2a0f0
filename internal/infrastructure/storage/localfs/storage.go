package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/card-enricher/internal/infrastructure/storage"
)

const mimeSuffix = ".mime"

// Storage keeps blobs as files named by content handle, with the mime type in a sidecar file.
type Storage struct {
	basePath  string
	publicURL string
}

func New(basePath, publicURL string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath, publicURL: publicURL}, nil
}

func (s *Storage) Store(_ context.Context, data []byte, mimeType string) (string, error) {
	handle := storage.ContentHandle(data)
	path := s.path(handle)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := writeAtomic(path, data); err != nil {
			return "", fmt.Errorf("write blob: %w", err)
		}
	}
	if err := writeAtomic(path+mimeSuffix, []byte(mimeType)); err != nil {
		return "", fmt.Errorf("write blob mime: %w", err)
	}
	return handle, nil
}

func (s *Storage) URL(_ context.Context, handle string) (string, error) {
	if storage.ValidateHandle(handle) != nil {
		return "", nil
	}
	if _, err := os.Stat(s.path(handle)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat blob: %w", err)
	}
	return storage.PublicURL(s.publicURL, handle), nil
}

func (s *Storage) Open(_ context.Context, handle string) ([]byte, string, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(s.path(handle))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", storage.ErrBlobNotFound, handle)
		}
		return nil, "", fmt.Errorf("read blob: %w", err)
	}
	mimeType := "application/octet-stream"
	if raw, err := os.ReadFile(s.path(handle) + mimeSuffix); err == nil && len(raw) > 0 {
		mimeType = strings.TrimSpace(string(raw))
	}
	return data, mimeType, nil
}

// Delete is idempotent; a missing blob is not an error.
func (s *Storage) Delete(_ context.Context, handle string) error {
	if err := storage.ValidateHandle(handle); err != nil {
		return err
	}
	for _, path := range []string{s.path(handle), s.path(handle) + mimeSuffix} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove blob: %w", err)
		}
	}
	return nil
}

func (s *Storage) path(handle string) string {
	return filepath.Join(s.basePath, handle)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

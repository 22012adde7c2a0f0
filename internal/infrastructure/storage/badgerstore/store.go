package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/card-enricher/internal/infrastructure/storage"
)

var (
	dataPrefix = []byte("blob:")
	mimePrefix = []byte("mime:")
)

// Store keeps blobs in an embedded badger database under content handles.
type Store struct {
	db        *badger.DB
	publicURL string
}

// Open opens the database at path; an empty path runs in memory.
func Open(path, publicURL string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	slog.Info("blob_store_opened", "backend", "badger", "path", path)
	return &Store{db: db, publicURL: publicURL}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Store(_ context.Context, data []byte, mimeType string) (string, error) {
	handle := storage.ContentHandle(data)
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(key(dataPrefix, handle), data)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key(mimePrefix, handle), []byte(mimeType)))
	})
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return handle, nil
}

func (s *Store) URL(_ context.Context, handle string) (string, error) {
	if storage.ValidateHandle(handle) != nil {
		return "", nil
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(dataPrefix, handle))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup blob: %w", err)
	}
	return storage.PublicURL(s.publicURL, handle), nil
}

func (s *Store) Open(_ context.Context, handle string) ([]byte, string, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return nil, "", err
	}
	var data []byte
	mimeType := "application/octet-stream"
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(dataPrefix, handle))
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		if mimeItem, err := txn.Get(key(mimePrefix, handle)); err == nil {
			raw, err := mimeItem.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(raw) > 0 {
				mimeType = string(raw)
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, "", fmt.Errorf("%w: %s", storage.ErrBlobNotFound, handle)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read blob: %w", err)
	}
	return data, mimeType, nil
}

func (s *Store) Delete(_ context.Context, handle string) error {
	if err := storage.ValidateHandle(handle); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key(dataPrefix, handle)); err != nil {
			return err
		}
		return txn.Delete(key(mimePrefix, handle))
	})
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func key(prefix []byte, handle string) []byte {
	out := make([]byte, 0, len(prefix)+len(handle))
	out = append(out, prefix...)
	return append(out, handle...)
}

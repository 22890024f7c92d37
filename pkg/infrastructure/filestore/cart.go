package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"storefront/pkg/domain/model"
)

// CartStorage writes each session's cart to its own file under dir. File
// names are hashed session ids so arbitrary header values stay inside dir.
type CartStorage struct {
	dir string
}

func NewCartStorage(dir string) (*CartStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create cart directory")
	}
	return &CartStorage{dir: dir}, nil
}

func (s *CartStorage) Load(_ context.Context, session string) ([]byte, error) {
	data, err := os.ReadFile(s.path(session))
	if os.IsNotExist(err) {
		return nil, model.ErrCartNotFound
	}
	if err != nil {
		return nil, fileError(err, "read cart")
	}
	return data, nil
}

// Save replaces the cart file atomically so a crash never leaves a torn file.
func (s *CartStorage) Save(_ context.Context, session string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".cart-*")
	if err != nil {
		return fileError(err, "create cart file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fileError(err, "write cart file")
	}
	if err := tmp.Close(); err != nil {
		return fileError(err, "write cart file")
	}
	if err := os.Rename(tmp.Name(), s.path(session)); err != nil {
		return fileError(err, "replace cart file")
	}
	return nil
}

func (s *CartStorage) Delete(_ context.Context, session string) error {
	err := os.Remove(s.path(session))
	if err != nil && !os.IsNotExist(err) {
		return fileError(err, "delete cart file")
	}
	return nil
}

func (s *CartStorage) path(session string) string {
	sum := sha256.Sum256([]byte(session))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

type storageError struct {
	op    string
	cause error
}

func (e *storageError) Error() string   { return e.op + ": " + e.cause.Error() }
func (e *storageError) Unwrap() []error { return []error{model.ErrPersistence, e.cause} }

func fileError(err error, op string) error {
	return &storageError{op: op, cause: err}
}

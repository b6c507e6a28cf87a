// Package files persists uploaded knowledge-base documents on local disk.
// Database rows referencing the stored bytes live in storage; both sides are
// reclaimed on delete.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	ErrTooLarge       = errors.New("file exceeds the upload size limit")
	ErrDisallowedType = errors.New("file type is not allowed")
	ErrEmptyUpload    = errors.New("uploaded file is empty")
)

// Only document types the knowledge base understands are accepted.
var allowedMimeTypes = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/plain": ".txt",
}

type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Saved describes the stored copy of one upload.
type Saved struct {
	FileName string
	Path     string
	Size     int64
}

// Save streams an upload to disk under a generated name. The incoming
// declared size is not trusted; the stream is re-counted and aborted past
// the limit.
func (s *Store) Save(r io.Reader, mimeType string) (Saved, error) {
	ext, ok := allowedMimeTypes[mimeType]
	if !ok {
		return Saved{}, fmt.Errorf("%w: %s", ErrDisallowedType, mimeType)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Saved{}, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Saved{}, fmt.Errorf("write upload: %w", err)
	}
	if n > s.maxBytes {
		_ = os.Remove(path)
		return Saved{}, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.maxBytes)
	}
	if n == 0 {
		_ = os.Remove(path)
		return Saved{}, ErrEmptyUpload
	}

	return Saved{FileName: name, Path: path, Size: n}, nil
}

// Remove deletes the stored bytes. A file already gone is not an error; the
// row delete must still proceed.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

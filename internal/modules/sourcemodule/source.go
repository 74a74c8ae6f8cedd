// Package sourcemodule maps a library's configured backend to a Source.
package sourcemodule

import (
	"context"
	"errors"
	"io"

	"github.com/mantonx/redseat/internal/models"
)

var (
	// ErrNotFound is returned when the key has no content in the source
	ErrNotFound = errors.New("source content not found")
	// ErrInvalidKey is returned for keys escaping the source root
	ErrInvalidKey = errors.New("invalid source key")
	// ErrRangeNotSatisfiable is returned when a range starts past the end of the content
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
	// ErrUnknownSource is returned for libraries with an unsupported backend
	ErrUnknownSource = errors.New("unknown library source")
)

// Source is the capability set every library backend implements
type Source interface {
	Exists(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	// LocalPath returns false when the content has no filesystem representation
	LocalPath(key string) (string, bool)
	FillMetadata(ctx context.Context, key string, info *models.FileInfo) error
	Read(ctx context.Context, key string, rng *models.ByteRange) (*models.SourceRead, error)
	Write(ctx context.Context, name string, r io.Reader) (string, error)
}

package sourcemodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/mantonx/redseat/internal/models"
)

// LocalSource serves content from a directory on disk
type LocalSource struct {
	root string
}

var _ Source = (*LocalSource)(nil)

// NewLocalSource creates a source rooted at root, creating it if needed
func NewLocalSource(root string) (*LocalSource, error) {
	if root == "" {
		return nil, fmt.Errorf("local source requires a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create source root %s: %w", abs, err)
	}
	return &LocalSource{root: abs}, nil
}

// resolve maps a key to a path inside root
func (s *LocalSource) resolve(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *LocalSource) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *LocalSource) Remove(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *LocalSource) LocalPath(key string) (string, bool) {
	path, err := s.resolve(key)
	if err != nil {
		return "", false
	}
	return path, true
}

func (s *LocalSource) FillMetadata(_ context.Context, key string, info *models.FileInfo) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}

	info.Name = filepath.Base(path)
	info.Size = models.Int64Ptr(stat.Size())
	info.Modified = models.Int64Ptr(stat.ModTime().UnixMilli())
	if mt, err := mimetype.DetectFile(path); err == nil {
		info.Mime = models.StringPtr(mt.String())
	}
	return nil
}

// Read opens the file, seeking to the range start when a range is given
func (s *LocalSource) Read(_ context.Context, key string, rng *models.ByteRange) (*models.SourceRead, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	total := stat.Size()

	mime := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		mime = mt.String()
	}

	stream := &models.FileStream{
		Body:      f,
		Size:      models.Int64Ptr(total),
		TotalSize: models.Int64Ptr(total),
		Mime:      mime,
		Filename:  filepath.Base(path),
	}

	if rng != nil {
		if rng.Start >= total {
			f.Close()
			return nil, ErrRangeNotSatisfiable
		}
		end := total - 1
		if rng.End != nil && *rng.End < end {
			end = *rng.End
		}
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		length := end - rng.Start + 1
		stream.Body = &limitedFile{Reader: io.LimitReader(f, length), Closer: f}
		stream.Size = models.Int64Ptr(length)
		stream.Range = &models.ByteRange{Start: rng.Start, End: models.Int64Ptr(end)}
	}

	return &models.SourceRead{Stream: stream}, nil
}

// Write stores r under a sanitized version of name and returns the key.
// Data goes to a temp file first and is renamed into place after fsync.
func (s *LocalSource) Write(_ context.Context, name string, r io.Reader) (string, error) {
	key := sanitizeName(name)
	if _, err := os.Stat(filepath.Join(s.root, key)); err == nil {
		ext := filepath.Ext(key)
		key = strings.TrimSuffix(key, ext) + "_" + uuid.NewString()[:8] + ext
	}
	fullPath := filepath.Join(s.root, key)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("fsync failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return key, nil
}

type limitedFile struct {
	io.Reader
	io.Closer
}

func sanitizeName(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		out = "upload"
	}
	return out
}

// IsNotFound reports whether err means the content does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

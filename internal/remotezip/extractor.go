// Package remotezip extracts a single entry from an HTTP-reachable ZIP archive
// using byte range requests, without downloading the rest of the archive.
package remotezip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/flate"
	"github.com/mantonx/redseat/internal/metrics"
	"github.com/mantonx/redseat/internal/models"
)

// Fetcher reads the inclusive byte range [start, end] of the resource req points at.
type Fetcher interface {
	FetchRange(ctx context.Context, req *models.RsRequest, start, end int64) ([]byte, error)
}

// Page is one extracted archive entry
type Page struct {
	Data     []byte  `json:"-"`
	Filename *string `json:"filename,omitempty"`
}

// Extractor performs page extraction with at most four ranged fetches
type Extractor struct {
	fetcher Fetcher
	logger  hclog.Logger
}

// NewExtractor creates an extractor
func NewExtractor(fetcher Fetcher, logger hclog.Logger) *Extractor {
	return &Extractor{fetcher: fetcher, logger: logger.Named("remotezip")}
}

// ExtractPage returns the decompressed bytes of the 1-based page of the archive
// at req, whose exact byte length is size.
func (e *Extractor) ExtractPage(ctx context.Context, req *models.RsRequest, page int, size int64) (*Page, error) {
	p, err := e.extractPage(ctx, req, page, size)
	if err != nil {
		metrics.ZipExtractErrors.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}
	return p, nil
}

func (e *Extractor) extractPage(ctx context.Context, req *models.RsRequest, page int, size int64) (*Page, error) {
	if page <= 0 {
		return nil, ErrInvalidPage
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	tailLen := int64(tailSize)
	if size < tailLen {
		tailLen = size
	}
	tailStart := size - tailLen

	tail, err := e.fetch(ctx, req, "tail", tailStart, size-1)
	if err != nil {
		return nil, err
	}

	eocd, err := ParseEOCD(tail)
	if err != nil {
		return nil, err
	}

	cdStart := int64(eocd.CDOffset)
	cdEnd := cdStart + int64(eocd.CDSize)
	if cdEnd > size {
		return nil, fmt.Errorf("%w: central directory ends at %d past archive size %d", ErrEntryOutOfBounds, cdEnd, size)
	}

	var cd []byte
	switch {
	case eocd.CDSize == 0:
		cd = nil
	case cdStart >= tailStart:
		cd = tail[cdStart-tailStart : cdEnd-tailStart]
	default:
		cd, err = e.fetch(ctx, req, "central_directory", cdStart, cdEnd-1)
		if err != nil {
			return nil, err
		}
	}

	entry, seen, err := FindEntry(cd, page-1)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &PageNotFoundError{Page: page, Seen: seen}
	}

	localOff := int64(entry.LocalOffset)
	if localOff+localHeaderLen > size {
		return nil, fmt.Errorf("%w: local header at %d", ErrEntryOutOfBounds, localOff)
	}
	header, err := e.fetch(ctx, req, "local_header", localOff, localOff+localHeaderLen-1)
	if err != nil {
		return nil, err
	}

	start, err := dataOffset(entry.LocalOffset, header)
	if err != nil {
		return nil, err
	}

	var compressed []byte
	if entry.CompressedSize > 0 {
		end := start + int64(entry.CompressedSize) - 1
		if end >= size {
			return nil, fmt.Errorf("%w: entry data ends at %d past archive size %d", ErrEntryOutOfBounds, end, size)
		}
		compressed, err = e.fetch(ctx, req, "data", start, end)
		if err != nil {
			return nil, err
		}
	}

	data, err := decompress(entry, compressed)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("extracted zip page", "page", page, "filename", entry.Filename, "method", entry.Method, "bytes", len(data))

	result := &Page{Data: data}
	if entry.Filename != "" {
		name := entry.Filename
		result.Filename = &name
	}
	return result, nil
}

func (e *Extractor) fetch(ctx context.Context, req *models.RsRequest, part string, start, end int64) ([]byte, error) {
	metrics.ZipRangeFetches.WithLabelValues(part).Inc()
	b, err := e.fetcher.FetchRange(ctx, req, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch zip %s: %w", part, err)
	}
	if int64(len(b)) != end-start+1 {
		return nil, &ShortReadError{Start: start, End: end, Got: len(b)}
	}
	return b, nil
}

func decompress(entry *EntryLocation, compressed []byte) ([]byte, error) {
	switch entry.Method {
	case methodStored:
		if compressed == nil {
			return []byte{}, nil
		}
		return compressed, nil
	case methodDeflate:
		r := flate.NewReader(bytes.NewReader(compressed))
		defer r.Close()
		limit := int64(entry.UncompressedSize)
		out, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate zip entry: %w", err)
		}
		if int64(len(out)) > limit {
			return nil, fmt.Errorf("%w: %s declares %d bytes", ErrEntryTooLarge, entry.Filename, limit)
		}
		return out, nil
	default:
		return nil, &UnsupportedMethodError{Method: entry.Method}
	}
}

func errorKind(err error) string {
	var pageErr *PageNotFoundError
	var methodErr *UnsupportedMethodError
	switch {
	case errors.Is(err, ErrInvalidPage), errors.Is(err, ErrInvalidSize):
		return "invalid_input"
	case errors.Is(err, ErrEOCDNotFound):
		return "eocd_missing"
	case errors.Is(err, ErrEOCDTooShort):
		return "eocd_short"
	case errors.Is(err, ErrEntryOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, ErrEntryTooLarge):
		return "too_large"
	case errors.As(err, &pageErr):
		return "page_not_found"
	case errors.As(err, &methodErr):
		return "unsupported_method"
	default:
		return "fetch"
	}
}

// HTTPFetcher fetches ranges through an HTTP client
type HTTPFetcher struct {
	client  RangeClient
	timeout time.Duration
}

// RangeClient is the subset of the outbound client the fetcher needs
type RangeClient interface {
	Get(ctx context.Context, r *models.RsRequest, rng *models.ByteRange) (*http.Response, error)
}

// NewHTTPFetcher wraps an outbound client. A positive timeout bounds each
// range fetch including its body.
func NewHTTPFetcher(client RangeClient, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: client, timeout: timeout}
}

// FetchRange requires a 206 response and reads at most the requested length.
func (f *HTTPFetcher) FetchRange(ctx context.Context, req *models.RsRequest, start, end int64) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	resp, err := f.client.Get(ctx, req, &models.ByteRange{Start: start, End: &end})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, ErrRangeUnsupported
	}
	return io.ReadAll(io.LimitReader(resp.Body, end-start+1))
}

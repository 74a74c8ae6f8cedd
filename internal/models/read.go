package models

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ByteRange is an inclusive byte range; End is nil for open ranges.
type ByteRange struct {
	Start int64
	End   *int64
}

// Header renders the range as an HTTP Range header value
func (r ByteRange) Header() string {
	if r.End == nil {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, *r.End)
}

// ParseRangeHeader parses "bytes=start-end" and "bytes=start-".
// Suffix ranges and multi-range requests are rejected.
func ParseRangeHeader(header string) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return nil, fmt.Errorf("invalid range header format")
	}

	value := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(value, ",") {
		return nil, fmt.Errorf("multiple ranges not supported")
	}
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, fmt.Errorf("invalid range specification")
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("invalid start byte")
	}

	r := &ByteRange{Start: start}
	if parts[1] != "" {
		end, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("invalid end byte")
		}
		r.End = &end
	}
	return r, nil
}

// FileInfo is the metadata a source can fill for a stored file
type FileInfo struct {
	Name     string  `json:"name"`
	Size     *int64  `json:"size,omitempty"`
	Mime     *string `json:"mime,omitempty"`
	Modified *int64  `json:"modified,omitempty"`
}

// FileStream is a byte stream ready to be forwarded to a client
type FileStream struct {
	Body      io.ReadCloser
	Size      *int64
	TotalSize *int64
	Range     *ByteRange
	Mime      string
	Filename  string
	Headers   map[string]string
}

// ContentRange renders the Content-Range header for ranged streams
func (s *FileStream) ContentRange() string {
	if s.Range == nil || s.TotalSize == nil {
		return ""
	}
	end := *s.TotalSize - 1
	if s.Range.End != nil && *s.Range.End < end {
		end = *s.Range.End
	}
	return fmt.Sprintf("bytes %d-%d/%d", s.Range.Start, end, *s.TotalSize)
}

// SourceRead is either a Stream or a Request the caller must fetch itself.
// Exactly one field is set.
type SourceRead struct {
	Stream  *FileStream
	Request *RsRequest
}

// IsStream reports whether the read produced bytes
func (r *SourceRead) IsStream() bool {
	return r != nil && r.Stream != nil
}

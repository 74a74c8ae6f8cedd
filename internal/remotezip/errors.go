package remotezip

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPage is returned for page 0; pages are 1-based.
	ErrInvalidPage = errors.New("page index must be 1 or greater")
	// ErrInvalidSize is returned when the archive size is not positive.
	ErrInvalidSize = errors.New("archive size must be positive")
	// ErrEOCDNotFound means no end of central directory signature was found in the tail.
	ErrEOCDNotFound = errors.New("end of central directory signature not found")
	// ErrEOCDTooShort means the EOCD record is cut short by the end of the tail.
	ErrEOCDTooShort = errors.New("end of central directory record too short")
	// ErrEntryOutOfBounds means a central directory entry or local header runs past its buffer.
	ErrEntryOutOfBounds = errors.New("zip entry out of bounds")
	// ErrEntryTooLarge means an entry inflates past the size its directory record declares.
	ErrEntryTooLarge = errors.New("zip entry inflates past its declared size")
	// ErrRangeUnsupported means the server ignored the Range header.
	ErrRangeUnsupported = errors.New("server does not honor byte range requests")
)

// PageNotFoundError reports a page past the end of the central directory
type PageNotFoundError struct {
	Page int
	Seen int
}

func (e *PageNotFoundError) Error() string {
	return fmt.Sprintf("page %d not found: archive has %d entries", e.Page, e.Seen)
}

// UnsupportedMethodError reports a compression method other than stored or deflate
type UnsupportedMethodError struct {
	Method uint16
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported zip compression method %d", e.Method)
}

// ShortReadError reports a ranged fetch that returned the wrong number of bytes
type ShortReadError struct {
	Start, End int64
	Got        int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("range %d-%d returned %d bytes, want %d", e.Start, e.End, e.Got, e.End-e.Start+1)
}

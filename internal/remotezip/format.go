package remotezip

import (
	"bytes"
	"encoding/binary"
)

const (
	tailSize         = 65536
	eocdMinLen       = 22
	cdHeaderLen      = 46
	localHeaderLen   = 30
	methodStored     = 0
	methodDeflate    = 8
	eocdCDSizeOff    = 12
	eocdCDOffsetOff  = 16
	cdMethodOff      = 10
	cdCompSizeOff    = 20
	cdUncompSizeOff  = 24
	cdNameLenOff     = 28
	cdExtraLenOff    = 30
	cdCommentLenOff  = 32
	cdLocalOffOff    = 42
	localNameLenOff  = 26
	localExtraLenOff = 28
)

var (
	eocdSignature = []byte{0x50, 0x4B, 0x05, 0x06}
	cdSignature   = []byte{0x50, 0x4B, 0x01, 0x02}
)

// EOCD is the part of the end of central directory record the extractor needs
type EOCD struct {
	CDSize   uint32
	CDOffset uint32
}

// EntryLocation is where one archive member lives
type EntryLocation struct {
	Index          int
	Method         uint16
	CompressedSize   uint32
	UncompressedSize uint32
	LocalOffset      uint32
	Filename         string
}

// ParseEOCD scans tail backwards for the EOCD signature.
func ParseEOCD(tail []byte) (EOCD, error) {
	pos := bytes.LastIndex(tail, eocdSignature)
	if pos < 0 {
		return EOCD{}, ErrEOCDNotFound
	}
	if len(tail)-pos < eocdMinLen {
		return EOCD{}, ErrEOCDTooShort
	}
	rec := tail[pos:]
	return EOCD{
		CDSize:   binary.LittleEndian.Uint32(rec[eocdCDSizeOff:]),
		CDOffset: binary.LittleEndian.Uint32(rec[eocdCDOffsetOff:]),
	}, nil
}

// FindEntry walks the central directory up to the 0-based index target.
// A signature mismatch ends the walk; the returned count is the number of
// entries seen when the target was not reached.
func FindEntry(cd []byte, target int) (*EntryLocation, int, error) {
	pos := 0
	for index := 0; ; index++ {
		if pos+4 > len(cd) || !bytes.Equal(cd[pos:pos+4], cdSignature) {
			return nil, index, nil
		}
		if pos+cdHeaderLen > len(cd) {
			return nil, index, ErrEntryOutOfBounds
		}
		h := cd[pos : pos+cdHeaderLen]
		nameLen := int(binary.LittleEndian.Uint16(h[cdNameLenOff:]))
		extraLen := int(binary.LittleEndian.Uint16(h[cdExtraLenOff:]))
		commentLen := int(binary.LittleEndian.Uint16(h[cdCommentLenOff:]))

		if index == target {
			nameStart := pos + cdHeaderLen
			if nameStart+nameLen > len(cd) {
				return nil, index, ErrEntryOutOfBounds
			}
			return &EntryLocation{
				Index:            index,
				Method:           binary.LittleEndian.Uint16(h[cdMethodOff:]),
				CompressedSize:   binary.LittleEndian.Uint32(h[cdCompSizeOff:]),
				UncompressedSize: binary.LittleEndian.Uint32(h[cdUncompSizeOff:]),
				LocalOffset:      binary.LittleEndian.Uint32(h[cdLocalOffOff:]),
				Filename:         string(cd[nameStart : nameStart+nameLen]),
			}, index + 1, nil
		}

		pos += cdHeaderLen + nameLen + extraLen + commentLen
	}
}

// dataOffset returns where compressed data starts given the local file header.
func dataOffset(localOffset uint32, header []byte) (int64, error) {
	if len(header) < localHeaderLen {
		return 0, ErrEntryOutOfBounds
	}
	nameLen := int64(binary.LittleEndian.Uint16(header[localNameLenOff:]))
	extraLen := int64(binary.LittleEndian.Uint16(header[localExtraLenOff:]))
	return int64(localOffset) + localHeaderLen + nameLen + extraLen, nil
}

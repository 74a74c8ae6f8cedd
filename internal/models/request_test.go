package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRsRequestClone(t *testing.T) {
	orig := &RsRequest{
		URL:      "https://example.com/a.mkv",
		Filename: StringPtr("a.mkv"),
		Size:     Int64Ptr(10),
		Headers:  map[string]string{"Cookie": "a=b"},
	}

	c := orig.Clone()
	*c.Filename = "b.mkv"
	*c.Size = 20
	c.Headers["Cookie"] = "x=y"
	c.URL = "https://other"

	assert.Equal(t, "a.mkv", *orig.Filename)
	assert.Equal(t, int64(10), *orig.Size)
	assert.Equal(t, "a=b", orig.Headers["Cookie"])
	assert.Equal(t, "https://example.com/a.mkv", orig.URL)
}

func TestIsDirectlyFetchable(t *testing.T) {
	tests := []struct {
		req  RsRequest
		want bool
	}{
		{RsRequest{URL: "https://example.com/x"}, true},
		{RsRequest{URL: "HTTP://example.com/x"}, true},
		{RsRequest{URL: "magnet:?xt=urn:btih:abc"}, false},
		{RsRequest{URL: "movies/a.mkv"}, false},
		{RsRequest{URL: "https://example.com/x", Status: RequestNeedProcessing}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.req.IsDirectlyFetchable(), tt.req.URL)
	}
}

func TestParseRangeHeader(t *testing.T) {
	r, err := ParseRangeHeader("bytes=10-20")
	require.NoError(t, err)
	assert.Equal(t, int64(10), r.Start)
	assert.Equal(t, int64(20), *r.End)
	assert.Equal(t, "bytes=10-20", r.Header())

	r, err = ParseRangeHeader("bytes=5-")
	require.NoError(t, err)
	assert.Nil(t, r.End)
	assert.Equal(t, "bytes=5-", r.Header())

	r, err = ParseRangeHeader("")
	require.NoError(t, err)
	assert.Nil(t, r)

	for _, bad := range []string{"items=0-1", "bytes=-100", "bytes=5-1", "bytes=0-1,4-5", "bytes=a-"} {
		_, err := ParseRangeHeader(bad)
		assert.Error(t, err, bad)
	}
}

func TestContentRange(t *testing.T) {
	s := &FileStream{Range: &ByteRange{Start: 100}, TotalSize: Int64Ptr(1000)}
	assert.Equal(t, "bytes 100-999/1000", s.ContentRange())

	end := int64(199)
	s.Range.End = &end
	assert.Equal(t, "bytes 100-199/1000", s.ContentRange())

	assert.Empty(t, (&FileStream{}).ContentRange())
}

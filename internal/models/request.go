package models

import (
	"strings"
)

// RequestStatus is the resolution state of an RsRequest
type RequestStatus string

const (
	RequestUnprocessed    RequestStatus = "unprocessed"
	RequestNeedProcessing RequestStatus = "need_processing"
	RequestProcessing     RequestStatus = "processing"
	RequestReady          RequestStatus = "ready"
	RequestFailed         RequestStatus = "failed"
)

// RsRequest references a piece of remote or local content.
// Resolution works on copies; use Clone before changing one.
type RsRequest struct {
	URL        string            `json:"url"`
	Mime       *string           `json:"mime,omitempty"`
	Size       *int64            `json:"size,omitempty"`
	Filename   *string           `json:"filename,omitempty"`
	Status     RequestStatus     `json:"status,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Permanent  bool              `json:"permanent,omitempty"`
	PluginID   *string           `json:"plugin_id,omitempty"`
	Platform   *string           `json:"platform,omitempty"`
	ExternalID *string           `json:"external_id,omitempty"`
	MediaRef   *string           `json:"media_ref,omitempty"`
}

// Clone returns a deep copy
func (r *RsRequest) Clone() *RsRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Mime = cloneString(r.Mime)
	c.Filename = cloneString(r.Filename)
	c.PluginID = cloneString(r.PluginID)
	c.Platform = cloneString(r.Platform)
	c.ExternalID = cloneString(r.ExternalID)
	c.MediaRef = cloneString(r.MediaRef)
	if r.Size != nil {
		s := *r.Size
		c.Size = &s
	}
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// IsDirectlyFetchable reports whether the URL can be fetched without a plugin.
func (r *RsRequest) IsDirectlyFetchable() bool {
	if r.Status == RequestNeedProcessing || r.Status == RequestFailed {
		return false
	}
	u := strings.ToLower(r.URL)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}

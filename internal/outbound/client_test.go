package outbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.OutboundConfig {
	return config.OutboundConfig{
		Timeout:            2 * time.Second,
		Retries:            2,
		RetryDelay:         time.Millisecond,
		RatePerSecond:      1000,
		Burst:              100,
		BreakerMaxFailures: 3,
		BreakerTimeout:     time.Minute,
		UserAgent:          "redseat-test",
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "redseat-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(testConfig(), hclog.NewNullLogger())
	resp, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL, Headers: map[string]string{"X-Auth": "token"}}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ForwardsRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=10-19", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	end := int64(19)
	c := New(testConfig(), hclog.NewNullLogger())
	resp, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL}, &models.ByteRange{Start: 10, End: &end})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
}

func TestGet_ClientErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(testConfig(), hclog.NewNullLogger())
	_, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL}, nil)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusForbidden, upErr.Status)
}

func TestDo_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Retries = 0
	c := New(cfg, hclog.NewNullLogger())

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL}, nil)
		var upErr *UpstreamError
		require.True(t, errors.As(err, &upErr))
	}

	_, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL}, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_BreakerIsPerHost(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer healthy.Close()

	cfg := testConfig()
	cfg.Retries = 0
	c := New(cfg, hclog.NewNullLogger())

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), &models.RsRequest{URL: failing.URL}, nil)
		require.Error(t, err)
	}
	_, err := c.Get(context.Background(), &models.RsRequest{URL: failing.URL}, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)

	resp, err := c.Get(context.Background(), &models.RsRequest{URL: healthy.URL}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestGet_SlowBodyOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for i := 0; i < 10; i++ {
			_, _ = w.Write([]byte{'a' + byte(i)})
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Timeout = 300 * time.Millisecond
	c := New(cfg, hclog.NewNullLogger())

	resp, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(body))
}

func TestGet_SlowHeadersTimeOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.Retries = 0
	c := New(cfg, hclog.NewNullLogger())

	_, err := c.Get(context.Background(), &models.RsRequest{URL: srv.URL}, nil)
	require.Error(t, err)
}

package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type echoReq struct {
	Msg string `json:"msg"`
}

type echoResp struct {
	Reply string `json:"reply"`
}

func noSleep(c *Client) *Client {
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestPostJSON_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("X-Extra") != "1" {
			t.Errorf("missing headers: %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var in echoReq
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(echoResp{Reply: "re: " + in.Msg})
	}))
	defer srv.Close()

	c := New(time.Second, WithBearer("secret"), WithHeader("X-Extra", "1"))
	var out echoResp
	if err := c.PostJSON(context.Background(), srv.URL, echoReq{Msg: "hi"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out.Reply != "re: hi" {
		t.Errorf("Reply = %q", out.Reply)
	}
}

func TestPostJSON_retriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(echoResp{Reply: "ok"})
	}))
	defer srv.Close()

	c := noSleep(New(time.Second, WithMaxRetries(3)))
	var out echoResp
	if err := c.PostJSON(context.Background(), srv.URL, echoReq{}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPostJSON_doesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := noSleep(New(time.Second, WithMaxRetries(3)))
	err := c.PostJSON(context.Background(), srv.URL, echoReq{}, &echoResp{})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if se.Body != "bad key" {
		t.Errorf("Body = %q", se.Body)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPostJSON_givesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := noSleep(New(time.Second, WithMaxRetries(2)))
	err := c.PostJSON(context.Background(), srv.URL, echoReq{}, &echoResp{})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPostJSON_canceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(echoResp{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(time.Second).PostJSON(ctx, srv.URL, echoReq{}, &echoResp{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryHelpers(t *testing.T) {
	if retryDelay(0) != baseRetryDelay || retryDelay(1) != 2*baseRetryDelay {
		t.Error("unexpected backoff")
	}
	if retryDelay(40) != maxRetryDelay {
		t.Error("backoff should be capped")
	}
	if retryAfter("2") != 2*time.Second || retryAfter("") != 0 || retryAfter("soon") != 0 {
		t.Error("unexpected Retry-After parsing")
	}
	if retryAfter("3600") != maxRetryDelay {
		t.Error("Retry-After should be capped")
	}
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ok":true}]`))
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	body, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != `[{"ok":true}]` {
		t.Fatalf("body = %s", body)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("500 should be retryable: %v", err)
	}
}

func TestTooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	_, err := c.Get(context.Background(), srv.URL)
	if !IsRetryable(err) {
		t.Fatalf("429 should be retryable: %v", err)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Fatalf("404 must not be retryable: %v", err)
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(50 * time.Millisecond)
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !IsRetryable(err) {
		t.Fatalf("timeout should be retryable: %v", err)
	}
}

func TestBadTargetIsPermanent(t *testing.T) {
	c := NewClient(time.Second)
	_, err := c.Get(context.Background(), "not a url")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Fatalf("bad target must not be retryable: %v", err)
	}
}

func TestUnreachableHostIsRetryable(t *testing.T) {
	c := NewClient(time.Second)
	_, err := c.Get(context.Background(), "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("connection refused should be retryable: %v", err)
	}
}

func TestPost(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, r.ContentLength)
		r.Body.Read(b)
		got = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	if _, err := c.Post(context.Background(), srv.URL, []byte(`{"text":"hi"}`)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got != `{"text":"hi"}` {
		t.Fatalf("server saw %q", got)
	}
}

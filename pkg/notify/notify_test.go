package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"activityd/pkg/models"
)

func TestFormatMessage(t *testing.T) {
	rec := &models.Record{
		ID: "0xabc",
		Payload: []byte(`{"title":"Some Market","type":"trade","side":"BUY","outcome":"Yes",
			"price":0.42,"size":100,"usdcSize":42,"transactionHash":"0xabc","timestamp":1700000000}`),
	}
	msg := FormatMessage(rec)
	for _, want := range []string{"TRADE", "Some Market", "BUY", "Yes", "0xabc", "42.00"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessageFallback(t *testing.T) {
	rec := &models.Record{ID: "r1", Payload: []byte(`{"weird":true}`)}
	if msg := FormatMessage(rec); !strings.Contains(msg, "r1") {
		t.Fatalf("fallback message = %q", msg)
	}
}

func TestNotifySendsWebhookBody(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "chat-42", 2*time.Second, 3)
	rec := &models.Record{ID: "0xdead", Payload: []byte(`{"title":"M","type":"trade"}`)}
	if err := n.Notify(context.Background(), rec); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.ChatID != "chat-42" {
		t.Fatalf("chat_id = %q", got.ChatID)
	}
	if !strings.Contains(got.Text, "M") {
		t.Fatalf("text = %q", got.Text)
	}
	if !got.DisableWebPagePreview {
		t.Fatal("preview flag not set")
	}
}

func TestNotifyRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "", 2*time.Second, 3)
	n.backoffBase = time.Millisecond
	if err := n.Notify(context.Background(), &models.Record{ID: "r", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNotifyGivesUpOnPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(srv.URL, "", 2*time.Second, 5)
	if err := n.Notify(context.Background(), &models.Record{ID: "r", Payload: []byte(`{}`)}); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 400)", calls)
	}
}

func TestDisabledNotifier(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Fatal("nil notifier must be disabled")
	}
	n2 := New("", "", time.Second, 3)
	if n2.Enabled() {
		t.Fatal("empty url must disable")
	}
	if err := n2.Notify(context.Background(), &models.Record{ID: "r"}); err != nil {
		t.Fatalf("disabled notify should be a no-op: %v", err)
	}
}

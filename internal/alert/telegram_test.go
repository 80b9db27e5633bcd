package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTelegramNotifySendsChatAndText(t *testing.T) {
	var got telegramSendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottok-123/sendMessage") {
			t.Errorf("path = %q, want /bottok-123/sendMessage suffix", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body not json: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "tok-123", "chat-9", srv.URL, time.Second)
	if err := n.Notify(context.Background(), "bot started"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.ChatID != "chat-9" || got.Text != "bot started" {
		t.Fatalf("request = %+v, want chat-9 / bot started", got)
	}
	if !got.DisableWebPagePreview {
		t.Fatalf("DisableWebPagePreview = false, want true")
	}
}

func TestTelegramNotifySurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "tok", "chat", srv.URL, time.Second)
	err := n.Notify(context.Background(), "msg")
	if err == nil {
		t.Fatalf("Notify() error = nil, want api error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Notify() error = %q, want code and description", err.Error())
	}
}

func TestTelegramNotifyReportsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "tok", "chat", srv.URL, time.Second)
	err := n.Notify(context.Background(), "msg")
	if err == nil || !strings.Contains(err.Error(), "retry after 7s") {
		t.Fatalf("Notify() error = %v, want retry after 7s", err)
	}
}

func TestTelegramNotifyDisabledIsNoop(t *testing.T) {
	n := NewTelegramNotifier(false, "", "", "http://127.0.0.1:1", time.Second)
	if err := n.Notify(context.Background(), "msg"); err != nil {
		t.Fatalf("Notify() error = %v, want nil when disabled", err)
	}
}

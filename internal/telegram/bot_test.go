package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewNotifier("token", "-100123", slog.Default())
	n.baseURL = srv.URL + "/bot"
	if err := n.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if got["chat_id"] != float64(-100123) {
		t.Errorf("chat_id = %v, want -100123", got["chat_id"])
	}
	if got["parse_mode"] != "HTML" || got["text"] != "hello" {
		t.Errorf("payload = %v", got)
	}
}

func TestSendMessageChannelName(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewNotifier("token", "@tao_alerts", slog.Default())
	n.baseURL = srv.URL + "/bot"
	if err := n.SendMessage(context.Background(), strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if got["chat_id"] != "@tao_alerts" {
		t.Errorf("chat_id = %v, want @tao_alerts", got["chat_id"])
	}
	if text, _ := got["text"].(string); len(text) != maxMessageLen {
		t.Errorf("len(text) = %d, want %d", len(text), maxMessageLen)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewNotifier("token", "1", slog.Default())
	n.baseURL = srv.URL + "/bot"
	err := n.SendMessage(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v, want chat not found", err)
	}
}

func TestConfigured(t *testing.T) {
	var nilNotifier *Notifier
	if nilNotifier.Configured() {
		t.Error("nil notifier should not be configured")
	}
	if NewNotifier("", "1", slog.Default()).Configured() {
		t.Error("missing token should not be configured")
	}
	if !NewNotifier("t", "1", slog.Default()).Configured() {
		t.Error("token and chat should be configured")
	}
}

func TestFormatAlert(t *testing.T) {
	got := FormatAlert("bittensor_alert", " Whale <moved> 5k TAO ", "https://x.com/a/status/1?a=1&b=2")
	want := "🔔 <b>bittensor_alert</b>\n\nWhale &lt;moved&gt; 5k TAO\n\n<a href=\"https://x.com/a/status/1?a=1&amp;b=2\">source</a>"
	if got != want {
		t.Errorf("FormatAlert =\n%q\nwant\n%q", got, want)
	}
}

package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/signalgate/internal/gating"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

func acceptedDecision(t *testing.T) *gating.Decision {
	t.Helper()
	sig, err := signal.Canonicalize(&signal.RawEvent{
		Ticker:    "AAPL",
		Timeframe: "1h",
		Type:      "WT Gold Buy Signal",
		System:    "Wave Trend",
		Strength:  signal.StrengthVeryStrong,
		Date:      "2025-05-27 11:58:00",
	}, time.Date(2025, 5, 27, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return &gating.Decision{
		WillSend: true,
		Signal:   sig,
		Key:      sig.Key,
		Score:    gating.PriorityScore{TotalScore: 120, Level: gating.LevelCritical},
		Level:    gating.LevelCritical.String(),
	}
}

func TestSend_PostsEmbedAndReturnsMessageID(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			t.Error("webhook must be called with wait=true to get the message back")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "1377001234567890"}`))
	}))
	defer srv.Close()

	id, err := New(srv.URL).Send(context.Background(), acceptedDecision(t))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "1377001234567890" {
		t.Errorf("message id = %q, want 1377001234567890", id)
	}

	embeds, ok := got["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected exactly one embed, got %v", got["embeds"])
	}
	embed := embeds[0].(map[string]any)

	title := embed["title"].(string)
	if !strings.Contains(title, "AAPL") || !strings.Contains(title, "1h") {
		t.Errorf("title = %q, want ticker and timeframe", title)
	}
	// Buy-side signals render green.
	if int(embed["color"].(float64)) != colorGreen {
		t.Errorf("color = %v, want green for a buy signal", embed["color"])
	}

	fields := embed["fields"].([]any)
	if len(fields) != 3 {
		t.Fatalf("fields count = %d, want 3", len(fields))
	}
	priority := fields[2].(map[string]any)["value"].(string)
	if !strings.Contains(priority, "CRITICAL") || !strings.Contains(priority, "120") {
		t.Errorf("priority field = %q, want level and score", priority)
	}
}

func TestSend_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Invalid Webhook Token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Send(context.Background(), acceptedDecision(t)); err == nil {
		t.Fatal("expected error on non-2xx webhook response")
	}
}

func TestSignalColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		signalType string
		want       int
	}{
		{"WT Gold Buy Signal", colorGreen},
		{"Bullish Divergence", colorGreen},
		{"Bearish Divergence", colorRed},
		{"WT Sell Cross", colorRed},
		{"Trend Exhaustion Warning", colorOrange},
		{"Zero Line Reject", colorBlue},
	}
	for _, tt := range tests {
		if got := signalColor(tt.signalType); got != tt.want {
			t.Errorf("signalColor(%q) = %#x, want %#x", tt.signalType, got, tt.want)
		}
	}
}

// Package discord delivers accepted signal decisions to a Discord
// channel via incoming webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/signalgate/internal/gating"
)

const httpTimeout = 10 * time.Second

// Embed accent colors, Discord's 24-bit RGB ints.
const (
	colorGreen  = 0x2ecc71 // buy side
	colorRed    = 0xe74c3c // sell side
	colorOrange = 0xe67e22 // exhaustion warnings
	colorBlue   = 0x3498db // everything else
)

// Notifier posts one embed per accepted decision and returns the
// created message's ID for delivery confirmation.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Discord notifier for the given webhook URL.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send implements gating.Notifier. The webhook is called with
// ?wait=true so Discord returns the created message instead of a bare
// 204, which is how we learn the message ID.
func (n *Notifier) Send(ctx context.Context, d *gating.Decision) (string, error) {
	body, err := json.Marshal(buildMessage(d))
	if err != nil {
		return "", fmt.Errorf("discord: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL+"?wait=true", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("discord: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("discord: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("discord: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return "", fmt.Errorf("discord: unmarshal response: %w", err)
	}
	return msg.ID, nil
}

func buildMessage(d *gating.Decision) map[string]any {
	sig := d.Signal
	return map[string]any{
		"embeds": []map[string]any{{
			"title":       fmt.Sprintf("%s Signal Alert: %s (%s)", levelEmoji(d.Score.Level), sig.Ticker, sig.Timeframe),
			"description": sig.Type,
			"color":       signalColor(sig.Type),
			"fields": []map[string]any{
				{"name": "System", "value": sig.System, "inline": true},
				{"name": "Strength", "value": string(sig.Strength), "inline": true},
				{"name": "Priority", "value": fmt.Sprintf("%s (%d)", d.Level, d.Score.TotalScore), "inline": true},
			},
			"footer": map[string]any{
				"text": fmt.Sprintf("signalgate • %s", sig.Key.SignalDate),
			},
		}},
	}
}

func signalColor(signalType string) int {
	t := strings.ToLower(signalType)
	switch {
	case strings.Contains(t, "gold") || strings.Contains(t, "buy") || strings.Contains(t, "bullish"):
		return colorGreen
	case strings.Contains(t, "sell") || strings.Contains(t, "bearish"):
		return colorRed
	case strings.Contains(t, "exhaustion"):
		return colorOrange
	default:
		return colorBlue
	}
}

func levelEmoji(l gating.Level) string {
	switch l {
	case gating.LevelCritical:
		return "\U0001f6a8" // rotating light
	case gating.LevelHigh:
		return "\U0001f534" // red circle
	case gating.LevelMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// Package upstream fetches categorized signal timelines from the
// analyzer HTTP API and flattens them into raw events.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

// Client is a gating.UpstreamSource backed by the analyzer service.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates an analyzer client for the given base endpoint, e.g.
// "http://analyzer:8500".
func New(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// lookbackPeriods maps a timeframe to the history window requested from
// the analyzer. Shorter bars need less history to cover recent signals.
var lookbackPeriods = map[string]string{
	"1d":  "1y",
	"4h":  "3mo",
	"2h":  "3mo",
	"1h":  "1mo",
	"30m": "1wk",
	"15m": "1wk",
	"5m":  "1wk",
	"1m":  "1wk",
}

const defaultLookback = "1mo"

func lookbackFor(timeframe string) string {
	if p, ok := lookbackPeriods[timeframe]; ok {
		return p
	}
	return defaultLookback
}

// timelineResponse is the analyzer's categorized shape: signals grouped
// by the detection system that produced them.
type timelineResponse struct {
	Ticker   string `json:"ticker"`
	Interval string `json:"interval"`
	Signals  map[string][]struct {
		Type     string `json:"type"`
		Strength string `json:"strength"`
		Date     string `json:"date"`
	} `json:"signals"`
	Error string `json:"error"`
}

// FetchTimeline implements gating.UpstreamSource.
func (c *Client) FetchTimeline(ctx context.Context, ticker, timeframe string) ([]signal.RawEvent, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("interval", timeframe)
	q.Set("period", lookbackFor(timeframe))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/api/analyzer-b?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer error %d: %s", resp.StatusCode, string(respBody))
	}

	var out timelineResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("analyzer: %s", out.Error)
	}

	var events []signal.RawEvent
	for system, sigs := range out.Signals {
		for _, s := range sigs {
			events = append(events, signal.RawEvent{
				Ticker:    ticker,
				Timeframe: timeframe,
				Type:      s.Type,
				System:    system,
				Strength:  signal.Strength(s.Strength),
				Date:      s.Date,
			})
		}
	}
	return events, nil
}

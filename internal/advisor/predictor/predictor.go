// Package predictor adapts the external ML prediction service to the
// gating advisor contract.
package predictor

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
	"github.com/linnemanlabs/signalgate/internal/signal"
)

// Client calls the predictor HTTP API. It never retries; the engine
// owns the timeout and the fail-open policy.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a predictor client for the given base endpoint, e.g.
// "http://predictor:8600".
func New(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type predictRequest struct {
	Ticker     string  `json:"ticker"`
	Timeframe  string  `json:"timeframe"`
	SignalType string  `json:"signal_type"`
	System     string  `json:"system"`
	Strength   string  `json:"strength"`
	AgeSeconds float64 `json:"age_seconds"`
}

type predictResponse struct {
	Prediction *struct {
		SuccessProbability float64 `json:"success_probability"`
		Confidence         string  `json:"confidence"`
		RiskLevel          string  `json:"risk_level"`
		SampleSize         int     `json:"sample_size"`
	} `json:"prediction"`
	Error string `json:"error"`
}

// Assess implements gating.Advisor.
func (c *Client) Assess(ctx context.Context, sig *signal.Signal) (*gating.Assessment, error) {
	body, err := json.Marshal(predictRequest{
		Ticker:     sig.Ticker,
		Timeframe:  sig.Timeframe,
		SignalType: sig.Type,
		System:     sig.System,
		Strength:   string(sig.Strength),
		AgeSeconds: sig.AgeSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/api/v1/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("predictor error %d: %s", resp.StatusCode, string(respBody))
	}

	var out predictResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != "" || out.Prediction == nil {
		// The service answered but has no model for this signal.
		return nil, gating.ErrNoAssessment
	}

	return &gating.Assessment{
		SuccessProbability: out.Prediction.SuccessProbability,
		Confidence:         gating.Confidence(out.Prediction.Confidence),
		RiskLevel:          gating.RiskLevel(out.Prediction.RiskLevel),
		SampleSize:         out.Prediction.SampleSize,
	}, nil
}

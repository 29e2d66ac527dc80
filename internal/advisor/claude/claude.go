// Package claude implements the advisor contract on top of the
// Anthropic Messages API. It is an alternative to the statistical
// predictor for deployments without one.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/signalgate/internal/gating"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

const systemPrompt = `You assess trading signals. Given one signal, reply with a single JSON object and nothing else:
{"success_probability": <0..1>, "confidence": "low"|"medium"|"high", "risk_level": "low"|"medium"|"high"}
If you cannot form an opinion, reply with {"error": "no opinion"}.`

// Advisor asks a Claude model for a probabilistic read on a signal.
type Advisor struct {
	client *anthropic.Client
	model  string
}

// New creates an advisor for the given API key and model name.
func New(apiKey, model string) *Advisor {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Advisor{client: &client, model: model}
}

// Assess implements gating.Advisor.
func (a *Advisor) Assess(ctx context.Context, sig *signal.Signal) (*gating.Assessment, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(signalPrompt(sig))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messages.new: %w", err)
	}
	return parseAssessment(textContent(msg))
}

// signalPrompt renders the signal facts the model judges from.
func signalPrompt(sig *signal.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ticker: %s\n", sig.Ticker)
	fmt.Fprintf(&b, "timeframe: %s\n", sig.Timeframe)
	fmt.Fprintf(&b, "signal type: %s\n", sig.Type)
	fmt.Fprintf(&b, "detection system: %s\n", sig.System)
	fmt.Fprintf(&b, "reported strength: %s\n", sig.Strength)
	fmt.Fprintf(&b, "age seconds: %.0f\n", sig.AgeSeconds)
	return b.String()
}

func textContent(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// parseAssessment decodes the model's JSON reply. Replies that decline
// or fail validation map to ErrNoAssessment so the engine fails open.
func parseAssessment(text string) (*gating.Assessment, error) {
	text = strings.TrimSpace(text)
	// Tolerate fenced replies despite the instruction not to.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply struct {
		SuccessProbability *float64 `json:"success_probability"`
		Confidence         string   `json:"confidence"`
		RiskLevel          string   `json:"risk_level"`
		Error              string   `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("%w: unparseable reply", gating.ErrNoAssessment)
	}
	if reply.Error != "" || reply.SuccessProbability == nil {
		return nil, gating.ErrNoAssessment
	}
	p := *reply.SuccessProbability
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability %v outside [0,1]", gating.ErrNoAssessment, p)
	}
	return &gating.Assessment{
		SuccessProbability: p,
		Confidence:         gating.Confidence(reply.Confidence),
		RiskLevel:          gating.RiskLevel(reply.RiskLevel),
	}, nil
}

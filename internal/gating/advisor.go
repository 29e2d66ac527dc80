package gating

import (
	"context"
	"errors"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

// ErrNoAssessment is returned by advisors that cannot produce an
// opinion for this signal (e.g. insufficient training sample). The
// engine treats it like any other advisor failure: fail open.
var ErrNoAssessment = errors.New("no assessment available")

// Confidence grades how much historical support an assessment has.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RiskLevel grades the downside of acting on the signal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Assessment is the probabilistic read on a signal from the external
// predictor. Its absence never affects correctness, only nuance.
type Assessment struct {
	SuccessProbability float64    `json:"success_probability"`
	Confidence         Confidence `json:"confidence"`
	RiskLevel          RiskLevel  `json:"risk_level"`
	SampleSize         int        `json:"sample_size,omitempty"`
}

// Advisor is the contract for the optional ML collaborator. The engine
// bounds each call with its configured timeout; implementations must
// respect ctx cancellation and never retry internally.
type Advisor interface {
	Assess(ctx context.Context, sig *signal.Signal) (*Assessment, error)
}

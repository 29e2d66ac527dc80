package gating

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

// ErrInvalidPolicy marks a misconfigured policy. It is raised at load
// time, never during evaluation, so a bad config can never silently
// misclassify signals.
var ErrInvalidPolicy = errors.New("invalid gating policy")

// Thresholds are the score cutoffs for level assignment. They must be
// strictly descending critical > high > medium > low.
type Thresholds struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// PatternWeight awards a bonus to recognized high-conviction signal
// sub-types. Patterns are matched case-insensitively against the type.
type PatternWeight struct {
	Pattern *regexp.Regexp
	Weight  int
}

// UrgencyTier maps a maximum signal age to its urgency bonus. Tiers are
// scanned in ascending age order; signals older than every tier get 0.
type UrgencyTier struct {
	MaxAgeSeconds float64 `json:"max_age_seconds"`
	Bonus         int     `json:"bonus"`
}

// Policy is an immutable configuration snapshot read once per
// evaluation. Updates are applied by swapping the whole snapshot, never
// by mutating one in place.
type Policy struct {
	MinPriorityLevel Level
	Thresholds       Thresholds

	BaseScore int
	MaxScore  int

	StrengthWeights     map[signal.Strength]int
	SystemWeights       map[string]int
	DefaultSystemWeight int

	VIPTickers        map[string]struct{}
	VIPTimeframes     map[string]struct{}
	VIPTickerBonus    int
	VIPTimeframeBonus int

	UrgencyTiers   []UrgencyTier
	PatternWeights []PatternWeight

	// ML gate; used only when an advisor is configured.
	MLRejectThreshold float64
	MLBoostThreshold  float64
}

// DefaultPolicy returns the stock weight tables and thresholds.
func DefaultPolicy() *Policy {
	return &Policy{
		MinPriorityLevel: LevelMedium,
		Thresholds:       Thresholds{Critical: 90, High: 70, Medium: 50, Low: 30},
		BaseScore:        10,
		MaxScore:         150,
		StrengthWeights: map[signal.Strength]int{
			signal.StrengthVeryStrong: 25,
			signal.StrengthStrong:     20,
			signal.StrengthModerate:   15,
			signal.StrengthWeak:       5,
			signal.StrengthUnknown:    0,
		},
		SystemWeights: map[string]int{
			"Wave Trend":           20,
			"RSI3M3+":              18,
			"Divergence Detection": 16,
			"Fast Money":           14,
			"Trend Exhaustion":     12,
			"RSI Trend Break":      10,
			"Zero Line":            8,
		},
		DefaultSystemWeight: 5,
		VIPTickers:          toSet("SPY", "QQQ", "AAPL", "TSLA", "NVDA"),
		VIPTimeframes:       toSet("1d", "4h"),
		VIPTickerBonus:      15,
		VIPTimeframeBonus:   10,
		UrgencyTiers: []UrgencyTier{
			{MaxAgeSeconds: 300, Bonus: 20},
			{MaxAgeSeconds: 3600, Bonus: 16},
			{MaxAgeSeconds: 14400, Bonus: 12},
			{MaxAgeSeconds: 86400, Bonus: 8},
		},
		PatternWeights:    defaultPatternWeights(),
		MLRejectThreshold: 0.35,
		MLBoostThreshold:  0.75,
	}
}

func defaultPatternWeights() []PatternWeight {
	raw := []struct {
		expr   string
		weight int
	}{
		{"Gold Buy Signal", 30},
		{"Zero Line Reject", 25},
		{"Extreme Oversold", 25},
		{"Extreme Overbought", 25},
		{"Fast Money", 20},
		{"Bullish Divergence", 18},
		{"Bearish Divergence", 18},
		{"Hidden.*Divergence", 15},
		{"WT.*Signal", 12},
		{"RSI3M3.*Entry", 12},
		{"Trend Break", 10},
		{"Cross", 8},
		{"Reversal", 6},
	}
	pw := make([]PatternWeight, 0, len(raw))
	for _, r := range raw {
		pw = append(pw, PatternWeight{
			Pattern: regexp.MustCompile("(?i)" + r.expr),
			Weight:  r.weight,
		})
	}
	return pw
}

// Validate checks the snapshot for internal consistency. Any violation
// is fatal to startup or reload; the previous snapshot stays in effect.
func (p *Policy) Validate() error {
	var errs []error

	t := p.Thresholds
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > t.Low) {
		errs = append(errs, fmt.Errorf(
			"thresholds must satisfy critical > high > medium > low, got %d/%d/%d/%d",
			t.Critical, t.High, t.Medium, t.Low))
	}
	if t.Low <= 0 {
		errs = append(errs, fmt.Errorf("low threshold must be positive, got %d", t.Low))
	}
	if p.MinPriorityLevel < LevelMinimal || p.MinPriorityLevel > LevelCritical {
		errs = append(errs, fmt.Errorf("min priority level %d out of range", p.MinPriorityLevel))
	}
	if p.BaseScore <= 0 {
		errs = append(errs, fmt.Errorf("base score must be positive, got %d", p.BaseScore))
	}
	if p.MaxScore < t.Critical {
		errs = append(errs, fmt.Errorf("max score %d below critical threshold %d", p.MaxScore, t.Critical))
	}
	for i, tier := range p.UrgencyTiers {
		if i > 0 {
			prev := p.UrgencyTiers[i-1]
			if tier.MaxAgeSeconds <= prev.MaxAgeSeconds {
				errs = append(errs, fmt.Errorf("urgency tiers must have ascending ages"))
			}
			if tier.Bonus > prev.Bonus {
				errs = append(errs, fmt.Errorf("urgency bonuses must be non-increasing with age"))
			}
		}
		if tier.Bonus < 0 {
			errs = append(errs, fmt.Errorf("urgency bonus must be non-negative"))
		}
	}
	if p.MLRejectThreshold < 0 || p.MLRejectThreshold > 1 {
		errs = append(errs, fmt.Errorf("ml reject threshold %v outside [0,1]", p.MLRejectThreshold))
	}
	if p.MLBoostThreshold <= p.MLRejectThreshold || p.MLBoostThreshold > 1 {
		errs = append(errs, fmt.Errorf(
			"ml boost threshold %v must exceed reject threshold %v and stay within [0,1]",
			p.MLBoostThreshold, p.MLRejectThreshold))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}

func toSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

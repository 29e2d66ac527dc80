package gating

import (
	"strings"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

// ScoreSignal computes the priority breakdown for a canonical signal
// against a policy snapshot. Pure and deterministic: no I/O, no clock
// (the signal's age was fixed at canonicalization).
func ScoreSignal(sig *signal.Signal, p *Policy) PriorityScore {
	score := PriorityScore{
		BaseScore:     p.BaseScore,
		StrengthBonus: p.StrengthWeights[sig.Strength],
		SystemBonus:   systemBonus(sig.System, p),
		UrgencyBonus:  urgencyBonus(sig.AgeSeconds, p.UrgencyTiers),
		PatternBonus:  patternBonus(sig.Type, p.PatternWeights),
	}

	if _, ok := p.VIPTickers[sig.Ticker]; ok {
		score.TickerBonus = p.VIPTickerBonus
	}
	if _, ok := p.VIPTimeframes[sig.Timeframe]; ok {
		score.TimeframeBonus = p.VIPTimeframeBonus
	}

	total := score.BaseScore + score.StrengthBonus + score.SystemBonus +
		score.TickerBonus + score.TimeframeBonus + score.UrgencyBonus + score.PatternBonus
	if total > p.MaxScore {
		total = p.MaxScore
	}
	score.TotalScore = total
	score.Level = levelFor(total, p.Thresholds)
	return score
}

// systemBonus matches the reported system name against the weight table
// by case-insensitive substring, falling back to the default weight.
// Highest matching weight wins so overlapping names stay deterministic.
func systemBonus(system string, p *Policy) int {
	lower := strings.ToLower(system)
	best := -1
	for name, weight := range p.SystemWeights {
		if weight > best && strings.Contains(lower, strings.ToLower(name)) {
			best = weight
		}
	}
	if best < 0 {
		return p.DefaultSystemWeight
	}
	return best
}

// urgencyBonus returns the bonus for the first tier the signal's age
// fits in, and 0 past the last tier. Future-dated signals count as
// maximally fresh.
func urgencyBonus(ageSeconds float64, tiers []UrgencyTier) int {
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	for _, t := range tiers {
		if ageSeconds < t.MaxAgeSeconds {
			return t.Bonus
		}
	}
	return 0
}

// patternBonus awards the highest weight among all matching patterns.
func patternBonus(signalType string, patterns []PatternWeight) int {
	best := 0
	for _, pw := range patterns {
		if pw.Weight > best && pw.Pattern.MatchString(signalType) {
			best = pw.Weight
		}
	}
	return best
}

// levelFor scans the thresholds in descending order.
func levelFor(total int, t Thresholds) Level {
	switch {
	case total >= t.Critical:
		return LevelCritical
	case total >= t.High:
		return LevelHigh
	case total >= t.Medium:
		return LevelMedium
	case total >= t.Low:
		return LevelLow
	default:
		return LevelMinimal
	}
}

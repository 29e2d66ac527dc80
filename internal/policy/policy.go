// Package policy loads gating policy from a YAML file and serves
// immutable snapshots to the rest of the service. A reload that fails
// validation keeps the previous snapshot in effect.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/signalgate/internal/gating"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

// FileSource is a gating.PolicyProvider backed by an optional YAML
// file. With an empty path it serves the built-in defaults.
type FileSource struct {
	path string

	snapshot  atomic.Pointer[gating.Policy]
	watchlist atomic.Pointer[[]gating.Pair]
}

// NewFileSource loads the initial snapshot. Load errors are fatal here;
// once running, Reload keeps the old snapshot on failure instead.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot implements gating.PolicyProvider.
func (s *FileSource) Snapshot() *gating.Policy { return s.snapshot.Load() }

// Watchlist implements gating.PolicyProvider. It returns the cross
// product of configured tickers and timeframes.
func (s *FileSource) Watchlist() []gating.Pair {
	if wl := s.watchlist.Load(); wl != nil {
		return *wl
	}
	return nil
}

// Reload re-reads the file and swaps in the new snapshot atomically.
// On any parse or validation error the current snapshot is untouched.
func (s *FileSource) Reload() error {
	pol := gating.DefaultPolicy()
	var watch watchlistConfig

	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("read policy file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fmt.Errorf("parse policy file: %w", err)
		}
		if err := fc.apply(pol); err != nil {
			return err
		}
		watch = fc.Watchlist
	}

	if err := pol.Validate(); err != nil {
		return err
	}

	pairs := watch.pairs()
	s.snapshot.Store(pol)
	s.watchlist.Store(&pairs)
	return nil
}

type watchlistConfig struct {
	Tickers    []string `yaml:"tickers"`
	Timeframes []string `yaml:"timeframes"`
}

func (w watchlistConfig) pairs() []gating.Pair {
	pairs := make([]gating.Pair, 0, len(w.Tickers)*len(w.Timeframes))
	for _, t := range w.Tickers {
		for _, tf := range w.Timeframes {
			pairs = append(pairs, gating.Pair{Ticker: t, Timeframe: tf})
		}
	}
	return pairs
}

// fileConfig mirrors the YAML layout. Every section is optional;
// omitted sections keep their defaults.
type fileConfig struct {
	MinPriorityLevel string `yaml:"min_priority_level"`

	Thresholds *struct {
		Critical int `yaml:"critical"`
		High     int `yaml:"high"`
		Medium   int `yaml:"medium"`
		Low      int `yaml:"low"`
	} `yaml:"thresholds"`

	BaseScore *int `yaml:"base_score"`
	MaxScore  *int `yaml:"max_score"`

	StrengthWeights map[string]int `yaml:"strength_weights"`
	SystemWeights   map[string]int `yaml:"system_weights"`
	DefaultWeight   *int           `yaml:"default_system_weight"`

	VIP *struct {
		Tickers        []string `yaml:"tickers"`
		Timeframes     []string `yaml:"timeframes"`
		TickerBonus    *int     `yaml:"ticker_bonus"`
		TimeframeBonus *int     `yaml:"timeframe_bonus"`
	} `yaml:"vip"`

	UrgencyTiers []struct {
		MaxAgeSeconds float64 `yaml:"max_age_seconds"`
		Bonus         int     `yaml:"bonus"`
	} `yaml:"urgency_tiers"`

	PatternWeights []struct {
		Pattern string `yaml:"pattern"`
		Weight  int    `yaml:"weight"`
	} `yaml:"pattern_weights"`

	ML *struct {
		RejectThreshold *float64 `yaml:"reject_threshold"`
		BoostThreshold  *float64 `yaml:"boost_threshold"`
	} `yaml:"ml"`

	Watchlist watchlistConfig `yaml:"watchlist"`
}

func (fc *fileConfig) apply(p *gating.Policy) error {
	if fc.MinPriorityLevel != "" {
		lvl, err := gating.ParseLevel(fc.MinPriorityLevel)
		if err != nil {
			return fmt.Errorf("%w: %v", gating.ErrInvalidPolicy, err)
		}
		p.MinPriorityLevel = lvl
	}
	if t := fc.Thresholds; t != nil {
		p.Thresholds = gating.Thresholds{Critical: t.Critical, High: t.High, Medium: t.Medium, Low: t.Low}
	}
	if fc.BaseScore != nil {
		p.BaseScore = *fc.BaseScore
	}
	if fc.MaxScore != nil {
		p.MaxScore = *fc.MaxScore
	}
	if len(fc.StrengthWeights) > 0 {
		sw := make(map[signal.Strength]int, len(fc.StrengthWeights))
		for k, v := range fc.StrengthWeights {
			sw[signal.Strength(k)] = v
		}
		p.StrengthWeights = sw
	}
	if len(fc.SystemWeights) > 0 {
		p.SystemWeights = fc.SystemWeights
	}
	if fc.DefaultWeight != nil {
		p.DefaultSystemWeight = *fc.DefaultWeight
	}
	if v := fc.VIP; v != nil {
		if v.Tickers != nil {
			p.VIPTickers = toSet(v.Tickers)
		}
		if v.Timeframes != nil {
			p.VIPTimeframes = toSet(v.Timeframes)
		}
		if v.TickerBonus != nil {
			p.VIPTickerBonus = *v.TickerBonus
		}
		if v.TimeframeBonus != nil {
			p.VIPTimeframeBonus = *v.TimeframeBonus
		}
	}
	if len(fc.UrgencyTiers) > 0 {
		tiers := make([]gating.UrgencyTier, 0, len(fc.UrgencyTiers))
		for _, t := range fc.UrgencyTiers {
			tiers = append(tiers, gating.UrgencyTier{MaxAgeSeconds: t.MaxAgeSeconds, Bonus: t.Bonus})
		}
		p.UrgencyTiers = tiers
	}
	if len(fc.PatternWeights) > 0 {
		pw := make([]gating.PatternWeight, 0, len(fc.PatternWeights))
		for _, r := range fc.PatternWeights {
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				return fmt.Errorf("%w: pattern %q: %v", gating.ErrInvalidPolicy, r.Pattern, err)
			}
			pw = append(pw, gating.PatternWeight{Pattern: re, Weight: r.Weight})
		}
		p.PatternWeights = pw
	}
	if m := fc.ML; m != nil {
		if m.RejectThreshold != nil {
			p.MLRejectThreshold = *m.RejectThreshold
		}
		if m.BoostThreshold != nil {
			p.MLBoostThreshold = *m.BoostThreshold
		}
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

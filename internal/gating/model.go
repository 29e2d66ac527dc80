package gating

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

// Level is a signal's priority classification. Higher is more urgent.
type Level int

const (
	LevelMinimal Level = iota + 1
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = map[Level]string{
	LevelMinimal:  "MINIMAL",
	LevelLow:      "LOW",
	LevelMedium:   "MEDIUM",
	LevelHigh:     "HIGH",
	LevelCritical: "CRITICAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config string like "HIGH" to its Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown priority level %q", s)
}

// PriorityScore is the full scoring breakdown for one signal. It is
// derived and immutable; only its summary fields are persisted.
type PriorityScore struct {
	BaseScore      int   `json:"base_score"`
	StrengthBonus  int   `json:"strength_bonus"`
	SystemBonus    int   `json:"system_bonus"`
	TickerBonus    int   `json:"ticker_bonus"`
	TimeframeBonus int   `json:"timeframe_bonus"`
	UrgencyBonus   int   `json:"urgency_bonus"`
	PatternBonus   int   `json:"pattern_bonus"`
	TotalScore     int   `json:"total_score"`
	Level          Level `json:"-"`
}

// SkipReason explains why a signal was not sent.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipMalformed SkipReason = "malformed"
	SkipDuplicate SkipReason = "duplicate"
	SkipMLRisk    SkipReason = "ml_high_risk"
)

// SkipReasonPriority builds the below-threshold reason carrying the
// level the signal actually scored.
func SkipReasonPriority(l Level) SkipReason {
	return SkipReason("priority_below_threshold_" + strings.ToLower(l.String()))
}

// Decision is the outcome of one evaluation.
type Decision struct {
	WillSend   bool           `json:"will_send"`
	SkipReason SkipReason     `json:"skip_reason,omitempty"`
	Signal     *signal.Signal `json:"-"`
	Key        signal.Key     `json:"key"`
	Score      PriorityScore  `json:"score"`
	Level      string         `json:"level"`
	Assessment *Assessment    `json:"ml_assessment,omitempty"`
}

// DetectionRecord is the audit record written for every scored
// evaluation, keyed by identity key and idempotently overwritten on
// re-evaluation.
type DetectionRecord struct {
	ID         string          `json:"id"`
	Key        signal.Key      `json:"key"`
	Strength   signal.Strength `json:"strength"`
	System     string          `json:"system"`
	Score      PriorityScore   `json:"score"`
	Level      string          `json:"level"`
	WillSend   bool            `json:"will_send"`
	SkipReason SkipReason      `json:"skip_reason,omitempty"`
	Assessment *Assessment     `json:"ml_assessment,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
}

// SentRecord marks a consumed notification slot. Its existence is the
// sole source of truth for "already notified". Created at reservation,
// confirmed after delivery, never updated otherwise.
type SentRecord struct {
	Key         signal.Key `json:"key"`
	Level       string     `json:"level"`
	TotalScore  int        `json:"total_score"`
	ReservedAt  time.Time  `json:"reserved_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	MessageID   string     `json:"message_id,omitempty"`
}

// Package signal defines the raw and canonical trading-signal models
// consumed by the gating engine.
package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEvent marks upstream events that cannot be canonicalized.
// Callers match it with errors.Is.
var ErrMalformedEvent = errors.New("malformed signal event")

// Date layouts accepted from the upstream analyzer. Intraday timeframes
// carry a full timestamp, daily timeframes a bare date.
const (
	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// exchangeClose is the time-of-day assumed for bare-date signals.
var exchangeClose = struct{ hour, min int }{16, 0}

// Strength is the upstream-reported conviction of a signal.
type Strength string

const (
	StrengthVeryStrong Strength = "Very Strong"
	StrengthStrong     Strength = "Strong"
	StrengthModerate   Strength = "Moderate"
	StrengthWeak       Strength = "Weak"
	StrengthUnknown    Strength = "Unknown"
)

// RawEvent is one trading-signal event as produced by the upstream
// analyzer. It is ephemeral and never persisted directly.
type RawEvent struct {
	Ticker    string   `json:"ticker"`
	Timeframe string   `json:"timeframe"`
	Type      string   `json:"type"`
	System    string   `json:"system"`
	Strength  Strength `json:"strength"`
	Date      string   `json:"date"`
}

// Key is the identity tuple that uniquely names a logical signal across
// both dedup key spaces. SignalDate is the raw upstream date string so
// that the key survives round trips through the API unchanged.
type Key struct {
	Ticker     string `json:"ticker"`
	Timeframe  string `json:"timeframe"`
	SignalType string `json:"signal_type"`
	SignalDate string `json:"signal_date"`
}

// String renders the key in the ticker_timeframe_type_date form used in
// log lines and error messages.
func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%s_%s", k.Ticker, k.Timeframe, k.SignalType, k.SignalDate)
}

// Signal is the canonical, uniquely-keyed representation of one raw
// event, recomputed each evaluation cycle.
type Signal struct {
	RawEvent

	Key        Key
	SignalTime time.Time
	AgeSeconds float64
}

// Canonicalize validates a raw event and derives its identity key and
// age. The evaluation clock is passed in by the caller so that age is
// deterministic under test. No side effects.
func Canonicalize(raw *RawEvent, now time.Time) (*Signal, error) {
	if raw.Ticker == "" || raw.Timeframe == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing ticker, timeframe, or type", ErrMalformedEvent)
	}
	if raw.Date == "" {
		return nil, fmt.Errorf("%w: missing date", ErrMalformedEvent)
	}

	ts, err := parseSignalDate(raw.Date, now.Location())
	if err != nil {
		return nil, err
	}

	s := &Signal{
		RawEvent: *raw,
		Key: Key{
			Ticker:     raw.Ticker,
			Timeframe:  raw.Timeframe,
			SignalType: raw.Type,
			SignalDate: raw.Date,
		},
		SignalTime: ts,
		AgeSeconds: now.Sub(ts).Seconds(),
	}
	if s.Strength == "" {
		s.Strength = StrengthUnknown
	}
	return s, nil
}

// parseSignalDate accepts a full timestamp or a bare date. Bare dates are
// pinned to exchange close rather than midnight so the urgency window for
// daily signals starts when the bar actually completed.
func parseSignalDate(date string, loc *time.Location) (time.Time, error) {
	if ts, err := time.ParseInLocation(layoutDateTime, date, loc); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(layoutDate, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unparseable date %q", ErrMalformedEvent, date)
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), exchangeClose.hour, exchangeClose.min, 0, 0, loc), nil
}

package gating

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultPolicy_IsValid(t *testing.T) {
	t.Parallel()

	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	mod := func(f func(*Policy)) *Policy {
		p := DefaultPolicy()
		f(p)
		return p
	}

	tests := []struct {
		name      string
		pol       *Policy
		errSubstr string
	}{
		{
			name:      "thresholds not descending",
			pol:       mod(func(p *Policy) { p.Thresholds = Thresholds{Critical: 70, High: 90, Medium: 50, Low: 30} }),
			errSubstr: "critical > high > medium > low",
		},
		{
			name:      "equal thresholds",
			pol:       mod(func(p *Policy) { p.Thresholds = Thresholds{Critical: 90, High: 90, Medium: 50, Low: 30} }),
			errSubstr: "critical > high > medium > low",
		},
		{
			name:      "zero low threshold",
			pol:       mod(func(p *Policy) { p.Thresholds = Thresholds{Critical: 90, High: 70, Medium: 50, Low: 0} }),
			errSubstr: "low threshold",
		},
		{
			name:      "min level out of range",
			pol:       mod(func(p *Policy) { p.MinPriorityLevel = Level(9) }),
			errSubstr: "out of range",
		},
		{
			name:      "zero base score",
			pol:       mod(func(p *Policy) { p.BaseScore = 0 }),
			errSubstr: "base score",
		},
		{
			name:      "max score below critical",
			pol:       mod(func(p *Policy) { p.MaxScore = 80 }),
			errSubstr: "max score",
		},
		{
			name: "urgency ages not ascending",
			pol: mod(func(p *Policy) {
				p.UrgencyTiers = []UrgencyTier{{MaxAgeSeconds: 3600, Bonus: 20}, {MaxAgeSeconds: 300, Bonus: 16}}
			}),
			errSubstr: "ascending ages",
		},
		{
			name: "urgency bonuses increasing with age",
			pol: mod(func(p *Policy) {
				p.UrgencyTiers = []UrgencyTier{{MaxAgeSeconds: 300, Bonus: 8}, {MaxAgeSeconds: 3600, Bonus: 20}}
			}),
			errSubstr: "non-increasing",
		},
		{
			name:      "ml reject above one",
			pol:       mod(func(p *Policy) { p.MLRejectThreshold = 1.5 }),
			errSubstr: "reject threshold",
		},
		{
			name:      "ml boost below reject",
			pol:       mod(func(p *Policy) { p.MLBoostThreshold = 0.2 }),
			errSubstr: "boost threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.pol.Validate()
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("err = %v, want ErrInvalidPolicy", err)
			}
			if !strings.Contains(err.Error(), tt.errSubstr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.errSubstr)
			}
		})
	}
}

func TestPolicyValidate_AccumulatesErrors(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.BaseScore = 0
	p.Thresholds.Low = -5

	err := p.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"base score", "low threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

package gating

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

type mockSource struct {
	mu       sync.Mutex
	events   map[string][]signal.RawEvent // keyed ticker_timeframe
	err      error
	fetches  int
	maxInUse int
	inUse    int
}

func (m *mockSource) FetchTimeline(_ context.Context, ticker, timeframe string) ([]signal.RawEvent, error) {
	m.mu.Lock()
	m.fetches++
	m.inUse++
	if m.inUse > m.maxInUse {
		m.maxInUse = m.inUse
	}
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	m.inUse--
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return m.events[ticker+"_"+timeframe], nil
}

type mockNotifier struct {
	mu    sync.Mutex
	sends []signal.Key
	err   error
}

func (m *mockNotifier) Send(_ context.Context, d *Decision) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sends = append(m.sends, d.Key)
	return "msg-123", nil
}

type staticPolicies struct {
	pol   *Policy
	pairs []Pair
}

func (s *staticPolicies) Snapshot() *Policy { return s.pol }
func (s *staticPolicies) Watchlist() []Pair { return s.pairs }

func newTestService(store Store, source UpstreamSource, notifier Notifier, pairs []Pair, concurrency int) *Service {
	eng := NewEngine(store, nil, time.Second, nil, EngineHooks{})
	return NewService(store, eng, source, notifier, &staticPolicies{pol: DefaultPolicy(), pairs: pairs}, nil, nil, concurrency)
}

func TestEvaluateBatch(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &mockNotifier{}
	svc := newTestService(store, nil, notifier, nil, 1)

	events := []signal.RawEvent{
		*freshEvent(),
		{Ticker: "XYZ", Timeframe: "30m", Type: "Odd", Strength: signal.StrengthWeak,
			Date: time.Now().Add(-10 * 24 * time.Hour).Format("2006-01-02 15:04:05")},
		{Ticker: "BAD", Timeframe: "1h"}, // malformed: no type, no date
	}

	res := svc.EvaluateBatch(context.Background(), events)

	if res.Evaluated != 3 || res.Failed != 0 {
		t.Errorf("evaluated/failed = %d/%d, want 3/0", res.Evaluated, res.Failed)
	}
	if res.Accepted != 1 || res.Skipped != 2 {
		t.Errorf("accepted/skipped = %d/%d, want 1/2", res.Accepted, res.Skipped)
	}
	if len(res.Decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(res.Decisions))
	}

	// The accept was delivered and confirmed.
	if len(notifier.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(notifier.sends))
	}
	sent, ok, _ := store.GetSent(context.Background(), notifier.sends[0])
	if !ok {
		t.Fatal("sent record missing")
	}
	if sent.MessageID != "msg-123" || sent.DeliveredAt == nil {
		t.Errorf("sent record not confirmed: %+v", sent)
	}
}

func TestEvaluateBatch_StoreErrorIsolated(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.fail = errors.New("connection refused")
	svc := newTestService(store, nil, nil, nil, 1)

	res := svc.EvaluateBatch(context.Background(), []signal.RawEvent{*freshEvent()})
	if res.Failed != 1 || res.Evaluated != 0 {
		t.Errorf("failed/evaluated = %d/%d, want 1/0", res.Failed, res.Evaluated)
	}
}

func TestDeliveryFailureLeavesReservation(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &mockNotifier{err: errors.New("webhook 500")}
	svc := newTestService(store, nil, notifier, nil, 1)

	res := svc.EvaluateBatch(context.Background(), []signal.RawEvent{*freshEvent()})
	if res.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", res.Accepted)
	}

	key := res.Decisions[0].Key
	sent, ok, _ := store.GetSent(context.Background(), key)
	if !ok {
		t.Fatal("reservation must survive a delivery failure")
	}
	if sent.DeliveredAt != nil || sent.MessageID != "" {
		t.Errorf("failed delivery must not confirm: %+v", sent)
	}

	// Re-evaluation is a duplicate; the slot stays consumed.
	res = svc.EvaluateBatch(context.Background(), []signal.RawEvent{*freshEvent()})
	if res.Accepted != 0 || res.Decisions[0].SkipReason != SkipDuplicate {
		t.Errorf("re-evaluation = %+v, want duplicate", res.Decisions[0])
	}
}

func TestRunCycle(t *testing.T) {
	t.Parallel()

	now := time.Now()
	source := &mockSource{events: map[string][]signal.RawEvent{
		"AAPL_1h": {
			{Ticker: "AAPL", Timeframe: "1h", Type: "WT Gold Buy Signal", System: "Wave Trend",
				Strength: signal.StrengthVeryStrong, Date: now.Add(-time.Minute).Format("2006-01-02 15:04:05")},
		},
		"XYZ_30m": {
			{Ticker: "XYZ", Timeframe: "30m", Type: "Odd", Strength: signal.StrengthWeak,
				Date: now.Add(-10 * 24 * time.Hour).Format("2006-01-02 15:04:05")},
		},
	}}
	notifier := &mockNotifier{}
	pairs := []Pair{{Ticker: "AAPL", Timeframe: "1h"}, {Ticker: "XYZ", Timeframe: "30m"}}
	svc := newTestService(newMockStore(), source, notifier, pairs, 2)

	sum := svc.RunCycle(context.Background())

	if sum.Pairs != 2 || sum.Signals != 2 {
		t.Errorf("pairs/signals = %d/%d, want 2/2", sum.Pairs, sum.Signals)
	}
	if sum.Accepted != 1 || sum.Skipped != 1 || sum.Errors != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if len(notifier.sends) != 1 {
		t.Errorf("sends = %d, want 1", len(notifier.sends))
	}
	if source.fetches != 2 {
		t.Errorf("fetches = %d, want 2", source.fetches)
	}
}

func TestRunCycle_NoSourceConfigured(t *testing.T) {
	t.Parallel()

	// Ingest-only wiring: no upstream source, but a populated
	// watchlist. A cycle request must be a clean no-op.
	pairs := []Pair{{Ticker: "AAPL", Timeframe: "1h"}, {Ticker: "QQQ", Timeframe: "1d"}}
	svc := newTestService(newMockStore(), nil, nil, pairs, 2)

	sum := svc.RunCycle(context.Background())
	if sum == nil {
		t.Fatal("RunCycle returned nil summary")
	}
	if sum.Pairs != 0 || sum.Signals != 0 || sum.Errors != 0 {
		t.Errorf("summary = %+v, want empty", sum)
	}
	if sum.StartedAt.IsZero() {
		t.Error("summary must carry the start time")
	}
}

func TestRunCycle_FetchErrorCounted(t *testing.T) {
	t.Parallel()

	source := &mockSource{err: errors.New("analyzer down")}
	pairs := []Pair{{Ticker: "AAPL", Timeframe: "1h"}, {Ticker: "QQQ", Timeframe: "1d"}}
	svc := newTestService(newMockStore(), source, nil, pairs, 2)

	sum := svc.RunCycle(context.Background())
	if sum.Errors != 2 || sum.Signals != 0 {
		t.Errorf("summary = %+v, want 2 errors, 0 signals", sum)
	}
}

func TestRunCycle_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	var pairs []Pair
	for i := range 12 {
		pairs = append(pairs, Pair{Ticker: string(rune('A' + i)), Timeframe: "1h"})
	}
	svc := newTestService(newMockStore(), source, nil, pairs, 3)

	svc.RunCycle(context.Background())

	if source.fetches != 12 {
		t.Errorf("fetches = %d, want 12", source.fetches)
	}
	if source.maxInUse > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", source.maxInUse)
	}
}

func TestDeliver_NoNotifierConfigured(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil, nil, nil, 1)

	res := svc.EvaluateBatch(context.Background(), []signal.RawEvent{*freshEvent()})
	if res.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1 even without a notifier", res.Accepted)
	}
	sent, ok, _ := store.GetSent(context.Background(), res.Decisions[0].Key)
	if !ok {
		t.Fatal("reservation still recorded")
	}
	if sent.DeliveredAt != nil {
		t.Error("nothing was delivered, nothing to confirm")
	}
}

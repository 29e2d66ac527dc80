package gating

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

// UpstreamSource fetches the categorized signal timeline for one
// (ticker, timeframe) pair from the analysis service.
type UpstreamSource interface {
	FetchTimeline(ctx context.Context, ticker, timeframe string) ([]signal.RawEvent, error)
}

// Notifier is the delivery collaborator. It renders and posts one
// accepted decision and returns the channel's message ID.
type Notifier interface {
	Send(ctx context.Context, d *Decision) (messageID string, err error)
}

// PolicyProvider hands out immutable policy snapshots and the current
// watchlist. Reloads swap the snapshot; in-flight evaluations keep the
// one they captured.
type PolicyProvider interface {
	Snapshot() *Policy
	Watchlist() []Pair
}

// Pair is one (ticker, timeframe) evaluation unit.
type Pair struct {
	Ticker    string `json:"ticker"`
	Timeframe string `json:"timeframe"`
}

// BatchResult summarizes an ingested batch of raw events.
type BatchResult struct {
	Evaluated int         `json:"evaluated"`
	Accepted  int         `json:"accepted"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Decisions []*Decision `json:"decisions"`
}

// CycleSummary reports one full watchlist sweep.
type CycleSummary struct {
	Pairs     int       `json:"pairs"`
	Signals   int       `json:"signals"`
	Accepted  int       `json:"accepted"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	Duration  float64   `json:"duration_seconds"`
	StartedAt time.Time `json:"started_at"`
}

// Service is the business boundary around the engine: it snapshots
// policy, walks the watchlist, delivers accepted signals, and confirms
// sent reservations. Errors affecting one signal never abort the rest.
type Service struct {
	store       Store
	engine      *Engine
	source      UpstreamSource // nil disables cycles
	notifier    Notifier       // nil disables delivery
	policies    PolicyProvider
	logger      log.Logger
	metrics     *Metrics
	concurrency int
	now         func() time.Time
}

// NewService wires the gating service. source, notifier, and metrics
// may be nil.
func NewService(store Store, engine *Engine, source UpstreamSource, notifier Notifier, policies PolicyProvider, logger log.Logger, metrics *Metrics, concurrency int) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		store:       store,
		engine:      engine,
		source:      source,
		notifier:    notifier,
		policies:    policies,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// EvaluateBatch runs the engine over a posted batch of raw events under
// a single policy snapshot, delivering accepts as it goes.
func (s *Service) EvaluateBatch(ctx context.Context, events []signal.RawEvent) *BatchResult {
	pol := s.policies.Snapshot()
	res := &BatchResult{}

	for i := range events {
		d, err := s.evaluateOne(ctx, &events[i], pol)
		if err != nil {
			res.Failed++
			continue
		}
		res.Evaluated++
		if d.WillSend {
			res.Accepted++
		} else {
			res.Skipped++
		}
		res.Decisions = append(res.Decisions, d)
	}
	return res
}

// RunCycle sweeps the configured watchlist: fetch each pair's timeline,
// evaluate every event, deliver accepts. Pairs run concurrently with a
// bounded worker count; ordering between distinct identity keys is
// neither guaranteed nor required.
func (s *Service) RunCycle(ctx context.Context) *CycleSummary {
	start := s.now()

	// Ingest-only deployments have no upstream source; a cycle request
	// is then a no-op rather than a crash inside a worker goroutine.
	if s.source == nil {
		s.logger.Warn(ctx, "no upstream source configured, cycle skipped")
		return &CycleSummary{StartedAt: start}
	}

	pol := s.policies.Snapshot()
	pairs := s.policies.Watchlist()

	sum := &CycleSummary{Pairs: len(pairs), StartedAt: start}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	for _, pair := range pairs {
		wg.Add(1)
		sem <- struct{}{}
		go func(pair Pair) {
			defer wg.Done()
			defer func() { <-sem }()

			signals, accepted, skipped, errs := s.evaluatePair(ctx, pair, pol)

			mu.Lock()
			sum.Signals += signals
			sum.Accepted += accepted
			sum.Skipped += skipped
			sum.Errors += errs
			mu.Unlock()
		}(pair)
	}
	wg.Wait()

	sum.Duration = s.now().Sub(start).Seconds()
	if s.metrics != nil {
		s.metrics.ObserveCycle(sum)
	}
	s.logger.Info(ctx, "cycle complete",
		"pairs", sum.Pairs,
		"signals", sum.Signals,
		"accepted", sum.Accepted,
		"skipped", sum.Skipped,
		"errors", sum.Errors,
		"duration", sum.Duration,
	)
	return sum
}

func (s *Service) evaluatePair(ctx context.Context, pair Pair, pol *Policy) (signals, accepted, skipped, errs int) {
	events, err := s.source.FetchTimeline(ctx, pair.Ticker, pair.Timeframe)
	if err != nil {
		s.logger.Error(ctx, err, "timeline fetch failed",
			"ticker", pair.Ticker, "timeframe", pair.Timeframe)
		return 0, 0, 0, 1
	}

	for i := range events {
		d, err := s.evaluateOne(ctx, &events[i], pol)
		if err != nil {
			errs++
			continue
		}
		signals++
		if d.WillSend {
			accepted++
		} else {
			skipped++
		}
	}
	return signals, accepted, skipped, errs
}

// evaluateOne isolates one signal's evaluation and delivery. A store
// outage is logged and counted; the rest of the batch continues.
func (s *Service) evaluateOne(ctx context.Context, raw *signal.RawEvent, pol *Policy) (*Decision, error) {
	d, err := s.engine.Evaluate(ctx, raw, pol)
	if err != nil {
		s.logger.Error(ctx, err, "evaluation failed, will retry next cycle",
			"ticker", raw.Ticker, "timeframe", raw.Timeframe, "type", raw.Type)
		return nil, err
	}
	if d.WillSend {
		s.deliver(ctx, d)
	}
	return d, nil
}

// deliver posts an accepted decision and confirms the sent reservation
// with the delivery message ID. A delivery failure does not revoke the
// reservation; the record simply stays unconfirmed.
func (s *Service) deliver(ctx context.Context, d *Decision) {
	if s.notifier == nil {
		s.logger.Warn(ctx, "no notifier configured, accept not delivered", "key", d.Key.String())
		return
	}

	msgID, err := s.notifier.Send(ctx, d)
	if err != nil {
		s.logger.Error(ctx, err, "delivery failed, reservation stands", "key", d.Key.String())
		if s.metrics != nil {
			s.metrics.ObserveDelivery("error")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDelivery("success")
	}

	// Confirmation completes even if the caller has gone away.
	cctx := context.WithoutCancel(ctx)
	if err := s.store.ConfirmSent(cctx, d.Key, msgID, s.now()); err != nil {
		s.logger.Error(ctx, err, "sent confirmation failed", "key", d.Key.String(), "message_id", msgID)
	}
}

// RecentDetections exposes the audit trail for the API.
func (s *Service) RecentDetections(ctx context.Context, limit int) ([]*DetectionRecord, error) {
	return s.store.RecentDetections(ctx, limit)
}

// Stats exposes store counters for the API.
func (s *Service) Stats(ctx context.Context) (*StoreStats, error) {
	return s.store.Stats(ctx)
}

// Cleanup drops records older than the given age from both key spaces.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.Cleanup(ctx, olderThan)
}

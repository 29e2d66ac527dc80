package gating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signalgate/internal/gating")

// EngineHooks lets the caller observe evaluations without the engine
// depending on a metrics backend.
type EngineHooks struct {
	OnEvaluated func(e *EvalEvent)
	OnMLCall    func(outcome string, duration float64)
}

// EvalEvent describes one finished evaluation for metrics hooks.
type EvalEvent struct {
	WillSend   bool
	SkipReason SkipReason
	Level      Level
	TotalScore int
	Duration   float64
	MLUsed     bool
}

// Engine composes canonicalization, scoring, the optional advisor, and
// the dedup store into one decision per signal.
type Engine struct {
	store     Store
	advisor   Advisor // nil when no ML collaborator is configured
	mlTimeout time.Duration
	logger    log.Logger
	hooks     EngineHooks
	now       func() time.Time
}

// NewEngine creates a gating engine. advisor may be nil.
func NewEngine(store Store, advisor Advisor, mlTimeout time.Duration, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:     store,
		advisor:   advisor,
		mlTimeout: mlTimeout,
		logger:    logger,
		hooks:     hooks,
		now:       time.Now,
	}
}

// Evaluate runs the gating state machine for one raw event against a
// policy snapshot. It returns a Decision for every signal it could
// judge; a non-nil error means the store was unavailable and no
// decision was made (safe to retry next cycle).
//
// The Sent reservation is taken last, only immediately before accept,
// so no rollback path is needed: a losing concurrent evaluation simply
// observes AlreadyExists there and rejects as a duplicate.
func (e *Engine) Evaluate(ctx context.Context, raw *signal.RawEvent, pol *Policy) (*Decision, error) {
	start := e.now()

	ctx, span := tracer.Start(ctx, "gating.Evaluate")
	defer span.End()

	sig, err := signal.Canonicalize(raw, start)
	if err != nil {
		// Malformed input never touches the store.
		e.logger.Warn(ctx, "dropping malformed event",
			"ticker", raw.Ticker, "timeframe", raw.Timeframe, "type", raw.Type, "error", err)
		return e.finish(span, start, &Decision{
			WillSend:   false,
			SkipReason: SkipMalformed,
		}, false), nil
	}

	span.SetAttributes(attribute.String("signalgate.key", sig.Key.String()))

	score := ScoreSignal(sig, pol)
	d := &Decision{
		Signal: sig,
		Key:    sig.Key,
		Score:  score,
		Level:  score.Level.String(),
	}

	// Advisory early read: skips scoring gates and ML cost for known
	// duplicates. Not authoritative; the final reservation arbitrates.
	if _, exists, err := e.store.GetSent(ctx, sig.Key); err != nil {
		return nil, storeErr("sent lookup", err)
	} else if exists {
		d.SkipReason = SkipDuplicate
		if err := e.writeAudit(ctx, d, false); err != nil {
			return nil, err
		}
		return e.finish(span, start, d, false), nil
	}

	if score.Level < pol.MinPriorityLevel {
		d.SkipReason = SkipReasonPriority(score.Level)
		if err := e.writeAudit(ctx, d, false); err != nil {
			return nil, err
		}
		return e.finish(span, start, d, false), nil
	}

	mlUsed := false
	if e.advisor != nil {
		mlUsed = true
		d.Assessment = e.assess(ctx, sig)
		if rejected(d.Assessment, pol) {
			d.SkipReason = SkipMLRisk
			if err := e.writeAudit(ctx, d, false); err != nil {
				return nil, err
			}
			return e.finish(span, start, d, mlUsed), nil
		}
	}

	reserved, err := e.store.ReserveSent(ctx, &SentRecord{
		Key:        sig.Key,
		Level:      score.Level.String(),
		TotalScore: score.TotalScore,
		ReservedAt: e.now(),
	})
	if err != nil {
		return nil, storeErr("sent reservation", err)
	}
	if !reserved {
		// Lost a race to a concurrent evaluation of the same key.
		d.SkipReason = SkipDuplicate
		if err := e.writeAudit(ctx, d, false); err != nil {
			return nil, err
		}
		return e.finish(span, start, d, mlUsed), nil
	}

	d.WillSend = true

	// The reservation is already durable, so the audit write must
	// complete even if the caller cancels; an audit failure here is
	// logged rather than propagated to avoid disowning the accept.
	if err := e.writeAudit(context.WithoutCancel(ctx), d, true); err != nil {
		e.logger.Error(ctx, err, "audit write failed after sent reservation", "key", sig.Key.String())
	}

	return e.finish(span, start, d, mlUsed), nil
}

// assess calls the advisor under the configured timeout and fails open:
// any error or timeout yields a nil assessment.
func (e *Engine) assess(ctx context.Context, sig *signal.Signal) *Assessment {
	actx, cancel := context.WithTimeout(ctx, e.mlTimeout)
	defer cancel()

	t0 := e.now()
	as, err := e.advisor.Assess(actx, sig)
	dur := e.now().Sub(t0).Seconds()

	switch {
	case err == nil && as != nil:
		e.mlHook("ok", dur)
		return as
	case errors.Is(err, context.DeadlineExceeded):
		e.logger.Warn(ctx, "ml advisor timed out, failing open", "key", sig.Key.String(), "timeout", e.mlTimeout)
		e.mlHook("timeout", dur)
	case errors.Is(err, ErrNoAssessment):
		e.mlHook("absent", dur)
	default:
		e.logger.Warn(ctx, "ml advisor failed, failing open", "key", sig.Key.String(), "error", err)
		e.mlHook("error", dur)
	}
	return nil
}

// rejected applies the ML gate. Boost takes precedence over reject:
// a high-probability, high-confidence assessment overrides a high-risk
// rejection. A nil assessment never rejects.
func rejected(as *Assessment, pol *Policy) bool {
	if as == nil {
		return false
	}
	reject := as.RiskLevel == RiskHigh && as.SuccessProbability < pol.MLRejectThreshold
	boost := as.SuccessProbability >= pol.MLBoostThreshold && as.Confidence == ConfidenceHigh
	return reject && !boost
}

func (e *Engine) writeAudit(ctx context.Context, d *Decision, accepted bool) error {
	rec := &DetectionRecord{
		ID:         ulid.Make().String(),
		Key:        d.Signal.Key,
		Strength:   d.Signal.Strength,
		System:     d.Signal.System,
		Score:      d.Score,
		Level:      d.Score.Level.String(),
		WillSend:   accepted,
		SkipReason: d.SkipReason,
		Assessment: d.Assessment,
		DetectedAt: e.now(),
	}
	if err := e.store.UpsertDetection(ctx, rec); err != nil {
		return storeErr("detection upsert", err)
	}
	return nil
}

func (e *Engine) finish(span trace.Span, start time.Time, d *Decision, mlUsed bool) *Decision {
	span.SetAttributes(
		attribute.Bool("signalgate.will_send", d.WillSend),
		attribute.String("signalgate.skip_reason", string(d.SkipReason)),
	)
	if e.hooks.OnEvaluated != nil {
		e.hooks.OnEvaluated(&EvalEvent{
			WillSend:   d.WillSend,
			SkipReason: d.SkipReason,
			Level:      d.Score.Level,
			TotalScore: d.Score.TotalScore,
			Duration:   e.now().Sub(start).Seconds(),
			MLUsed:     mlUsed,
		})
	}
	return d
}

func (e *Engine) mlHook(outcome string, dur float64) {
	if e.hooks.OnMLCall != nil {
		e.hooks.OnMLCall(outcome, dur)
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Package pgstore provides a PostgreSQL implementation of gating.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/signalgate/internal/gating"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signalgate/internal/gating/pgstore")

//go:embed schema.sql
var schema string

// Store persists both dedup key spaces in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ReserveSent inserts the notification record in a single round trip.
// ON CONFLICT DO NOTHING makes the insert itself the duplicate check:
// zero rows affected means another evaluation already holds the slot.
func (s *Store) ReserveSent(ctx context.Context, rec *gating.SentRecord) (bool, error) {
	ctx, span := s.span(ctx, "pgstore.ReserveSent", "INSERT")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO signal_notifications
			(ticker, timeframe, signal_type, signal_date, priority_level, total_score, reserved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (ticker, timeframe, signal_type, signal_date) DO NOTHING`,
		rec.Key.Ticker, rec.Key.Timeframe, rec.Key.SignalType, rec.Key.SignalDate,
		rec.Level, rec.TotalScore, rec.ReservedAt,
	)
	if err != nil {
		return false, s.fail(span, fmt.Errorf("reserve sent: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// ConfirmSent records delivery on an existing reservation.
func (s *Store) ConfirmSent(ctx context.Context, key signal.Key, messageID string, at time.Time) error {
	ctx, span := s.span(ctx, "pgstore.ConfirmSent", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE signal_notifications
		 SET delivered_at = $5, message_id = $6
		 WHERE ticker = $1 AND timeframe = $2 AND signal_type = $3 AND signal_date = $4`,
		key.Ticker, key.Timeframe, key.SignalType, key.SignalDate, at, messageID,
	)
	if err != nil {
		return s.fail(span, fmt.Errorf("confirm sent: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return s.fail(span, fmt.Errorf("confirm sent: no reservation for %s", key))
	}
	return nil
}

// GetSent retrieves a sent record by identity key.
func (s *Store) GetSent(ctx context.Context, key signal.Key) (*gating.SentRecord, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetSent", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT priority_level, total_score, reserved_at, delivered_at, message_id
		 FROM signal_notifications
		 WHERE ticker = $1 AND timeframe = $2 AND signal_type = $3 AND signal_date = $4`,
		key.Ticker, key.Timeframe, key.SignalType, key.SignalDate,
	)

	rec := &gating.SentRecord{Key: key}
	var deliveredAt *time.Time
	var messageID *string
	err := row.Scan(&rec.Level, &rec.TotalScore, &rec.ReservedAt, &deliveredAt, &messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, s.fail(span, fmt.Errorf("get sent: %w", err))
	}
	rec.DeliveredAt = deliveredAt
	if messageID != nil {
		rec.MessageID = *messageID
	}
	return rec, true, nil
}

// UpsertDetection writes the audit record, overwriting the decision on
// re-evaluation while keeping the first-assigned ID. will_send is
// sticky once true so a duplicate skip cannot erase the audit of the
// original acceptance.
func (s *Store) UpsertDetection(ctx context.Context, rec *gating.DetectionRecord) error {
	ctx, span := s.span(ctx, "pgstore.UpsertDetection", "UPSERT")
	defer span.End()

	var mlJSON []byte
	if rec.Assessment != nil {
		var err error
		mlJSON, err = json.Marshal(rec.Assessment)
		if err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO signal_detections (
			id, ticker, timeframe, signal_type, signal_date, detected_at, strength, system,
			base_score, strength_bonus, system_bonus, ticker_bonus, timeframe_bonus,
			urgency_bonus, pattern_bonus, total_score, priority_level,
			will_send, skip_reason, ml_assessment
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (ticker, timeframe, signal_type, signal_date) DO UPDATE SET
			detected_at     = EXCLUDED.detected_at,
			base_score      = EXCLUDED.base_score,
			strength_bonus  = EXCLUDED.strength_bonus,
			system_bonus    = EXCLUDED.system_bonus,
			ticker_bonus    = EXCLUDED.ticker_bonus,
			timeframe_bonus = EXCLUDED.timeframe_bonus,
			urgency_bonus   = EXCLUDED.urgency_bonus,
			pattern_bonus   = EXCLUDED.pattern_bonus,
			total_score     = EXCLUDED.total_score,
			priority_level  = EXCLUDED.priority_level,
			will_send       = signal_detections.will_send OR EXCLUDED.will_send,
			skip_reason     = EXCLUDED.skip_reason,
			ml_assessment   = EXCLUDED.ml_assessment`,
		rec.ID, rec.Key.Ticker, rec.Key.Timeframe, rec.Key.SignalType, rec.Key.SignalDate,
		rec.DetectedAt, string(rec.Strength), rec.System,
		rec.Score.BaseScore, rec.Score.StrengthBonus, rec.Score.SystemBonus,
		rec.Score.TickerBonus, rec.Score.TimeframeBonus, rec.Score.UrgencyBonus,
		rec.Score.PatternBonus, rec.Score.TotalScore, rec.Level,
		rec.WillSend, nullable(string(rec.SkipReason)), mlJSON,
	)
	if err != nil {
		return s.fail(span, fmt.Errorf("upsert detection: %w", err))
	}
	return nil
}

// GetDetection retrieves an audit record by identity key.
func (s *Store) GetDetection(ctx context.Context, key signal.Key) (*gating.DetectionRecord, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetDetection", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+detectionColumns+`
		 FROM signal_detections
		 WHERE ticker = $1 AND timeframe = $2 AND signal_type = $3 AND signal_date = $4`,
		key.Ticker, key.Timeframe, key.SignalType, key.SignalDate,
	)

	rec, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, s.fail(span, err)
	}
	return rec, true, nil
}

// RecentDetections returns up to limit audit records, newest first.
func (s *Store) RecentDetections(ctx context.Context, limit int) ([]*gating.DetectionRecord, error) {
	ctx, span := s.span(ctx, "pgstore.RecentDetections", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+detectionColumns+`
		 FROM signal_detections
		 ORDER BY detected_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("query detections: %w", err))
	}
	defer rows.Close()

	var out []*gating.DetectionRecord
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, s.fail(span, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("iterate detections: %w", err))
	}
	return out, nil
}

// Stats counts both key spaces.
func (s *Store) Stats(ctx context.Context) (*gating.StoreStats, error) {
	ctx, span := s.span(ctx, "pgstore.Stats", "SELECT")
	defer span.End()

	st := &gating.StoreStats{ByLevel: make(map[string]int64)}

	row := s.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM signal_detections),
		(SELECT COUNT(*) FROM signal_notifications),
		(SELECT COUNT(*) FROM signal_notifications WHERE delivered_at IS NOT NULL)`)
	if err := row.Scan(&st.Detections, &st.Sent, &st.Delivered); err != nil {
		return nil, s.fail(span, fmt.Errorf("count records: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT priority_level, COUNT(*) FROM signal_detections GROUP BY priority_level`)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("count levels: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, s.fail(span, fmt.Errorf("scan level count: %w", err))
		}
		st.ByLevel[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("iterate level counts: %w", err))
	}
	return st, nil
}

// Cleanup drops records older than the given age from both key spaces.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := s.span(ctx, "pgstore.Cleanup", "DELETE")
	defer span.End()

	cutoff := time.Now().Add(-olderThan)

	dTag, err := s.pool.Exec(ctx,
		`DELETE FROM signal_detections WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, s.fail(span, fmt.Errorf("cleanup detections: %w", err))
	}
	nTag, err := s.pool.Exec(ctx,
		`DELETE FROM signal_notifications WHERE reserved_at < $1`, cutoff)
	if err != nil {
		return dTag.RowsAffected(), s.fail(span, fmt.Errorf("cleanup notifications: %w", err))
	}
	return dTag.RowsAffected() + nTag.RowsAffected(), nil
}

const detectionColumns = `id, ticker, timeframe, signal_type, signal_date, detected_at,
	strength, system, base_score, strength_bonus, system_bonus, ticker_bonus,
	timeframe_bonus, urgency_bonus, pattern_bonus, total_score, priority_level,
	will_send, skip_reason, ml_assessment`

func scanDetection(row pgx.Row) (*gating.DetectionRecord, error) {
	var (
		rec        gating.DetectionRecord
		strength   string
		skipReason *string
		mlJSON     []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Key.Ticker, &rec.Key.Timeframe, &rec.Key.SignalType, &rec.Key.SignalDate,
		&rec.DetectedAt, &strength, &rec.System,
		&rec.Score.BaseScore, &rec.Score.StrengthBonus, &rec.Score.SystemBonus,
		&rec.Score.TickerBonus, &rec.Score.TimeframeBonus, &rec.Score.UrgencyBonus,
		&rec.Score.PatternBonus, &rec.Score.TotalScore, &rec.Level,
		&rec.WillSend, &skipReason, &mlJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan detection: %w", err)
	}

	rec.Strength = signal.Strength(strength)
	if skipReason != nil {
		rec.SkipReason = gating.SkipReason(*skipReason)
	}
	if level, err := gating.ParseLevel(rec.Level); err == nil {
		rec.Score.Level = level
	}
	if len(mlJSON) > 0 {
		var as gating.Assessment
		if err := json.Unmarshal(mlJSON, &as); err != nil {
			return nil, fmt.Errorf("unmarshal assessment: %w", err)
		}
		rec.Assessment = &as
	}
	return &rec, nil
}

func (s *Store) span(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func (s *Store) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

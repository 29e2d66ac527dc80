package gating

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/signalgate/internal/signal"
)

// ErrStoreUnavailable marks transient store failures. The evaluation
// that hit it is skipped for this cycle and safely re-run on the next,
// since evaluation is idempotent per identity key.
var ErrStoreUnavailable = errors.New("dedup store unavailable")

// StoreStats summarizes both key spaces for the analytics surface.
type StoreStats struct {
	Detections int64            `json:"detections"`
	Sent       int64            `json:"sent"`
	Delivered  int64            `json:"delivered"`
	ByLevel    map[string]int64 `json:"by_level"`
}

// Store is the persistence contract for the two dedup key spaces:
// detection audit records and sent-notification reservations.
//
// ReserveSent must be atomic: one round trip that either inserts the
// record and reports true, or detects an existing record for the same
// key and reports false. There is never a separate check step; the
// reservation outcome itself is the duplicate signal, which closes the
// race between concurrent evaluations of the same key.
//
// UpsertDetection overwrites the audit record for the key, except that
// a recorded accept survives: will_send is sticky once true, so a
// duplicate re-evaluation updates the skip reason without erasing the
// fact the signal was accepted.
type Store interface {
	ReserveSent(ctx context.Context, rec *SentRecord) (bool, error)
	ConfirmSent(ctx context.Context, key signal.Key, messageID string, at time.Time) error
	GetSent(ctx context.Context, key signal.Key) (*SentRecord, bool, error)

	UpsertDetection(ctx context.Context, rec *DetectionRecord) error
	GetDetection(ctx context.Context, key signal.Key) (*DetectionRecord, bool, error)
	RecentDetections(ctx context.Context, limit int) ([]*DetectionRecord, error)

	Stats(ctx context.Context) (*StoreStats, error)

	// Cleanup removes records older than the given age from both key
	// spaces and returns how many rows were dropped. Retention is a
	// collaborator concern; the engine itself never calls this.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

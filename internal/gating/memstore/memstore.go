// Package memstore provides an in-memory implementation of
// gating.Store. Suitable for dev/testing; it is also the reference for
// the reservation semantics the durable store must match.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/signalgate/internal/gating"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

// Store holds both dedup key spaces in memory behind one mutex, so
// every operation, reservation included, is atomic.
type Store struct {
	mu         sync.RWMutex
	detections map[signal.Key]*gating.DetectionRecord
	sent       map[signal.Key]*gating.SentRecord
	order      []signal.Key // detection insertion order, oldest first
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		detections: make(map[signal.Key]*gating.DetectionRecord),
		sent:       make(map[signal.Key]*gating.SentRecord),
	}
}

// ReserveSent inserts the record if the key space is free and reports
// whether this caller won the slot.
func (s *Store) ReserveSent(_ context.Context, rec *gating.SentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sent[rec.Key]; exists {
		return false, nil
	}
	cp := *rec
	s.sent[rec.Key] = &cp
	return true, nil
}

// ConfirmSent marks a reserved record as delivered.
func (s *Store) ConfirmSent(_ context.Context, key signal.Key, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sent[key]
	if !ok {
		return fmt.Errorf("confirm sent: no reservation for %s", key)
	}
	rec.MessageID = messageID
	rec.DeliveredAt = &at
	return nil
}

// GetSent retrieves a sent record by key. Returns a copy.
func (s *Store) GetSent(_ context.Context, key signal.Key) (*gating.SentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sent[key]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// UpsertDetection stores a copy of the audit record, overwriting any
// previous record for the key but keeping the original ID. A recorded
// accept is never erased: once will_send is true it stays true, so a
// later duplicate skip keeps the audit of the original acceptance.
func (s *Store) UpsertDetection(_ context.Context, rec *gating.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if prev, ok := s.detections[rec.Key]; ok {
		cp.ID = prev.ID
		if prev.WillSend {
			cp.WillSend = true
		}
	} else {
		s.order = append(s.order, rec.Key)
	}
	s.detections[rec.Key] = &cp
	return nil
}

// GetDetection retrieves an audit record by key. Returns a copy.
func (s *Store) GetDetection(_ context.Context, key signal.Key) (*gating.DetectionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.detections[key]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// RecentDetections returns up to limit audit records, newest first.
func (s *Store) RecentDetections(_ context.Context, limit int) ([]*gating.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*gating.DetectionRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.detections[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// Stats counts both key spaces.
func (s *Store) Stats(_ context.Context) (*gating.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &gating.StoreStats{
		Detections: int64(len(s.detections)),
		Sent:       int64(len(s.sent)),
		ByLevel:    make(map[string]int64),
	}
	for _, rec := range s.detections {
		st.ByLevel[rec.Level]++
	}
	for _, rec := range s.sent {
		if rec.DeliveredAt != nil {
			st.Delivered++
		}
	}
	return st, nil
}

// Cleanup drops records older than the given age from both key spaces.
func (s *Store) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)

	var dropped int64
	keep := s.order[:0]
	for _, key := range s.order {
		rec := s.detections[key]
		if rec.DetectedAt.Before(cutoff) {
			delete(s.detections, key)
			dropped++
			continue
		}
		keep = append(keep, key)
	}
	s.order = keep

	for key, rec := range s.sent {
		if rec.ReservedAt.Before(cutoff) {
			delete(s.sent, key)
			dropped++
		}
	}
	return dropped, nil
}

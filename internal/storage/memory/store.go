package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tjfontaine/feedfilter/internal/storage"
)

// Store is an in-memory Journal that keeps at most capacity records of
// each kind, dropping the oldest.
type Store struct {
	mu         sync.RWMutex
	capacity   int
	nextID     int64
	detections []storage.DetectionRecord
	commands   []storage.CommandRecord
}

var _ storage.Journal = (*Store)(nil)

const DefaultCapacity = 10000

// New creates a new in-memory store. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

func (s *Store) RecordDetection(ctx context.Context, rec *storage.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.detections = append(s.detections, *rec)
	if len(s.detections) > s.capacity {
		s.detections = s.detections[len(s.detections)-s.capacity:]
	}
	return nil
}

func (s *Store) RecordCommand(ctx context.Context, rec *storage.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.commands = append(s.commands, *rec)
	if len(s.commands) > s.capacity {
		s.commands = s.commands[len(s.commands)-s.capacity:]
	}
	return nil
}

func (s *Store) ListDetections(ctx context.Context, opts storage.ListOptions) ([]storage.DetectionRecord, error) {
	opts = opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.DetectionRecord, 0, min(opts.Limit, len(s.detections)))
	for i := len(s.detections) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		if opts.TrackID != "" && s.detections[i].TrackID != opts.TrackID {
			continue
		}
		out = append(out, s.detections[i])
	}
	return out, nil
}

func (s *Store) ListCommands(ctx context.Context, opts storage.ListOptions) ([]storage.CommandRecord, error) {
	opts = opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.CommandRecord, 0, min(opts.Limit, len(s.commands)))
	for i := len(s.commands) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		if opts.TrackID != "" && s.commands[i].TrackID != opts.TrackID {
			continue
		}
		out = append(out, s.commands[i])
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

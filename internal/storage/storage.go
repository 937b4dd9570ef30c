// Package storage defines the journal of detections and outbound commands.
// The journal is an audit trail; failures to write it never affect
// processing.
package storage

import (
	"context"
	"time"
)

// DetectionRecord is one classified frame.
type DetectionRecord struct {
	ID              int64     `json:"id"`
	Participant     string    `json:"participant"`
	TrackID         string    `json:"track_id"`
	URL             string    `json:"url,omitempty"`
	Mode            string    `json:"mode"`
	TriggerDetected bool      `json:"trigger_detected"`
	TriggerName     string    `json:"trigger_name,omitempty"`
	Confidence      float64   `json:"confidence"`
	Description     string    `json:"description"`
	VideoEnded      bool      `json:"video_ended"`
	Failed          bool      `json:"failed"`
	Decision        string    `json:"decision"`
	CreatedAt       time.Time `json:"created_at"`
}

// CommandRecord is one outbound command, delivered or not.
type CommandRecord struct {
	ID          int64     `json:"id"`
	Participant string    `json:"participant"`
	TrackID     string    `json:"track_id"`
	Type        string    `json:"type"`
	CommandID   int64     `json:"command_id,omitempty"`
	Payload     string    `json:"payload,omitempty"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListOptions selects the most recent records first.
type ListOptions struct {
	Limit   int
	TrackID string
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Normalize clamps Limit into 1..MaxListLimit.
func (o ListOptions) Normalize() ListOptions {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultListLimit
	case o.Limit > MaxListLimit:
		o.Limit = MaxListLimit
	}
	return o
}

// Journal records what the agent saw and did.
type Journal interface {
	RecordDetection(ctx context.Context, rec *DetectionRecord) error
	RecordCommand(ctx context.Context, rec *CommandRecord) error
	ListDetections(ctx context.Context, opts ListOptions) ([]DetectionRecord, error)
	ListCommands(ctx context.Context, opts ListOptions) ([]CommandRecord, error)
	Close() error
}

// Nop discards everything.
type Nop struct{}

var _ Journal = Nop{}

func (Nop) RecordDetection(context.Context, *DetectionRecord) error { return nil }
func (Nop) RecordCommand(context.Context, *CommandRecord) error     { return nil }

func (Nop) ListDetections(context.Context, ListOptions) ([]DetectionRecord, error) {
	return []DetectionRecord{}, nil
}

func (Nop) ListCommands(context.Context, ListOptions) ([]CommandRecord, error) {
	return []CommandRecord{}, nil
}

func (Nop) Close() error { return nil }

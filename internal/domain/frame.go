// Package domain holds the value types shared by the frame pipeline.
package domain

import "time"

// FrameFormat identifies the encoding of Frame.Data.
type FrameFormat uint8

const (
	// FormatRGBA is tightly packed 8-bit RGBA, Width*Height*4 bytes.
	FormatRGBA FrameFormat = 0
	// FormatJPEG is a complete JPEG image.
	FormatJPEG FrameFormat = 1
)

func (f FrameFormat) String() string {
	switch f {
	case FormatRGBA:
		return "rgba"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Frame is one video frame received on a track.
//
// Data is shared by reference between the transport reader and the track
// loop; neither side modifies it after the frame is handed over.
type Frame struct {
	TrackID    string
	Format     FrameFormat
	Width      int
	Height     int
	Data       []byte
	ReceivedAt time.Time
}

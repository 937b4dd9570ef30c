package room

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tjfontaine/feedfilter/internal/domain"
)

// FrameVersion is the only binary frame layout understood.
//
//	version  uint8  = 1
//	format   uint8  (0 RGBA, 1 JPEG)
//	idLen    uint16 big endian
//	trackID  idLen bytes
//	width    uint32 big endian
//	height   uint32 big endian
//	payload  remaining bytes
const FrameVersion = 1

const (
	frameHeaderLen = 1 + 1 + 2 + 4 + 4
	maxDimension   = 16384
)

// ErrMalformedFrame is returned for a binary message that is not a frame.
var ErrMalformedFrame = errors.New("malformed frame")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// EncodeFrame serializes f. It is used by clients and tests.
func EncodeFrame(f domain.Frame) ([]byte, error) {
	if f.TrackID == "" || len(f.TrackID) > 0xffff {
		return nil, malformed("track id length %d", len(f.TrackID))
	}
	buf := make([]byte, 0, frameHeaderLen+len(f.TrackID)+len(f.Data))
	buf = append(buf, FrameVersion, byte(f.Format))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.TrackID)))
	buf = append(buf, f.TrackID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(f.Width))
	buf = binary.BigEndian.AppendUint32(buf, uint32(f.Height))
	return append(buf, f.Data...), nil
}

// DecodeFrame parses a binary message. The returned frame's Data aliases
// data.
func DecodeFrame(data []byte, receivedAt time.Time) (domain.Frame, error) {
	if len(data) < frameHeaderLen {
		return domain.Frame{}, malformed("short message of %d bytes", len(data))
	}
	if data[0] != FrameVersion {
		return domain.Frame{}, malformed("unsupported version %d", data[0])
	}

	format := domain.FrameFormat(data[1])
	if format != domain.FormatRGBA && format != domain.FormatJPEG {
		return domain.Frame{}, malformed("unknown format %d", data[1])
	}

	idLen := int(binary.BigEndian.Uint16(data[2:4]))
	if idLen == 0 {
		return domain.Frame{}, malformed("empty track id")
	}
	rest := data[4:]
	if len(rest) < idLen+8 {
		return domain.Frame{}, malformed("truncated header")
	}
	trackID := string(rest[:idLen])
	rest = rest[idLen:]

	width := binary.BigEndian.Uint32(rest[0:4])
	height := binary.BigEndian.Uint32(rest[4:8])
	payload := rest[8:]

	if width == 0 || height == 0 || width > maxDimension || height > maxDimension {
		return domain.Frame{}, malformed("invalid dimensions %dx%d", width, height)
	}
	if len(payload) == 0 {
		return domain.Frame{}, malformed("empty payload")
	}
	if format == domain.FormatRGBA && uint64(len(payload)) != uint64(width)*uint64(height)*4 {
		return domain.Frame{}, malformed("rgba payload of %d bytes for %dx%d", len(payload), width, height)
	}

	return domain.Frame{
		TrackID:    trackID,
		Format:     format,
		Width:      int(width),
		Height:     int(height),
		Data:       payload,
		ReceivedAt: receivedAt,
	}, nil
}

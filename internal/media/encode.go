// Package media converts sampled frames into images a vision model accepts.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/tjfontaine/feedfilter/internal/domain"
)

// MIMETypeJPEG is the media type of every encoded image.
const MIMETypeJPEG = "image/jpeg"

// Default configuration values.
const (
	DefaultMaxEdge = 1024
	DefaultQuality = 85
)

// ErrSizeMismatch is returned when an RGBA buffer does not hold exactly
// Width*Height*4 bytes.
var ErrSizeMismatch = errors.New("frame buffer size does not match dimensions")

// Image is a JPEG ready to be attached to a vision request.
type Image struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// Encoder turns frames into JPEGs whose long edge is at most MaxEdge.
type Encoder struct {
	MaxEdge int
	Quality int
}

// NewEncoder returns an encoder; zero values select the defaults.
func NewEncoder(maxEdge, quality int) *Encoder {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{MaxEdge: maxEdge, Quality: quality}
}

// Encode converts f to a JPEG. A JPEG frame that already fits is passed
// through unchanged. f.Data is only read.
func (e *Encoder) Encode(f domain.Frame) (Image, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return Image{}, fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}

	var src image.Image
	switch f.Format {
	case domain.FormatRGBA:
		if len(f.Data) != f.Width*f.Height*4 {
			return Image{}, fmt.Errorf("%w: %d bytes for %dx%d", ErrSizeMismatch, len(f.Data), f.Width, f.Height)
		}
		// Extension frames carry straight (non-premultiplied) alpha.
		src = &image.NRGBA{
			Pix:    f.Data,
			Stride: f.Width * 4,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}
	case domain.FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return Image{}, fmt.Errorf("failed to decode jpeg frame: %w", err)
		}
		src = img
	default:
		return Image{}, fmt.Errorf("unsupported frame format %d", f.Format)
	}

	bounds := src.Bounds()
	width, height := fitLongEdge(bounds.Dx(), bounds.Dy(), e.MaxEdge)
	if f.Format == domain.FormatJPEG && width == bounds.Dx() && height == bounds.Dy() {
		return Image{Data: f.Data, MediaType: MIMETypeJPEG, Width: width, Height: height}, nil
	}

	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: e.Quality}); err != nil {
		return Image{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return Image{Data: buf.Bytes(), MediaType: MIMETypeJPEG, Width: width, Height: height}, nil
}

// fitLongEdge scales width and height down, preserving aspect ratio, so
// that neither exceeds maxEdge.
func fitLongEdge(width, height, maxEdge int) (int, int) {
	if maxEdge <= 0 || (width <= maxEdge && height <= maxEdge) {
		return width, height
	}

	if width >= height {
		height = int(float64(height) * float64(maxEdge) / float64(width))
		width = maxEdge
	} else {
		width = int(float64(width) * float64(maxEdge) / float64(height))
		height = maxEdge
	}

	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}

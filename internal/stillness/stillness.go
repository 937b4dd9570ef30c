// Package stillness infers "video ended" from runs of near-identical
// sampled frames.
package stillness

// Defaults used when a Detector field is left zero.
const (
	DefaultThreshold  = 5
	DefaultSimilarity = 0.95
	DefaultStride     = 1000
)

// Detector tracks one video track. It is owned by the track loop and is
// not safe for concurrent use.
type Detector struct {
	// Threshold is the number of consecutive static frames that fires an
	// ended signal.
	Threshold int
	// Similarity is the score a frame must exceed to count as static.
	Similarity float64
	// Stride is the byte sampling step used by Similarity.
	Stride int

	previous []byte
	count    int
}

// New returns a detector with the given settings; zero values select the
// package defaults.
func New(threshold int, similarity float64, stride int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if similarity <= 0 {
		similarity = DefaultSimilarity
	}
	if stride <= 0 {
		stride = DefaultStride
	}
	return &Detector{Threshold: threshold, Similarity: similarity, Stride: stride}
}

// Observe compares frame with the previously observed frame and reports
// whether this call completes a static run. The signal is an edge: the
// counter resets when it fires, so a feed parked on an end screen fires
// again only after another full run.
//
// The first frame only seeds the comparison and never fires. frame is
// retained until the next call and must not be modified by the caller.
func (d *Detector) Observe(frame []byte) bool {
	if d.previous == nil {
		d.previous = frame
		return false
	}

	if Similarity(frame, d.previous, d.Stride) > d.Similarity {
		d.count++
	} else {
		d.count = 0
	}
	d.previous = frame

	if d.count >= d.Threshold {
		d.count = 0
		return true
	}
	return false
}

// StaticCount returns the length of the current static run.
func (d *Detector) StaticCount() int {
	return d.count
}

// Reset forgets the previous frame and the current run.
func (d *Detector) Reset() {
	d.previous = nil
	d.count = 0
}

// Similarity samples every stride-th byte of a and b and returns the
// fraction of sampled positions that are equal. Buffers of different
// length, and empty buffers, score 0.
func Similarity(a, b []byte, stride int) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	if stride <= 0 {
		stride = 1
	}

	matches, samples := 0, 0
	for i := 0; i < len(a); i += stride {
		if a[i] == b[i] {
			matches++
		}
		samples++
	}
	return float64(matches) / float64(samples)
}

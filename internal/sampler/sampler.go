// Package sampler decimates a live frame stream to an analysis cadence.
//
// Frames that arrive before the current interval has elapsed are dropped,
// never queued: the caller always analyzes the freshest frame it has.
package sampler

import (
	"time"

	"golang.org/x/time/rate"
)

// Policy chooses the sampling rate from the elapsed watch time of the
// current video.
type Policy struct {
	BaseFPS  float64
	BoostFPS float64
	// BoostWindow is the tail of the watch budget sampled at BoostFPS.
	BoostWindow time.Duration
	WatchBudget time.Duration
}

// FPS returns the rate for the given elapsed watch time: BaseFPS while
// elapsed <= WatchBudget-BoostWindow, BoostFPS afterwards.
func (p Policy) FPS(elapsed time.Duration) float64 {
	if p.BoostFPS <= 0 || p.BoostWindow <= 0 {
		return p.BaseFPS
	}
	if elapsed <= p.WatchBudget-p.BoostWindow {
		return p.BaseFPS
	}
	return p.BoostFPS
}

// Sampler admits at most one frame per 1/fps interval of wall-clock time.
// It is owned by a single track loop and is not safe for concurrent use.
type Sampler struct {
	policy  Policy
	limiter *rate.Limiter
	fps     float64

	admitted int64
	dropped  int64
}

// New returns a sampler that admits the first frame it sees.
func New(policy Policy) *Sampler {
	fps := policy.BaseFPS
	return &Sampler{
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		fps:     fps,
	}
}

// Admit reports whether a frame arriving at now should be analyzed.
// elapsed is the watch time of the current video at now and selects the
// sampling rate. Rejected frames are counted and otherwise ignored.
func (s *Sampler) Admit(now time.Time, elapsed time.Duration) bool {
	if fps := s.policy.FPS(elapsed); fps != s.fps {
		s.limiter.SetLimitAt(now, rate.Limit(fps))
		s.fps = fps
	}
	if s.limiter.AllowN(now, 1) {
		s.admitted++
		return true
	}
	s.dropped++
	return false
}

// FPS returns the rate applied at the most recent Admit call.
func (s *Sampler) FPS() float64 {
	return s.fps
}

// Stats returns the number of admitted and dropped frames.
func (s *Sampler) Stats() (admitted, dropped int64) {
	return s.admitted, s.dropped
}

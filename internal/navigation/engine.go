// Package navigation decides, once per sampled frame, whether to act on a
// detected trigger, advance the feed, or do nothing.
package navigation

import (
	"time"

	"github.com/tjfontaine/feedfilter/internal/domain"
	"github.com/tjfontaine/feedfilter/internal/platform"
)

const (
	DefaultMaxWatchDuration = 10 * time.Second
	DefaultMinInterval      = 500 * time.Millisecond
)

// Kind discriminates a Decision.
type Kind int

const (
	KindNone Kind = iota
	KindClickTarget
	KindNavigateNext
)

func (k Kind) String() string {
	switch k {
	case KindClickTarget:
		return "click_target"
	case KindNavigateNext:
		return "navigate_next"
	default:
		return "none"
	}
}

// Reason explains why a navigation was chosen.
type Reason string

const (
	ReasonVideoEnded  Reason = "video ended"
	ReasonWatchBudget Reason = "watch time exceeded"
)

// ClickTarget asks the dispatcher to mark the current item "not interested".
type ClickTarget struct {
	Trigger    string
	Confidence float64
	URL        string
	Strategy   platform.Strategy
}

// NavigateNext asks the dispatcher to advance the feed.
type NavigateNext struct {
	Reason   Reason
	Elapsed  time.Duration
	Strategy platform.Strategy
}

// Decision is the single output of Decide. At most one of Click and
// Navigate is set, matching Kind.
type Decision struct {
	Kind     Kind
	Click    *ClickTarget
	Navigate *NavigateNext
}

// WatchState is the per-track timing state the engine reads and advances.
// It is owned by one track loop.
type WatchState struct {
	VideoStartTime   time.Time
	LastActionTime   time.Time
	MaxWatchDuration time.Duration
}

// NewWatchState starts a watch window at now.
func NewWatchState(now time.Time, maxWatch time.Duration) *WatchState {
	if maxWatch <= 0 {
		maxWatch = DefaultMaxWatchDuration
	}
	return &WatchState{VideoStartTime: now, LastActionTime: now, MaxWatchDuration: maxWatch}
}

// Elapsed is the time spent on the current item.
func (w *WatchState) Elapsed(now time.Time) time.Duration {
	return now.Sub(w.VideoStartTime)
}

func (w *WatchState) restart(now time.Time) {
	w.LastActionTime = now
	w.VideoStartTime = now
}

// Engine is stateless apart from its configuration; all per-track state
// lives in the WatchState passed to Decide.
type Engine struct {
	catalog     *platform.Catalog
	minInterval time.Duration
}

// NewEngine returns an Engine. A negative minInterval disables the
// navigation rate limit.
func NewEngine(catalog *platform.Catalog, minInterval time.Duration) *Engine {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Engine{catalog: catalog, minInterval: minInterval}
}

// Decide applies one detection to w. A detected trigger always wins and
// suppresses navigation for the cycle. Otherwise a video end or an
// exhausted watch budget navigates, unless the last action was less than
// minInterval ago.
func (e *Engine) Decide(w *WatchState, url string, d domain.DetectionResult, now time.Time) Decision {
	if d.TriggerDetected {
		w.restart(now)
		return Decision{
			Kind: KindClickTarget,
			Click: &ClickTarget{
				Trigger:    d.TriggerName,
				Confidence: d.Confidence,
				URL:        url,
				Strategy:   e.catalog.Resolve(url),
			},
		}
	}

	elapsed := w.Elapsed(now)
	var reason Reason
	switch {
	case d.VideoEnded:
		reason = ReasonVideoEnded
	case elapsed >= w.MaxWatchDuration:
		reason = ReasonWatchBudget
	default:
		return Decision{Kind: KindNone}
	}

	if now.Sub(w.LastActionTime) < e.minInterval {
		return Decision{Kind: KindNone}
	}

	w.restart(now)
	return Decision{
		Kind: KindNavigateNext,
		Navigate: &NavigateNext{
			Reason:   reason,
			Elapsed:  elapsed,
			Strategy: e.catalog.Resolve(url),
		},
	}
}

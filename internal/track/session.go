// Package track runs the per-track analysis loop: sample, detect
// stillness, classify, decide, dispatch. Each track has its own goroutine
// and handles one frame at a time.
package track

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tjfontaine/feedfilter/internal/classifier"
	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/domain"
	"github.com/tjfontaine/feedfilter/internal/media"
	"github.com/tjfontaine/feedfilter/internal/navigation"
	"github.com/tjfontaine/feedfilter/internal/platform"
	"github.com/tjfontaine/feedfilter/internal/sampler"
	"github.com/tjfontaine/feedfilter/internal/stillness"
	"github.com/tjfontaine/feedfilter/internal/storage"
	"github.com/tjfontaine/feedfilter/internal/telemetry"
)

// DefaultFailureThreshold is the failure streak that triggers an ERROR.
const DefaultFailureThreshold = 3

// Classifier is the part of classifier.Classifier the loop uses.
type Classifier interface {
	Classify(ctx context.Context, img media.Image, triggers []string) domain.DetectionResult
	ProviderName() string
}

// Settings are the per-track tunables.
type Settings struct {
	BaseFPS          float64
	BoostFPS         float64
	BoostWindow      time.Duration
	MaxWatchDuration time.Duration
	StaticThreshold  int
	Similarity       float64
	Stride           int
	// FailureThreshold consecutive classification failures send one
	// ERROR notice. Zero selects DefaultFailureThreshold.
	FailureThreshold int
}

// Deps are the shared collaborators of every track loop.
type Deps struct {
	Classifier Classifier
	Encoder    *media.Encoder
	Engine     *navigation.Engine
	Dispatcher *dispatch.Dispatcher
	Journal    storage.Journal
	Metrics    *telemetry.Metrics
	Tracer     trace.Tracer
	Logger     *slog.Logger
	Now        func() time.Time
}

func (d *Deps) defaults() {
	if d.Encoder == nil {
		d.Encoder = media.NewEncoder(0, 0)
	}
	if d.Journal == nil {
		d.Journal = storage.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NewMetrics(false)
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// Update replaces the trigger set and the page URL. Only the fields
// flagged Set are applied. Values replace, never merge.
type Update struct {
	Triggers    []string
	SetTriggers bool
	URL         string
	SetURL      bool
}

// Merge returns u with next applied on top.
func (u Update) Merge(next Update) Update {
	if next.SetTriggers {
		u.Triggers, u.SetTriggers = next.Triggers, true
	}
	if next.SetURL {
		u.URL, u.SetURL = next.URL, true
	}
	return u
}

// Snapshot is a point-in-time view of a session for operators.
type Snapshot struct {
	TrackID      string    `json:"track_id"`
	Participant  string    `json:"participant"`
	Triggers     []string  `json:"triggers"`
	Mode         string    `json:"mode"`
	URL          string    `json:"url,omitempty"`
	Platform     string    `json:"platform"`
	FPS          float64   `json:"fps"`
	Sampled      int64     `json:"frames_sampled"`
	Throttled    int64     `json:"frames_throttled"`
	Overwritten  int64     `json:"frames_overwritten"`
	StaticCount  int       `json:"static_count"`
	Failures     int       `json:"consecutive_failures"`
	LastDecision string    `json:"last_decision,omitempty"`
	VideoStart   time.Time `json:"video_start"`
	StartedAt    time.Time `json:"started_at"`
}

// Session is one track. Offer and Update may be called from any
// goroutine; everything else is owned by Run.
type Session struct {
	id          string
	participant string
	dst         dispatch.Destination
	deps        Deps
	settings    Settings
	logger      *slog.Logger
	startedAt   time.Time

	frames chan domain.Frame
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	pending     Update
	overwritten int64
	snap        Snapshot

	// Owned by the loop.
	triggers []string
	url      string
	watch    *navigation.WatchState
	still    *stillness.Detector
	sampler  *sampler.Sampler
	failures int
}

// NewSession creates a session seeded with initial. Run must be called
// to start processing.
func NewSession(id, participant string, dst dispatch.Destination, initial Update, settings Settings, deps Deps) *Session {
	deps.defaults()
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultFailureThreshold
	}
	if settings.MaxWatchDuration <= 0 {
		settings.MaxWatchDuration = navigation.DefaultMaxWatchDuration
	}

	now := deps.Now()
	s := &Session{
		id:          id,
		participant: participant,
		dst:         dst,
		deps:        deps,
		settings:    settings,
		logger:      deps.Logger.With(slog.String("track_id", id), slog.String("participant", participant)),
		startedAt:   now,
		frames:      make(chan domain.Frame, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		watch:       navigation.NewWatchState(now, settings.MaxWatchDuration),
		still:       stillness.New(settings.StaticThreshold, settings.Similarity, settings.Stride),
		sampler: sampler.New(sampler.Policy{
			BaseFPS:     settings.BaseFPS,
			BoostFPS:    settings.BoostFPS,
			BoostWindow: settings.BoostWindow,
			WatchBudget: settings.MaxWatchDuration,
		}),
	}
	s.apply(initial)
	s.publish("")
	return s
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Participant() string { return s.participant }

// Offer hands f to the loop without blocking. An unconsumed frame is
// replaced; Offer reports false when that happened.
func (s *Session) Offer(f domain.Frame) bool {
	fresh := true
	for {
		select {
		case s.frames <- f:
			if !fresh {
				s.mu.Lock()
				s.overwritten++
				s.mu.Unlock()
				s.deps.Metrics.FrameDiscarded("overwritten")
			}
			return fresh
		default:
		}
		select {
		case <-s.frames:
			fresh = false
		default:
		}
	}
}

// Update queues u for the next frame the loop handles. Queued updates
// coalesce; the frame being processed is not affected.
func (s *Session) Update(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.SetTriggers {
		u.Triggers = slices.Clone(u.Triggers)
	}
	s.pending = s.pending.Merge(u)
}

// Close asks the loop to exit after the frame in flight.
func (s *Session) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the state published after the last handled frame.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Triggers = slices.Clone(snap.Triggers)
	snap.Overwritten = s.overwritten
	return snap
}

// Run processes frames until Close is called or ctx is done. Cancelling
// ctx does not abort a frame in flight.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	s.deps.Metrics.TrackStarted()
	defer s.deps.Metrics.TrackEnded()

	work := context.WithoutCancel(ctx)
	s.record(work, s.deps.Dispatcher.Status(work, s.dst, "ready", fmt.Sprintf("analyzing track %s", s.id)))
	s.logger.Info("track loop started", slog.String("mode", string(classifier.ModeFor(s.triggers))))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("track loop cancelled")
			return ctx.Err()
		case <-s.stop:
			s.logger.Info("track loop ended")
			return nil
		case f := <-s.frames:
			s.handleFrame(work, f)
		}
	}
}

func (s *Session) takePending() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.pending
	s.pending = Update{}
	return u, u.SetTriggers || u.SetURL
}

func (s *Session) apply(u Update) {
	if u.SetTriggers {
		s.triggers = u.Triggers
		s.logger.Info("triggers updated",
			slog.Int("count", len(u.Triggers)),
			slog.String("mode", string(classifier.ModeFor(u.Triggers))))
	}
	if u.SetURL && u.URL != s.url {
		s.url = u.URL
		s.logger.Info("url updated",
			slog.String("url", u.URL),
			slog.String("platform", string(platform.Detect(u.URL))))
	}
}

// handleFrame runs one frame through the pipeline. Any failure, including
// a panic, ends processing of this frame only.
func (s *Session) handleFrame(ctx context.Context, f domain.Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("frame processing panicked", slog.Any("panic", r))
		}
	}()

	if u, ok := s.takePending(); ok {
		s.apply(u)
	}

	now := s.deps.Now()
	if !s.sampler.Admit(now, s.watch.Elapsed(now)) {
		s.deps.Metrics.FrameThrottled()
		return
	}
	s.deps.Metrics.FrameSampled()

	ctx, span := s.deps.Tracer.Start(ctx, "track.frame", trace.WithAttributes(
		attribute.String("track_id", s.id),
		attribute.String("format", f.Format.String()),
	))
	defer span.End()

	ended := s.still.Observe(f.Data)

	img, err := s.deps.Encoder.Encode(f)
	if err != nil {
		s.logger.Warn("dropping frame", slog.String("error", err.Error()))
		s.deps.Metrics.FrameDiscarded("encode")
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		s.publish("")
		return
	}

	d := s.classify(ctx, img).WithVideoEnded(ended)
	s.noteFailure(ctx, d)

	decision := s.deps.Engine.Decide(s.watch, s.url, d, now)
	s.deps.Metrics.Decided(decision.Kind.String())
	span.SetAttributes(attribute.String("decision", decision.Kind.String()))

	if decision.Kind != navigation.KindNone {
		s.logger.Info("acting on frame",
			slog.String("decision", decision.Kind.String()),
			slog.String("trigger", d.TriggerName),
			slog.Float64("confidence", d.Confidence),
			slog.Bool("video_ended", d.VideoEnded))
	}

	s.journal(ctx, d, decision)

	if decision.Kind != navigation.KindNone {
		dctx, dspan := s.deps.Tracer.Start(ctx, "track.dispatch")
		for _, sent := range s.deps.Dispatcher.Dispatch(dctx, s.dst, decision) {
			s.record(dctx, sent)
		}
		dspan.End()
	}

	s.publish(decision.Kind.String())
}

func (s *Session) classify(ctx context.Context, img media.Image) domain.DetectionResult {
	triggers := s.triggers
	mode := classifier.ModeFor(triggers)
	provider := s.deps.Classifier.ProviderName()

	ctx, span := s.deps.Tracer.Start(ctx, "track.classify", trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	start := time.Now()
	d := s.deps.Classifier.Classify(ctx, img, triggers)
	s.deps.Metrics.Classified(provider, string(mode), time.Since(start), d.Failed)

	if d.Failed {
		span.SetStatus(codes.Error, d.Description)
	}
	if d.TriggerDetected {
		s.deps.Metrics.Detected(string(mode))
		span.SetAttributes(attribute.String("trigger", d.TriggerName))
	}
	return d
}

// noteFailure sends one ERROR per streak of failed classifications.
func (s *Session) noteFailure(ctx context.Context, d domain.DetectionResult) {
	if !d.Failed {
		if s.failures >= s.settings.FailureThreshold {
			s.logger.Info("classification recovered", slog.Int("failures", s.failures))
		}
		s.failures = 0
		return
	}
	s.failures++
	if s.failures == s.settings.FailureThreshold {
		msg := fmt.Sprintf("%d consecutive classification failures: %s", s.failures, d.Description)
		s.record(ctx, s.deps.Dispatcher.Error(ctx, s.dst, "classification", msg))
	}
}

func (s *Session) journal(ctx context.Context, d domain.DetectionResult, decision navigation.Decision) {
	err := s.deps.Journal.RecordDetection(ctx, &storage.DetectionRecord{
		Participant:     s.participant,
		TrackID:         s.id,
		URL:             s.url,
		Mode:            string(classifier.ModeFor(s.triggers)),
		TriggerDetected: d.TriggerDetected,
		TriggerName:     d.TriggerName,
		Confidence:      d.Confidence,
		Description:     d.Description,
		VideoEnded:      d.VideoEnded,
		Failed:          d.Failed,
		Decision:        decision.Kind.String(),
	})
	if err != nil {
		s.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

func (s *Session) record(ctx context.Context, sent dispatch.Sent) {
	outcome := "delivered"
	switch {
	case sent.Skipped:
		outcome = "skipped"
	case sent.Err != nil:
		outcome = "failed"
	}
	s.deps.Metrics.CommandSent(sent.Type, outcome)

	rec := &storage.CommandRecord{
		Participant: s.participant,
		TrackID:     s.id,
		Type:        sent.Type,
		CommandID:   sent.CommandID,
		Payload:     string(sent.Payload),
		Delivered:   sent.Delivered(),
	}
	if sent.Err != nil {
		rec.Error = sent.Err.Error()
	}
	if err := s.deps.Journal.RecordCommand(ctx, rec); err != nil {
		s.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

func (s *Session) publish(lastDecision string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sampled, throttled := s.sampler.Stats()
	if lastDecision == "" {
		lastDecision = s.snap.LastDecision
	}
	s.snap = Snapshot{
		TrackID:      s.id,
		Participant:  s.participant,
		Triggers:     slices.Clone(s.triggers),
		Mode:         string(classifier.ModeFor(s.triggers)),
		URL:          s.url,
		Platform:     string(platform.Detect(s.url)),
		FPS:          s.sampler.FPS(),
		Sampled:      sampled,
		Throttled:    throttled,
		StaticCount:  s.still.StaticCount(),
		Failures:     s.failures,
		LastDecision: lastDecision,
		VideoStart:   s.watch.VideoStartTime,
		StartedAt:    s.startedAt,
	}
}

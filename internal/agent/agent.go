// Package agent joins the room and runs one track session per published
// video track.
package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/domain"
	"github.com/tjfontaine/feedfilter/internal/room"
	"github.com/tjfontaine/feedfilter/internal/telemetry"
	"github.com/tjfontaine/feedfilter/internal/track"
)

// Agent implements room.Handler. Triggers and URL are tracked per
// participant; a track that starts later inherits the latest values.
type Agent struct {
	ctx      context.Context
	cancel   context.CancelFunc
	settings track.Settings
	deps     track.Deps
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu           sync.Mutex
	participants map[string]*participant
	wg           sync.WaitGroup
}

var _ room.Handler = (*Agent)(nil)

type participant struct {
	dst    dispatch.Destination
	latest track.Update
	tracks map[string]*track.Session
}

// New returns an agent whose sessions run until ctx is done or Shutdown
// is called.
func New(ctx context.Context, settings track.Settings, deps track.Deps) *Agent {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics(false)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Agent{
		ctx:          ctx,
		cancel:       cancel,
		settings:     settings,
		deps:         deps,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		participants: make(map[string]*participant),
	}
}

func (a *Agent) Joined(p *room.Participant) { a.join(p.Identity(), p) }

func (a *Agent) Frame(p *room.Participant, f domain.Frame) { a.frame(p.Identity(), p, f) }

func (a *Agent) Control(p *room.Participant, msg room.ControlMessage) {
	a.control(p.Identity(), p, msg)
}

func (a *Agent) Left(p *room.Participant) { a.leave(p.Identity()) }

func (a *Agent) join(identity string, dst dispatch.Destination) *participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.participantLocked(identity, dst)
}

func (a *Agent) participantLocked(identity string, dst dispatch.Destination) *participant {
	if p, ok := a.participants[identity]; ok {
		return p
	}
	p := &participant{dst: dst, tracks: make(map[string]*track.Session)}
	a.participants[identity] = p
	a.metrics.ParticipantJoined()
	return p
}

func (a *Agent) frame(identity string, dst dispatch.Destination, f domain.Frame) {
	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		return
	}
	p := a.participantLocked(identity, dst)
	s, ok := p.tracks[f.TrackID]
	if !ok {
		s = track.NewSession(f.TrackID, identity, p.dst, p.latest, a.settings, a.deps)
		p.tracks[f.TrackID] = s
		a.start(s)
		a.logger.Info("track subscribed",
			slog.String("participant", identity), slog.String("track_id", f.TrackID))
	}
	a.mu.Unlock()

	s.Offer(f)
}

func (a *Agent) start(s *track.Session) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = s.Run(a.ctx)
	}()
}

func (a *Agent) control(identity string, dst dispatch.Destination, msg room.ControlMessage) {
	var u track.Update
	switch msg.Type {
	case room.TypeInitTriggers, room.TypeUpdateTriggers:
		u.Triggers, u.SetTriggers = msg.Triggers, true
		if u.Triggers == nil {
			u.Triggers = []string{}
		}
		if msg.URL != nil {
			u.URL, u.SetURL = *msg.URL, true
		}
	case room.TypeURLUpdate:
		u.URL, u.SetURL = *msg.URL, true
	case room.TypeTrackEnded:
		a.endTrack(identity, msg.TrackID)
		return
	default:
		a.logger.Debug("ignoring control message",
			slog.String("participant", identity), slog.String("type", msg.Type))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.participantLocked(identity, dst)
	p.latest = p.latest.Merge(u)
	for _, s := range p.tracks {
		s.Update(u)
	}
	a.logger.Info("control applied",
		slog.String("participant", identity),
		slog.String("type", msg.Type),
		slog.Int("tracks", len(p.tracks)))
}

func (a *Agent) endTrack(identity, trackID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.participants[identity]
	if !ok {
		return
	}
	if s, ok := p.tracks[trackID]; ok {
		s.Close()
		delete(p.tracks, trackID)
		a.logger.Info("track ended", slog.String("participant", identity), slog.String("track_id", trackID))
	}
}

func (a *Agent) leave(identity string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.participants[identity]
	if !ok {
		return
	}
	for _, s := range p.tracks {
		s.Close()
	}
	delete(a.participants, identity)
	a.metrics.ParticipantLeft()
}

// Sessions returns a snapshot of every running track, ordered by
// participant then track.
func (a *Agent) Sessions() []track.Snapshot {
	a.mu.Lock()
	var sessions []*track.Session
	for _, p := range a.participants {
		for _, s := range p.tracks {
			sessions = append(sessions, s)
		}
	}
	a.mu.Unlock()

	out := make([]track.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Participant != out[j].Participant {
			return out[i].Participant < out[j].Participant
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

// Shutdown stops every session and waits for them, or for ctx.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.cancel()
	for _, p := range a.participants {
		for _, s := range p.tracks {
			s.Close()
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

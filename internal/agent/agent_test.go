package agent

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/domain"
	"github.com/tjfontaine/feedfilter/internal/media"
	"github.com/tjfontaine/feedfilter/internal/navigation"
	"github.com/tjfontaine/feedfilter/internal/platform"
	"github.com/tjfontaine/feedfilter/internal/room"
	"github.com/tjfontaine/feedfilter/internal/track"
)

type call struct {
	triggers []string
}

type fakeClassifier struct {
	calls chan call
}

func (f *fakeClassifier) ProviderName() string { return "fake" }

func (f *fakeClassifier) Classify(ctx context.Context, img media.Image, triggers []string) domain.DetectionResult {
	f.calls <- call{triggers: slices.Clone(triggers)}
	return domain.NoDetection("nothing")
}

type destination struct {
	id string
	mu sync.Mutex
	n  int
}

func (d *destination) Identity() string { return d.id }
func (d *destination) Connected() bool  { return true }
func (d *destination) Send(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	return nil
}

func newAgent(t *testing.T) (*Agent, *fakeClassifier) {
	t.Helper()
	catalog, err := platform.NewCatalog(nil)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cls := &fakeClassifier{calls: make(chan call, 16)}
	a := New(context.Background(), track.Settings{BaseFPS: 1e6, MaxWatchDuration: time.Minute}, track.Deps{
		Classifier: cls,
		Engine:     navigation.NewEngine(catalog, 0),
		Dispatcher: dispatch.New(nil, dispatch.Options{Logger: logger}),
		Logger:     logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return a, cls
}

func frame(trackID string) domain.Frame {
	return domain.Frame{TrackID: trackID, Format: domain.FormatRGBA, Width: 1, Height: 1, Data: []byte{1, 2, 3, 4}}
}

func next(t *testing.T, cls *fakeClassifier) call {
	t.Helper()
	select {
	case c := <-cls.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no classification")
		return call{}
	}
}

func ptr(s string) *string { return &s }

func TestLaterTrackInheritsTriggers(t *testing.T) {
	a, cls := newAgent(t)
	dst := &destination{id: "ext-1"}
	a.join("ext-1", dst)

	a.control("ext-1", dst, room.ControlMessage{
		Type: room.TypeInitTriggers, Triggers: []string{"spiders"}, URL: ptr("https://www.tiktok.com/"),
	})
	a.frame("ext-1", dst, frame("tab-1"))
	if got := next(t, cls); !slices.Equal(got.triggers, []string{"spiders"}) {
		t.Errorf("triggers = %v", got.triggers)
	}

	sessions := a.Sessions()
	if len(sessions) != 1 || sessions[0].TrackID != "tab-1" || sessions[0].Platform != "tiktok" {
		t.Fatalf("Sessions() = %+v", sessions)
	}
}

func TestControlFansOutToTracks(t *testing.T) {
	a, cls := newAgent(t)
	dst := &destination{id: "ext-1"}
	a.join("ext-1", dst)

	a.frame("ext-1", dst, frame("tab-1"))
	next(t, cls)
	a.frame("ext-1", dst, frame("tab-2"))
	next(t, cls)

	a.control("ext-1", dst, room.ControlMessage{Type: room.TypeUpdateTriggers, Triggers: []string{"clowns"}})
	a.frame("ext-1", dst, frame("tab-1"))
	a.frame("ext-1", dst, frame("tab-2"))
	for i := 0; i < 2; i++ {
		if got := next(t, cls); !slices.Equal(got.triggers, []string{"clowns"}) {
			t.Errorf("triggers = %v, want [clowns]", got.triggers)
		}
	}
}

func TestTrackEndedAndLeft(t *testing.T) {
	a, cls := newAgent(t)
	dst := &destination{id: "ext-1"}
	a.join("ext-1", dst)

	a.frame("ext-1", dst, frame("tab-1"))
	a.frame("ext-1", dst, frame("tab-2"))
	next(t, cls)
	next(t, cls)

	a.control("ext-1", dst, room.ControlMessage{Type: room.TypeTrackEnded, TrackID: "tab-1"})
	if got := a.Sessions(); len(got) != 1 || got[0].TrackID != "tab-2" {
		t.Errorf("Sessions() after TRACK_ENDED = %+v", got)
	}

	a.control("ext-1", dst, room.ControlMessage{Type: "PING"})
	a.leave("ext-1")
	if got := a.Sessions(); len(got) != 0 {
		t.Errorf("Sessions() after leave = %+v", got)
	}
}

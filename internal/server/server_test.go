package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tjfontaine/feedfilter/internal/auth"
	"github.com/tjfontaine/feedfilter/internal/config"
	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/storage"
	"github.com/tjfontaine/feedfilter/internal/storage/memory"
	"github.com/tjfontaine/feedfilter/internal/track"
)

type sessions []track.Snapshot

func (s sessions) Sessions() []track.Snapshot { return s }

func newTestServer(t *testing.T) (*Server, *dispatch.Counter, *memory.Store) {
	t.Helper()
	journal := memory.New(10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = journal.RecordDetection(ctx, &storage.DetectionRecord{TrackID: "tab-1", Decision: "none"})
	}
	_ = journal.RecordCommand(ctx, &storage.CommandRecord{TrackID: "tab-1", Type: dispatch.TypeScrollNext, CommandID: 1, Delivered: true})

	counter := &dispatch.Counter{}
	counter.Next()
	counter.Next()

	s := New(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Auth:     auth.NewAuthenticator(config.RoomConfig{APIKey: "secret"}),
		Sessions: sessions{{TrackID: "tab-1", Participant: "ext-1", Mode: "open_set"}},
		Journal:  journal,
		Counter:  counter,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("feedfilter_active_tracks 1\n"))
		}),
		Room: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}),
	})
	return s, counter, journal
}

func do(t *testing.T, h http.Handler, method, target string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer secret")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		authed bool
		want   int
	}{
		{name: "health is open", method: "GET", target: "/healthz", want: http.StatusOK},
		{name: "metrics is open", method: "GET", target: "/metrics", want: http.StatusOK},
		{name: "sessions needs key", method: "GET", target: "/admin/sessions", want: http.StatusUnauthorized},
		{name: "sessions", method: "GET", target: "/admin/sessions", authed: true, want: http.StatusOK},
		{name: "room needs key", method: "GET", target: "/v1/room", want: http.StatusUnauthorized},
		{name: "room", method: "GET", target: "/v1/room", authed: true, want: http.StatusAccepted},
		{name: "bad limit", method: "GET", target: "/admin/journal/detections?limit=x", authed: true, want: http.StatusBadRequest},
		{name: "reset is post only", method: "GET", target: "/admin/commands/reset", authed: true, want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s.Router, tt.method, tt.target, tt.authed); rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.target, rec.Code, tt.want)
			}
		})
	}
}

func TestJournalEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s.Router, "GET", "/admin/journal/detections?limit=2", true)
	var detections struct {
		Detections []storage.DetectionRecord `json:"detections"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&detections); err != nil {
		t.Fatal(err)
	}
	if len(detections.Detections) != 2 {
		t.Errorf("detections = %d, want 2", len(detections.Detections))
	}

	rec = do(t, s.Router, "GET", "/admin/journal/commands?track_id=other", true)
	var commands struct {
		Commands []storage.CommandRecord `json:"commands"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&commands); err != nil {
		t.Fatal(err)
	}
	if commands.Commands == nil || len(commands.Commands) != 0 {
		t.Errorf("commands = %v, want empty list", commands.Commands)
	}
}

func TestResetCounter(t *testing.T) {
	s, counter, _ := newTestServer(t)

	rec := do(t, s.Router, "POST", "/admin/commands/reset", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["previous"] != 2 {
		t.Errorf("previous = %d, want 2", body["previous"])
	}
	if got := counter.Next(); got != 1 {
		t.Errorf("Next() after reset = %d, want 1", got)
	}
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tjfontaine/feedfilter/internal/storage"
	"github.com/tjfontaine/feedfilter/internal/track"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []track.Snapshot{}
	if s.opts.Sessions != nil {
		sessions = s.opts.Sessions.Sessions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// listOptions reads ?limit= and ?track_id=.
func listOptions(r *http.Request) (storage.ListOptions, error) {
	opts := storage.ListOptions{TrackID: r.URL.Query().Get("track_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, strconv.ErrSyntax
		}
		opts.Limit = n
	}
	return opts.Normalize(), nil
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	recs, err := s.opts.Journal.ListDetections(r.Context(), opts)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if recs == nil {
		recs = []storage.DetectionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": recs})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	recs, err := s.opts.Journal.ListCommands(r.Context(), opts)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if recs == nil {
		recs = []storage.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": recs})
}

// handleResetCounter restarts command ids at 1.
func (s *Server) handleResetCounter(w http.ResponseWriter, r *http.Request) {
	if s.opts.Counter == nil {
		writeError(w, http.StatusNotFound, "no command counter")
		return
	}
	previous := s.opts.Counter.Last()
	s.opts.Counter.Reset()
	s.logger.Info("command counter reset", slog.Int64("previous", previous))
	writeJSON(w, http.StatusOK, map[string]int64{"previous": previous})
}

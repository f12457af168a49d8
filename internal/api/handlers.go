package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

type triggerRequest struct {
	RequestedCount *int `json:"requested_count"`
}

// triggerScrape starts one pipeline run and returns its correlation id
// without waiting for the run to finish.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	count := s.cfg.DefaultCount
	if req.RequestedCount != nil {
		count = *req.RequestedCount
	}
	if count <= 0 {
		s.writeError(w, http.StatusBadRequest, "requested_count must be positive")
		return
	}

	correlationID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate correlation id")
		return
	}

	go func() {
		if _, err := s.runner.Execute(s.baseCtx, correlationID, count); err != nil {
			s.logger.Warn("run finished with error",
				zap.String("correlation_id", correlationID),
				zap.Error(err),
			)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"correlation_id":  correlationID,
		"requested_count": count,
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlation_id")
	run, err := s.runs.GetRunByCorrelationID(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, scraper.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "fetch run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := scraper.RunFilter{}
	var ok bool
	if filter.Limit, ok = intQuery(w, s, r, "limit"); !ok {
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := scraper.RunStatus(raw)
		switch status {
		case scraper.RunStatusPending, scraper.RunStatusRunning,
			scraper.RunStatusCompleted, scraper.RunStatusFailed:
			filter.Status = &status
		default:
			s.writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list runs")
		return
	}
	if runs == nil {
		runs = []scraper.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	filter := scraper.ItemFilter{}
	var ok bool
	if filter.Limit, ok = intQuery(w, s, r, "limit"); !ok {
		return
	}
	if filter.MinScore, ok = optionalIntQuery(w, s, r, "min_score"); !ok {
		return
	}
	if filter.RankMin, ok = optionalIntQuery(w, s, r, "rank_min"); !ok {
		return
	}
	if filter.RankMax, ok = optionalIntQuery(w, s, r, "rank_max"); !ok {
		return
	}

	items, err := s.items.ListItems(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list items")
		return
	}
	if items == nil {
		items = []scraper.Item{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func intQuery(w http.ResponseWriter, s *Server, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func optionalIntQuery(w http.ResponseWriter, s *Server, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid "+name)
		return nil, false
	}
	return &v, true
}

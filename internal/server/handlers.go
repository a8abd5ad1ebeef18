package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xtxerr/podwatch/internal/alerts"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/insight"
	"github.com/xtxerr/podwatch/internal/registry"
)

const day = 24 * time.Hour

// defaultGraveyardLimit caps a graveyard listing without an explicit limit.
const defaultGraveyardLimit = 100

// =============================================================================
// Ops
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePrune deletes registry entries older than ?days=N (default: the
// registry retention). ?dry_run=true only counts them.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	olderThan, err := daysParam(r, "days")
	if err != nil {
		writeError(w, err)
		return
	}
	if olderThan <= 0 {
		olderThan = s.cfg.PruneRetention
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	res, err := registry.PruneOlderThan(r.Context(), s.deps.Registry, s.deps.Clock.Now(), olderThan, dryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Metrics != nil && res.Deleted > 0 {
		s.deps.Metrics.RegistryPruned.Add(float64(res.Deleted))
	}

	log.Info("registry prune requested",
		"cutoff", res.Cutoff,
		"dry_run", res.DryRun,
		"matched", res.Matched,
		"deleted", res.Deleted)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGraveyard(w http.ResponseWriter, r *http.Request) {
	olderThan, err := daysParam(r, "days")
	if err != nil {
		writeError(w, err)
		return
	}
	if olderThan <= 0 {
		olderThan = s.cfg.PruneRetention
	}
	limit := defaultGraveyardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errors.NewValidation("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	cutoff := registry.Cutoff(s.deps.Clock.Now(), olderThan)
	entries, err := s.deps.Registry.Graveyard(r.Context(), cutoff, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []registry.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cutoff":  cutoff,
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleVantages(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Vantages.Vantages()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(all),
		"vantages": all,
	})
}

// =============================================================================
// Insight views
// =============================================================================

func (s *Server) handleNodeScores(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Insight.NodeScores(r.Context(), chi.URLParam(r, "address"))
	respond(w, res, err)
}

func (s *Server) handleNodeAlerts(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Insight.NodeAlerts(r.Context(), chi.URLParam(r, "address"))
	respond(w, res, err)
}

func (s *Server) handleNodeConsistency(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Insight.Consistency(r.Context(), chi.URLParam(r, "address"))
	respond(w, res, err)
}

func (s *Server) handleNetworkHealth(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Insight.NetworkHealth(r.Context())
	respond(w, res, err)
}

func (s *Server) handleNetworkAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.deps.Insight.NetworkAlerts(r.Context(), insight.AlertFilter{
		Severity: alerts.Severity(q.Get("severity")),
		Type:     alerts.Type(q.Get("type")),
	})
	respond(w, res, err)
}

func (s *Server) handleConsistencySummary(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Insight.ConsistencySummary(r.Context())
	respond(w, res, err)
}

// =============================================================================
// Helpers
// =============================================================================

// daysParam parses a positive day count. Absent means zero, which callers
// treat as the default retention.
func daysParam(r *http.Request, name string) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.NewValidation(name, "must be a positive integer")
	}
	return time.Duration(n) * day, nil
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response", "error", err)
	}
}

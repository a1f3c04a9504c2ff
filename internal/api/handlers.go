package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/monitoring"
	"github.com/sells-group/forgescore/internal/pipeline"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var params ledger.IngestParams
	if !decodeJSON(w, r, &params) {
		return
	}
	ev, err := s.pipeline.IngestEvidence(r.Context(), params)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleSupersede(w http.ResponseWriter, r *http.Request) {
	var params ledger.IngestParams
	if !decodeJSON(w, r, &params) {
		return
	}
	ev, err := s.pipeline.SupersedeEvidence(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}

	f := ledger.Filter{
		Limit:             limit,
		IncludeSuperseded: q.Get("include_superseded") == "true",
	}
	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			et := model.EvidenceType(strings.TrimSpace(t))
			if !et.Valid() {
				writeError(w, http.StatusBadRequest, "unknown evidence type "+strconv.Quote(string(et)))
				return
			}
			f.Types = append(f.Types, et)
		}
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = ts
	}

	evs, err := s.pipeline.Ledger().Query(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if evs == nil {
		evs = []model.Evidence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": evs})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	proj, err := s.pipeline.Store().GetBuilderProjection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	resp := map[string]any{"builder": proj}
	if proj.ScoreV3 != nil {
		mv, err := s.pipeline.Store().ActiveModelVersion(r.Context())
		if err == nil && mv != nil {
			resp["tier"] = mv.TierFor(*proj.ScoreV3)
		} else {
			def := model.DefaultScoringModel()
			resp["tier"] = def.TierFor(*proj.ScoreV3)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	hist, err := s.pipeline.Store().ListScoreHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if hist == nil {
		hist = []model.ScoreHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": hist})
}

// handleRecompute queues a manual recompute, or runs it inline when the body
// sets "sync": true.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sync   bool   `json:"sync"`
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	builderID := chi.URLParam(r, "id")

	if req.Sync {
		reason := req.Reason
		if reason == "" {
			reason = model.TriggerManual
		}
		res, err := s.pipeline.ComputeScoreForBuilder(r.Context(), builderID, reason, false)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	job, err := s.pipeline.EnqueueRecompute(r.Context(), builderID, model.TriggerManual, "", model.PriorityManual)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var target pipeline.DeliveryTarget
	if !decodeJSON(w, r, &target) {
		return
	}
	report, err := s.pipeline.VerifyDelivery(r.Context(), target)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipeline.Store().GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var (
		snap   *monitoring.MetricsSnapshot
		alerts []monitoring.Alert
	)
	if s.checker != nil {
		snap, alerts = s.checker.Latest()
	}
	if snap == nil {
		var err error
		snap, err = s.collector.Collect(r.Context(), 24)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
	}

	version := model.DefaultModelVersion
	if mv, err := s.pipeline.Store().ActiveModelVersion(r.Context()); err == nil && mv != nil {
		version = mv.Version
	}

	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_version": version,
		"queue":         snap,
		"alerts":        alerts,
	})
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return n, true
}

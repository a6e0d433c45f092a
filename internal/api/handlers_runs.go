package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/designdoc/internal/model"
	"github.com/dgallion1/designdoc/internal/pipeline"
	"github.com/dgallion1/designdoc/internal/source"
)

const maxBodyBytes = 64 << 10

type estimateRequest struct {
	Locator string `json:"locator"`
	Model   string `json:"model"`
}

type runRequest struct {
	Locator string   `json:"locator"`
	MaxCost *float64 `json:"max_cost"`
	HTML    bool     `json:"html"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validLocator rejects locators the service should not read: only GitHub
// repositories and absolute local paths are accepted.
func validLocator(locator string) error {
	switch {
	case locator == "":
		return errors.New("locator is required")
	case strings.Contains(locator, "github.com/"):
		return nil
	case !strings.HasPrefix(locator, "/"):
		return errors.New("local locators must be absolute paths")
	}
	return nil
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validLocator(req.Locator); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	est, err := s.orchestrator.Runner().EstimateLocator(r.Context(), req.Locator, req.Model)
	if err != nil {
		s.log.Warn("estimate failed", "locator", req.Locator, "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(est)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validLocator(req.Locator); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxCost == nil || *req.MaxCost < 0 {
		jsonError(w, "max_cost is required and must be non-negative", http.StatusBadRequest)
		return
	}

	job := pipeline.NewJob(req.Locator, *req.MaxCost, req.HTML)
	if err := s.orchestrator.Submit(job); err != nil {
		s.log.Warn("run not queued", "job_id", job.ID, "queue_depth", s.orchestrator.QueueDepth(), "error", err)
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.log.Info("run queued",
		"job_id", job.ID,
		"locator", req.Locator,
		"max_cost", *req.MaxCost,
		"queue_depth", s.orchestrator.QueueDepth(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/runs/%s", job.ID),
	})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleRunDoc(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	if snap.Status != pipeline.StatusCompleted || snap.DesignPath == "" {
		jsonError(w, fmt.Sprintf("job is %s", snap.Status), http.StatusConflict)
		return
	}

	doc, err := os.ReadFile(snap.DesignPath)
	if err != nil {
		s.log.Error("read design doc", "job_id", snap.ID, "error", err)
		jsonError(w, "design doc unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(doc)
}

func statusFor(err error) int {
	var invalid *source.InvalidSourceError
	switch {
	case errors.As(err, &invalid), errors.Is(err, model.ErrUnknownTier):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

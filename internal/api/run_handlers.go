package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/deploy-engine/internal/orchestrator"
	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/models"
)

// RunHandler handles run submission and inspection endpoints
type RunHandler struct {
	engine *orchestrator.Engine
	repo   *state.Repository
}

// NewRunHandler creates a new run handler
func NewRunHandler(engine *orchestrator.Engine, repo *state.Repository) *RunHandler {
	return &RunHandler{
		engine: engine,
		repo:   repo,
	}
}

// SubmitRun handles POST /api/v1/runs
func (h *RunHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	runID, err := h.engine.Submit(r.Context(), req.ToRequest())
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			RespondWithError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Error().Err(err).Str("app", req.AppName).Msg("Failed to submit run")
		RespondWithError(w, http.StatusInternalServerError, "Failed to submit run")
		return
	}

	AddTraceIDToResponse(w, r.Context())
	RespondWithJSON(w, http.StatusAccepted, SubmitRunResponse{
		RunID:  runID,
		Status: state.RunStatusQueued,
	})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrRunNotFound) {
			RespondWithError(w, http.StatusNotFound, "Run not found")
			return
		}
		log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to get run")
		RespondWithError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	RespondWithJSON(w, http.StatusOK, models.NewRun(run))
}

// ListRuns handles GET /api/v1/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var (
		runs []state.Run
		err  error
	)
	if app := r.URL.Query().Get("app"); app != "" {
		runs, err = h.repo.ListRunsByApp(r.Context(), app, limit, offset)
	} else {
		runs, err = h.repo.ListRuns(r.Context(), limit, offset)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		RespondWithError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	RespondWithJSON(w, http.StatusOK, ListRunsResponse{
		Runs:   models.NewRuns(runs),
		Total:  len(runs),
		Limit:  limit,
		Offset: offset,
	})
}

// GetLatestImage handles GET /api/v1/apps/{app}/image
func (h *RunHandler) GetLatestImage(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	if app == "" {
		RespondWithError(w, http.StatusBadRequest, "App name is required")
		return
	}

	record, err := h.repo.LatestImageForApp(r.Context(), app)
	if err != nil {
		log.Error().Err(err).Str("app", app).Msg("Failed to get latest image")
		RespondWithError(w, http.StatusInternalServerError, "Failed to get latest image")
		return
	}
	if record == nil {
		RespondWithError(w, http.StatusNotFound, "No image published for app")
		return
	}

	RespondWithJSON(w, http.StatusOK, models.NewImage(record))
}

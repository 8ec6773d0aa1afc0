package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"holo/internal/logging"
	"holo/internal/pipeline"
)

// Handler serves RunPath by executing requests on a local registry. It lets
// one holod act as the stage sidecar of another.
type Handler struct {
	registry *pipeline.Registry
	logger   *slog.Logger
}

// NewHandler builds the sidecar endpoint.
func NewHandler(registry *pipeline.Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logging.NewComponentLogger(logger, "pipeline-sidecar")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: "method not allowed"})
		return
	}
	var req pipeline.StageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid request body"})
		return
	}
	name, err := pipeline.ParseStageName(string(req.Stage))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "unknown stage"})
		return
	}
	req.Stage = name
	if req.Input.URI == "" || req.Output.URI == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "input and output uri are required"})
		return
	}
	runner, ok := h.registry.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "no runner configured"})
		return
	}
	result, err := runner.Run(r.Context(), req)
	if err != nil {
		h.logger.Warn("sidecar stage failed",
			logging.Stage(string(name)),
			logging.Event("sidecar_stage_failed"),
			logging.Hint("inspect the stage error returned to the caller"),
			logging.Error(err))
		msg := err.Error()
		var se *pipeline.StageError
		if errors.As(err, &se) && se.Cause != nil {
			msg = se.Cause.Error()
		}
		writeJSON(w, http.StatusUnprocessableEntity, envelope{Error: msg})
		return
	}
	if result.Output.URI == "" {
		result.Output = req.Output
	}
	writeJSON(w, http.StatusOK, envelope{Output: &result.Output, Metadata: result.Metadata})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/params"
)

// TimingHandler serves /api/timing (GET, PUT) and /api/timings (GET).
type TimingHandler struct {
	app    *app.App
	logger *zap.SugaredLogger
}

// NewTimingHandler creates a TimingHandler for a.
func NewTimingHandler(a *app.App, logger *zap.SugaredLogger) *TimingHandler {
	return &TimingHandler{app: a, logger: nopIfNil(logger)}
}

type timingResponse struct {
	Timing  params.Timing   `json:"timing"`
	Timings []params.Timing `json:"timings"`
}

type setTimingRequest struct {
	Millis int `json:"ms"`
}

func (h *TimingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/timings") {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, params.Timings())
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.response())
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TimingHandler) response() timingResponse {
	return timingResponse{Timing: h.app.Timing(), Timings: params.Timings()}
}

// put handles PUT /api/timing. Only values from the timing table are accepted.
func (h *TimingHandler) put(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setTimingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	timing, err := params.LookupTiming(req.Millis)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.SetTiming(timing); err != nil {
		h.logger.Errorw("timing change failed", "ms", req.Millis, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.response())
}

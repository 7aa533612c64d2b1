package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/detector"
)

// BackendHandler serves GET and PUT /api/backend.
type BackendHandler struct {
	app    *app.App
	logger *zap.SugaredLogger
}

// NewBackendHandler creates a BackendHandler for a.
func NewBackendHandler(a *app.App, logger *zap.SugaredLogger) *BackendHandler {
	return &BackendHandler{app: a, logger: nopIfNil(logger)}
}

type backendChoice struct {
	Kind  detector.Kind `json:"kind"`
	Title string        `json:"title"`
}

type backendResponse struct {
	app.Status
	Kinds []backendChoice `json:"kinds"`
}

type selectBackendRequest struct {
	Kind string `json:"kind"`
}

func (h *BackendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BackendHandler) response() backendResponse {
	resp := backendResponse{Status: h.app.Status()}
	for _, k := range detector.Kinds() {
		resp.Kinds = append(resp.Kinds, backendChoice{Kind: k, Title: k.Title()})
	}
	return resp
}

// get handles GET /api/backend and returns the selected backend and its view state.
func (h *BackendHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.response())
}

// put handles PUT /api/backend and switches the backend.
func (h *BackendHandler) put(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req selectBackendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	kind, err := detector.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.Select(kind); err != nil {
		if errors.Is(err, detector.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorw("backend switch failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.response())
}

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
)

// ParamsHandler serves GET and PUT /api/params/{kind}. PUT merges a partial JSON
// record into the current one as a single mutation.
type ParamsHandler struct {
	app    *app.App
	logger *zap.SugaredLogger
}

// NewParamsHandler creates a ParamsHandler for a.
func NewParamsHandler(a *app.App, logger *zap.SugaredLogger) *ParamsHandler {
	return &ParamsHandler{app: a, logger: nopIfNil(logger)}
}

type paramsResponse struct {
	Kind    detector.Kind `json:"kind"`
	Params  any           `json:"params"`
	Choices any           `json:"choices,omitempty"`
}

type poseChoices struct {
	Algorithms       []params.Algorithm    `json:"algorithms"`
	Architectures    []params.Architecture `json:"architectures"`
	OutputStrides    []int                 `json:"outputStrides"`
	InputResolutions []int                 `json:"inputResolutions"`
	Multipliers      []float64             `json:"multipliers"`
	QuantBytes       []int                 `json:"quantBytes"`
}

type meshChoices struct {
	Backends []string `json:"backends"`
	MaxFaces int      `json:"maxFaces"`
}

type faceChoices struct {
	Models []string `json:"models"`
}

func (h *ParamsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected path: /api/params/{kind}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/params"), "/")
	kind, err := detector.ParseKind(name)
	if err != nil || kind == detector.KindNone {
		writeError(w, http.StatusNotFound, "unknown backend: "+name)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.response(kind))
	case http.MethodPut:
		h.put(w, r, kind)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ParamsHandler) response(kind detector.Kind) paramsResponse {
	resp := paramsResponse{Kind: kind, Params: h.app.Params(kind)}
	switch kind {
	case detector.KindFace:
		resp.Choices = faceChoices{Models: params.FaceModels}
	case detector.KindPose:
		p := h.app.Pose().Get()
		resp.Choices = poseChoices{
			Algorithms:       params.Algorithms,
			Architectures:    params.Architectures,
			OutputStrides:    p.OutputStrides(),
			InputResolutions: params.InputResolutions(),
			Multipliers:      p.Multipliers(),
			QuantBytes:       params.QuantBytesChoice,
		}
	case detector.KindMesh:
		resp.Choices = meshChoices{Backends: params.MeshComputeBackends, MaxFaces: params.MaxMeshFaces}
	}
	return resp
}

// put handles PUT /api/params/{kind}.
func (h *ParamsHandler) put(w http.ResponseWriter, r *http.Request, kind detector.Kind) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch kind {
	case detector.KindFace:
		err = merge(h.app.Face(), body, nil)
	case detector.KindPose:
		err = merge(h.app.Pose(), body, resetPoseInput)
	case detector.KindMesh:
		err = merge(h.app.Mesh(), body, nil)
	}
	if err != nil {
		if errors.Is(err, params.ErrInvalid) || errors.Is(err, errInvalidJSON) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorw("params update failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.response(kind))
}

var errInvalidJSON = errors.New("invalid JSON")

// merge decodes body over the current record of s and commits the result as one
// mutation. fix, when set, sees the record before and after the decode.
func merge[T params.Validator](s *params.Store[T], body []byte, fix func(before, after *T)) error {
	probe := s.Get()
	if err := json.Unmarshal(body, &probe); err != nil {
		return errors.Wrap(errInvalidJSON, err.Error())
	}

	return s.Update(func(p *T) {
		before := *p
		// The body decoded cleanly into the same type above.
		_ = json.Unmarshal(body, p)
		if fix != nil {
			fix(&before, p)
		}
	})
}

// resetPoseInput applies the architecture defaults when the backbone changed.
func resetPoseInput(before, after *params.PoseParams) {
	if after.Input.Architecture != before.Input.Architecture {
		after.SetArchitecture(after.Input.Architecture)
	}
}

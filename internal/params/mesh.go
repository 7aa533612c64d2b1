package params

import (
	"slices"

	"github.com/pkg/errors"
)

// MeshModel is the facemesh asset name under the model directory.
const MeshModel = "facemesh"

// MeshComputeBackends are the inference backends the mesh service accepts.
var MeshComputeBackends = []string{"wasm", "webgl", "cpu"}

// MaxMeshFaces bounds MeshParams.MaxFaces.
const MaxMeshFaces = 20

// MeshParams controls the mesh backend and its overlay.
type MeshParams struct {
	Backend          string `json:"backend"`
	MaxFaces         int    `json:"maxFaces"`
	TriangulateMesh  bool   `json:"triangulateMesh"`
	RenderPointCloud bool   `json:"renderPointcloud"`
}

// DefaultMeshParams tracks a single triangulated face and feeds the point cloud.
func DefaultMeshParams() MeshParams {
	return MeshParams{
		Backend:          "wasm",
		MaxFaces:         1,
		TriangulateMesh:  true,
		RenderPointCloud: true,
	}
}

func (p MeshParams) Validate() error {
	if !slices.Contains(MeshComputeBackends, p.Backend) {
		return errors.Wrapf(ErrInvalid, "mesh backend %q", p.Backend)
	}
	if p.MaxFaces < 1 || p.MaxFaces > MaxMeshFaces {
		return errors.Wrapf(ErrInvalid, "max faces %d out of [1,%d]", p.MaxFaces, MaxMeshFaces)
	}
	return nil
}

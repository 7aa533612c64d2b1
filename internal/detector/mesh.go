package detector

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/params"
)

// MeshBackend estimates dense face meshes. It runs two model instances: one for the
// overlay and one feeding the point cloud, so a slow viewer never stalls the overlay.
type MeshBackend struct {
	launcher *Launcher
	table    *Triangulation

	// points is how many mesh points the table needs.
	points      int
	triangulate atomic.Bool

	overlay serviceSlot
	cloud   serviceSlot
	initMu  sync.Mutex
}

var (
	_ Backend          = (*MeshBackend)(nil)
	_ PointCloudSource = (*MeshBackend)(nil)
)

// NewMeshBackend creates an uninitialized mesh backend. table is the triangulation
// loaded from the model assets; a nil table makes Initialize fail with ErrModelMissing.
func NewMeshBackend(l *Launcher, table *Triangulation) *MeshBackend {
	return &MeshBackend{launcher: l, table: table, points: table.MaxIndex() + 1}
}

func (b *MeshBackend) Kind() Kind { return KindMesh }

// Triangulation returns the table the overlay is drawn with.
func (b *MeshBackend) Triangulation() *Triangulation { return b.table }

type meshOptions struct {
	Backend  string `json:"backend"`
	MaxFaces int    `json:"maxFaces"`
}

// Initialize loads the overlay model and, when the point cloud is enabled, a second
// instance for it.
func (b *MeshBackend) Initialize(ctx context.Context, p any) error {
	mp, ok := p.(params.MeshParams)
	if !ok {
		return errors.Wrapf(ErrWrongParams, "mesh backend got %T", p)
	}
	if err := mp.Validate(); err != nil {
		return err
	}
	if b.table == nil {
		return errors.Wrap(ErrModelMissing, TriangulationFile)
	}

	b.initMu.Lock()
	defer b.initMu.Unlock()

	if err := CheckAssets(b.launcher.ModelDir, params.MeshModel); err != nil {
		return err
	}

	opts := meshOptions{Backend: mp.Backend, MaxFaces: mp.MaxFaces}
	key, err := json.Marshal(opts)
	if err != nil {
		return errors.Wrap(err, "encode mesh options")
	}

	if !b.overlay.matches(string(key)) {
		svc, err := b.launcher.Start(ctx, "mesh", opts)
		if err != nil {
			return err
		}
		if err := b.overlay.swap(svc, string(key)); err != nil {
			return err
		}
	}

	b.triangulate.Store(mp.TriangulateMesh)

	if !mp.RenderPointCloud {
		return b.cloud.close()
	}
	if b.cloud.matches(string(key)) {
		return nil
	}
	svc, err := b.launcher.Start(ctx, "mesh", opts)
	if err != nil {
		return errors.Wrap(err, "point cloud instance")
	}
	return b.cloud.swap(svc, string(key))
}

type meshResponse struct {
	Faces []struct {
		ScaledMesh [][3]float64 `json:"scaledMesh"`
	} `json:"faces"`
}

func (r meshResponse) meshes() Meshes {
	out := make(Meshes, len(r.Faces))
	for i, f := range r.Faces {
		points := make([]r3.Vector, len(f.ScaledMesh))
		for j, p := range f.ScaledMesh {
			points[j] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
		}
		out[i] = FaceMesh{ScaledMesh: points}
	}
	return out
}

func (b *MeshBackend) estimate(ctx context.Context, svc *Service, bm *capture.Bitmap) (Meshes, error) {
	frame, err := encodeBitmap(bm)
	if err != nil {
		return nil, err
	}

	var resp meshResponse
	if err := svc.Infer(ctx, frame, &resp); err != nil {
		return nil, err
	}
	return resp.meshes(), nil
}

// Detect returns one mesh per face found in bm. When the overlay is triangulated,
// a mesh too short for the table is an error rather than a partial drawing.
func (b *MeshBackend) Detect(ctx context.Context, bm *capture.Bitmap) (Detection, error) {
	svc := b.overlay.current()
	if svc == nil {
		return nil, ErrNotInitialized
	}

	meshes, err := b.estimate(ctx, svc, bm)
	if err != nil {
		return nil, errors.Wrap(err, "estimate mesh")
	}
	if b.triangulate.Load() {
		for i, face := range meshes {
			if len(face.ScaledMesh) < b.points {
				return nil, errors.Wrapf(ErrTriangulationMismatch,
					"face %d has %d points, table needs %d", i, len(face.ScaledMesh), b.points)
			}
		}
	}
	return meshes, nil
}

// PointCloud runs the second instance on bm. It returns nil without error when the
// point cloud is disabled.
func (b *MeshBackend) PointCloud(ctx context.Context, bm *capture.Bitmap) ([]r3.Vector, error) {
	svc := b.cloud.current()
	if svc == nil {
		return nil, nil
	}

	meshes, err := b.estimate(ctx, svc, bm)
	if err != nil {
		return nil, errors.Wrap(err, "estimate point cloud")
	}
	return meshes.PointCloud(), nil
}

func (b *MeshBackend) Close() error {
	return multierr.Combine(b.overlay.close(), b.cloud.close())
}

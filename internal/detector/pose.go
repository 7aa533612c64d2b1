package detector

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/params"
)

// PoseBackend estimates body poses.
type PoseBackend struct {
	launcher *Launcher
	slot     serviceSlot
	initMu   sync.Mutex

	mu     sync.RWMutex
	params params.PoseParams
}

var _ Backend = (*PoseBackend)(nil)

// NewPoseBackend creates an uninitialized pose backend.
func NewPoseBackend(l *Launcher) *PoseBackend {
	return &PoseBackend{launcher: l}
}

func (b *PoseBackend) Kind() Kind { return KindPose }

type poseOptions struct {
	Input          params.PoseInput `json:"input"`
	Algorithm      params.Algorithm `json:"algorithm"`
	MaxDetections  int              `json:"maxDetections"`
	ScoreThreshold float64          `json:"scoreThreshold"`
	NMSRadius      float64          `json:"nmsRadius"`
}

func newPoseOptions(p params.PoseParams) poseOptions {
	_, minPart := p.Thresholds()
	return poseOptions{
		Input:          p.Input,
		Algorithm:      p.Algorithm,
		MaxDetections:  p.MaxPoses(),
		ScoreThreshold: minPart,
		NMSRadius:      p.MultiPose.NMSRadius,
	}
}

// Initialize loads the pose network for the architecture in p.
func (b *PoseBackend) Initialize(ctx context.Context, p any) error {
	pp, ok := p.(params.PoseParams)
	if !ok {
		return errors.Wrapf(ErrWrongParams, "pose backend got %T", p)
	}
	if err := pp.Validate(); err != nil {
		return err
	}

	b.initMu.Lock()
	defer b.initMu.Unlock()

	if err := CheckAssets(b.launcher.ModelDir, params.PoseModel); err != nil {
		return err
	}

	opts := newPoseOptions(pp)
	key, err := json.Marshal(opts)
	if err != nil {
		return errors.Wrap(err, "encode pose options")
	}

	if !b.slot.matches(string(key)) {
		svc, err := b.launcher.Start(ctx, "pose", opts)
		if err != nil {
			return err
		}
		if err := b.slot.swap(svc, string(key)); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.params = pp
	b.mu.Unlock()
	return nil
}

type poseResponse struct {
	Poses []Pose `json:"poses"`
}

// Detect returns the poses whose score reaches the active algorithm's minimum pose
// confidence, at most one for single-pose decoding.
func (b *PoseBackend) Detect(ctx context.Context, bm *capture.Bitmap) (Detection, error) {
	svc := b.slot.current()
	if svc == nil {
		return nil, ErrNotInitialized
	}

	b.mu.RLock()
	pp := b.params
	b.mu.RUnlock()

	frame, err := encodeBitmap(bm)
	if err != nil {
		return nil, err
	}

	var resp poseResponse
	if err := svc.Infer(ctx, frame, &resp); err != nil {
		return nil, errors.Wrap(err, "estimate poses")
	}

	minPose, _ := pp.Thresholds()
	poses := FilterPoses(resp.Poses, minPose)
	if limit := pp.MaxPoses(); len(poses) > limit {
		poses = poses[:limit]
	}
	return poses, nil
}

func (b *PoseBackend) Close() error {
	return b.slot.close()
}

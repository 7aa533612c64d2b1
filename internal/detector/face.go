package detector

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/params"
)

// FaceBackend finds face boxes, 68 landmarks and expressions.
type FaceBackend struct {
	launcher *Launcher
	slot     serviceSlot

	// initMu serializes Initialize calls so reloads install in order.
	initMu sync.Mutex
}

var _ Backend = (*FaceBackend)(nil)

// NewFaceBackend creates an uninitialized face backend.
func NewFaceBackend(l *Launcher) *FaceBackend {
	return &FaceBackend{launcher: l}
}

func (b *FaceBackend) Kind() Kind { return KindFace }

type faceOptions struct {
	Models         []string `json:"models"`
	InputSize      int      `json:"inputSize"`
	ScoreThreshold float64  `json:"scoreThreshold"`
}

// Initialize loads the detector, landmark, recognition and expression models.
// Layer toggles do not need a reload, so a change that only touches them keeps the
// running service.
func (b *FaceBackend) Initialize(ctx context.Context, p any) error {
	fp, ok := p.(params.FaceParams)
	if !ok {
		return errors.Wrapf(ErrWrongParams, "face backend got %T", p)
	}
	if err := fp.Validate(); err != nil {
		return err
	}

	b.initMu.Lock()
	defer b.initMu.Unlock()

	if err := CheckAssets(b.launcher.ModelDir, params.FaceModels...); err != nil {
		return err
	}

	opts := faceOptions{Models: params.FaceModels, InputSize: fp.InputSize, ScoreThreshold: fp.ScoreThreshold}
	key, err := json.Marshal(opts)
	if err != nil {
		return errors.Wrap(err, "encode face options")
	}
	if b.slot.matches(string(key)) {
		return nil
	}

	svc, err := b.launcher.Start(ctx, "face", opts)
	if err != nil {
		return err
	}
	return b.slot.swap(svc, string(key))
}

type faceResponse struct {
	// Width and Height are the dimensions the coordinates refer to.
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Faces  []Face `json:"faces"`
}

// Detect returns every face found in bm, with coordinates in bm's pixel space.
func (b *FaceBackend) Detect(ctx context.Context, bm *capture.Bitmap) (Detection, error) {
	svc := b.slot.current()
	if svc == nil {
		return nil, ErrNotInitialized
	}

	frame, err := encodeBitmap(bm)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := svc.Infer(ctx, frame, &resp); err != nil {
		return nil, errors.Wrap(err, "detect faces")
	}

	faces := Faces(resp.Faces)
	if faces == nil {
		faces = Faces{}
	}
	if resp.Width > 0 && resp.Height > 0 && (resp.Width != bm.Width || resp.Height != bm.Height) {
		faces = faces.Scale(float64(bm.Width)/float64(resp.Width), float64(bm.Height)/float64(resp.Height))
	}
	return faces, nil
}

func (b *FaceBackend) Close() error {
	return b.slot.close()
}

package params

import (
	"slices"

	"github.com/pkg/errors"
)

// PoseModel is the pose asset name under the model directory.
const PoseModel = "posenet"

// Algorithm selects single or multi person decoding.
type Algorithm string

const (
	SinglePose Algorithm = "single-pose"
	MultiPose  Algorithm = "multi-pose"
)

// Architecture is the pose network backbone.
type Architecture string

const (
	MobileNetV1 Architecture = "MobileNetV1"
	ResNet50    Architecture = "ResNet50"
)

// Algorithms and Architectures are the selectable values in display order.
var (
	Algorithms       = []Algorithm{SinglePose, MultiPose}
	Architectures    = []Architecture{MobileNetV1, ResNet50}
	QuantBytesChoice = []int{1, 2, 4}
)

// InputResolutions returns 200..800 in steps of 50.
func InputResolutions() []int {
	var out []int
	for r := 200; r <= 800; r += 50 {
		out = append(out, r)
	}
	return out
}

// PoseInput is the network configuration; changing any of it reloads the model.
type PoseInput struct {
	Architecture    Architecture `json:"architecture"`
	OutputStride    int          `json:"outputStride"`
	InputResolution int          `json:"inputResolution"`
	Multiplier      float64      `json:"multiplier"`
	QuantBytes      int          `json:"quantBytes"`
}

// SinglePoseDetection holds the single person thresholds.
type SinglePoseDetection struct {
	MinPoseConfidence float64 `json:"minPoseConfidence"`
	MinPartConfidence float64 `json:"minPartConfidence"`
}

// MultiPoseDetection holds the multi person decoding options.
type MultiPoseDetection struct {
	MaxPoseDetections int     `json:"maxPoseDetections"`
	MinPoseConfidence float64 `json:"minPoseConfidence"`
	MinPartConfidence float64 `json:"minPartConfidence"`
	NMSRadius         float64 `json:"nmsRadius"`
}

// PoseOutput toggles the overlay layers.
type PoseOutput struct {
	ShowSkeleton    bool `json:"showSkeleton"`
	ShowPoints      bool `json:"showPoints"`
	ShowBoundingBox bool `json:"showBoundingBox"`
}

// PoseParams is the full pose backend record.
type PoseParams struct {
	Algorithm  Algorithm           `json:"algorithm"`
	Input      PoseInput           `json:"input"`
	SinglePose SinglePoseDetection `json:"singlePoseDetection"`
	MultiPose  MultiPoseDetection  `json:"multiPoseDetection"`
	Output     PoseOutput          `json:"output"`

	// Mobile picks the lighter MobileNet multiplier when resetting the input.
	Mobile bool `json:"-"`
}

// DefaultPoseParams returns the multi-pose MobileNet setup.
func DefaultPoseParams(mobile bool) PoseParams {
	p := PoseParams{
		Algorithm: MultiPose,
		Input:     PoseInput{QuantBytes: 2},
		SinglePose: SinglePoseDetection{
			MinPoseConfidence: 0.1,
			MinPartConfidence: 0.5,
		},
		MultiPose: MultiPoseDetection{
			MaxPoseDetections: 5,
			MinPoseConfidence: 0.15,
			MinPartConfidence: 0.1,
			NMSRadius:         30,
		},
		Output: PoseOutput{
			ShowSkeleton: true,
			ShowPoints:   true,
		},
		Mobile: mobile,
	}
	p.SetArchitecture(MobileNetV1)
	return p
}

// SetArchitecture switches the backbone and resets stride, resolution and
// multiplier to that backbone's defaults.
func (p *PoseParams) SetArchitecture(a Architecture) {
	p.Input.Architecture = a
	switch a {
	case ResNet50:
		p.Input.OutputStride = 32
		p.Input.InputResolution = 250
		p.Input.Multiplier = 1.0
	default:
		p.Input.OutputStride = 16
		p.Input.InputResolution = 500
		p.Input.Multiplier = 0.75
		if p.Mobile {
			p.Input.Multiplier = 0.5
		}
	}
}

// OutputStrides returns the strides valid for the current architecture.
func (p PoseParams) OutputStrides() []int {
	if p.Input.Architecture == ResNet50 {
		return []int{16, 32}
	}
	return []int{8, 16}
}

// Multipliers returns the depth multipliers valid for the current architecture.
func (p PoseParams) Multipliers() []float64 {
	if p.Input.Architecture == ResNet50 {
		return []float64{1}
	}
	return []float64{1, 0.5, 0.75}
}

// Thresholds returns the pose and part confidence of the active algorithm.
func (p PoseParams) Thresholds() (minPose, minPart float64) {
	if p.Algorithm == SinglePose {
		return p.SinglePose.MinPoseConfidence, p.SinglePose.MinPartConfidence
	}
	return p.MultiPose.MinPoseConfidence, p.MultiPose.MinPartConfidence
}

// MaxPoses is 1 for single-pose decoding.
func (p PoseParams) MaxPoses() int {
	if p.Algorithm == SinglePose {
		return 1
	}
	return p.MultiPose.MaxPoseDetections
}

// Validate rejects values outside the choice sets.
func (p PoseParams) Validate() error {
	if !slices.Contains(Algorithms, p.Algorithm) {
		return errors.Wrapf(ErrInvalid, "algorithm %q", p.Algorithm)
	}
	if !slices.Contains(Architectures, p.Input.Architecture) {
		return errors.Wrapf(ErrInvalid, "architecture %q", p.Input.Architecture)
	}
	if !slices.Contains(p.OutputStrides(), p.Input.OutputStride) {
		return errors.Wrapf(ErrInvalid, "output stride %d for %s", p.Input.OutputStride, p.Input.Architecture)
	}
	if !slices.Contains(p.Multipliers(), p.Input.Multiplier) {
		return errors.Wrapf(ErrInvalid, "multiplier %v for %s", p.Input.Multiplier, p.Input.Architecture)
	}
	if !slices.Contains(InputResolutions(), p.Input.InputResolution) {
		return errors.Wrapf(ErrInvalid, "input resolution %d", p.Input.InputResolution)
	}
	if !slices.Contains(QuantBytesChoice, p.Input.QuantBytes) {
		return errors.Wrapf(ErrInvalid, "quant bytes %d", p.Input.QuantBytes)
	}
	if p.MultiPose.MaxPoseDetections < 1 {
		return errors.Wrapf(ErrInvalid, "max pose detections %d", p.MultiPose.MaxPoseDetections)
	}
	if p.MultiPose.NMSRadius < 0 {
		return errors.Wrapf(ErrInvalid, "nms radius %v", p.MultiPose.NMSRadius)
	}
	for _, c := range []float64{
		p.SinglePose.MinPoseConfidence, p.SinglePose.MinPartConfidence,
		p.MultiPose.MinPoseConfidence, p.MultiPose.MinPartConfidence,
	} {
		if c < 0 || c > 1 {
			return errors.Wrapf(ErrInvalid, "confidence %v out of [0,1]", c)
		}
	}
	return nil
}

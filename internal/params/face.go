package params

import "github.com/pkg/errors"

// Face model asset names under the model directory.
const (
	FaceDetectorModel    = "tiny_face_detector"
	FaceLandmarkModel    = "face_landmark_68"
	FaceRecognitionModel = "face_recognition"
	FaceExpressionModel  = "face_expression"
)

// FaceModels lists every asset the face backend loads.
var FaceModels = []string{FaceDetectorModel, FaceLandmarkModel, FaceRecognitionModel, FaceExpressionModel}

// FaceParams controls the face backend and its overlay layers.
type FaceParams struct {
	ShowDetections  bool    `json:"showDetections"`
	ShowLandmarks   bool    `json:"showLandmarks"`
	ShowExpressions bool    `json:"showExpressions"`
	InputSize       int     `json:"inputSize"`
	ScoreThreshold  float64 `json:"scoreThreshold"`
}

// DefaultFaceParams shows every layer.
func DefaultFaceParams() FaceParams {
	return FaceParams{
		ShowDetections:  true,
		ShowLandmarks:   true,
		ShowExpressions: true,
		InputSize:       416,
		ScoreThreshold:  0.5,
	}
}

// Validate checks the detector options. The tiny detector needs an input size divisible by 32.
func (p FaceParams) Validate() error {
	if p.InputSize <= 0 || p.InputSize%32 != 0 {
		return errors.Wrapf(ErrInvalid, "face input size %d must be a positive multiple of 32", p.InputSize)
	}
	if p.ScoreThreshold < 0 || p.ScoreThreshold > 1 {
		return errors.Wrapf(ErrInvalid, "face score threshold %v out of [0,1]", p.ScoreThreshold)
	}
	return nil
}

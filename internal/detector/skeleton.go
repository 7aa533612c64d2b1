package detector

import "math"

// PoseNet part labels in model order.
const (
	PartNose          = "nose"
	PartLeftEye       = "leftEye"
	PartRightEye      = "rightEye"
	PartLeftEar       = "leftEar"
	PartRightEar      = "rightEar"
	PartLeftShoulder  = "leftShoulder"
	PartRightShoulder = "rightShoulder"
	PartLeftElbow     = "leftElbow"
	PartRightElbow    = "rightElbow"
	PartLeftWrist     = "leftWrist"
	PartRightWrist    = "rightWrist"
	PartLeftHip       = "leftHip"
	PartRightHip      = "rightHip"
	PartLeftKnee      = "leftKnee"
	PartRightKnee     = "rightKnee"
	PartLeftAnkle     = "leftAnkle"
	PartRightAnkle    = "rightAnkle"
)

// PartNames lists the 17 pose parts in model order.
var PartNames = []string{
	PartNose, PartLeftEye, PartRightEye, PartLeftEar, PartRightEar,
	PartLeftShoulder, PartRightShoulder, PartLeftElbow, PartRightElbow,
	PartLeftWrist, PartRightWrist, PartLeftHip, PartRightHip,
	PartLeftKnee, PartRightKnee, PartLeftAnkle, PartRightAnkle,
}

// ConnectedParts are the anatomically adjacent part pairs drawn as skeleton segments.
var ConnectedParts = [][2]string{
	{PartLeftHip, PartLeftShoulder},
	{PartLeftElbow, PartLeftShoulder},
	{PartLeftElbow, PartLeftWrist},
	{PartLeftHip, PartLeftKnee},
	{PartLeftKnee, PartLeftAnkle},
	{PartRightHip, PartRightShoulder},
	{PartRightElbow, PartRightShoulder},
	{PartRightElbow, PartRightWrist},
	{PartRightHip, PartRightKnee},
	{PartRightKnee, PartRightAnkle},
	{PartLeftShoulder, PartRightShoulder},
	{PartLeftHip, PartRightHip},
}

// AdjacentKeypoints returns the skeleton segments of a pose whose two endpoints both
// reach minConfidence. Keypoints are looked up by part label, so order does not matter.
func AdjacentKeypoints(keypoints []Keypoint, minConfidence float64) [][2]Keypoint {
	byPart := make(map[string]Keypoint, len(keypoints))
	for _, kp := range keypoints {
		byPart[kp.Part] = kp
	}

	var segments [][2]Keypoint
	for _, pair := range ConnectedParts {
		a, okA := byPart[pair[0]]
		b, okB := byPart[pair[1]]
		if !okA || !okB {
			continue
		}
		if a.Score < minConfidence || b.Score < minConfidence {
			continue
		}
		segments = append(segments, [2]Keypoint{a, b})
	}
	return segments
}

// BoundingBox is the axis-aligned envelope of every keypoint, regardless of score.
// It returns the zero Box for an empty slice.
func BoundingBox(keypoints []Keypoint) Box {
	if len(keypoints) == 0 {
		return Box{}
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, kp := range keypoints {
		minX = math.Min(minX, kp.Position.X)
		minY = math.Min(minY, kp.Position.Y)
		maxX = math.Max(maxX, kp.Position.X)
		maxY = math.Max(maxY, kp.Position.Y)
	}

	return Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// FilterPoses keeps the poses whose overall score reaches minPoseConfidence.
func FilterPoses(poses Poses, minPoseConfidence float64) Poses {
	out := make(Poses, 0, len(poses))
	for _, p := range poses {
		if p.Score >= minPoseConfidence {
			out = append(out, p)
		}
	}
	return out
}

// Package detector defines the detection backends and the results they produce.
package detector

import (
	"github.com/golang/geo/r3"
)

// Point is a 2-D position in bitmap pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned rectangle in bitmap pixel space.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Score  float64 `json:"score"`
}

// Expression labels reported by the face backend, in model order.
var ExpressionLabels = []string{"neutral", "happy", "sad", "angry", "fearful", "disgusted", "surprised"}

// Detection is the result of one backend inference.
// An empty detection (Len() == 0) means nothing was found.
type Detection interface {
	Kind() Kind
	Len() int
}

// Face is one face found by the face backend.
type Face struct {
	Box         Box                `json:"box"`
	Landmarks   []Point            `json:"landmarks"`
	Expressions map[string]float64 `json:"expressions"`
}

// Faces is the face backend result.
type Faces []Face

func (Faces) Kind() Kind { return KindFace }
func (f Faces) Len() int { return len(f) }

// Scale returns a copy with every coordinate multiplied by sx, sy.
func (f Faces) Scale(sx, sy float64) Faces {
	out := make(Faces, len(f))
	for i, face := range f {
		scaled := Face{
			Box: Box{
				X:      face.Box.X * sx,
				Y:      face.Box.Y * sy,
				Width:  face.Box.Width * sx,
				Height: face.Box.Height * sy,
				Score:  face.Box.Score,
			},
			Landmarks:   make([]Point, len(face.Landmarks)),
			Expressions: face.Expressions,
		}
		for j, p := range face.Landmarks {
			scaled.Landmarks[j] = Point{X: p.X * sx, Y: p.Y * sy}
		}
		out[i] = scaled
	}
	return out
}

// Keypoint is one labeled body point with its confidence.
type Keypoint struct {
	Position Point   `json:"position"`
	Part     string  `json:"part"`
	Score    float64 `json:"score"`
}

// Pose is one body instance.
type Pose struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Poses is the pose backend result.
type Poses []Pose

func (Poses) Kind() Kind { return KindPose }
func (p Poses) Len() int { return len(p) }

// FaceMesh is one face from the mesh backend; points are indexed consistently
// with the triangulation table.
type FaceMesh struct {
	ScaledMesh []r3.Vector `json:"scaledMesh"`
}

// Meshes is the mesh backend result.
type Meshes []FaceMesh

func (Meshes) Kind() Kind { return KindMesh }
func (m Meshes) Len() int { return len(m) }

// PointCloud flattens all faces into one cloud with every axis negated, which is the
// orientation the 3-D viewer expects.
func (m Meshes) PointCloud() []r3.Vector {
	var n int
	for _, face := range m {
		n += len(face.ScaledMesh)
	}
	cloud := make([]r3.Vector, 0, n)
	for _, face := range m {
		for _, p := range face.ScaledMesh {
			cloud = append(cloud, p.Mul(-1))
		}
	}
	return cloud
}

// Empty returns the zero-length detection for kind.
func Empty(kind Kind) Detection {
	switch kind {
	case KindFace:
		return Faces{}
	case KindPose:
		return Poses{}
	case KindMesh:
		return Meshes{}
	default:
		return nil
	}
}

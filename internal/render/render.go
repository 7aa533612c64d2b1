package render

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
)

// ErrWrongDetection is returned when a renderer is handed another backend's result.
var ErrWrongDetection = errors.New("detection kind does not match renderer")

// Renderer draws one backend's detections. Draw always clears the surface first and
// draws under the mirror transform, so a point at bitmap (x, y) lands at surface
// (width-x, y). A nil or empty detection only clears.
type Renderer interface {
	Kind() detector.Kind
	Draw(s Surface, size image.Point, det detector.Detection) error
}

// MirrorX maps a bitmap x coordinate to the surface.
func MirrorX(width int, x float64) float64 {
	return float64(width) - x
}

// beginMirror clears s and installs the horizontal reflection about its width.
func beginMirror(s Surface, size image.Point) {
	s.Clear()
	s.Push()
	s.Scale(-1, 1)
	s.Translate(-float64(size.X), 0)
}

// ClearOverlay clears s with the same call shape a renderer uses for an empty result.
func ClearOverlay(s Surface, size image.Point) {
	beginMirror(s, size)
	s.Pop()
}

func isEmpty(det detector.Detection) bool {
	return det == nil || det.Len() == 0
}

func fillCircle(s Surface, x, y, r float64) {
	s.Arc(x, y, r, 0, 2*math.Pi)
	s.Fill()
}

// FaceRenderer draws boxes, 68-point landmarks and expression labels.
type FaceRenderer struct {
	// Params is read on every draw so layer toggles apply immediately.
	Params func() params.FaceParams
}

func (FaceRenderer) Kind() detector.Kind { return detector.KindFace }

// Contours of the 68-point landmark layout as index ranges; closed ones loop back.
var faceContours = []struct {
	from, to int
	closed   bool
}{
	{0, 16, false},  // jaw
	{17, 21, false}, // left brow
	{22, 26, false}, // right brow
	{27, 30, false}, // nose bridge
	{30, 35, true},  // nose
	{36, 41, true},  // left eye
	{42, 47, true},  // right eye
	{48, 59, true},  // outer lip
	{60, 67, true},  // inner lip
}

const minExpressionProbability = 0.1

func (r FaceRenderer) Draw(s Surface, size image.Point, det detector.Detection) error {
	beginMirror(s, size)
	defer s.Pop()

	if isEmpty(det) {
		return nil
	}
	faces, ok := det.(detector.Faces)
	if !ok {
		return errors.Wrapf(ErrWrongDetection, "face renderer got %s", det.Kind())
	}

	p := params.DefaultFaceParams()
	if r.Params != nil {
		p = r.Params()
	}

	for _, face := range faces {
		if p.ShowDetections {
			drawFaceBox(s, face.Box)
		}
		if p.ShowLandmarks {
			drawLandmarks(s, face.Landmarks)
		}
		if p.ShowExpressions {
			drawExpressions(s, face)
		}
	}
	return nil
}

func drawFaceBox(s Surface, b detector.Box) {
	s.SetColor(Blue)
	s.SetLineWidth(2)
	s.Rect(b.X, b.Y, b.Width, b.Height)
	s.Stroke()

	s.SetColor(LabelText)
	s.FillText(fmt.Sprintf("%.2f", b.Score), b.X, b.Y-4)
}

func drawLandmarks(s Surface, points []detector.Point) {
	if len(points) == 68 {
		s.SetColor(Aqua)
		s.SetLineWidth(1)
		for _, c := range faceContours {
			s.MoveTo(points[c.from].X, points[c.from].Y)
			for i := c.from + 1; i <= c.to; i++ {
				s.LineTo(points[i].X, points[i].Y)
			}
			if c.closed {
				s.ClosePath()
			}
			s.Stroke()
		}
	}

	s.SetColor(Magenta)
	for _, pt := range points {
		fillCircle(s, pt.X, pt.Y, 1.5)
	}
}

// ExpressionLines formats the expressions at or above the display threshold,
// most probable first.
func ExpressionLines(expressions map[string]float64) []string {
	type entry struct {
		label string
		p     float64
	}
	var entries []entry
	for label, p := range expressions {
		if p >= minExpressionProbability {
			entries = append(entries, entry{label, p})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].p != entries[j].p {
			return entries[i].p > entries[j].p
		}
		return entries[i].label < entries[j].label
	})

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%s (%.2f)", e.label, e.p)
	}
	return lines
}

func drawExpressions(s Surface, face detector.Face) {
	s.SetColor(LabelText)
	y := face.Box.Y + face.Box.Height + labelFontSize
	for _, line := range ExpressionLines(face.Expressions) {
		s.FillText(line, face.Box.X, y)
		y += labelFontSize + 2
	}
}

// PoseRenderer draws keypoints, skeleton segments and bounding boxes.
type PoseRenderer struct {
	Params func() params.PoseParams
}

func (PoseRenderer) Kind() detector.Kind { return detector.KindPose }

func (r PoseRenderer) Draw(s Surface, size image.Point, det detector.Detection) error {
	beginMirror(s, size)
	defer s.Pop()

	if isEmpty(det) {
		return nil
	}
	poses, ok := det.(detector.Poses)
	if !ok {
		return errors.Wrapf(ErrWrongDetection, "pose renderer got %s", det.Kind())
	}

	p := params.DefaultPoseParams(false)
	if r.Params != nil {
		p = r.Params()
	}
	minPose, minPart := p.Thresholds()

	for _, pose := range poses {
		if pose.Score < minPose {
			continue
		}
		if p.Output.ShowPoints {
			s.SetColor(Aqua)
			for _, kp := range pose.Keypoints {
				if kp.Score < minPart {
					continue
				}
				fillCircle(s, kp.Position.X, kp.Position.Y, 3)
			}
		}
		if p.Output.ShowSkeleton {
			s.SetColor(Aqua)
			s.SetLineWidth(2)
			for _, seg := range detector.AdjacentKeypoints(pose.Keypoints, minPart) {
				s.MoveTo(seg[0].Position.X, seg[0].Position.Y)
				s.LineTo(seg[1].Position.X, seg[1].Position.Y)
				s.Stroke()
			}
		}
		if p.Output.ShowBoundingBox {
			box := detector.BoundingBox(pose.Keypoints)
			s.SetColor(Red)
			s.Rect(box.X, box.Y, box.Width, box.Height)
			s.Stroke()
		}
	}
	return nil
}

// MeshRenderer draws the triangulated mesh or, when triangulation is off, one dot
// per mesh point.
type MeshRenderer struct {
	Table  *detector.Triangulation
	Params func() params.MeshParams
}

func (MeshRenderer) Kind() detector.Kind { return detector.KindMesh }

func (r MeshRenderer) Draw(s Surface, size image.Point, det detector.Detection) error {
	beginMirror(s, size)
	defer s.Pop()

	if isEmpty(det) {
		return nil
	}
	meshes, ok := det.(detector.Meshes)
	if !ok {
		return errors.Wrapf(ErrWrongDetection, "mesh renderer got %s", det.Kind())
	}

	p := params.DefaultMeshParams()
	if r.Params != nil {
		p = r.Params()
	}

	s.SetColor(Aqua)
	s.SetLineWidth(1)
	for _, face := range meshes {
		points := face.ScaledMesh
		if p.TriangulateMesh && r.Table != nil {
			for i := 0; i < r.Table.Triangles(); i++ {
				tri := r.Table.Triangle(i)
				if tri[0] >= len(points) || tri[1] >= len(points) || tri[2] >= len(points) {
					continue
				}
				s.MoveTo(points[tri[0]].X, points[tri[0]].Y)
				s.LineTo(points[tri[1]].X, points[tri[1]].Y)
				s.LineTo(points[tri[2]].X, points[tri[2]].Y)
				s.ClosePath()
				s.Stroke()
			}
			continue
		}
		for _, pt := range points {
			fillCircle(s, pt.X, pt.Y, 1)
		}
	}
	return nil
}

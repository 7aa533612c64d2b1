package render

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
)

var size = image.Pt(100, 80)

func pose(score float64, kps ...detector.Keypoint) detector.Pose {
	return detector.Pose{Score: score, Keypoints: kps}
}

func kp(part string, x, y, score float64) detector.Keypoint {
	return detector.Keypoint{Part: part, Position: detector.Point{X: x, Y: y}, Score: score}
}

func poseParams(mutate func(*params.PoseParams)) func() params.PoseParams {
	return func() params.PoseParams {
		p := params.DefaultPoseParams(false)
		if mutate != nil {
			mutate(&p)
		}
		return p
	}
}

func near(a, b gg.Point) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestEmptyDetectionOnlyClearsAndMirrors(t *testing.T) {
	renderers := []Renderer{
		FaceRenderer{},
		PoseRenderer{},
		MeshRenderer{},
	}
	want := []string{"Clear", "Push", "Scale", "Translate", "Pop"}

	for _, r := range renderers {
		t.Run(string(r.Kind()), func(t *testing.T) {
			for _, det := range []detector.Detection{nil, detector.Empty(r.Kind())} {
				rec := NewRecorder()
				if err := r.Draw(rec, size, det); err != nil {
					t.Fatalf("Draw() error = %v", err)
				}
				if diff := cmp.Diff(want, rec.Names()); diff != "" {
					t.Errorf("ops mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}

	rec := NewRecorder()
	ClearOverlay(rec, size)
	if diff := cmp.Diff(want, rec.Names()); diff != "" {
		t.Errorf("ClearOverlay ops mismatch (-want +got):\n%s", diff)
	}
}

func TestMirrorTransform(t *testing.T) {
	tests := []struct {
		x, y float64
	}{
		{0, 0},
		{10, 20},
		{50, 40},
		{99.5, 79},
	}

	for _, tt := range tests {
		rec := NewRecorder()
		det := detector.Poses{pose(1, kp(detector.PartNose, tt.x, tt.y, 1))}
		if err := (PoseRenderer{Params: poseParams(nil)}).Draw(rec, size, det); err != nil {
			t.Fatalf("Draw() error = %v", err)
		}

		var arcs []Op
		for _, op := range rec.Ops {
			if op.Name == "Arc" {
				arcs = append(arcs, op)
			}
		}
		if len(arcs) != 1 {
			t.Fatalf("expected 1 arc, got %d", len(arcs))
		}
		want := gg.Point{X: MirrorX(size.X, tt.x), Y: tt.y}
		if !near(arcs[0].Points[0], want) {
			t.Errorf("point (%v,%v) rendered at %v, want %v", tt.x, tt.y, arcs[0].Points[0], want)
		}
	}
}

func TestCanvas_MirroredPixels(t *testing.T) {
	c := NewCanvas(size.X, size.Y)
	det := detector.Poses{pose(1, kp(detector.PartNose, 10, 20, 1))}

	if err := (PoseRenderer{Params: poseParams(nil)}).Draw(c, size, det); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	img := c.Image()

	if _, _, _, a := img.At(90, 20).RGBA(); a == 0 {
		t.Error("expected an opaque pixel at the mirrored position (90,20)")
	}
	if _, _, _, a := img.At(10, 20).RGBA(); a != 0 {
		t.Error("expected nothing drawn at the unmirrored position (10,20)")
	}

	if err := (PoseRenderer{}).Draw(c, size, nil); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if _, _, _, a := c.Image().At(90, 20).RGBA(); a != 0 {
		t.Error("clearing draw should erase the previous overlay")
	}
}

func TestCanvas_FillText(t *testing.T) {
	c := NewCanvas(200, 60)
	c.SetColor(LabelText)
	c.FillText("happy (0.87)", 10, 30)

	img := c.Image()
	var painted int
	for y := 0; y < 60; y++ {
		for x := 0; x < 200; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				painted++
			}
		}
	}
	if painted == 0 {
		t.Error("FillText drew nothing")
	}
}

func TestPoseRenderer_SkeletonGating(t *testing.T) {
	kps := []detector.Keypoint{
		kp(detector.PartLeftShoulder, 10, 10, 0.9),
		kp(detector.PartRightShoulder, 30, 10, 0.9),
		kp(detector.PartLeftElbow, 5, 30, 0.9),
		kp(detector.PartLeftWrist, 5, 50, 0.05), // below the multi-pose part threshold of 0.1
	}
	det := detector.Poses{pose(0.8, kps...)}

	rec := NewRecorder()
	r := PoseRenderer{Params: poseParams(func(p *params.PoseParams) { p.Output.ShowPoints = false })}
	if err := r.Draw(rec, size, det); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}

	// shoulder-shoulder and elbow-shoulder pass; elbow-wrist is gated out.
	if got := rec.Count("Stroke"); got != 2 {
		t.Errorf("skeleton segments = %d, want 2", got)
	}
	for _, op := range rec.Ops {
		if op.Name == "LineTo" && near(op.Points[0], gg.Point{X: MirrorX(size.X, 5), Y: 50}) {
			t.Error("segment drawn to a low-confidence wrist")
		}
	}
}

func TestPoseRenderer_Layers(t *testing.T) {
	kps := []detector.Keypoint{
		kp(detector.PartNose, 10, 10, 0.9),
		kp(detector.PartLeftEye, 20, 5, 0.01),
		kp(detector.PartLeftHip, 40, 60, 0.9),
		kp(detector.PartRightHip, 60, 60, 0.9),
	}

	tests := []struct {
		name       string
		mutate     func(*params.PoseParams)
		poses      detector.Poses
		wantArcs   int
		wantRects  int
		wantStroke int
	}{
		{"defaults", nil, detector.Poses{pose(0.9, kps...)}, 3, 0, 1},
		{"bounding box only", func(p *params.PoseParams) {
			p.Output = params.PoseOutput{ShowBoundingBox: true}
		}, detector.Poses{pose(0.9, kps...)}, 0, 1, 1},
		{"pose below threshold skipped", nil, detector.Poses{pose(0.1, kps...)}, 0, 0, 0},
		{"single-pose thresholds", func(p *params.PoseParams) {
			p.Algorithm = params.SinglePose
		}, detector.Poses{pose(0.12, kps...)}, 3, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecorder()
			if err := (PoseRenderer{Params: poseParams(tt.mutate)}).Draw(rec, size, tt.poses); err != nil {
				t.Fatalf("Draw() error = %v", err)
			}
			if got := rec.Count("Arc"); got != tt.wantArcs {
				t.Errorf("arcs = %d, want %d", got, tt.wantArcs)
			}
			if got := rec.Count("Rect"); got != tt.wantRects {
				t.Errorf("rects = %d, want %d", got, tt.wantRects)
			}
			if got := rec.Count("Stroke"); got != tt.wantStroke {
				t.Errorf("strokes = %d, want %d", got, tt.wantStroke)
			}
		})
	}
}

func TestPoseRenderer_BoundingBoxEnvelope(t *testing.T) {
	kps := []detector.Keypoint{
		kp(detector.PartNose, 10, 5, 0.9),
		kp(detector.PartLeftAnkle, 30, 70, 0.01),
	}
	rec := NewRecorder()
	r := PoseRenderer{Params: poseParams(func(p *params.PoseParams) {
		p.Output = params.PoseOutput{ShowBoundingBox: true}
	})}
	if err := r.Draw(rec, size, detector.Poses{pose(0.9, kps...)}); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}

	for _, op := range rec.Ops {
		if op.Name != "Rect" {
			continue
		}
		want := []gg.Point{{X: 90, Y: 5}, {X: 70, Y: 70}}
		if !near(op.Points[0], want[0]) || !near(op.Points[1], want[1]) {
			t.Errorf("rect corners = %v, want %v", op.Points, want)
		}
		return
	}
	t.Fatal("no bounding box drawn")
}

func meshFace(n int) detector.FaceMesh {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = r3.Vector{X: float64(i), Y: float64(i * 2), Z: 0}
	}
	return detector.FaceMesh{ScaledMesh: points}
}

func TestMeshRenderer_Triangulated(t *testing.T) {
	table, err := detector.NewTriangulation([]int{0, 1, 2, 2, 3, 4, 4, 5, 0})
	if err != nil {
		t.Fatal(err)
	}
	det := detector.Meshes{meshFace(6), meshFace(6)}

	rec := NewRecorder()
	if err := (MeshRenderer{Table: table}).Draw(rec, size, det); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}

	wantPaths := table.Triangles() * len(det)
	if got := rec.Count("ClosePath"); got != wantPaths {
		t.Errorf("closed paths = %d, want %d", got, wantPaths)
	}
	if got := rec.Count("Stroke"); got != wantPaths {
		t.Errorf("strokes = %d, want %d", got, wantPaths)
	}

	// The second triangle of the first face runs through points 2, 3, 4.
	var path []gg.Point
	moves := 0
	for _, op := range rec.Ops {
		if op.Name == "MoveTo" {
			moves++
		}
		if moves == 2 && (op.Name == "MoveTo" || op.Name == "LineTo") {
			path = append(path, op.Points[0])
		}
	}
	want := []gg.Point{{X: 98, Y: 4}, {X: 97, Y: 6}, {X: 96, Y: 8}}
	if len(path) != 3 {
		t.Fatalf("second path has %d points, want 3", len(path))
	}
	for i := range want {
		if !near(path[i], want[i]) {
			t.Errorf("path point %d = %v, want %v", i, path[i], want[i])
		}
	}
}

func TestMeshRenderer_SkipsOutOfRangeTriangles(t *testing.T) {
	table, err := detector.NewTriangulation([]int{0, 1, 2, 0, 1, 468})
	if err != nil {
		t.Fatal(err)
	}
	rec := NewRecorder()
	if err := (MeshRenderer{Table: table}).Draw(rec, size, detector.Meshes{meshFace(3)}); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if got := rec.Count("ClosePath"); got != 1 {
		t.Errorf("closed paths = %d, want 1", got)
	}
}

func TestMeshRenderer_PointsWhenNotTriangulated(t *testing.T) {
	table, _ := detector.NewTriangulation([]int{0, 1, 2})
	r := MeshRenderer{Table: table, Params: func() params.MeshParams {
		p := params.DefaultMeshParams()
		p.TriangulateMesh = false
		return p
	}}

	rec := NewRecorder()
	if err := r.Draw(rec, size, detector.Meshes{meshFace(5)}); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if rec.Count("Arc") != 5 || rec.Count("Fill") != 5 || rec.Count("ClosePath") != 0 {
		t.Errorf("ops = %v", rec.Names())
	}
	for _, op := range rec.Ops {
		if op.Name == "Arc" && op.Radius != 1 {
			t.Errorf("point radius = %v, want 1", op.Radius)
		}
	}
}

func faceWith68() detector.Face {
	points := make([]detector.Point, 68)
	for i := range points {
		points[i] = detector.Point{X: float64(i), Y: float64(i)}
	}
	return detector.Face{
		Box:         detector.Box{X: 10, Y: 10, Width: 40, Height: 40, Score: 0.93},
		Landmarks:   points,
		Expressions: map[string]float64{"happy": 0.7, "neutral": 0.25, "sad": 0.05},
	}
}

func TestFaceRenderer_Toggles(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*params.FaceParams)
		wantRects int
		wantArcs  int
		wantTexts int
	}{
		{"all layers", func(*params.FaceParams) {}, 1, 68, 3},
		{"detections off", func(p *params.FaceParams) { p.ShowDetections = false }, 0, 68, 2},
		{"landmarks off", func(p *params.FaceParams) { p.ShowLandmarks = false }, 1, 0, 3},
		{"expressions off", func(p *params.FaceParams) { p.ShowExpressions = false }, 1, 68, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := FaceRenderer{Params: func() params.FaceParams {
				p := params.DefaultFaceParams()
				tt.mutate(&p)
				return p
			}}
			rec := NewRecorder()
			if err := r.Draw(rec, size, detector.Faces{faceWith68()}); err != nil {
				t.Fatalf("Draw() error = %v", err)
			}
			if got := rec.Count("Rect"); got != tt.wantRects {
				t.Errorf("rects = %d, want %d", got, tt.wantRects)
			}
			if got := rec.Count("Arc"); got != tt.wantArcs {
				t.Errorf("arcs = %d, want %d", got, tt.wantArcs)
			}
			if got := rec.Count("FillText"); got != tt.wantTexts {
				t.Errorf("texts = %d, want %d", got, tt.wantTexts)
			}
		})
	}
}

func TestExpressionLines(t *testing.T) {
	got := ExpressionLines(map[string]float64{
		"neutral":   0.1,
		"happy":     0.62,
		"surprised": 0.2,
		"angry":     0.09,
	})
	want := []string{"happy (0.62)", "surprised (0.20)", "neutral (0.10)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExpressionLines mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderer_WrongDetection(t *testing.T) {
	rec := NewRecorder()
	err := (PoseRenderer{}).Draw(rec, size, detector.Faces{faceWith68()})
	if !errors.Is(err, ErrWrongDetection) {
		t.Errorf("Draw() error = %v, want ErrWrongDetection", err)
	}
	if rec.Count("Pop") != 1 {
		t.Error("mirror transform should be popped even on error")
	}
}

package detector

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
)

const epsilon = 1e-9

func kp(part string, x, y, score float64) Keypoint {
	return Keypoint{Part: part, Position: Point{X: x, Y: y}, Score: score}
}

func fullBody(score float64) []Keypoint {
	out := make([]Keypoint, len(PartNames))
	for i, name := range PartNames {
		out[i] = kp(name, float64(i*10), float64(i*5), score)
	}
	return out
}

func TestAdjacentKeypoints(t *testing.T) {
	t.Run("all parts confident yields every pair", func(t *testing.T) {
		segments := AdjacentKeypoints(fullBody(0.9), 0.5)
		if len(segments) != len(ConnectedParts) {
			t.Fatalf("expected %d segments, got %d", len(ConnectedParts), len(segments))
		}
	})

	t.Run("pair dropped when either endpoint is below threshold", func(t *testing.T) {
		kps := fullBody(0.9)
		for i := range kps {
			if kps[i].Part == PartLeftWrist {
				kps[i].Score = 0.2
			}
		}

		segments := AdjacentKeypoints(kps, 0.5)

		if len(segments) != len(ConnectedParts)-1 {
			t.Fatalf("expected %d segments, got %d", len(ConnectedParts)-1, len(segments))
		}
		for _, s := range segments {
			if s[0].Part == PartLeftWrist || s[1].Part == PartLeftWrist {
				t.Errorf("segment %s-%s should be gated out", s[0].Part, s[1].Part)
			}
		}
	})

	t.Run("score equal to threshold is kept", func(t *testing.T) {
		kps := []Keypoint{
			kp(PartLeftShoulder, 0, 0, 0.5),
			kp(PartRightShoulder, 10, 0, 0.5),
		}
		segments := AdjacentKeypoints(kps, 0.5)
		if len(segments) != 1 {
			t.Fatalf("expected 1 segment, got %d", len(segments))
		}
	})

	t.Run("lookup is by part label not position", func(t *testing.T) {
		kps := []Keypoint{
			kp(PartRightHip, 5, 5, 0.9),
			kp(PartNose, 0, 0, 0.9),
			kp(PartLeftHip, 1, 1, 0.9),
		}
		want := [][2]Keypoint{{kps[2], kps[0]}}
		if diff := cmp.Diff(want, AdjacentKeypoints(kps, 0.5)); diff != "" {
			t.Errorf("segments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := AdjacentKeypoints(nil, 0.5); len(got) != 0 {
			t.Errorf("expected no segments, got %d", len(got))
		}
	})
}

func TestBoundingBox(t *testing.T) {
	tests := []struct {
		name string
		kps  []Keypoint
		want Box
	}{
		{"empty", nil, Box{}},
		{"single point", []Keypoint{kp(PartNose, 3, 4, 0.1)}, Box{X: 3, Y: 4}},
		{
			"ignores score",
			[]Keypoint{kp(PartNose, 10, 20, 0.9), kp(PartLeftAnkle, 50, 200, 0.01), kp(PartRightWrist, -5, 60, 0.5)},
			Box{X: -5, Y: 20, Width: 55, Height: 180},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, BoundingBox(tt.kps)); diff != "" {
				t.Errorf("BoundingBox mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterPoses(t *testing.T) {
	poses := Poses{{Score: 0.9}, {Score: 0.05}, {Score: 0.15}}
	got := FilterPoses(poses, 0.15)
	if len(got) != 2 || got[0].Score != 0.9 || got[1].Score != 0.15 {
		t.Errorf("FilterPoses() = %+v", got)
	}
}

func TestMeshes_PointCloud(t *testing.T) {
	meshes := Meshes{
		{ScaledMesh: []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 0, Z: 5}}},
		{ScaledMesh: []r3.Vector{{X: 7, Y: 8, Z: 9}}},
	}

	want := []r3.Vector{{X: -1, Y: -2, Z: -3}, {X: 4, Y: 0, Z: -5}, {X: -7, Y: -8, Z: -9}}
	if diff := cmp.Diff(want, meshes.PointCloud()); diff != "" {
		t.Errorf("PointCloud mismatch (-want +got):\n%s", diff)
	}
}

func TestFaces_Scale(t *testing.T) {
	faces := Faces{{
		Box:         Box{X: 10, Y: 20, Width: 30, Height: 40, Score: 0.8},
		Landmarks:   []Point{{X: 1, Y: 2}},
		Expressions: map[string]float64{"happy": 0.9},
	}}

	got := faces.Scale(2, 0.5)

	if math.Abs(got[0].Box.X-20) > epsilon || math.Abs(got[0].Box.Height-20) > epsilon {
		t.Errorf("scaled box = %+v", got[0].Box)
	}
	if got[0].Box.Score != 0.8 {
		t.Errorf("score should be preserved, got %v", got[0].Box.Score)
	}
	if got[0].Landmarks[0] != (Point{X: 2, Y: 1}) {
		t.Errorf("scaled landmark = %+v", got[0].Landmarks[0])
	}
	if faces[0].Box.X != 10 {
		t.Error("Scale must not modify the receiver")
	}
}

func TestEmpty(t *testing.T) {
	for _, k := range []Kind{KindFace, KindPose, KindMesh} {
		d := Empty(k)
		if d.Kind() != k || d.Len() != 0 {
			t.Errorf("Empty(%s) = %v", k, d)
		}
	}
	if Empty(KindNone) != nil {
		t.Error("Empty(NONE) should be nil")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"face", KindFace, false},
		{" POSE ", KindPose, false},
		{"Mesh", KindMesh, false},
		{"none", KindNone, false},
		{"hands", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownKind) {
					t.Errorf("expected ErrUnknownKind, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseKind(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestTriangulation(t *testing.T) {
	t.Run("valid table", func(t *testing.T) {
		src := []int{0, 1, 2, 2, 3, 0}
		table, err := NewTriangulation(src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		src[0] = 99

		if table.Triangles() != 2 || table.Len() != 6 {
			t.Errorf("Triangles() = %d, Len() = %d", table.Triangles(), table.Len())
		}
		if table.Triangle(0) != [3]int{0, 1, 2} {
			t.Errorf("table must be a copy of its source, got %v", table.Triangle(0))
		}
		if table.MaxIndex() != 3 {
			t.Errorf("MaxIndex() = %d, want 3", table.MaxIndex())
		}
	})

	t.Run("length not a multiple of three", func(t *testing.T) {
		if _, err := NewTriangulation([]int{0, 1}); !errors.Is(err, ErrInvalidTriangulation) {
			t.Errorf("expected ErrInvalidTriangulation, got %v", err)
		}
	})

	t.Run("negative index", func(t *testing.T) {
		if _, err := NewTriangulation([]int{0, -1, 2}); !errors.Is(err, ErrInvalidTriangulation) {
			t.Errorf("expected ErrInvalidTriangulation, got %v", err)
		}
	})

	t.Run("nil table", func(t *testing.T) {
		var table *Triangulation
		if table.Triangles() != 0 || table.MaxIndex() != -1 {
			t.Error("nil table should be empty")
		}
	})
}

func TestMockBackend(t *testing.T) {
	t.Run("returns empty detection by default", func(t *testing.T) {
		mock := NewMockBackend(KindPose)

		det, err := mock.Detect(t.Context(), nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if det.Kind() != KindPose || det.Len() != 0 {
			t.Errorf("expected empty poses, got %v", det)
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockBackend(KindFace)
		expectedErr := errors.New("inference failed")
		mock.SetError(expectedErr)

		det, err := mock.Detect(t.Context(), nil)

		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if det != nil {
			t.Errorf("expected nil detection when error is set, got %v", det)
		}
	})

	t.Run("counts calls", func(t *testing.T) {
		mock := NewMockBackend(KindMesh)
		_ = mock.Initialize(t.Context(), "p1")
		_ = mock.Initialize(t.Context(), "p2")
		_, _ = mock.Detect(t.Context(), nil)
		_ = mock.Close()

		if mock.InitCalls() != 2 || mock.DetectCalls() != 1 || !mock.Closed() {
			t.Errorf("calls: init=%d detect=%d closed=%v", mock.InitCalls(), mock.DetectCalls(), mock.Closed())
		}
		if mock.LastParams() != "p2" {
			t.Errorf("LastParams() = %v", mock.LastParams())
		}
	})
}

package capture

import (
	"errors"
	"strings"
	"testing"

	"gocv.io/x/gocv"
)

func TestNewCameraWithSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"requested size", 320, 240, 320, 240},
		{"zero width", 0, 240, DefaultWidth, 240},
		{"negative height", 320, -1, 320, DefaultHeight},
		{"both unset", 0, 0, DefaultWidth, DefaultHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCameraWithSize(1, tt.width, tt.height).(*cameraImpl)

			if cam.width != tt.wantW || cam.height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", cam.width, cam.height, tt.wantW, tt.wantH)
			}
			if cam.deviceID != 1 || cam.FPS() != DefaultFPS || cam.IsOpen() {
				t.Errorf("unexpected initial state: device %d, fps %d, open %v", cam.deviceID, cam.FPS(), cam.IsOpen())
			}
		})
	}
}

func TestNewCamera_UsesDefaultSize(t *testing.T) {
	cam := NewCamera(0).(*cameraImpl)

	if cam.width != DefaultWidth || cam.height != DefaultHeight {
		t.Errorf("size = %dx%d, want %dx%d", cam.width, cam.height, DefaultWidth, DefaultHeight)
	}
}

// The app hints the capture rate from the detection cadence; non-positive hints
// keep the previous rate. Both camera implementations share the rule.
func TestCamera_SetFPSHints(t *testing.T) {
	cameras := map[string]Camera{
		"device": NewCamera(0),
		"mock":   NewMockCamera(nil, false),
	}
	steps := []struct {
		hint int
		want int
	}{
		{10, 10},
		{1, 1},
		{0, 1},
		{-5, 1},
		{DefaultFPS, DefaultFPS},
	}

	for name, cam := range cameras {
		t.Run(name, func(t *testing.T) {
			for _, s := range steps {
				cam.SetFPS(s.hint)
				if got := cam.FPS(); got != s.want {
					t.Errorf("SetFPS(%d): FPS() = %d, want %d", s.hint, got, s.want)
				}
			}
		})
	}
}

func TestCamera_ReadFrameErrors(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	tests := []struct {
		name    string
		camera  func() Camera
		wantErr error
		wantMsg string
	}{
		{
			name:    "device not opened",
			camera:  func() Camera { return NewCamera(0) },
			wantErr: ErrCameraNotOpen,
		},
		{
			name:    "mock not opened",
			camera:  func() Camera { return NewMockCamera([]*gocv.Mat{&empty}, false) },
			wantErr: ErrCameraNotOpen,
		},
		{
			name: "no frames yet",
			camera: func() Camera {
				cam := NewMockCamera(nil, false)
				cam.Open()
				return cam
			},
			wantErr: ErrNoFrame,
			wantMsg: "mock camera has no frames",
		},
		{
			name: "sequence exhausted",
			camera: func() Camera {
				cam := NewMockCamera([]*gocv.Mat{&empty}, false)
				cam.Open()
				if mat, err := cam.ReadFrame(); err == nil {
					mat.Close()
				}
				return cam
			},
			wantErr: ErrNoFrame,
			wantMsg: "mock camera exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat, err := tt.camera().ReadFrame()
			if mat != nil {
				mat.Close()
				t.Fatal("ReadFrame() returned a frame")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadFrame() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("ReadFrame() error = %q, want context %q", err, tt.wantMsg)
			}
		})
	}
}

// An empty frame from the source reaches the sampler as ErrNoFrame, which the
// detection cycle treats as a skipped tick.
func TestSampler_EmptyReadIsNoFrame(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	cam := NewMockCamera([]*gocv.Mat{&empty}, true)
	cam.Open()

	s := NewSampler()
	defer s.Close()

	if _, err := s.Sample(cam, 8, 6); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Sample() error = %v, want ErrNoFrame", err)
	}
	if cam.Reads() != 1 {
		t.Errorf("Reads() = %d, want 1", cam.Reads())
	}
}

func TestCamera_Close_NotOpened(t *testing.T) {
	if err := NewCamera(0).Close(); err != nil {
		t.Errorf("Close() on a camera that was never opened = %v, want nil", err)
	}
}

func TestCamera_OpenReadClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCameraWithSize(0, 320, 240)
	if err := cam.Open(); err != nil {
		t.Skipf("camera not available: %v", err)
	}

	mat, err := cam.ReadFrame()
	switch {
	case errors.Is(err, ErrNoFrame):
		t.Logf("camera opened but produced no frame: %v", err)
	case err != nil:
		t.Errorf("ReadFrame() error = %v", err)
	default:
		t.Logf("frame %dx%d", mat.Cols(), mat.Rows())
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() = true after Close()")
	}
}

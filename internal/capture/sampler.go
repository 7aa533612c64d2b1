package capture

import (
	"bytes"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrInvalidSize is returned when a sample is requested with a non-positive target size.
var ErrInvalidSize = errors.New("target size must be positive")

// Bitmap is one mirrored snapshot of the video source, sized for detection.
// Backends must treat it as read-only; the cycle that sampled it closes it.
type Bitmap struct {
	Mat       gocv.Mat
	Width     int
	Height    int
	Timestamp time.Time
}

// Size returns the bitmap dimensions as a point.
func (b *Bitmap) Size() image.Point {
	return image.Pt(b.Width, b.Height)
}

// Image converts the bitmap to a Go image.
func (b *Bitmap) Image() (image.Image, error) {
	return b.Mat.ToImage()
}

// JPEG encodes the bitmap for transports that expect compressed frames.
func (b *Bitmap) JPEG() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, b.Mat)
	if err != nil {
		return nil, errors.Wrap(err, "encode bitmap")
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}

// Close releases the pixel buffer.
func (b *Bitmap) Close() error {
	if b == nil {
		return nil
	}
	return b.Mat.Close()
}

// Sampler turns the current camera frame into a mirrored Bitmap.
// The flip buffer is reused across samples.
type Sampler struct {
	mu      sync.Mutex
	flipped gocv.Mat
	now     func() time.Time
}

// NewSampler creates a Sampler.
func NewSampler() *Sampler {
	return &Sampler{
		flipped: gocv.NewMat(),
		now:     time.Now,
	}
}

// Sample reads the current frame from cam, reflects it about the vertical axis and
// resizes it to width x height. It returns ErrNoFrame when the source has nothing
// to offer yet; callers skip the cycle in that case.
func (s *Sampler) Sample(cam Camera, width, height int) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}
	if cam == nil || !cam.IsOpen() {
		return nil, ErrNoFrame
	}

	frame, err := cam.ReadFrame()
	if err != nil {
		if errors.Is(err, ErrNoFrame) || errors.Is(err, ErrCameraNotOpen) {
			return nil, ErrNoFrame
		}
		return nil, errors.Wrap(err, "read frame")
	}
	defer frame.Close()

	if frame.Empty() {
		return nil, ErrNoFrame
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gocv.Flip(*frame, &s.flipped, 1)

	out := gocv.NewMat()
	if s.flipped.Cols() == width && s.flipped.Rows() == height {
		s.flipped.CopyTo(&out)
	} else {
		gocv.Resize(s.flipped, &out, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	}

	return &Bitmap{
		Mat:       out,
		Width:     width,
		Height:    height,
		Timestamp: s.now(),
	}, nil
}

// Close releases the reusable buffer.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flipped.Close()
}

// EncodeJPEG is a helper for callers holding a Go image rather than a Bitmap.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

package server

import (
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/capture"
)

const (
	streamInterval = 66 * time.Millisecond // ~15 FPS
	streamQuality  = 80
)

// StreamHandler serves the mirrored camera feed with the detection overlay as MJPEG.
type StreamHandler struct {
	camera   capture.Camera
	overlay  func() *image.NRGBA
	size     image.Point
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewStreamHandler creates a StreamHandler. overlay returns the latest drawn
// overlay, or nil when there is none; size is the overlay size.
func NewStreamHandler(camera capture.Camera, overlay func() *image.NRGBA, size image.Point, logger *zap.SugaredLogger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamHandler{
		camera:   camera,
		overlay:  overlay,
		size:     size,
		interval: streamInterval,
		logger:   logger,
	}
}

// Composite lays the overlay over the unmirrored frame and then mirrors the
// result. The overlay is already drawn in unmirrored coordinates, so both flip
// together and stay aligned.
func Composite(frame image.Image, overlay *image.NRGBA, size image.Point) *image.NRGBA {
	var base *image.NRGBA
	if b := frame.Bounds(); b.Dx() != size.X || b.Dy() != size.Y {
		base = imaging.Resize(frame, size.X, size.Y, imaging.Linear)
	} else {
		base = imaging.Clone(frame)
	}
	if overlay != nil {
		base = imaging.Overlay(base, overlay, image.Pt(0, 0), 1.0)
	}
	return imaging.FlipH(base)
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		data, err := h.nextFrame()
		if err != nil {
			h.logger.Debugw("stream frame skipped", "error", err)
			if !h.sleep(r, 100*time.Millisecond) {
				return
			}
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		if !h.sleep(r, h.interval) {
			return
		}
	}
}

func (h *StreamHandler) nextFrame() ([]byte, error) {
	frame, err := h.camera.ReadFrame()
	if err != nil {
		return nil, err
	}
	img, err := frame.ToImage()
	frame.Close()
	if err != nil {
		return nil, err
	}

	var overlay *image.NRGBA
	if h.overlay != nil {
		overlay = h.overlay()
	}
	return capture.EncodeJPEG(Composite(img, overlay, h.size), streamQuality)
}

// sleep waits for d and reports false if the client went away first.
func (h *StreamHandler) sleep(r *http.Request, d time.Duration) bool {
	select {
	case <-r.Context().Done():
		return false
	case <-time.After(d):
		return true
	}
}

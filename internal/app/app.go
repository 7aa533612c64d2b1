// Package app wires the camera, the detection backends and the overlay renderers
// into switchable views.
package app

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
	"github.com/ayusman/facelab/internal/render"
	"github.com/ayusman/facelab/internal/scheduler"
)

// BackendFactory creates a fresh, uninitialized backend for one view.
type BackendFactory func() detector.Backend

// Options configures an App.
type Options struct {
	Camera   capture.Camera
	Backends map[detector.Kind]BackendFactory
	// Table is the mesh triangulation shared by the mesh backend and renderer.
	Table  *detector.Triangulation
	Width  int
	Height int
	Kind   detector.Kind
	Timing params.Timing
	Face   params.FaceParams
	Pose   params.PoseParams
	Mesh   params.MeshParams
	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// Status is a snapshot of the running app.
type Status struct {
	Kind      detector.Kind   `json:"kind"`
	Title     string          `json:"title"`
	Timing    params.Timing   `json:"timing"`
	ViewID    string          `json:"viewId,omitempty"`
	State     string          `json:"state"`
	Error     string          `json:"error,omitempty"`
	Cycles    int64           `json:"cycles"`
	Scheduler scheduler.Stats `json:"scheduler"`
}

// App holds the selected backend and its mounted view.
type App struct {
	camera   capture.Camera
	backends map[detector.Kind]BackendFactory
	table    *detector.Triangulation
	width    int
	height   int
	clock    clock.Clock
	logger   *zap.SugaredLogger

	face *params.Store[params.FaceParams]
	pose *params.Store[params.PoseParams]
	mesh *params.Store[params.MeshParams]

	mu      sync.Mutex
	kind    detector.Kind
	timing  params.Timing
	view    *View
	ctx     context.Context
	running bool

	listenMu sync.RWMutex
	detected []DetectedFunc
	clouds   []PointCloudFunc
	onChange []func()

	cycles atomic.Int64
}

// New creates an App. Zero or invalid option values fall back to defaults.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = capture.DefaultWidth
	}
	if height <= 0 {
		height = capture.DefaultHeight
	}
	timing := opts.Timing
	if _, err := params.LookupTiming(timing.Millis); err != nil {
		timing = params.DefaultTiming()
	}
	kind := opts.Kind
	if kind == "" {
		kind = detector.KindNone
	}

	face, pose, mesh := opts.Face, opts.Pose, opts.Mesh
	if face.Validate() != nil {
		face = params.DefaultFaceParams()
	}
	if pose.Validate() != nil {
		pose = params.DefaultPoseParams(false)
	}
	if mesh.Validate() != nil {
		mesh = params.DefaultMeshParams()
	}

	a := &App{
		camera:   opts.Camera,
		backends: opts.Backends,
		table:    opts.Table,
		width:    width,
		height:   height,
		clock:    opts.Clock,
		logger:   logger,
		kind:     kind,
		timing:   timing,
	}
	a.face = params.NewStore(face, func(p params.FaceParams) { a.paramsChanged(detector.KindFace, p) })
	a.pose = params.NewStore(pose, func(p params.PoseParams) { a.paramsChanged(detector.KindPose, p) })
	a.mesh = params.NewStore(mesh, func(p params.MeshParams) { a.paramsChanged(detector.KindMesh, p) })
	return a
}

// Face returns the face params store.
func (a *App) Face() *params.Store[params.FaceParams] { return a.face }

// Pose returns the pose params store.
func (a *App) Pose() *params.Store[params.PoseParams] { return a.pose }

// Mesh returns the mesh params store.
func (a *App) Mesh() *params.Store[params.MeshParams] { return a.mesh }

// Camera returns the video source.
func (a *App) Camera() capture.Camera { return a.camera }

// Start opens the camera and mounts the view of the selected backend.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if a.camera != nil && !a.camera.IsOpen() {
		if err := a.camera.Open(); err != nil {
			return errors.Wrap(err, "open camera")
		}
	}
	if a.camera != nil {
		a.camera.SetFPS(cameraFPS(a.timing))
	}

	a.ctx = ctx
	a.running = true
	if err := a.mountLocked(); err != nil {
		a.running = false
		return err
	}
	a.logger.Infow("app started", "backend", a.kind, "timing", a.timing.Title)
	return nil
}

// Stop unmounts the current view and closes the camera.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	err := a.unmountLocked()
	if a.camera != nil {
		if cerr := a.camera.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close camera")
		}
	}
	a.logger.Info("app stopped")
	return err
}

// Select switches the backend. The old view is unmounted, which clears the
// overlay, before the new one is mounted.
func (a *App) Select(kind detector.Kind) error {
	kind, err := detector.ParseKind(string(kind))
	if err != nil {
		return err
	}

	a.mu.Lock()
	if kind == a.kind {
		a.mu.Unlock()
		return nil
	}
	err = a.unmountLocked()
	if err != nil {
		a.logger.Warnw("unmount failed", "kind", a.kind, "error", err)
	}
	a.logger.Infow("backend selected", "from", a.kind, "to", kind)
	a.kind = kind
	if a.running {
		err = a.mountLocked()
	}
	a.mu.Unlock()

	a.notify()
	return err
}

// SetTiming changes the detection cadence of the current and future views.
func (a *App) SetTiming(t params.Timing) error {
	t, err := params.LookupTiming(t.Millis)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.timing = t
	if a.view != nil {
		err = a.view.SetTiming(t.Period())
	}
	if a.camera != nil && a.running {
		a.camera.SetFPS(cameraFPS(t))
	}
	a.mu.Unlock()

	if err != nil {
		return err
	}
	a.notify()
	return nil
}

// Kind returns the selected backend.
func (a *App) Kind() detector.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kind
}

// Timing returns the current cadence.
func (a *App) Timing() params.Timing {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timing
}

// View returns the mounted view, or nil for NONE.
func (a *App) View() *View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

// Status returns a snapshot for the API.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		Kind:   a.kind,
		Title:  a.kind.Title(),
		Timing: a.timing,
		State:  StateUnmounted.String(),
		Cycles: a.cycles.Load(),
	}
	if v := a.view; v != nil {
		st.ViewID = v.ID
		st.State = v.State().String()
		if err := v.Err(); err != nil {
			st.Error = err.Error()
		}
		st.Scheduler = v.SchedulerStats()
	}
	return st
}

// Overlay returns the latest overlay of the mounted view, or nil when there is
// nothing to show.
func (a *App) Overlay() *image.NRGBA {
	if v := a.View(); v != nil {
		return v.Overlay()
	}
	return nil
}

// Size returns the detection bitmap size.
func (a *App) Size() image.Point {
	return image.Pt(a.width, a.height)
}

// OnDetected registers a listener for rendered results. Listeners run on the
// cycle goroutine and must not call Select, SetTiming or Stop.
func (a *App) OnDetected(fn DetectedFunc) {
	a.listenMu.Lock()
	defer a.listenMu.Unlock()
	a.detected = append(a.detected, fn)
}

// OnPointCloud registers a listener for mesh point clouds.
func (a *App) OnPointCloud(fn PointCloudFunc) {
	a.listenMu.Lock()
	defer a.listenMu.Unlock()
	a.clouds = append(a.clouds, fn)
}

// OnChange registers a listener called after the backend, timing or params change.
func (a *App) OnChange(fn func()) {
	a.listenMu.Lock()
	defer a.listenMu.Unlock()
	a.onChange = append(a.onChange, fn)
}

// Params returns the current params record of kind, or nil for NONE.
func (a *App) Params(kind detector.Kind) any {
	switch kind {
	case detector.KindFace:
		return a.face.Get()
	case detector.KindPose:
		return a.pose.Get()
	case detector.KindMesh:
		return a.mesh.Get()
	default:
		return nil
	}
}

func (a *App) renderer(kind detector.Kind) render.Renderer {
	switch kind {
	case detector.KindFace:
		return render.FaceRenderer{Params: a.face.Get}
	case detector.KindPose:
		return render.PoseRenderer{Params: a.pose.Get}
	case detector.KindMesh:
		return render.MeshRenderer{Table: a.table, Params: a.mesh.Get}
	default:
		return nil
	}
}

func (a *App) mountLocked() error {
	if a.kind == detector.KindNone {
		return nil
	}
	factory, ok := a.backends[a.kind]
	if !ok || factory == nil {
		return errors.Wrapf(detector.ErrUnknownKind, "no backend registered for %s", a.kind)
	}

	backend := factory()
	v, err := NewView(ViewConfig{
		Kind:     a.kind,
		Camera:   a.camera,
		Backend:  backend,
		Renderer: a.renderer(a.kind),
		Width:    a.width,
		Height:   a.height,
		Period:   a.timing.Period(),
		Clock:    a.clock,
		Logger:   a.logger.Named("view"),
		Hooks:    Hooks{Detected: a.fanOutDetected, PointCloud: a.fanOutPointCloud},
	})
	if err != nil {
		_ = backend.Close()
		return err
	}
	if err := v.Mount(a.ctx, a.Params(a.kind)); err != nil {
		_ = backend.Close()
		return err
	}
	a.view = v
	return nil
}

func (a *App) unmountLocked() error {
	v := a.view
	if v == nil {
		return nil
	}
	a.view = nil
	return v.Unmount()
}

func (a *App) paramsChanged(kind detector.Kind, p any) {
	a.mu.Lock()
	v := a.view
	a.mu.Unlock()

	if v != nil && v.Kind() == kind {
		if err := v.Reinitialize(p); err != nil {
			a.logger.Warnw("reinitialize not queued", "kind", kind, "error", err)
		}
	}
	a.notify()
}

func (a *App) fanOutDetected(kind detector.Kind, det detector.Detection) {
	a.cycles.Add(1)
	a.listenMu.RLock()
	defer a.listenMu.RUnlock()
	for _, fn := range a.detected {
		fn(kind, det)
	}
}

func (a *App) fanOutPointCloud(points []r3.Vector) {
	a.listenMu.RLock()
	defer a.listenMu.RUnlock()
	for _, fn := range a.clouds {
		fn(points)
	}
}

func (a *App) notify() {
	a.listenMu.RLock()
	defer a.listenMu.RUnlock()
	for _, fn := range a.onChange {
		fn()
	}
}

// cameraFPS hints the capture rate for a cadence, capped at the camera default.
func cameraFPS(t params.Timing) int {
	if t.Millis <= 0 {
		return capture.DefaultFPS
	}
	fps := 1000 / t.Millis
	if fps < 1 {
		fps = 1
	}
	if fps > capture.DefaultFPS {
		fps = capture.DefaultFPS
	}
	return fps
}

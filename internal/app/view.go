package app

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/render"
	"github.com/ayusman/facelab/internal/scheduler"
)

// DetectedFunc receives every result that was rendered.
type DetectedFunc func(kind detector.Kind, det detector.Detection)

// PointCloudFunc receives the negated mesh points of one cycle.
type PointCloudFunc func(points []r3.Vector)

// ViewState is the lifecycle of a mounted backend session.
type ViewState int

const (
	StateLoading ViewState = iota
	StateReady
	StateFailed
	StateUnmounted
)

func (s ViewState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unmounted"
	}
}

// ErrNotMounted is returned by operations that need a mounted view.
var ErrNotMounted = errors.New("view is not mounted")

// Hooks are the collaborators a view reports to.
type Hooks struct {
	Detected   DetectedFunc
	PointCloud PointCloudFunc
}

// ViewConfig describes one view.
type ViewConfig struct {
	Kind     detector.Kind
	Camera   capture.Camera
	Backend  detector.Backend
	Renderer render.Renderer
	Width    int
	Height   int
	Period   time.Duration
	Clock    clock.Clock
	Logger   *zap.SugaredLogger
	Hooks    Hooks
}

// View is one mounted backend session. It samples, detects and draws on its own
// scheduler and owns the backend until Unmount.
type View struct {
	ID string

	kind     detector.Kind
	camera   capture.Camera
	backend  detector.Backend
	renderer render.Renderer
	size     image.Point
	hooks    Hooks
	logger   *zap.SugaredLogger

	sampler *capture.Sampler
	sched   *scheduler.Scheduler

	mu     sync.Mutex
	state  ViewState
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	queueMu sync.Mutex
	queue   []any
	wake    chan struct{}

	drawMu  sync.Mutex
	canvas  *render.Canvas
	overlay atomic.Pointer[image.NRGBA]

	cycles atomic.Int64
}

// NewView creates an unmounted view.
func NewView(cfg ViewConfig) (*View, error) {
	if cfg.Backend == nil || cfg.Renderer == nil {
		return nil, errors.Errorf("view %s needs a backend and a renderer", cfg.Kind)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, capture.ErrInvalidSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	id := uuid.New().String()
	v := &View{
		ID:       id,
		kind:     cfg.Kind,
		camera:   cfg.Camera,
		backend:  cfg.Backend,
		renderer: cfg.Renderer,
		size:     image.Pt(cfg.Width, cfg.Height),
		hooks:    cfg.Hooks,
		logger:   logger.With("kind", cfg.Kind, "view", id),
		sampler:  capture.NewSampler(),
		state:    StateUnmounted,
		wake:     make(chan struct{}, 1),
		canvas:   render.NewCanvas(cfg.Width, cfg.Height),
	}
	v.sched = scheduler.New(cfg.Clock, v.cycle, v.logger.Named("scheduler"))

	period := cfg.Period
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	if err := v.sched.SetPeriod(period); err != nil {
		return nil, err
	}
	return v, nil
}

// Kind returns the backend kind.
func (v *View) Kind() detector.Kind { return v.kind }

// Mount starts loading the backend with p. When the load succeeds the scheduler
// starts at the current period; when it fails the view enters StateFailed.
func (v *View) Mount(ctx context.Context, p any) error {
	v.mu.Lock()
	if v.state != StateUnmounted || v.done != nil {
		v.mu.Unlock()
		return errors.Errorf("view %s already mounted", v.ID)
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})
	v.state = StateLoading
	v.mu.Unlock()

	v.logger.Infow("mounting view")
	go v.initLoop(ctx)
	v.enqueue(p)
	return nil
}

// Reinitialize queues a reload of the backend with p. Reloads run one at a time in
// the order they were requested; the scheduler keeps ticking meanwhile.
func (v *View) Reinitialize(p any) error {
	v.mu.Lock()
	mounted := v.done != nil && v.state != StateUnmounted
	v.mu.Unlock()
	if !mounted {
		return ErrNotMounted
	}
	v.enqueue(p)
	return nil
}

// SetTiming changes the detection period.
func (v *View) SetTiming(period time.Duration) error {
	return v.sched.SetPeriod(period)
}

// Unmount stops the scheduler, cancels the in-flight cycle, closes the backend and
// clears the overlay. No detected callback fires after Unmount returns.
func (v *View) Unmount() error {
	v.mu.Lock()
	if v.state == StateUnmounted {
		v.mu.Unlock()
		return nil
	}
	v.state = StateUnmounted
	cancel, done := v.cancel, v.done
	v.mu.Unlock()

	cancel()
	<-done
	v.sched.Stop()
	v.sched.Wait()

	v.drawMu.Lock()
	render.ClearOverlay(v.canvas, v.size)
	v.overlay.Store(nil)
	v.drawMu.Unlock()

	err := errors.Wrap(v.backend.Close(), "close backend")
	if cerr := v.sampler.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "close sampler")
	}
	v.logger.Infow("view unmounted", "cycles", v.cycles.Load())
	return err
}

// State returns the lifecycle state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the load error of a failed view.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Overlay returns the latest drawn overlay, or nil when nothing was drawn yet.
func (v *View) Overlay() *image.NRGBA {
	return v.overlay.Load()
}

// Cycles returns how many cycles completed with a rendered result.
func (v *View) Cycles() int64 {
	return v.cycles.Load()
}

// Period returns the scheduler period.
func (v *View) Period() time.Duration {
	return v.sched.Period()
}

// SchedulerStats returns the scheduler counters.
func (v *View) SchedulerStats() scheduler.Stats {
	return v.sched.Stats()
}

func (v *View) enqueue(p any) {
	v.queueMu.Lock()
	v.queue = append(v.queue, p)
	v.queueMu.Unlock()

	select {
	case v.wake <- struct{}{}:
	default:
	}
}

func (v *View) dequeue() (any, bool) {
	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	if len(v.queue) == 0 {
		return nil, false
	}
	p := v.queue[0]
	v.queue = v.queue[1:]
	return p, true
}

func (v *View) initLoop(ctx context.Context) {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.wake:
		}
		for {
			p, ok := v.dequeue()
			if !ok {
				break
			}
			v.initialize(ctx, p)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (v *View) initialize(ctx context.Context, p any) {
	start := time.Now()
	err := v.backend.Initialize(ctx, p)

	v.mu.Lock()
	if ctx.Err() != nil || v.state == StateUnmounted {
		v.mu.Unlock()
		return
	}
	if err != nil {
		if v.state == StateReady {
			v.mu.Unlock()
			v.logger.Warnw("reinitialize failed, keeping previous model", "error", err)
			return
		}
		v.state = StateFailed
		v.err = err
		v.mu.Unlock()
		v.logger.Errorw("model load failed", "error", err)
		return
	}
	wasReady := v.state == StateReady
	v.state = StateReady
	v.err = nil
	v.mu.Unlock()

	v.logger.Infow("backend initialized", "took", time.Since(start))
	if !wasReady {
		if err := v.sched.Start(v.sched.Period()); err != nil {
			v.logger.Errorw("scheduler start failed", "error", err)
		}
	}
}

// cycle samples one frame, runs the backend and draws the result. A result that
// arrives after the view was torn down is dropped.
func (v *View) cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bm, err := v.sampler.Sample(v.camera, v.size.X, v.size.Y)
	if errors.Is(err, capture.ErrNoFrame) {
		v.logger.Debug("no frame, skipping cycle")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "sample")
	}
	defer bm.Close()

	det, err := v.backend.Detect(ctx, bm)
	if err != nil {
		return errors.Wrap(err, "detect")
	}

	v.drawMu.Lock()
	if err := ctx.Err(); err != nil {
		v.drawMu.Unlock()
		return err
	}
	err = v.renderer.Draw(v.canvas, bm.Size(), det)
	v.overlay.Store(v.canvas.Image())
	v.drawMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "draw")
	}

	v.cycles.Add(1)
	if v.hooks.Detected != nil {
		v.hooks.Detected(v.kind, det)
	}

	if v.hooks.PointCloud != nil {
		if src, ok := v.backend.(detector.PointCloudSource); ok {
			points, err := src.PointCloud(ctx, bm)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					v.logger.Warnw("point cloud failed", "error", err)
				}
			case points != nil:
				v.hooks.PointCloud(points)
			}
		}
	}
	return nil
}
